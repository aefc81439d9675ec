package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. Values are copied in and out, so callers
// never share state with the store. Contents are lost on exit.
type MemStore struct {
	mu       sync.RWMutex
	takes    map[string]Take
	voice    map[string]VoiceAnalysis
	evals    map[string][]EvaluationRecord
	profiles map[string][]ProfileRecord
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		takes:    make(map[string]Take),
		voice:    make(map[string]VoiceAnalysis),
		evals:    make(map[string][]EvaluationRecord),
		profiles: make(map[string][]ProfileRecord),
	}
}

func (s *MemStore) CreateTake(_ context.Context, t *Take) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusRecording
	}
	t.AudioSize = len(t.Audio)
	t.CreatedAt = Now()
	t.UpdatedAt = t.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.takes[t.ID] = cloneTake(*t)
	return nil
}

func (s *MemStore) UpdateTake(_ context.Context, t *Take) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.takes[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.AudioSize = len(t.Audio)
	t.CreatedAt = old.CreatedAt
	t.UpdatedAt = Now()
	s.takes[t.ID] = cloneTake(*t)
	return nil
}

func (s *MemStore) GetTake(_ context.Context, id string) (*Take, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.takes[id]
	if !ok {
		return nil, ErrNotFound
	}
	t = cloneTake(t)
	return &t, nil
}

func (s *MemStore) ListTakes(_ context.Context, limit int) ([]Take, error) {
	s.mu.RLock()
	out := make([]Take, 0, len(s.takes))
	for _, t := range s.takes {
		t = cloneTake(t)
		t.Audio = nil
		out = append(out, t)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Take) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit = Limit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) DeleteTake(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.takes[id]; !ok {
		return ErrNotFound
	}
	delete(s.takes, id)
	delete(s.voice, id)
	delete(s.evals, id)
	delete(s.profiles, id)
	return nil
}

func (s *MemStore) SaveVoiceAnalysis(_ context.Context, va *VoiceAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.takes[va.TakeID]; !ok {
		return ErrNotFound
	}
	va.CreatedAt = Now()
	c := *va
	c.Characteristics = slices.Clone(va.Characteristics)
	s.voice[va.TakeID] = c
	return nil
}

func (s *MemStore) SaveEvaluation(_ context.Context, ev *EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.takes[ev.TakeID]; !ok {
		return ErrNotFound
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = Now()
	s.evals[ev.TakeID] = append(s.evals[ev.TakeID], cloneEvaluation(*ev))
	return nil
}

func (s *MemStore) SaveProfile(_ context.Context, p *ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.takes[p.TakeID]; !ok {
		return ErrNotFound
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = Now()
	s.profiles[p.TakeID] = append(s.profiles[p.TakeID], *p)
	return nil
}

func (s *MemStore) GetAnalysis(_ context.Context, takeID string) (*Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.takes[takeID]; !ok {
		return nil, ErrNotFound
	}
	a := &Analysis{
		Evaluations: make([]EvaluationRecord, 0, len(s.evals[takeID])),
		Profiles:    slices.Clone(s.profiles[takeID]),
	}
	if a.Profiles == nil {
		a.Profiles = []ProfileRecord{}
	}
	if va, ok := s.voice[takeID]; ok {
		va.Characteristics = slices.Clone(va.Characteristics)
		a.Voice = &va
	}
	for _, ev := range s.evals[takeID] {
		a.Evaluations = append(a.Evaluations, cloneEvaluation(ev))
	}
	return a, nil
}

func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) Close() error { return nil }

func cloneTake(t Take) Take {
	t.Audio = slices.Clone(t.Audio)
	if t.Metrics != nil {
		m := *t.Metrics
		t.Metrics = &m
	}
	return t
}

func cloneEvaluation(ev EvaluationRecord) EvaluationRecord {
	ev.Suggestions = slices.Clone(ev.Suggestions)
	if ev.Voice != nil {
		v := *ev.Voice
		ev.Voice = &v
	}
	return ev
}
