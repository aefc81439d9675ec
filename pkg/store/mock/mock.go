// Package mock provides a test double for store.Store.
//
// Store keeps real in-memory state (it wraps [store.MemStore]) so handlers
// can be tested end to end, while recording every call and letting tests
// inject errors:
//
//	s := mock.New()
//	s.PingErr = errors.New("db down")
//	if got := s.CallCount("SaveEvaluation"); got != 1 { … }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/introcoach/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Call records the name and non-context arguments of one method call.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable [store.Store]. A non-nil *Err field makes the
// matching method fail without touching state.
type Store struct {
	mu    sync.Mutex
	calls []Call
	mem   *store.MemStore

	CreateTakeErr        error
	UpdateTakeErr        error
	GetTakeErr           error
	ListTakesErr         error
	DeleteTakeErr        error
	SaveVoiceAnalysisErr error
	SaveEvaluationErr    error
	SaveProfileErr       error
	GetAnalysisErr       error
	PingErr              error

	closed bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{mem: store.NewMemStore()}
}

func (s *Store) record(method string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

func (s *Store) fail(p *error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *p
}

// Calls returns a copy of every recorded call in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) CreateTake(ctx context.Context, t *store.Take) error {
	s.record("CreateTake", t)
	if err := s.fail(&s.CreateTakeErr); err != nil {
		return err
	}
	return s.mem.CreateTake(ctx, t)
}

func (s *Store) UpdateTake(ctx context.Context, t *store.Take) error {
	s.record("UpdateTake", t)
	if err := s.fail(&s.UpdateTakeErr); err != nil {
		return err
	}
	return s.mem.UpdateTake(ctx, t)
}

func (s *Store) GetTake(ctx context.Context, id string) (*store.Take, error) {
	s.record("GetTake", id)
	if err := s.fail(&s.GetTakeErr); err != nil {
		return nil, err
	}
	return s.mem.GetTake(ctx, id)
}

func (s *Store) ListTakes(ctx context.Context, limit int) ([]store.Take, error) {
	s.record("ListTakes", limit)
	if err := s.fail(&s.ListTakesErr); err != nil {
		return nil, err
	}
	return s.mem.ListTakes(ctx, limit)
}

func (s *Store) DeleteTake(ctx context.Context, id string) error {
	s.record("DeleteTake", id)
	if err := s.fail(&s.DeleteTakeErr); err != nil {
		return err
	}
	return s.mem.DeleteTake(ctx, id)
}

func (s *Store) SaveVoiceAnalysis(ctx context.Context, va *store.VoiceAnalysis) error {
	s.record("SaveVoiceAnalysis", va)
	if err := s.fail(&s.SaveVoiceAnalysisErr); err != nil {
		return err
	}
	return s.mem.SaveVoiceAnalysis(ctx, va)
}

func (s *Store) SaveEvaluation(ctx context.Context, ev *store.EvaluationRecord) error {
	s.record("SaveEvaluation", ev)
	if err := s.fail(&s.SaveEvaluationErr); err != nil {
		return err
	}
	return s.mem.SaveEvaluation(ctx, ev)
}

func (s *Store) SaveProfile(ctx context.Context, p *store.ProfileRecord) error {
	s.record("SaveProfile", p)
	if err := s.fail(&s.SaveProfileErr); err != nil {
		return err
	}
	return s.mem.SaveProfile(ctx, p)
}

func (s *Store) GetAnalysis(ctx context.Context, takeID string) (*store.Analysis, error) {
	s.record("GetAnalysis", takeID)
	if err := s.fail(&s.GetAnalysisErr); err != nil {
		return nil, err
	}
	return s.mem.GetAnalysis(ctx, takeID)
}

func (s *Store) Ping(ctx context.Context) error {
	s.record("Ping")
	if err := s.fail(&s.PingErr); err != nil {
		return err
	}
	return s.mem.Ping(ctx)
}

func (s *Store) Close() error {
	s.record("Close")
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
