// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/pkg/store"
)

// Run exercises s. open must return a fresh, empty store for every call.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()
	t.Run("TakeRoundTrip", func(t *testing.T) { testTakeRoundTrip(t, open(t)) })
	t.Run("UpdateTake", func(t *testing.T) { testUpdateTake(t, open(t)) })
	t.Run("ListTakes", func(t *testing.T) { testListTakes(t, open(t)) })
	t.Run("DeleteTake", func(t *testing.T) { testDeleteTake(t, open(t)) })
	t.Run("Analysis", func(t *testing.T) { testAnalysis(t, open(t)) })
	t.Run("UnknownTake", func(t *testing.T) { testUnknownTake(t, open(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := open(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func sampleTake() *store.Take {
	return &store.Take{
		Title:      "初めての自己紹介",
		Status:     store.StatusTranscribed,
		Transcript: "はじめまして。田中です。",
		Duration:   42 * time.Second,
		Audio:      []byte("RIFF....WAVEfmt "),
		Metrics:    &acoustic.Metrics{Clarity: 7, Volume: 3, SpeechRate: 340, Stability: 8},
	}
}

func testTakeRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := sampleTake()
	if err := s.CreateTake(ctx, in); err != nil {
		t.Fatalf("CreateTake: %v", err)
	}
	if in.ID == "" || in.CreatedAt.IsZero() || !in.UpdatedAt.Equal(in.CreatedAt) {
		t.Fatalf("CreateTake did not fill ID/timestamps: %+v", in)
	}
	if in.AudioSize != len(in.Audio) {
		t.Errorf("AudioSize = %d, want %d", in.AudioSize, len(in.Audio))
	}

	got, err := s.GetTake(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetTake: %v", err)
	}
	if got.Title != in.Title || got.Status != in.Status || got.Transcript != in.Transcript || got.Duration != in.Duration {
		t.Errorf("GetTake = %+v, want %+v", got, in)
	}
	if string(got.Audio) != string(in.Audio) || got.AudioSize != in.AudioSize {
		t.Errorf("audio = %q (%d)", got.Audio, got.AudioSize)
	}
	if got.Metrics == nil || *got.Metrics != *in.Metrics {
		t.Errorf("Metrics = %+v, want %+v", got.Metrics, in.Metrics)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, in.CreatedAt)
	}

	// A take without metrics keeps them nil.
	bare := &store.Take{Title: "録音中"}
	if err := s.CreateTake(ctx, bare); err != nil {
		t.Fatalf("CreateTake: %v", err)
	}
	got, err = s.GetTake(ctx, bare.ID)
	if err != nil {
		t.Fatalf("GetTake: %v", err)
	}
	if got.Metrics != nil || got.Status != store.StatusRecording || len(got.Audio) != 0 {
		t.Errorf("bare take = %+v", got)
	}
}

func testUpdateTake(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := sampleTake()
	if err := s.CreateTake(ctx, tk); err != nil {
		t.Fatalf("CreateTake: %v", err)
	}
	created := tk.CreatedAt
	time.Sleep(2 * time.Millisecond)

	tk.Status = store.StatusCompleted
	tk.Transcript = "はじめまして。鈴木です。"
	tk.Audio = []byte("RIFF")
	tk.Metrics = nil
	if err := s.UpdateTake(ctx, tk); err != nil {
		t.Fatalf("UpdateTake: %v", err)
	}
	got, err := s.GetTake(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTake: %v", err)
	}
	if got.Status != store.StatusCompleted || got.Transcript != tk.Transcript || got.AudioSize != 4 || got.Metrics != nil {
		t.Errorf("after update = %+v", got)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.After(created) {
		t.Errorf("timestamps created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}

	missing := &store.Take{ID: "00000000-0000-0000-0000-000000000000", Title: "x"}
	if err := s.UpdateTake(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateTake(missing) = %v, want ErrNotFound", err)
	}
}

func testListTakes(t *testing.T, s store.Store) {
	ctx := context.Background()
	empty, err := s.ListTakes(ctx, 0)
	if err != nil {
		t.Fatalf("ListTakes: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty ListTakes = %#v, want empty non-nil", empty)
	}

	var ids []string
	for range 3 {
		tk := sampleTake()
		if err := s.CreateTake(ctx, tk); err != nil {
			t.Fatalf("CreateTake: %v", err)
		}
		ids = append(ids, tk.ID)
		time.Sleep(2 * time.Millisecond)
	}

	all, err := s.ListTakes(ctx, 0)
	if err != nil {
		t.Fatalf("ListTakes: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, tk := range all {
		if want := ids[len(ids)-1-i]; tk.ID != want {
			t.Errorf("ListTakes[%d] = %s, want %s (newest first)", i, tk.ID, want)
		}
		if tk.Audio != nil || tk.AudioSize == 0 {
			t.Errorf("ListTakes[%d] audio = %d bytes, size %d", i, len(tk.Audio), tk.AudioSize)
		}
	}

	two, err := s.ListTakes(ctx, 2)
	if err != nil {
		t.Fatalf("ListTakes(2): %v", err)
	}
	if len(two) != 2 || two[0].ID != ids[2] {
		t.Errorf("ListTakes(2) = %d takes", len(two))
	}
}

func testDeleteTake(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := sampleTake()
	if err := s.CreateTake(ctx, tk); err != nil {
		t.Fatalf("CreateTake: %v", err)
	}
	if err := s.SaveProfile(ctx, &store.ProfileRecord{TakeID: tk.ID, Text: "Go好き", CharacterCount: 4}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := s.DeleteTake(ctx, tk.ID); err != nil {
		t.Fatalf("DeleteTake: %v", err)
	}
	if _, err := s.GetTake(ctx, tk.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTake after delete = %v", err)
	}
	if _, err := s.GetAnalysis(ctx, tk.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAnalysis after delete = %v", err)
	}
	if err := s.DeleteTake(ctx, tk.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteTake = %v", err)
	}
}

func testAnalysis(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk := sampleTake()
	if err := s.CreateTake(ctx, tk); err != nil {
		t.Fatalf("CreateTake: %v", err)
	}

	a, err := s.GetAnalysis(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetAnalysis(empty): %v", err)
	}
	if a.Voice != nil || len(a.Evaluations) != 0 || len(a.Profiles) != 0 {
		t.Errorf("empty analysis = %+v", a)
	}

	m := *tk.Metrics
	va := &store.VoiceAnalysis{
		TakeID:          tk.ID,
		Metrics:         m,
		VolumeLevel:     m.VolumeLevel(),
		RateLevel:       m.RateLevel(),
		VoiceScore:      76,
		Characteristics: json.RawMessage(`{"pitch":"normal"}`),
	}
	if err := s.SaveVoiceAnalysis(ctx, va); err != nil {
		t.Fatalf("SaveVoiceAnalysis: %v", err)
	}
	va.VoiceScore = 77
	if err := s.SaveVoiceAnalysis(ctx, va); err != nil {
		t.Fatalf("SaveVoiceAnalysis (replace): %v", err)
	}

	voice := 77
	evals := []*store.EvaluationRecord{
		{TakeID: tk.ID, PersonaID: "team-member", Friendship: 85, WorkTogether: 78, Voice: &voice, Total: 80,
			FriendshipReason: "親しみやすい", WorkReason: "具体的", Suggestions: []string{"a", "b", "c"},
			Summary: "良い", ProcessingTime: 1500 * time.Millisecond},
		{TakeID: tk.ID, PersonaID: "job-interviewer", Friendship: 60, WorkTogether: 70, Total: 66, Suggestions: []string{}},
	}
	for _, ev := range evals {
		if err := s.SaveEvaluation(ctx, ev); err != nil {
			t.Fatalf("SaveEvaluation: %v", err)
		}
		if ev.ID == "" || ev.CreatedAt.IsZero() {
			t.Errorf("SaveEvaluation did not fill ID/CreatedAt: %+v", ev)
		}
	}
	if err := s.SaveProfile(ctx, &store.ProfileRecord{TakeID: tk.ID, Text: "Goエンジニア 🐹", CharacterCount: 9}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	a, err = s.GetAnalysis(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if a.Voice == nil || a.Voice.VoiceScore != 77 || a.Voice.Metrics != m ||
		a.Voice.VolumeLevel != acoustic.VolumeAppropriate || a.Voice.RateLevel != acoustic.RateAppropriate {
		t.Errorf("Voice = %+v", a.Voice)
	}
	var ch map[string]string
	if a.Voice != nil {
		if err := json.Unmarshal(a.Voice.Characteristics, &ch); err != nil || ch["pitch"] != "normal" {
			t.Errorf("Characteristics = %s (%v)", a.Voice.Characteristics, err)
		}
	}

	if len(a.Evaluations) != 2 {
		t.Fatalf("evaluations = %d, want 2", len(a.Evaluations))
	}
	first, second := a.Evaluations[0], a.Evaluations[1]
	if first.ID != evals[0].ID || first.PersonaID != "team-member" || first.Total != 80 ||
		first.Voice == nil || *first.Voice != 77 || first.ProcessingTime != 1500*time.Millisecond ||
		!slices.Equal(first.Suggestions, []string{"a", "b", "c"}) || first.Summary != "良い" {
		t.Errorf("first evaluation = %+v", first)
	}
	if second.Voice != nil || second.PersonaID != "job-interviewer" {
		t.Errorf("second evaluation = %+v", second)
	}

	if len(a.Profiles) != 1 || a.Profiles[0].Text != "Goエンジニア 🐹" || a.Profiles[0].CharacterCount != 9 {
		t.Errorf("profiles = %+v", a.Profiles)
	}
}

func testUnknownTake(t *testing.T, s store.Store) {
	ctx := context.Background()
	const id = "00000000-0000-0000-0000-000000000001"
	if _, err := s.GetTake(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTake = %v", err)
	}
	if _, err := s.GetAnalysis(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAnalysis = %v", err)
	}
	if err := s.SaveEvaluation(ctx, &store.EvaluationRecord{TakeID: id}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SaveEvaluation = %v", err)
	}
	if err := s.SaveProfile(ctx, &store.ProfileRecord{TakeID: id}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SaveProfile = %v", err)
	}
	if err := s.SaveVoiceAnalysis(ctx, &store.VoiceAnalysis{TakeID: id}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SaveVoiceAnalysis = %v", err)
	}
}
