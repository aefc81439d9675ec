package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/introcoach/internal/acoustic"
	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/coach"
	"github.com/MrWong99/introcoach/internal/config"
	"github.com/MrWong99/introcoach/internal/scoring"
	"github.com/MrWong99/introcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/introcoach/pkg/provider/llm/mock"
	"github.com/MrWong99/introcoach/pkg/store"
	storemock "github.com/MrWong99/introcoach/pkg/store/mock"
)

const evaluationJSON = `{
  "scores": {"friendship_score": 80, "work_together_score": 70},
  "feedback": {
    "friendship_reason": "話しやすい",
    "work_reason": "経験が具体的",
    "improvement_suggestions": ["結論から話す"]
  },
  "summary": "良い自己紹介です"
}`

// testConfig returns a minimal config for tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Personas: []coach.Persona{
			{ID: "meetup", Kind: coach.KindCustom, Name: "勉強会", Prompt: "勉強会の参加者として評価してください。"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// routingLLM answers each coach operation by looking at the system prompt.
func routingLLM(voiceErr error) *llmmock.Provider {
	return &llmmock.Provider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			switch {
			case strings.Contains(req.SystemPrompt, "friendship_score"):
				return &llm.CompletionResponse{Content: evaluationJSON}, nil
			case strings.Contains(req.SystemPrompt, "pitch"):
				if voiceErr != nil {
					return nil, voiceErr
				}
				return &llm.CompletionResponse{Content: `{"pitch":"低め","impression":"落ち着き","characterDescription":"穏やか","overallComment":"聞きやすい"}`}, nil
			default:
				return &llm.CompletionResponse{Content: "Goとコーヒーが好きなエンジニア"}, nil
			}
		},
	}
}

func newApp(t *testing.T, p llm.Provider, opts ...app.Option) (*app.App, *storemock.Store) {
	t.Helper()
	st := storemock.New()
	providers := &app.Providers{}
	if p != nil {
		providers.LLM = app.NamedLLM{Name: "mock", Provider: p}
	}
	a, err := app.New(context.Background(), testConfig(), providers, append([]app.Option{app.WithStore(st)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, st
}

func seedTake(t *testing.T, st store.Store, m *acoustic.Metrics) *store.Take {
	t.Helper()
	take := &store.Take{
		Title:      "自己紹介",
		Status:     store.StatusTranscribed,
		Transcript: "はじめまして。バックエンドエンジニアの山田です。",
		Duration:   30 * time.Second,
		Metrics:    m,
	}
	if err := st.CreateTake(context.Background(), take); err != nil {
		t.Fatalf("CreateTake: %v", err)
	}
	return take
}

func TestNew_MemoryStoreFromConfig(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if _, ok := a.Store().(*store.MemStore); !ok {
		t.Errorf("store = %T, want *store.MemStore", a.Store())
	}
	if a.Coach() != nil {
		t.Error("Coach should be nil without an LLM")
	}
	if err := a.LLMReady(context.Background()); !errors.Is(err, app.ErrNoLLM) {
		t.Errorf("LLMReady = %v, want ErrNoLLM", err)
	}
	if _, err := a.Evaluate(context.Background(), app.EvaluateInput{Transcript: "x"}); !errors.Is(err, app.ErrNoLLM) {
		t.Errorf("Evaluate = %v, want ErrNoLLM", err)
	}
	if got := len(a.Personas().List()); got != len(coach.Presets())+1 {
		t.Errorf("personas = %d, want presets + 1", got)
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	t.Parallel()
	s, err := app.OpenStore(context.Background(), config.StorageConfig{Driver: config.StorageSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := app.OpenStore(context.Background(), config.StorageConfig{Driver: "mongodb"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestApp_Evaluate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("ad hoc transcript is not stored", func(t *testing.T) {
		t.Parallel()
		a, st := newApp(t, routingLLM(nil))
		ev, err := a.Evaluate(ctx, app.EvaluateInput{Transcript: "山田です", PersonaID: "meetup"})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if ev.Scores.Total != 74 || ev.PersonaID != "meetup" {
			t.Errorf("evaluation = %+v", ev)
		}
		if st.CallCount("SaveEvaluation") != 0 {
			t.Error("evaluation without a take was stored")
		}
	})

	t.Run("take transcript and metrics are used and stored", func(t *testing.T) {
		t.Parallel()
		a, st := newApp(t, routingLLM(nil))
		m := &acoustic.Metrics{Clarity: 8, Volume: 3, SpeechRate: 350, Stability: 8}
		take := seedTake(t, st, m)

		ev, err := a.Evaluate(ctx, app.EvaluateInput{TakeID: take.ID})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if ev.Scores.Voice == nil || *ev.Scores.Voice != scoring.VoiceScore(*m) {
			t.Errorf("voice score = %v, want %d", ev.Scores.Voice, scoring.VoiceScore(*m))
		}
		an, err := st.GetAnalysis(ctx, take.ID)
		if err != nil {
			t.Fatalf("GetAnalysis: %v", err)
		}
		if len(an.Evaluations) != 1 || an.Evaluations[0].Total != ev.Scores.Total {
			t.Errorf("stored evaluations = %+v", an.Evaluations)
		}
	})

	t.Run("custom persona", func(t *testing.T) {
		t.Parallel()
		p := routingLLM(nil)
		a, _ := newApp(t, p)
		ev, err := a.Evaluate(ctx, app.EvaluateInput{
			Transcript: "山田です",
			Persona:    &coach.Persona{Name: "VC", Prompt: "投資家の視点で評価してください。"},
		})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if ev.PersonaID == "" {
			t.Error("custom persona did not get an ID")
		}
		req, _ := p.LastRequest()
		if len(req.Messages) == 0 || !strings.Contains(req.Messages[0].Content, "投資家の視点") {
			t.Error("custom persona prompt not sent")
		}
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		a, _ := newApp(t, routingLLM(nil))
		if _, err := a.Evaluate(ctx, app.EvaluateInput{Transcript: "x", PersonaID: "nope"}); !errors.Is(err, app.ErrUnknownPersona) {
			t.Errorf("unknown persona = %v, want ErrUnknownPersona", err)
		}
		if _, err := a.Evaluate(ctx, app.EvaluateInput{Transcript: "x", Persona: &coach.Persona{Name: "x"}}); !errors.Is(err, coach.ErrInvalidPersona) {
			t.Errorf("invalid persona = %v, want ErrInvalidPersona", err)
		}
		if _, err := a.Evaluate(ctx, app.EvaluateInput{TakeID: "missing"}); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("missing take = %v, want ErrNotFound", err)
		}
	})
}

func TestApp_AnalyzeTake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := &acoustic.Metrics{Clarity: 7, Volume: 4, SpeechRate: 420, Stability: 6}

	t.Run("persists everything and completes the take", func(t *testing.T) {
		t.Parallel()
		a, st := newApp(t, routingLLM(nil))
		take := seedTake(t, st, m)

		res, err := a.AnalyzeTake(ctx, take.ID, "team-member")
		if err != nil {
			t.Fatalf("AnalyzeTake: %v", err)
		}
		if res.Voice == nil || res.Voice.Pitch != coach.PitchLow {
			t.Errorf("voice = %+v", res.Voice)
		}

		got, _ := st.GetTake(ctx, take.ID)
		if got.Status != store.StatusCompleted {
			t.Errorf("status = %q, want completed", got.Status)
		}
		an, err := st.GetAnalysis(ctx, take.ID)
		if err != nil {
			t.Fatalf("GetAnalysis: %v", err)
		}
		if an.Voice == nil {
			t.Fatal("voice analysis not stored")
		}
		if an.Voice.VolumeLevel != acoustic.VolumeTooHigh || an.Voice.RateLevel != acoustic.RateTooFast {
			t.Errorf("levels = %q %q", an.Voice.VolumeLevel, an.Voice.RateLevel)
		}
		var vc coach.VoiceCharacteristics
		if err := json.Unmarshal(an.Voice.Characteristics, &vc); err != nil || vc.Pitch != coach.PitchLow {
			t.Errorf("characteristics = %s (%v)", an.Voice.Characteristics, err)
		}
		if len(an.Evaluations) != 1 || an.Evaluations[0].PersonaID != "team-member" {
			t.Errorf("evaluations = %+v", an.Evaluations)
		}
		if len(an.Profiles) != 1 || an.Profiles[0].Text != "Goとコーヒーが好きなエンジニア" {
			t.Errorf("profiles = %+v", an.Profiles)
		}
	})

	t.Run("backend failure marks the take", func(t *testing.T) {
		t.Parallel()
		a, st := newApp(t, routingLLM(errors.New("quota exceeded")))
		take := seedTake(t, st, m)

		_, err := a.AnalyzeTake(ctx, take.ID, "")
		var reqErr *coach.RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("AnalyzeTake = %v, want RequestError", err)
		}
		got, _ := st.GetTake(ctx, take.ID)
		if got.Status != store.StatusError {
			t.Errorf("status = %q, want error", got.Status)
		}
		if st.CallCount("SaveEvaluation") != 0 {
			t.Error("partial analysis was stored")
		}
	})
}

func TestApp_GenerateProfile(t *testing.T) {
	t.Parallel()
	a, st := newApp(t, routingLLM(nil))
	take := seedTake(t, st, nil)

	p, err := a.GenerateProfile(context.Background(), take.ID, "")
	if err != nil {
		t.Fatalf("GenerateProfile: %v", err)
	}
	if p.CharacterCount != len([]rune(p.Text)) {
		t.Errorf("character count %d for %q", p.CharacterCount, p.Text)
	}
	if st.CallCount("SaveProfile") != 1 {
		t.Errorf("SaveProfile calls = %d, want 1", st.CallCount("SaveProfile"))
	}
}

func TestApp_LLMFallback(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	backup := routingLLM(nil)
	st := storemock.New()
	a, err := app.New(context.Background(), testConfig(), &app.Providers{
		LLM:          app.NamedLLM{Name: "gemini", Provider: primary},
		LLMFallbacks: []app.NamedLLM{{Name: "openai", Provider: backup}},
	}, app.WithStore(st))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if _, err := a.Evaluate(context.Background(), app.EvaluateInput{Transcript: "山田です"}); err != nil {
		t.Fatalf("Evaluate with fallback: %v", err)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls primary=%d backup=%d, want 1/1", primary.CallCount(), backup.CallCount())
	}
	if err := a.LLMReady(context.Background()); err != nil {
		t.Errorf("LLMReady = %v", err)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()
	lv := new(slog.LevelVar)
	a, _ := newApp(t, nil, app.WithLogLevel(lv))

	newCfg := testConfig()
	newCfg.Server.LogLevel = config.LogDebug
	newCfg.Personas = append(newCfg.Personas, coach.Persona{
		ID: "demo-day", Kind: coach.KindCustom, Name: "デモデイ", Prompt: "審査員として評価してください。",
	})
	a.ApplyConfig(a.Config(), newCfg)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	if _, ok := a.Personas().Get("demo-day"); !ok {
		t.Error("reloaded persona not in catalog")
	}
	if a.Config() != newCfg {
		t.Error("Config() not updated")
	}
}

func TestApp_ShutdownClosesStoreOnce(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestApp_ShutdownRespectsDeadline(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	} {
		if got := app.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
