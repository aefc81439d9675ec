package config_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/introcoach/internal/coach"
	"github.com/MrWong99/introcoach/internal/config"
	"github.com/MrWong99/introcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/introcoach/pkg/provider/llm/mock"
	"github.com/MrWong99/introcoach/pkg/provider/stt"
	sttmock "github.com/MrWong99/introcoach/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  mcp: true

providers:
  llm:
    name: gemini
    api_key: g-test
    model: gemini-2.0-flash
  llm_fallbacks:
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2

storage:
  driver: sqlite
  dsn: /var/lib/introcoach/takes.sqlite

session:
  max_duration: 3m
  sample_rate: 16000
  language: ja
  keywords:
    - Kubernetes
    - Go

personas:
  - id: meetup
    type: custom
    name: 勉強会の参加者
    description: 技術コミュニティでの第一印象
    prompt: 勉強会の参加者の立場で評価してください。
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if !cfg.Server.MCP {
		t.Error("server.mcp: got false, want true")
	}
	if cfg.Providers.LLM.Name != "gemini" {
		t.Errorf("providers.llm.name: got %q, want %q", cfg.Providers.LLM.Name, "gemini")
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "openai" {
		t.Errorf("providers.llm_fallbacks: got %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Storage.Driver != config.StorageSQLite {
		t.Errorf("storage.driver: got %q, want %q", cfg.Storage.Driver, config.StorageSQLite)
	}
	if cfg.Session.MaxDuration != 3*time.Minute {
		t.Errorf("session.max_duration: got %s, want 3m", cfg.Session.MaxDuration)
	}
	if len(cfg.Session.Keywords) != 2 {
		t.Errorf("session.keywords: got %d, want 2", len(cfg.Session.Keywords))
	}
	if len(cfg.Personas) != 1 {
		t.Fatalf("personas: got %d, want 1", len(cfg.Personas))
	}
	if cfg.Personas[0].Kind != coach.KindCustom {
		t.Errorf("personas[0].type: got %q, want %q", cfg.Personas[0].Kind, coach.KindCustom)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	// No required top-level fields; an empty document yields the defaults.
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("listen_addr default: got %q", cfg.Server.ListenAddr)
		}
		if cfg.Server.LogLevel != config.LogInfo {
			t.Errorf("log_level default: got %q", cfg.Server.LogLevel)
		}
		if cfg.Storage.Driver != config.StorageMemory {
			t.Errorf("storage.driver default: got %q", cfg.Storage.Driver)
		}
		if cfg.Session.MaxDuration != config.DefaultMaxDuration {
			t.Errorf("max_duration default: got %s", cfg.Session.MaxDuration)
		}
		if cfg.Session.SampleRate != config.DefaultSampleRate {
			t.Errorf("sample_rate default: got %d", cfg.Session.SampleRate)
		}
		if cfg.Session.Language != config.DefaultLanguage {
			t.Errorf("language default: got %q", cfg.Session.Language)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestApplyDefaults_PersonaKind(t *testing.T) {
	cfg := &config.Config{Personas: []coach.Persona{{ID: "x", Name: "X", Prompt: "p"}}}
	config.ApplyDefaults(cfg)
	if cfg.Personas[0].Kind != coach.KindPreset {
		t.Errorf("persona kind default: got %q, want %q", cfg.Personas[0].Kind, coach.KindPreset)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "log_level",
		},
		{
			name:    "invalid storage driver",
			yaml:    "storage:\n  driver: mongodb\n",
			wantErr: "storage.driver",
		},
		{
			name:    "sqlite without dsn",
			yaml:    "storage:\n  driver: sqlite\n",
			wantErr: "storage.dsn",
		},
		{
			name:    "postgres without dsn",
			yaml:    "storage:\n  driver: postgres\n",
			wantErr: "storage.dsn",
		},
		{
			name:    "max duration too long",
			yaml:    "session:\n  max_duration: 2h\n",
			wantErr: "max_duration",
		},
		{
			name:    "negative max duration",
			yaml:    "session:\n  max_duration: -1s\n",
			wantErr: "max_duration",
		},
		{
			name:    "sample rate too low",
			yaml:    "session:\n  sample_rate: 4000\n",
			wantErr: "sample_rate",
		},
		{
			name:    "whisper without model path",
			yaml:    "providers:\n  stt:\n    name: whisper\n",
			wantErr: "whisper",
		},
		{
			name:    "fallback without primary",
			yaml:    "providers:\n  llm_fallbacks:\n    - name: openai\n",
			wantErr: "requires providers.llm",
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  llm:\n    name: gemini\n  llm_fallbacks:\n    - model: x\n",
			wantErr: "llm_fallbacks[0].name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	yaml := "providers:\n  llm:\n    name: my-private-llm\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names must not fail validation: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("llm: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &llmmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry model: got %q, want %q", gotEntry.Model, "m1")
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	reg := config.NewRegistry()
	want := &sttmock.Provider{}
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := config.NewRegistry()
	for _, n := range []string{"openai", "gemini", "anthropic"} {
		reg.RegisterLLM(n, func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	}
	reg.RegisterSTT("relay", func(config.ProviderEntry) (stt.Provider, error) { return nil, nil })

	got := reg.Names("llm")
	want := []string{"anthropic", "gemini", "openai"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names(llm) = %v, want %v", got, want)
	}
	if got := reg.Names("stt"); len(got) != 1 || got[0] != "relay" {
		t.Errorf("Names(stt) = %v, want [relay]", got)
	}
	if got := reg.Names("tts"); got != nil {
		t.Errorf("Names(tts) = %v, want nil", got)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Providers.LLM.Name != "gemini" || len(cfg.Providers.LLMFallbacks) != 1 {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Session.MaxDuration != 5*time.Minute {
		t.Errorf("max_duration = %s, want 5m", cfg.Session.MaxDuration)
	}
	if len(cfg.Personas) != 1 || cfg.Personas[0].Kind != coach.KindPreset {
		t.Errorf("personas = %+v", cfg.Personas)
	}
}
