package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/introcoach/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "introcoach.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.DSN != "/var/lib/introcoach/takes.sqlite" {
		t.Errorf("storage.dsn: got %q", cfg.Storage.DSN)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "absent.yaml") {
		t.Errorf("error should name the path, got: %v", err)
	}
}

func TestLoad_ErrorNamesPath(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "bad.yaml") || !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should name path and field, got: %v", err)
	}
}

func TestValidate_Personas(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing id",
			yaml: `
personas:
  - name: 勉強会
    prompt: 評価してください。
`,
			wantErr: "personas[0].id is required",
		},
		{
			name: "duplicate id",
			yaml: `
personas:
  - id: meetup
    name: 勉強会
    prompt: 評価してください。
  - id: meetup
    name: 勉強会2
    prompt: 評価してください。
`,
			wantErr: "duplicate",
		},
		{
			name: "missing prompt",
			yaml: `
personas:
  - id: meetup
    name: 勉強会
`,
			wantErr: "name and prompt are required",
		},
		{
			name: "blank name",
			yaml: `
personas:
  - id: meetup
    name: "   "
    prompt: 評価してください。
`,
			wantErr: "name and prompt are required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
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

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
storage:
  driver: postgres
session:
  sample_rate: 96000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "storage.dsn", "sample_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_PresetOverride(t *testing.T) {
	t.Parallel()
	yaml := `
personas:
  - id: team-member
    name: チームメンバー（厳しめ）
    prompt: 厳しめに評価してください。
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Personas[0].ID != "team-member" {
		t.Errorf("personas[0].id: got %q", cfg.Personas[0].ID)
	}
}
