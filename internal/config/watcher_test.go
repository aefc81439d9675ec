package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/introcoach/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    name: gemini
personas:
  - id: meetup
    name: 勉強会
    prompt: 勉強会の参加者として評価してください。
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    name: gemini
personas:
  - id: meetup
    name: 勉強会（改）
    prompt: 勉強会の参加者として評価してください。
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

const watchInterval = time.Second

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime moves the file's mtime forward so coarse filesystem timestamps
// cannot hide a write.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type change struct{ old, new *config.Config }

// startWatcher starts a watcher on a fake clock and waits until its poll
// goroutine holds the ticker.
func startWatcher(t *testing.T, content string) (string, *clockwork.FakeClock, *config.Watcher, chan change) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, content)

	clk := clockwork.NewFakeClock()
	changes := make(chan change, 4)
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		changes <- change{old, new}
	}, config.WithInterval(watchInterval), config.WithWatchClock(clk))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(w.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("watcher ticker not started: %v", err)
	}
	return cfgPath, clk, w, changes
}

func waitChange(t *testing.T, changes <-chan change) change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
		return change{}
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, _, w, _ := startWatcher(t, watcherValidYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)

	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath, clk, w, changes := startWatcher(t, watcherValidYAML)

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, time.Minute)
	clk.Advance(watchInterval)

	c := waitChange(t, changes)
	if c.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", c.old.Server.LogLevel, config.LogInfo)
	}
	if c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", c.new.Server.LogLevel, config.LogDebug)
	}
	if c.new.Personas[0].Name != "勉強会（改）" {
		t.Errorf("new persona name: got %q", c.new.Personas[0].Name)
	}
	if w.Current() != c.new {
		t.Error("Current() should return the reloaded config")
	}
}

func TestWatcher_InvalidUpdateKeepsPrevious(t *testing.T) {
	t.Parallel()
	cfgPath, clk, w, changes := startWatcher(t, watcherValidYAML)
	initial := w.Current()

	writeFile(t, cfgPath, watcherInvalidYAML)
	bumpMtime(t, cfgPath, time.Minute)
	clk.Advance(watchInterval)

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, 2*time.Minute)
	clk.Advance(watchInterval)

	// The invalid version never reaches the callback; the next valid one
	// is diffed against the original.
	c := waitChange(t, changes)
	if c.old != initial {
		t.Error("old config should be the initial config")
	}
	if c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", c.new.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_TouchWithoutChange(t *testing.T) {
	t.Parallel()
	cfgPath, clk, _, changes := startWatcher(t, watcherValidYAML)

	bumpMtime(t, cfgPath, time.Minute)
	clk.Advance(watchInterval)

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath, 2*time.Minute)
	clk.Advance(watchInterval)

	c := waitChange(t, changes)
	if c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("first callback should be the real edit, got log_level %q", c.new.Server.LogLevel)
	}
	select {
	case extra := <-changes:
		t.Errorf("unexpected extra callback: %+v", extra.new.Server)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, _, w, _ := startWatcher(t, watcherValidYAML)
	w.Stop()
	w.Stop()
}
