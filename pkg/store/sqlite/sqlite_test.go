package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrWong99/introcoach/pkg/store"
	"github.com/MrWong99/introcoach/pkg/store/sqlite"
	"github.com/MrWong99/introcoach/pkg/store/storetest"
)

func openMemory(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, openMemory)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "introcoach.sqlite")

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tk := &store.Take{Title: "保存テスト", Status: store.StatusCompleted, Transcript: "こんにちは"}
	if err := s.CreateTake(ctx, tk); err != nil {
		t.Fatalf("CreateTake: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening runs the schema again, which must be idempotent.
	s, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetTake(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTake: %v", err)
	}
	if got.Transcript != "こんにちは" || got.Status != store.StatusCompleted {
		t.Errorf("got %+v", got)
	}
}
