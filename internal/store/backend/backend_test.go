package backend

import (
	"context"
	"path/filepath"
	"testing"

	"dukani/backend/internal/config"
	"dukani/backend/internal/store/memory"
)

func TestOpenDefaultsToMemory(t *testing.T) {
	repo, err := Open(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dukani.db")
	repo, err := Open(context.Background(), config.Config{SQLitePath: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()

	stores, err := repo.ListStores(context.Background())
	if err != nil {
		t.Fatalf("list stores: %v", err)
	}
	if len(stores) != 0 {
		t.Fatalf("expected empty database, got %d stores", len(stores))
	}
}
