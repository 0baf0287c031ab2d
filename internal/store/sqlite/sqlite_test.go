package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukani/backend/internal/store"
	"dukani/backend/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		s, err := New(context.Background(), filepath.Join(t.TempDir(), "dukani.db"))
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.Close()
		})
		return s
	})
}

func TestDSNCarriesPragmas(t *testing.T) {
	dsn := DSN("/tmp/x.db")
	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/x.db?"))
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "foreign_keys%281%29")
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	first, err := New(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New(context.Background(), "  ")
	assert.Error(t, err)
}
