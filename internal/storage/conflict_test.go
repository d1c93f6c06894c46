package storage_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/storage"
)

func newStore(t *testing.T, strategy storage.ConflictStrategy) *storage.LocalStore {
	t.Helper()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := storage.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)
	store.SetConflictStrategy(strategy)
	return store
}

func save(t *testing.T, store storage.Store, name, content string) string {
	t.Helper()
	path, err := store.Save(name, strings.NewReader(content))
	require.NoError(t, err)
	return path
}

func TestConflictStrategies(t *testing.T) {
	t.Run("overwrite strategy", func(t *testing.T) {
		store := newStore(t, storage.ConflictOverwrite)

		first := save(t, store, "report.pdf", "original")
		second := save(t, store, "report.pdf", "new content")
		assert.Equal(t, first, second)

		data, err := store.Read("report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "new content", string(data))
	})

	t.Run("rename strategy", func(t *testing.T) {
		store := newStore(t, storage.ConflictRename)

		save(t, store, "report.pdf", "original")
		second := save(t, store, "report.pdf", "conflict")
		third := save(t, store, "report.pdf", "again")

		assert.Equal(t, filepath.Join(store.Root(), "report (1).pdf"), second)
		assert.Equal(t, filepath.Join(store.Root(), "report (2).pdf"), third)

		// Original should be unchanged
		data, err := store.Read("report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "original", string(data))

		data, err = os.ReadFile(second)
		require.NoError(t, err)
		assert.Equal(t, "conflict", string(data))
	})

	t.Run("rename without extension", func(t *testing.T) {
		store := newStore(t, storage.ConflictRename)

		save(t, store, "Makefile", "a")
		second := save(t, store, "Makefile", "b")
		assert.Equal(t, "Makefile (1)", filepath.Base(second))
	})

	t.Run("error strategy", func(t *testing.T) {
		store := newStore(t, storage.ConflictError)

		save(t, store, "report.pdf", "original")
		_, err := store.Save("report.pdf", strings.NewReader("conflict"))
		assert.ErrorIs(t, err, storage.ErrFileExists)

		data, err := store.Read("report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "original", string(data))
	})

	t.Run("skip strategy", func(t *testing.T) {
		store := newStore(t, storage.ConflictSkip)

		save(t, store, "report.pdf", "original")
		path := save(t, store, "report.pdf", "ignored")
		assert.Empty(t, path)

		data, err := store.Read("report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "original", string(data))
	})
}

func TestParseConflictStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    storage.ConflictStrategy
		wantErr bool
	}{
		{"overwrite", storage.ConflictOverwrite, false},
		{"rename", storage.ConflictRename, false},
		{"", storage.ConflictRename, false},
		{"ERROR", storage.ConflictError, false},
		{"skip", storage.ConflictSkip, false},
		{"merge", storage.ConflictRename, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := storage.ParseConflictStrategy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.in != "" {
				assert.Equal(t, strings.ToLower(tt.in), got.String())
			}
		})
	}
}

func TestMockStoreConflicts(t *testing.T) {
	store := storage.NewMockStore(storage.ConflictRename)

	assert.Equal(t, "a.txt", save(t, store, "a.txt", "1"))
	assert.Equal(t, "a.txt (1)", save(t, store, "a.txt", "2"))
	assert.ElementsMatch(t, []string{"a.txt", "a.txt (1)"}, store.Files())

	strict := storage.NewMockStore(storage.ConflictError)
	save(t, strict, "a.txt", "1")
	_, err := strict.Save("a.txt", strings.NewReader("2"))
	assert.ErrorIs(t, err, storage.ErrFileExists)
}
