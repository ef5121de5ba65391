package storage

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func openJSON(t *testing.T, path string, buf *bytes.Buffer) *JSONStore {
	t.Helper()
	store, err := NewJSONStore(path, newTestLogger(buf))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJSONStore_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	var logs bytes.Buffer

	store := openJSON(t, path, &logs)

	assert.Equal(t, 0, store.Len())
	_, ok := store.LastCheck()
	assert.False(t, ok, "last check must be absent before the first mark")
	assert.Contains(t, logs.String(), "starting fresh")
	assert.NoFileExists(t, path, "opening must not create the state file")
}

func TestJSONStore_MarkSeen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := openJSON(t, path, &bytes.Buffer{})
	store.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	assert.False(t, store.IsSeen("vid1"))
	store.MarkSeen("vid1")

	assert.True(t, store.IsSeen("vid1"))
	assert.False(t, store.IsSeen("vid2"))
	assert.Equal(t, 1, store.Len())
	last, ok := store.LastCheck()
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T12:30:00.000000", last)

	// Marking twice keeps the set unique.
	store.MarkSeen("vid1")
	assert.Equal(t, 1, store.Len())
}

func TestJSONStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := openJSON(t, path, &bytes.Buffer{})

	store.MarkSeen("b")
	store.MarkSeen("a")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.ElementsMatch(t, []any{"a", "b"}, raw["last_seen_videos"])
	assert.IsType(t, "", raw["last_check_time"])
}

func TestJSONStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ids := []string{"dQw4w9WgXcQ", "abc123", "xyz-_789"}

	store, err := NewJSONStore(path, newTestLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	for _, id := range ids {
		store.MarkSeen(id)
	}
	wantLast, _ := store.LastCheck()
	require.NoError(t, store.Close())

	reopened := openJSON(t, path, &bytes.Buffer{})
	for _, id := range ids {
		assert.True(t, reopened.IsSeen(id), "IsSeen(%q) after reload", id)
	}
	assert.Equal(t, len(ids), reopened.Len())
	gotLast, ok := reopened.LastCheck()
	require.True(t, ok)
	assert.Equal(t, wantLast, gotLast)
}

func TestJSONStore_LoadsNullLastCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	doc := `{
  "last_seen_videos": ["one", "two"],
  "last_check_time": null
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	store := openJSON(t, path, &bytes.Buffer{})

	assert.True(t, store.IsSeen("one"))
	assert.True(t, store.IsSeen("two"))
	_, ok := store.LastCheck()
	assert.False(t, ok)
}

func TestJSONStore_MalformedFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"last_seen_videos": ["a",`},
		{"wrong type", `{"last_seen_videos": "a"}`},
		{"not json", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			var logs bytes.Buffer

			store := openJSON(t, path, &logs)

			assert.Equal(t, 0, store.Len())
			_, ok := store.LastCheck()
			assert.False(t, ok)
			assert.Contains(t, logs.String(), "level=ERROR")
			assert.Contains(t, logs.String(), "data corruption detected")
		})
	}
}

func TestJSONStore_SaveFailureKeepsMemoryState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	var logs bytes.Buffer
	store := openJSON(t, path, &logs)

	// A directory at the target path makes the atomic rename fail.
	require.NoError(t, os.Mkdir(path, 0755))

	store.MarkSeen("vid1")

	assert.True(t, store.IsSeen("vid1"))
	assert.Contains(t, logs.String(), "error saving state")
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp file must be cleaned up")
	}
}

func TestJSONStore_SingleInstanceLock(t *testing.T) {
	prev := lockTimeout
	lockTimeout = 50 * time.Millisecond
	t.Cleanup(func() { lockTimeout = prev })

	path := filepath.Join(t.TempDir(), "state.json")
	_ = openJSON(t, path, &bytes.Buffer{})

	_, err := NewJSONStore(path, newTestLogger(&bytes.Buffer{}))
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestJSONStore_LockFileUnavailable(t *testing.T) {
	dir := t.TempDir()
	notADir := filepath.Join(dir, "notadir")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0644))
	path := filepath.Join(notADir, "state.json")
	var logs bytes.Buffer

	store, err := NewJSONStore(path, newTestLogger(&logs))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	assert.Contains(t, logs.String(), "continuing without single-instance guard")
	store.MarkSeen("vid1")
	assert.True(t, store.IsSeen("vid1"))
	assert.Contains(t, logs.String(), "error saving state")
	assert.NoError(t, store.Close())
}

func TestOpenJSONReadOnly_WhileLocked(t *testing.T) {
	prev := lockTimeout
	lockTimeout = 50 * time.Millisecond
	t.Cleanup(func() { lockTimeout = prev })

	path := filepath.Join(t.TempDir(), "state.json")
	owner := openJSON(t, path, &bytes.Buffer{})
	owner.MarkSeen("a")
	owner.MarkSeen("b")

	reader := OpenJSONReadOnly(path, newTestLogger(&bytes.Buffer{}))
	assert.Equal(t, 2, reader.Len())
	assert.True(t, reader.IsSeen("a"))
	_, ok := reader.LastCheck()
	assert.True(t, ok)

	reader.MarkSeen("c")
	require.NoError(t, reader.Close())

	reloaded := OpenJSONReadOnly(path, newTestLogger(&bytes.Buffer{}))
	assert.False(t, reloaded.IsSeen("c"), "read-only store must not write")

	// The owner still holds the lock.
	_, err := NewJSONStore(path, newTestLogger(&bytes.Buffer{}))
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestJSONStore_LockFileSurvivesClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := NewJSONStore(path, newTestLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.FileExists(t, path+".lock")
}

func TestJSONStore_CloseReleasesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first, err := NewJSONStore(path, newTestLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewJSONStore(path, newTestLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		backend string
		file    string
		wantErr error
	}{
		{"default backend", "", "a.json", nil},
		{"json backend", BackendJSON, "b.json", nil},
		{"sqlite backend", BackendSQLite, "c.db", nil},
		{"unknown backend", "redis", "d", ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.backend, filepath.Join(dir, tt.file), newTestLogger(&bytes.Buffer{}))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer store.Close()
			store.MarkSeen("x")
			assert.True(t, store.IsSeen("x"))
		})
	}
}
