package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStateStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "job_states.json")
	store := NewFileStateStore(path)
	ctx := testContext(t)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "a", []byte(`{"n":1}`)))
	require.NoError(t, store.Put(ctx, "b", []byte(`{"n":2}`)))

	// one mapping holds every record
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Len(t, onDisk, 2)

	got, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(got))

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "b")
	assert.NoError(t, err)
}

func TestFileStateStore_RejectsNonJSON(t *testing.T) {
	store := NewFileStateStore(filepath.Join(t.TempDir(), "s.json"))
	assert.Error(t, store.Put(testContext(t), "a", []byte("not json")))
}

func TestFileStateStore_CorruptFileMovedAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))
	store := NewFileStateStore(path)
	ctx := testContext(t)

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(path + ".corrupt")
	assert.NoError(t, statErr)

	require.NoError(t, store.Put(ctx, "a", []byte(`{}`)))
	_, err = store.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestFileStateStore_ConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	store := NewFileStateStore(path)
	ctx := testContext(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, fmt.Sprintf("job-%d", i), []byte(`{}`)))
		}(i)
	}
	wg.Wait()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Len(t, onDisk, 20)
}

func TestFileStateStore_UnreadableFileIsNotOverwritten(t *testing.T) {
	// a directory in place of the state file fails every read
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "keep"), 0o755))
	store := NewFileStateStore(path)
	ctx := testContext(t)

	_, err := store.Get(ctx, "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "an unreadable file is not an empty one")

	assert.Error(t, store.Put(ctx, "a", []byte(`{}`)))
	assert.Error(t, store.Delete(ctx, "a"))

	info, err := os.Stat(filepath.Join(path, "keep"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFallbackStore_UnreadableMirrorSurfacesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.MkdirAll(path, 0o755))
	store := NewFallbackStore("job_states", nil, NewFileStateStore(path))

	_, err := store.Get(testContext(t), "job")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
