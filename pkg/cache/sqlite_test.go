package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	in := []listEntry{{ID: 1, Name: "alpha"}, {ID: 2, Name: "beta"}}
	require.NoError(t, s.Put(Projects, in))

	var out []listEntry
	updated, err := s.Get(Projects, &out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, fixed.Equal(updated))
}

func TestStore_Overwrite(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Tools, []listEntry{{ID: 1}}))
	require.NoError(t, s.Put(Tools, []listEntry{{ID: 2}, {ID: 3}}))

	var out []listEntry
	_, err := s.Get(Tools, &out)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)

	var out []listEntry
	_, err := s.Get(Chats, &out)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, out)
}

func TestStore_IgnoresUnknownFields(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Projects, []map[string]any{
		{"id": 9, "name": "legacy", "retired_field": true},
	}))

	var out []listEntry
	_, err := s.Get(Projects, &out)
	require.NoError(t, err)
	assert.Equal(t, []listEntry{{ID: 9, Name: "legacy"}}, out)
}

func TestStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(Chats, []listEntry{{ID: 4}}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	var out []listEntry
	_, err = reopened.Get(Chats, &out)
	require.NoError(t, err)
	assert.Equal(t, []listEntry{{ID: 4}}, out)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Tools, []listEntry{{ID: 1}}))
	require.NoError(t, s.Delete(Tools))
	require.NoError(t, s.Delete(Tools))

	var out []listEntry
	_, err := s.Get(Tools, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Put(Projects, 1), ErrClosed)
	_, err = s.Get(Projects, new(int))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete(Projects), ErrClosed)
}
