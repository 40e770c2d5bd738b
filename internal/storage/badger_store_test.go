package storage

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func (n *note) GetID() string { return n.ID }

func setupTestDB(t *testing.T) (*badger.DB, func()) {
	db, err := Open("", true)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}
	return db, cleanup
}

func newTestStore(t *testing.T) *BadgerStore {
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	compressor, err := NewCompressor(DefaultCompressionOptions())
	require.NoError(t, err)
	return NewBadgerStore(db, "notes", compressor)
}

func TestBadgerStore(t *testing.T) {
	store := newTestStore(t)

	t.Run("Create", func(t *testing.T) {
		require.NoError(t, store.Create(&note{ID: "a", Body: "first"}))
		assert.Error(t, store.Create(&note{ID: "a", Body: "again"}))
		assert.Error(t, store.Create(&note{}))
	})

	t.Run("Get", func(t *testing.T) {
		var got note
		require.NoError(t, store.Get("a", &got))
		assert.Equal(t, "first", got.Body)

		err := store.Get("missing", &got)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, store.Update(&note{ID: "a", Body: "second"}))
		assert.True(t, errors.Is(store.Update(&note{ID: "b"}), ErrNotFound))
	})

	t.Run("CompressedValue", func(t *testing.T) {
		long := strings.Repeat("compressible ", 200)
		require.NoError(t, store.Create(&note{ID: "b", Body: long}))

		var got note
		require.NoError(t, store.Get("b", &got))
		assert.Equal(t, long, got.Body)
	})

	t.Run("List", func(t *testing.T) {
		var notes []note
		require.NoError(t, store.List(&notes))
		require.Len(t, notes, 2)
		assert.Equal(t, "a", notes[0].ID)
		assert.Equal(t, "second", notes[0].Body)
		assert.Equal(t, "b", notes[1].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete("a"))
		assert.True(t, errors.Is(store.Delete("a"), ErrNotFound))
	})
}

func TestCompressor(t *testing.T) {
	c, err := NewCompressor(DefaultCompressionOptions())
	require.NoError(t, err)

	small := []byte(`{"id":"x"}`)
	assert.Equal(t, small, c.Compress(small))

	large := []byte(strings.Repeat("abcdefgh", 1000))
	packed := c.Compress(large)
	assert.Less(t, len(packed), len(large))

	out, err := c.Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, large, out)

	out, err = c.Decompress(small)
	require.NoError(t, err)
	assert.Equal(t, small, out)
}
