package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"stagehand/internal/api"
	"stagehand/internal/backend/memory"
	"stagehand/internal/delta"
	apperr "stagehand/internal/errors"
	"stagehand/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *memory.Backend) {
	t.Helper()
	b := memory.New("/repo")
	r, err := repo.New(context.Background(), b)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	mux := http.NewServeMux()
	api.NewHandler(r).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/"), b
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, b := newTestClient(t)
	require.NoError(t, c.Health(ctx))

	b.WriteFile("a.txt", []byte("a\n"))
	require.NoError(t, c.Stage(ctx, "a.txt"))

	deltas, err := c.Changes(ctx)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, delta.Added, deltas[0].Kind())

	details, err := c.Diff(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, details.Stats().Additions)

	snapshot, err := c.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Cursor)

	require.NoError(t, c.Undo(ctx))
	require.NoError(t, c.Redo(ctx))
	require.NoError(t, c.Unstage(ctx, "a.txt"))

	deltas, err = c.Changes(ctx)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, delta.Untracked, deltas[0].Kind())

	require.NoError(t, c.ClearHistory(ctx))
	snapshot, err = c.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Entries)
	assert.Equal(t, 0, snapshot.Cursor)
}

func TestClientTypedErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	err := c.Redo(ctx)
	assert.True(t, errors.Is(err, apperr.ErrRedoEmpty))

	_, err = c.Diff(ctx, "nothing.txt")
	assert.True(t, errors.Is(err, apperr.ErrPathNotFound))

	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, typed.Code)
}
