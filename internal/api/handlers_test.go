package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stagehand/internal/backend"
	"stagehand/internal/backend/memory"
	"stagehand/internal/delta"
	"stagehand/internal/diff"
	apperr "stagehand/internal/errors"
	"stagehand/internal/logging"
	"stagehand/internal/middleware"
	"stagehand/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Backend) {
	t.Helper()
	b := memory.New("/repo")
	r, err := repo.New(context.Background(), b)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	mux := http.NewServeMux()
	NewHandler(r).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, b
}

func post(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) apperr.Error {
	t.Helper()
	var body apperr.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func changes(t *testing.T, srv *httptest.Server) []string {
	t.Helper()
	resp := get(t, srv, "/api/changes")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deltas []delta.Delta
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&deltas))
	out := make([]string, len(deltas))
	for i, d := range deltas {
		out[i] = d.String()
	}
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestChangesEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Empty(t, changes(t, srv))
}

func TestStageUndoRedo(t *testing.T) {
	srv, b := newTestServer(t)
	b.WriteFile("a.txt", []byte("a\n"))

	assert.Equal(t, http.StatusNoContent, post(t, srv, "/api/stage", PathRequest{Path: "a.txt"}).StatusCode)
	assert.Equal(t, []string{"Added(a.txt)"}, changes(t, srv))

	assert.Equal(t, http.StatusNoContent, post(t, srv, "/api/undo", nil).StatusCode)
	assert.Equal(t, []string{"Untracked(a.txt)"}, changes(t, srv))

	assert.Equal(t, http.StatusNoContent, post(t, srv, "/api/redo", nil).StatusCode)
	assert.Equal(t, []string{"Added(a.txt)"}, changes(t, srv))

	resp := get(t, srv, "/api/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap repo.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Cursor)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "stage a.txt", snap.Entries[0].String())

	assert.Equal(t, http.StatusNoContent, post(t, srv, "/api/unstage", PathRequest{Path: "a.txt"}).StatusCode)
	assert.Equal(t, []string{"Untracked(a.txt)"}, changes(t, srv))
}

func TestClearHistory(t *testing.T) {
	srv, b := newTestServer(t)
	b.WriteFile("a.txt", []byte("a\n"))
	require.Equal(t, http.StatusNoContent, post(t, srv, "/api/stage", PathRequest{Path: "a.txt"}).StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/history", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = get(t, srv, "/api/history")
	var snap repo.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Empty(t, snap.Entries)
	assert.Equal(t, []string{"Added(a.txt)"}, changes(t, srv))

	resp = post(t, srv, "/api/undo", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUndoRedoEmptyConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv, "/api/undo", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apperr.ErrorTypeUndoEmpty, decodeError(t, resp).Type)

	resp = post(t, srv, "/api/redo", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apperr.ErrorTypeRedoEmpty, decodeError(t, resp).Type)
}

func TestStageValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv, "/api/stage", PathRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperr.ErrorTypeMissingPath, decodeError(t, resp).Type)

	resp = post(t, srv, "/api/unstage", PathRequest{Path: "../outside"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperr.ErrorTypeValidation, decodeError(t, resp).Type)

	raw, err := http.Post(srv.URL+"/api/stage", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
	assert.Equal(t, apperr.ErrorTypeValidation, decodeError(t, raw).Type)
}

func TestDiff(t *testing.T) {
	srv, b := newTestServer(t)
	b.WriteFile("a.txt", []byte("one\n"))
	b.AddPath(context.Background(), "a.txt")
	b.Commit()
	b.WriteFile("a.txt", []byte("two\n"))

	resp := get(t, srv, "/api/diff?path=a.txt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var details diff.Details
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&details))
	assert.Equal(t, delta.Modified, details.Delta.Kind())
	stats := details.Stats()
	assert.Equal(t, 1, stats.Additions)
	assert.Equal(t, 1, stats.Deletions)

	resp = get(t, srv, "/api/diff?path=missing.txt")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperr.ErrorTypePathNotFound, decodeError(t, resp).Type)

	resp = get(t, srv, "/api/diff")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBackendFailureIsServerError(t *testing.T) {
	srv, b := newTestServer(t)
	b.Fail(memory.OpWalk, assert.AnError)

	resp := get(t, srv, "/api/changes")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, apperr.ErrorTypeBackend, decodeError(t, resp).Type)
}

// unmodifiedWalker reports a record the classifier refuses.
type unmodifiedWalker struct {
	*memory.Backend
}

func (w unmodifiedWalker) Walk(_ context.Context, _ backend.WalkOptions, fileFn backend.FileFunc, _ backend.LineFunc) error {
	return fileFn(backend.Record{Status: backend.Unmodified})
}

func TestPanicReleasesLock(t *testing.T) {
	r, err := repo.New(context.Background(), unmodifiedWalker{memory.New("/repo")})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	mux := http.NewServeMux()
	NewHandler(r).Register(mux)
	srv := httptest.NewServer(middleware.Chain(mux, middleware.Recover(logging.Nop())))
	t.Cleanup(srv.Close)

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(srv.URL + "/api/changes")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/api/history")
	require.NoError(t, err, "handler lock still held after recovered panic")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
