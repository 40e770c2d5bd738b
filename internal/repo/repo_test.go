package repo

import (
	"context"
	"errors"
	"testing"

	"stagehand/internal/backend/memory"
	"stagehand/internal/delta"
	apperr "stagehand/internal/errors"
	"stagehand/internal/file"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryRepo(t *testing.T, opts ...Option) (*Repo, *memory.Backend) {
	t.Helper()
	b := memory.New("/repo")
	r, err := New(context.Background(), b, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, b
}

func kinds(t *testing.T, r *Repo) []string {
	t.Helper()
	deltas, err := r.Uncommitted(context.Background())
	require.NoError(t, err)
	out := make([]string, len(deltas))
	for i, d := range deltas {
		out[i] = d.String()
	}
	return out
}

func TestBlankRepository(t *testing.T) {
	r, _ := newMemoryRepo(t)
	assert.Equal(t, "/repo", r.Path())
	assert.Empty(t, kinds(t, r))
}

func TestUntrackedDirectory(t *testing.T) {
	r, b := newMemoryRepo(t)
	b.WriteFile("name", []byte("n\n"))
	b.WriteFile("example_dir/file", []byte("f\n"))

	assert.Equal(t, []string{"Untracked(example_dir/)", "Untracked(name)"}, kinds(t, r))
}

func TestStageOneOfTwo(t *testing.T) {
	ctx := context.Background()
	r, b := newMemoryRepo(t)
	b.WriteFile("a.txt", []byte("a\n"))
	b.WriteFile("b.txt", []byte("b\n"))

	deltas, err := r.Uncommitted(ctx)
	require.NoError(t, err)
	require.NoError(t, r.StageFile(ctx, deltas[0].File()))

	assert.Equal(t, []string{"Added(a.txt)", "Untracked(b.txt)"}, kinds(t, r))
}

func TestStageUndoRedoSequence(t *testing.T) {
	ctx := context.Background()
	r, b := newMemoryRepo(t)
	b.WriteFile("a.txt", []byte("a\n"))

	observed := kinds(t, r)
	require.NoError(t, r.StageFile(ctx, file.FromPath("a.txt")))
	observed = append(observed, kinds(t, r)...)
	require.NoError(t, r.Undo(ctx))
	observed = append(observed, kinds(t, r)...)
	require.NoError(t, r.Redo(ctx))
	observed = append(observed, kinds(t, r)...)

	assert.Equal(t, []string{"Untracked(a.txt)", "Added(a.txt)", "Untracked(a.txt)", "Added(a.txt)"}, observed)
	assert.Equal(t, "  0 origin\n* 1 stage a.txt\n", r.History())
}

func TestUnstageRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, b := newMemoryRepo(t)
	b.WriteFile("a.txt", []byte("a\n"))
	require.NoError(t, r.StageFile(ctx, file.FromPath("a.txt")))

	require.NoError(t, r.UnstageFile(ctx, file.FromPath("a.txt")))
	assert.Equal(t, []string{"Untracked(a.txt)"}, kinds(t, r))

	require.NoError(t, r.Undo(ctx))
	assert.Equal(t, []string{"Added(a.txt)"}, kinds(t, r))
}

func TestEmptyUndoRedo(t *testing.T) {
	ctx := context.Background()
	r, _ := newMemoryRepo(t)

	assert.True(t, errors.Is(r.Undo(ctx), apperr.ErrUndoEmpty))
	assert.True(t, errors.Is(r.Redo(ctx), apperr.ErrRedoEmpty))

	r2, b := newMemoryRepo(t)
	b.WriteFile("a.txt", []byte("a\n"))
	require.NoError(t, r2.StageFile(ctx, file.FromPath("a.txt")))
	assert.True(t, errors.Is(r2.Redo(ctx), apperr.ErrRedoEmpty))
}

func TestStagingIgnoredPathIsNoop(t *testing.T) {
	ctx := context.Background()
	r, b := newMemoryRepo(t)
	b.Ignore("*.log")
	b.WriteFile("debug.log", []byte("x\n"))

	require.NoError(t, r.StageFile(ctx, file.FromPath("debug.log")))
	assert.Equal(t, []string{"Ignored(debug.log)"}, kinds(t, r))
}

func TestDetailsForModifiedFile(t *testing.T) {
	ctx := context.Background()
	r, b := newMemoryRepo(t)
	b.WriteFile("a.txt", []byte("one\ntwo\n"))
	require.NoError(t, r.StageFile(ctx, file.FromPath("a.txt")))
	b.Commit()
	b.WriteFile("a.txt", []byte("one\nTWO\n"))

	details, err := r.Details(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, delta.Modified, details.Delta.Kind())
	require.NotEmpty(t, details.Lines)

	var oldNos []uint32
	for _, line := range details.Lines {
		if line.OldLineNo > 0 {
			oldNos = append(oldNos, line.OldLineNo)
		}
	}
	assert.IsIncreasing(t, oldNos)
	assert.Equal(t, 1, details.Stats().Additions)

	byDelta, err := r.DetailsFor(ctx, details.Delta)
	require.NoError(t, err)
	assert.Equal(t, details.Lines, byDelta.Lines)
}

func TestDetailsAfterDeleteUsesCurrentState(t *testing.T) {
	ctx := context.Background()
	r, b := newMemoryRepo(t)
	b.WriteFile("a.txt", []byte("one\n"))
	require.NoError(t, r.StageFile(ctx, file.FromPath("a.txt")))
	b.Commit()
	b.WriteFile("a.txt", []byte("two\n"))

	stale, err := r.Uncommitted(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	b.RemoveFile("a.txt")
	details, err := r.DetailsFor(ctx, stale[0])
	require.NoError(t, err)
	assert.Equal(t, delta.Deleted, details.Delta.Kind())

	_, err = r.Details(ctx, "never-existed.txt")
	assert.True(t, errors.Is(err, apperr.ErrPathNotFound))
}

func TestBackendFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	r, b := newMemoryRepo(t)
	b.WriteFile("a.txt", []byte("a\n"))
	require.NoError(t, r.StageFile(ctx, file.FromPath("a.txt")))

	cause := errors.New("index locked")
	b.Fail(memory.OpRemove, cause)
	err := r.Undo(ctx)
	assert.True(t, errors.Is(err, apperr.ErrBackend))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"Added(a.txt)"}, kinds(t, r))

	b.Fail(memory.OpRemove, nil)
	require.NoError(t, r.Undo(ctx))
	assert.Equal(t, []string{"Untracked(a.txt)"}, kinds(t, r))

	b.Fail(memory.OpWalk, cause)
	_, err = r.Uncommitted(ctx)
	assert.True(t, errors.Is(err, apperr.ErrBackend))
}

type memoryStore struct {
	snapshots map[string]Snapshot
	saves     int
}

func (s *memoryStore) LoadHistory(_ context.Context, root string) (Snapshot, bool, error) {
	snap, ok := s.snapshots[root]
	return snap, ok, nil
}

func (s *memoryStore) SaveHistory(_ context.Context, root string, snap Snapshot) error {
	s.snapshots[root] = snap
	s.saves++
	return nil
}

func (s *memoryStore) ForgetHistory(_ context.Context, root string) error {
	delete(s.snapshots, root)
	return nil
}

func TestClearHistory(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{snapshots: map[string]Snapshot{}}
	b := memory.New("/repo")
	b.WriteFile("a.txt", []byte("a\n"))

	r, err := New(ctx, b, WithHistoryStore(store))
	require.NoError(t, err)
	require.NoError(t, r.StageFile(ctx, file.FromPath("a.txt")))
	require.Contains(t, store.snapshots, "/repo")

	require.NoError(t, r.ClearHistory(ctx))
	assert.Empty(t, r.Snapshot().Entries)
	assert.NotContains(t, store.snapshots, "/repo")
	assert.True(t, errors.Is(r.Undo(ctx), apperr.ErrUndoEmpty))
	assert.Equal(t, []string{"Added(a.txt)"}, kinds(t, r))

	reopened, err := New(ctx, b, WithHistoryStore(store))
	require.NoError(t, err)
	assert.Empty(t, reopened.Snapshot().Entries)
}

func TestHistoryPersistsAcrossHandles(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{snapshots: map[string]Snapshot{}}
	b := memory.New("/repo")
	b.WriteFile("a.txt", []byte("a\n"))

	first, err := New(ctx, b, WithHistoryStore(store))
	require.NoError(t, err)
	require.NoError(t, first.StageFile(ctx, file.FromPath("a.txt")))
	assert.Equal(t, 1, store.saves)

	second, err := New(ctx, b, WithHistoryStore(store))
	require.NoError(t, err)
	require.NoError(t, second.Undo(ctx))
	assert.Equal(t, []string{"Untracked(a.txt)"}, kinds(t, second))
	assert.Equal(t, 0, store.snapshots["/repo"].Cursor)
}
