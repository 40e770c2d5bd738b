package diff_test

import (
	"context"
	"errors"
	"testing"

	"stagehand/internal/backend"
	"stagehand/internal/delta"
	"stagehand/internal/diff"
	apperr "stagehand/internal/errors"
	"stagehand/internal/file"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFile struct {
	rec   backend.Record
	lines []backend.Line
}

// fakeWalker replays canned records and remembers which files had their
// lines produced.
type fakeWalker struct {
	files    []fakeFile
	failWith error
	produced []string
	opts     backend.WalkOptions
}

func (w *fakeWalker) Walk(ctx context.Context, opts backend.WalkOptions, fileFn backend.FileFunc, lineFn backend.LineFunc) error {
	w.opts = opts
	if w.failWith != nil {
		return w.failWith
	}
	for _, f := range w.files {
		err := fileFn(f.rec)
		switch {
		case errors.Is(err, backend.ErrSkip):
			continue
		case err != nil && !errors.Is(err, backend.ErrStop):
			return err
		}
		if lineFn != nil {
			w.produced = append(w.produced, f.rec.Path())
			for _, line := range f.lines {
				if lerr := lineFn(f.rec, line); lerr != nil {
					return lerr
				}
			}
		}
		if errors.Is(err, backend.ErrStop) {
			return nil
		}
	}
	return nil
}

func untracked(path string) backend.Record {
	return backend.Record{Status: backend.Untracked, Files: []backend.Side{{Path: path}}}
}

func addition(n uint32, text string) backend.Line {
	return backend.Line{NewLineNo: n, NumLines: 1, Content: []byte(text), Origin: backend.OriginAddition}
}

func TestExtractReturnsOnlyTargetLines(t *testing.T) {
	w := &fakeWalker{files: []fakeFile{
		{rec: untracked("a.txt"), lines: []backend.Line{addition(1, "a\n")}},
		{rec: untracked("b.txt"), lines: []backend.Line{addition(1, "b1\n"), addition(2, "b2\n")}},
		{rec: untracked("c.txt"), lines: []backend.Line{addition(1, "c\n")}},
	}}

	details, err := diff.Extract(context.Background(), w, backend.EmptyTree, "b.txt", diff.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, delta.Untracked, details.Delta.Kind())
	require.Len(t, details.Lines, 2)
	assert.Equal(t, "b1\n", string(details.Lines[0].Content))
	assert.Equal(t, "b2\n", string(details.Lines[1].Content))

	assert.Equal(t, []string{"b.txt"}, w.produced)
	assert.Equal(t, []string{"b.txt"}, w.opts.Pathspec)
	assert.True(t, w.opts.IncludeUntracked)
	assert.True(t, w.opts.IncludeIgnored)
}

func TestExtractMatchesOldSideOfRename(t *testing.T) {
	w := &fakeWalker{files: []fakeFile{{rec: backend.Record{
		Status: backend.Renamed,
		Files:  []backend.Side{{Path: "old.txt"}, {Path: "new.txt"}},
	}}}}

	details, err := diff.Extract(context.Background(), w, backend.EmptyTree, "old.txt", diff.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, delta.Renamed, details.Delta.Kind())
	assert.Empty(t, details.Lines)
}

func TestExtractPathNotFound(t *testing.T) {
	w := &fakeWalker{files: []fakeFile{{rec: untracked("a.txt")}}}

	_, err := diff.Extract(context.Background(), w, backend.EmptyTree, "missing.txt", diff.DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPathNotFound))
	assert.Empty(t, w.produced)
}

func TestExtractWrapsBackendFailure(t *testing.T) {
	cause := errors.New("object store corrupt")
	w := &fakeWalker{failWith: cause}

	_, err := diff.Extract(context.Background(), w, backend.EmptyTree, "a.txt", diff.DefaultOptions())
	assert.True(t, errors.Is(err, apperr.ErrBackend))
	assert.True(t, errors.Is(err, cause))
}

func TestExtractRequiresTarget(t *testing.T) {
	_, err := diff.Extract(context.Background(), &fakeWalker{}, backend.EmptyTree, "", diff.DefaultOptions())
	assert.True(t, errors.Is(err, apperr.ErrMissingPath))
}

func TestDetailsStatsAndFormat(t *testing.T) {
	details := &diff.Details{
		Delta: delta.NewModified(fileRef("a.txt"), fileRef("a.txt")),
		Lines: []diff.Line{
			{Origin: diff.HunkHeader, Content: []byte("@@ -1 +1 @@\n"), ByteOffset: -1},
			{Origin: diff.Deletion, OldLineNo: 1, Content: []byte("old\n")},
			{Origin: diff.Addition, NewLineNo: 1, Content: []byte("new")},
			{Origin: diff.AddEOFNL, ByteOffset: -1},
		},
	}

	assert.Equal(t, diff.Stats{Additions: 1, Deletions: 1, Changes: 2}, details.Stats())
	assert.Equal(t, "@@ -1 +1 @@\n-old\n+new\n\\ No newline at end of file\n", details.Format())
	assert.Equal(t, "Modified(a.txt) +1 -1", details.String())
}

func fileRef(path string) file.Ref {
	return file.FromPath(path)
}
