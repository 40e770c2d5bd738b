// Package git is the production backend. Repository discovery and HEAD
// resolution go through go-git; change listing, patches and index updates
// run the git binary so results match git exactly.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"stagehand/internal/backend"
	apperr "stagehand/internal/errors"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultBlobCacheSize = 256

type Backend struct {
	root   string
	repo   *gogit.Repository
	run    *Runner
	blobs  *lru.Cache[plumbing.Hash, []byte]
	logger *zap.Logger

	bin       string
	cacheSize int
}

var _ backend.Backend = (*Backend)(nil)

type Option func(*Backend)

// WithBinary selects the git executable. Empty means "git" from PATH.
func WithBinary(bin string) Option {
	return func(b *Backend) { b.bin = bin }
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBlobCacheSize bounds the number of baseline blobs kept for computing
// byte offsets.
func WithBlobCacheSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.cacheSize = n
		}
	}
}

// Open discovers the repository containing path.
func Open(ctx context.Context, path string, opts ...Option) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := &Backend{logger: zap.NewNop(), cacheSize: defaultBlobCacheSize}
	for _, opt := range opts {
		opt(b)
	}

	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("repository at %s has no work tree: %w", path, err)
	}

	blobs, err := lru.New[plumbing.Hash, []byte](b.cacheSize)
	if err != nil {
		return nil, err
	}

	b.repo = repo
	b.root = wt.Filesystem.Root()
	b.run = NewRunner(b.bin, b.root)
	b.blobs = blobs

	b.logger.Debug("opened repository", zap.String("root", b.root))
	return b, nil
}

func (b *Backend) Root() string { return b.root }

func (b *Backend) Close() error {
	b.blobs.Purge()
	return nil
}

func (b *Backend) Head(context.Context) (backend.Baseline, error) {
	ref, err := b.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return backend.Baseline{}, backend.ErrUnbornHead
	}
	if err != nil {
		return backend.Baseline{}, fmt.Errorf("resolving HEAD: %w", err)
	}
	commit, err := b.repo.CommitObject(ref.Hash())
	if err != nil {
		return backend.Baseline{}, fmt.Errorf("reading HEAD commit: %w", err)
	}
	return backend.Baseline{Tree: commit.TreeHash}, nil
}

func (b *Backend) AddPath(ctx context.Context, path string) error {
	_, err := b.run.Run(ctx, "add", "--", literal(path))
	return err
}

func (b *Backend) RemovePath(ctx context.Context, path string) error {
	_, err := b.Head(ctx)
	switch {
	case errors.Is(err, backend.ErrUnbornHead):
		_, err = b.run.Run(ctx, "rm", "--cached", "-r", "-q", "--ignore-unmatch", "--", literal(path))
	case err == nil:
		_, err = b.run.Run(ctx, "reset", "-q", "HEAD", "--", literal(path))
	}
	return err
}

func (b *Backend) ShouldIgnore(ctx context.Context, path string) (bool, error) {
	_, err := b.run.Run(ctx, "check-ignore", "-q", "--no-index", "--", path)
	if err == nil {
		return true, nil
	}
	if code, ok := exitCode(err); ok && code == 1 {
		return false, nil
	}
	return false, err
}

func (b *Backend) Walk(ctx context.Context, opts backend.WalkOptions, fileFn backend.FileFunc, lineFn backend.LineFunc) error {
	records, err := b.records(ctx, opts)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fileFn(rec)
		if errors.Is(err, backend.ErrSkip) {
			continue
		}
		stop := errors.Is(err, backend.ErrStop)
		if err != nil && !stop {
			return err
		}

		if lineFn != nil {
			if perr := b.patch(ctx, opts, rec, lineFn); perr != nil {
				if errors.Is(perr, backend.ErrStop) {
					return nil
				}
				return perr
			}
		}
		if stop {
			return nil
		}
	}
	return nil
}

// records lists tracked changes from the raw diff and untracked or ignored
// entries from status, sorted by path.
func (b *Backend) records(ctx context.Context, opts backend.WalkOptions) ([]backend.Record, error) {
	args := []string{"diff", "--raw", "-z", "--no-abbrev", "--no-ext-diff", renameFlag(opts)}
	args = append(args, opts.Baseline.String(), "--")
	args = append(args, literals(opts.Pathspec)...)
	out, err := b.run.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	raw, err := parseRaw(out)
	if err != nil {
		return nil, err
	}

	var records []backend.Record
	var oldIDs []plumbing.Hash
	for _, e := range raw {
		rec, ok := rawRecord(e, opts)
		if !ok {
			continue
		}
		if !e.oldID.IsZero() && rec.Status != backend.Added {
			oldIDs = append(oldIDs, e.oldID)
		}
		records = append(records, rec)
	}

	if opts.IncludeUntracked || opts.IncludeIgnored {
		extra, err := b.untracked(ctx, opts)
		if err != nil {
			return nil, err
		}
		records = append(records, extra...)
	}

	if err := b.fillSizes(ctx, records, oldIDs); err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Path() < records[j].Path()
	})
	return records, nil
}

// literal marks a path so git matches it byte for byte instead of as a glob.
func literal(path string) string {
	return ":(literal)" + path
}

func literals(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = literal(p)
	}
	return out
}

func renameFlag(opts backend.WalkOptions) string {
	if opts.DetectRenames {
		return "-M"
	}
	return "--no-renames"
}

func rawRecord(e rawEntry, opts backend.WalkOptions) (backend.Record, bool) {
	oldSide := backend.Side{ID: e.oldID, Path: e.oldPath}
	newSide := backend.Side{ID: e.newID, Path: e.newPath}

	switch e.status {
	case 'A':
		return backend.Record{Status: backend.Added, Files: []backend.Side{newSide}}, true
	case 'D':
		return backend.Record{Status: backend.Deleted, Files: []backend.Side{oldSide}}, true
	case 'M':
		return backend.Record{Status: backend.Modified, Files: []backend.Side{oldSide, newSide}}, true
	case 'T':
		status := backend.Typechange
		if !opts.IncludeTypechange {
			status = backend.Modified
		}
		return backend.Record{Status: status, Files: []backend.Side{oldSide, newSide}}, true
	case 'R':
		return backend.Record{Status: backend.Renamed, Files: []backend.Side{oldSide, newSide}}, true
	case 'C':
		return backend.Record{Status: backend.Copied, Files: []backend.Side{oldSide, newSide}}, true
	case 'U':
		return backend.Record{Status: backend.Conflicted, Files: []backend.Side{oldSide, newSide}}, true
	}
	return backend.Record{}, false
}

func (b *Backend) untracked(ctx context.Context, opts backend.WalkOptions) ([]backend.Record, error) {
	args := []string{"status", "--porcelain=v1", "-z", "--untracked-files=normal"}
	if opts.IncludeIgnored {
		args = append(args, "--ignored=traditional")
	}
	args = append(args, "--")
	args = append(args, literals(opts.Pathspec)...)
	out, err := b.run.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	entries, err := parseStatus(out)
	if err != nil {
		return nil, err
	}

	var records []backend.Record
	for _, e := range entries {
		var status backend.Status
		switch {
		case e.code == "??" && opts.IncludeUntracked:
			status = backend.Untracked
		case e.code == "!!" && opts.IncludeIgnored:
			status = backend.Ignored
		default:
			continue
		}
		records = append(records, backend.Record{Status: status, Files: []backend.Side{{Path: e.path}}})
	}
	return records, nil
}

// fillSizes sets old-side sizes from the object store and new-side sizes
// from the work tree.
func (b *Backend) fillSizes(ctx context.Context, records []backend.Record, oldIDs []plumbing.Hash) error {
	sizes := map[plumbing.Hash]uint64{}
	if len(oldIDs) > 0 {
		var input bytes.Buffer
		for _, id := range oldIDs {
			fmt.Fprintln(&input, id.String())
		}
		out, err := b.run.RunInput(ctx, &input, "cat-file", "--batch-check")
		if err != nil {
			return err
		}
		if sizes, err = parseBatchCheck(out); err != nil {
			return err
		}
	}

	for i := range records {
		rec := &records[i]
		for j := range rec.Files {
			side := &rec.Files[j]
			isOld := (len(rec.Files) == 2 && j == 0) || rec.Status == backend.Deleted
			if isOld {
				side.Size = sizes[side.ID]
				continue
			}
			size, err := b.workSize(side.Path)
			if err != nil {
				return err
			}
			side.Size = size
		}
	}
	return nil
}

func (b *Backend) workSize(path string) (uint64, error) {
	if strings.HasSuffix(path, "/") {
		return 0, nil
	}
	info, err := os.Lstat(filepath.Join(b.root, filepath.FromSlash(path)))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.IO(path, err)
	}
	if info.IsDir() {
		return 0, nil
	}
	return uint64(info.Size()), nil
}

// patch streams the lines of one record.
func (b *Backend) patch(ctx context.Context, opts backend.WalkOptions, rec backend.Record, lineFn backend.LineFunc) error {
	emit := func(line backend.Line) error { return lineFn(rec, line) }
	unified := "-U" + strconv.Itoa(max(opts.ContextLines, 0))

	switch rec.Status {
	case backend.Ignored, backend.Unreadable:
		return nil
	case backend.Untracked:
		path := rec.Path()
		if !opts.ShowUntrackedContent || strings.HasSuffix(path, "/") {
			return nil
		}
		offsets := &offsetSource{loadNew: b.workTable(path), logger: b.logger}
		err := b.run.Stream(ctx, func(r io.Reader) error {
			return newPatchParser(r, offsets, emit).run()
		}, "diff", "--no-index", "--no-color", "--no-ext-diff", unified, "--", os.DevNull, path)
		if code, ok := exitCode(err); ok && code == 1 {
			return nil
		}
		return err
	}

	offsets := &offsetSource{loadNew: b.workTable(rec.Path()), logger: b.logger}
	if len(rec.Files) == 2 || rec.Status == backend.Deleted {
		offsets.loadOld = b.blobTable(ctx, rec.Files[0].ID)
	}
	args := []string{"diff", "--no-color", "--no-ext-diff", unified, renameFlag(opts), opts.Baseline.String(), "--"}
	args = append(args, literals(rec.Paths())...)
	return b.run.Stream(ctx, func(r io.Reader) error {
		return newPatchParser(r, offsets, emit).run()
	}, args...)
}

func (b *Backend) workTable(path string) func() (lineTable, error) {
	return func() (lineTable, error) {
		content, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(path)))
		if err != nil {
			return nil, err
		}
		return newLineTable(content), nil
	}
}

func (b *Backend) blobTable(ctx context.Context, id plumbing.Hash) func() (lineTable, error) {
	return func() (lineTable, error) {
		if id.IsZero() {
			return nil, nil
		}
		content, err := b.blob(ctx, id)
		if err != nil {
			return nil, err
		}
		return newLineTable(content), nil
	}
}

// blob reads a baseline object through go-git and falls back to cat-file
// for storage go-git cannot read.
func (b *Backend) blob(ctx context.Context, id plumbing.Hash) ([]byte, error) {
	if content, ok := b.blobs.Get(id); ok {
		return content, nil
	}

	var content []byte
	obj, err := b.repo.BlobObject(id)
	if err == nil {
		var r io.ReadCloser
		if r, err = obj.Reader(); err == nil {
			content, err = io.ReadAll(r)
			r.Close()
		}
	}
	if err != nil {
		b.logger.Debug("falling back to cat-file", zap.Stringer("blob", id), zap.Error(err))
		content, err = b.run.Run(ctx, "cat-file", "blob", id.String())
		if err != nil {
			return nil, err
		}
	}

	b.blobs.Add(id, content)
	return content, nil
}
