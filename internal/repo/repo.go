// Package repo ties the backend, the classifier, the diff extractor and the
// change history into one handle per repository.
package repo

import (
	"context"
	"fmt"

	"stagehand/internal/backend"
	gitbackend "stagehand/internal/backend/git"
	"stagehand/internal/delta"
	"stagehand/internal/diff"
	apperr "stagehand/internal/errors"
	"stagehand/internal/file"
	"stagehand/internal/history"
	"stagehand/internal/logging"
	"stagehand/internal/staging"

	"go.uber.org/zap"
)

// Snapshot is the persisted form of a repository's change history.
type Snapshot = history.Snapshot[staging.Command]

// HistoryStore persists change histories keyed by repository root.
type HistoryStore interface {
	LoadHistory(ctx context.Context, root string) (Snapshot, bool, error)
	SaveHistory(ctx context.Context, root string, snapshot Snapshot) error
	ForgetHistory(ctx context.Context, root string) error
}

type options struct {
	logger    *zap.Logger
	store     HistoryStore
	limit     int
	diff      diff.Options
	gitBinary string
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHistoryStore restores the history on open and saves it after every
// successful change.
func WithHistoryStore(store HistoryStore) Option {
	return func(o *options) { o.store = store }
}

func WithHistoryLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

func WithDiffOptions(opts diff.Options) Option {
	return func(o *options) { o.diff = opts }
}

// WithGitBinary selects the git executable used by Open.
func WithGitBinary(bin string) Option {
	return func(o *options) { o.gitBinary = bin }
}

// Repo is not safe for concurrent use.
type Repo struct {
	backend backend.Backend
	history *history.History[backend.Backend, staging.Command]

	store    HistoryStore
	diffOpts diff.Options
	logger   *zap.Logger
}

// Open discovers the repository containing path and opens it with the git
// backend.
func Open(ctx context.Context, path string, opts ...Option) (*Repo, error) {
	o := newOptions(opts)
	b, err := gitbackend.Open(ctx, path,
		gitbackend.WithBinary(o.gitBinary),
		gitbackend.WithLogger(o.logger),
	)
	if err != nil {
		return nil, apperr.Backend("opening repository", err)
	}
	r, err := newRepo(ctx, b, o)
	if err != nil {
		b.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an already opened backend. The Repo takes ownership of it.
func New(ctx context.Context, b backend.Backend, opts ...Option) (*Repo, error) {
	return newRepo(ctx, b, newOptions(opts))
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), diff: diff.DefaultOptions()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newRepo(ctx context.Context, b backend.Backend, o options) (*Repo, error) {
	r := &Repo{
		backend: b,
		history: history.New[backend.Backend, staging.Command](
			staging.RunFunc[backend.Backend](),
			history.WithLimit(o.limit),
			history.WithLogger(o.logger),
		),
		store:    o.store,
		diffOpts: o.diff,
		logger:   o.logger.With(zap.String("repo", b.Root())),
	}

	if r.store != nil {
		snapshot, ok, err := r.store.LoadHistory(ctx, b.Root())
		if err != nil {
			return nil, err
		}
		if ok {
			if err := r.history.Restore(snapshot); err != nil {
				return nil, err
			}
			r.logger.Debug("restored history", zap.Int("entries", r.history.Len()))
		}
	}
	return r, nil
}

func (r *Repo) Path() string {
	return r.backend.Root()
}

// Uncommitted lists every changed path in backend order.
func (r *Repo) Uncommitted(ctx context.Context) ([]delta.Delta, error) {
	baseline, err := backend.ResolveBaseline(ctx, r.backend)
	if err != nil {
		return nil, apperr.Backend("resolving baseline", err)
	}

	deltas := []delta.Delta{}
	err = r.backend.Walk(ctx, r.diffOpts.WalkOptions(baseline), func(rec backend.Record) error {
		deltas = append(deltas, delta.Classify(rec))
		return nil
	}, nil)
	if err != nil {
		return nil, apperr.Backend("listing changes", err)
	}
	return deltas, nil
}

// Details returns the line-level diff of one changed path.
func (r *Repo) Details(ctx context.Context, path string) (*diff.Details, error) {
	baseline, err := backend.ResolveBaseline(ctx, r.backend)
	if err != nil {
		return nil, apperr.Backend("resolving baseline", err)
	}
	return diff.Extract(ctx, r.backend, baseline, path, r.diffOpts)
}

// DetailsFor is Details for the path a delta is known by.
func (r *Repo) DetailsFor(ctx context.Context, d delta.Delta) (*diff.Details, error) {
	path, ok := d.Path()
	if !ok {
		return nil, apperr.MissingPath(d.String())
	}
	return r.Details(ctx, path)
}

func (r *Repo) StageFile(ctx context.Context, f file.Ref) error {
	return r.apply(ctx, staging.Stage(f))
}

func (r *Repo) UnstageFile(ctx context.Context, f file.Ref) error {
	return r.apply(ctx, staging.Unstage(f))
}

func (r *Repo) apply(ctx context.Context, cmd staging.Command) error {
	if err := r.history.Apply(r.scoped(ctx), r.backend, cmd); err != nil {
		return err
	}
	r.persist(ctx)
	return nil
}

func (r *Repo) Undo(ctx context.Context) error {
	if err := r.history.Undo(r.scoped(ctx), r.backend); err != nil {
		return err
	}
	r.persist(ctx)
	return nil
}

func (r *Repo) Redo(ctx context.Context) error {
	if err := r.history.Redo(r.scoped(ctx), r.backend); err != nil {
		return err
	}
	r.persist(ctx)
	return nil
}

// History renders the change history with the current position marked.
func (r *Repo) History() string {
	return r.history.String()
}

// Snapshot exports the change history.
func (r *Repo) Snapshot() Snapshot {
	return r.history.Snapshot()
}

// ClearHistory drops every recorded change, in memory and in the store.
// The staged state of the repository is left as it is.
func (r *Repo) ClearHistory(ctx context.Context) error {
	r.history.Clear()
	if r.store == nil {
		return nil
	}
	if err := r.store.ForgetHistory(ctx, r.backend.Root()); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Close releases the backend. The history store belongs to the caller.
func (r *Repo) Close() error {
	return r.backend.Close()
}

func (r *Repo) scoped(ctx context.Context) context.Context {
	return logging.NewContext(ctx, r.logger)
}

// persist saves the history. A failed save does not undo the change that
// was already made, so it is logged rather than returned.
func (r *Repo) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveHistory(ctx, r.backend.Root(), r.history.Snapshot()); err != nil {
		r.logger.Warn("saving history failed", zap.Error(err))
	}
}
