package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"stagehand/client"
	"stagehand/internal/config"
	"stagehand/internal/delta"
	"stagehand/internal/diff"
	"stagehand/internal/file"
	histstore "stagehand/internal/history/storage"
	"stagehand/internal/repo"
	"stagehand/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// session is what the commands need from a repository, opened locally or
// reached through a server.
type session interface {
	Changes(ctx context.Context) ([]delta.Delta, error)
	Diff(ctx context.Context, path string) (*diff.Details, error)
	Stage(ctx context.Context, path string) error
	Unstage(ctx context.Context, path string) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	History(ctx context.Context) (repo.Snapshot, error)
	ClearHistory(ctx context.Context) error
	Close() error
}

type remote struct {
	*client.Client
}

func (remote) Close() error { return nil }

type local struct {
	repo  *repo.Repo
	db    *badger.DB
	store *histstore.Store
}

// openLocal opens the repository at cfg.Repository.Path, restoring its
// history from the badger database when persistence is on.
func openLocal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*local, error) {
	opts := []repo.Option{
		repo.WithLogger(logger),
		repo.WithHistoryLimit(cfg.History.Limit),
		repo.WithDiffOptions(cfg.Diff),
		repo.WithGitBinary(cfg.Git.Binary),
	}

	var db *badger.DB
	var store *histstore.Store
	if cfg.History.Persist {
		path, err := cfg.HistoryPath()
		if err != nil {
			return nil, fmt.Errorf("%w: resolving history path: %v", errConfig, err)
		}
		db, err = storage.Open(path, false)
		if err != nil {
			return nil, err
		}
		store, err = histstore.NewStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts = append(opts, repo.WithHistoryStore(store))
	}

	r, err := repo.Open(ctx, cfg.Repository.Path, opts...)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	return &local{repo: r, db: db, store: store}, nil
}

func (l *local) Changes(ctx context.Context) ([]delta.Delta, error) {
	return l.repo.Uncommitted(ctx)
}

func (l *local) Diff(ctx context.Context, path string) (*diff.Details, error) {
	return l.repo.Details(ctx, l.relative(path))
}

func (l *local) Stage(ctx context.Context, path string) error {
	return l.repo.StageFile(ctx, file.FromPath(l.relative(path)))
}

func (l *local) Unstage(ctx context.Context, path string) error {
	return l.repo.UnstageFile(ctx, file.FromPath(l.relative(path)))
}

// relative maps a path given on the command line, relative to the working
// directory, to a path relative to the repository root. Paths outside the
// root are passed on unchanged.
func (l *local) relative(arg string) string {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return arg
	}
	rel, err := filepath.Rel(l.repo.Path(), abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return arg
	}
	rel = filepath.ToSlash(rel)
	if strings.HasSuffix(arg, "/") {
		rel += "/"
	}
	return rel
}

func (l *local) Undo(ctx context.Context) error { return l.repo.Undo(ctx) }
func (l *local) Redo(ctx context.Context) error { return l.repo.Redo(ctx) }

func (l *local) History(context.Context) (repo.Snapshot, error) {
	return l.repo.Snapshot(), nil
}

func (l *local) ClearHistory(ctx context.Context) error {
	return l.repo.ClearHistory(ctx)
}

// Saved lists the histories kept in the database, for every repository.
func (l *local) Saved(ctx context.Context) ([]histstore.Saved, error) {
	if l.store == nil {
		return nil, fmt.Errorf("%w: history persistence is disabled", errConfig)
	}
	return l.store.Saved(ctx)
}

func (l *local) Close() error {
	err := l.repo.Close()
	if l.db != nil {
		if dbErr := l.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}
