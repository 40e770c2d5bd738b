// Package watch reports working tree changes, coalesced and throttled so a
// burst of writes triggers one refresh.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultInterval = 250 * time.Millisecond

// IndexPath is reported when the git index changes, so staging done outside
// the watcher still triggers a refresh.
const IndexPath = ".git/index"

// RefreshFunc receives the sorted relative paths that changed since the last
// call. An error ends Run.
type RefreshFunc func(ctx context.Context, paths []string) error

type Option func(*Watcher)

func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval sets the minimum time between refreshes.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithIgnoreDirs adds directory names that are never watched.
func WithIgnoreDirs(names ...string) Option {
	return func(w *Watcher) {
		for _, name := range names {
			w.ignoreDirs[name] = true
		}
	}
}

type Watcher struct {
	fsw        *fsnotify.Watcher
	root       string
	logger     *zap.Logger
	limiter    *rate.Limiter
	ignoreDirs map[string]bool
}

// New watches root and every directory below it.
func New(root string, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		fsw:     fsw,
		root:    root,
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Every(DefaultInterval), 1),
		ignoreDirs: map[string]bool{
			".git":         true,
			"node_modules": true,
		},
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	if err := w.addGitDir(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addGitDir watches the git directory itself, without descending, so index
// rewrites are seen. A .git file (worktrees, submodules) is left alone.
func (w *Watcher) addGitDir() error {
	dir := filepath.Join(w.root, ".git")
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("adding git directory to watcher: %w", err)
	}
	return nil
}

// addTree watches dir and its subdirectories. It returns the files already
// present, which matters for directories created after the watch started.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
			return nil
		}
		if path != w.root && w.ignoreDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
	return files, err
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == IndexPath {
		return rel, true
	}
	for _, part := range strings.Split(rel, "/") {
		if w.ignoreDirs[part] {
			return "", false
		}
	}
	return rel, true
}

// Run delivers changes to refresh until ctx is done or refresh fails.
func (w *Watcher) Run(ctx context.Context, refresh RefreshFunc) error {
	pending := make(map[string]bool)
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			for _, path := range w.handle(event) {
				pending[path] = true
			}
			if len(pending) > 0 && fire == nil {
				fire = time.After(w.limiter.Reserve().Delay())
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			clear(pending)
			sort.Strings(paths)
			if err := refresh(ctx, paths); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) []string {
	rel, ok := w.relative(event.Name)
	if !ok {
		return nil
	}
	paths := []string{rel}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			files, err := w.addTree(event.Name)
			if err != nil {
				w.logger.Warn("watching new directory", zap.String("path", rel), zap.Error(err))
			}
			for _, f := range files {
				if r, ok := w.relative(f); ok {
					paths = append(paths, r)
				}
			}
		}
	}
	w.logger.Debug("change", zap.String("path", rel), zap.Stringer("op", event.Op))
	return paths
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
