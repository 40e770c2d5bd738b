package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect runs w until a refresh reports want, or fails after a timeout.
func collect(t *testing.T, w *Watcher, want string, trigger func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	found := make(chan struct{})
	seen := false
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) error {
			for _, p := range paths {
				if p == want && !seen {
					seen = true
					close(found)
					cancel()
				}
			}
			return nil
		})
	}()

	trigger()
	select {
	case <-found:
	case <-ctx.Done():
		select {
		case <-found:
		default:
			t.Fatalf("no refresh reported %s", want)
		}
	}
	require.NoError(t, <-done)
}

func TestRunReportsWrites(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	collect(t, w, "a.txt", func() {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	})
}

func TestRunWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	collect(t, w, "sub/b.txt", func() {
		dir := filepath.Join(root, "sub")
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))
	})
}

func TestRelativeSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, WithIgnoreDirs("build"))
	require.NoError(t, err)
	defer w.Close()

	_, ok := w.relative(filepath.Join(root, ".git", "HEAD"))
	assert.False(t, ok)
	_, ok = w.relative(filepath.Join(root, ".git", "index.lock"))
	assert.False(t, ok)
	_, ok = w.relative(filepath.Join(root, "build", "out"))
	assert.False(t, ok)
	_, ok = w.relative(root)
	assert.False(t, ok)

	rel, ok := w.relative(filepath.Join(root, "src", "main.go"))
	assert.True(t, ok)
	assert.Equal(t, "src/main.go", rel)
}

func TestRelativeKeepsGitIndex(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	require.NoError(t, err)
	defer w.Close()

	rel, ok := w.relative(filepath.Join(root, ".git", "index"))
	assert.True(t, ok)
	assert.Equal(t, IndexPath, rel)
}

func TestRunReportsIndexRewrite(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "index"), []byte("old"), 0o644))

	w, err := New(root, WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	collect(t, w, IndexPath, func() {
		lock := filepath.Join(gitDir, "index.lock")
		require.NoError(t, os.WriteFile(lock, []byte("new"), 0o644))
		require.NoError(t, os.Rename(lock, filepath.Join(gitDir, "index")))
	})
}

func TestRunStopsOnRefreshError(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context, []string) error {
			return assert.AnError
		})
	}()
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.txt"), []byte("c"), 0o644))
	assert.ErrorIs(t, <-done, assert.AnError)
}
