// Package memory is a backend.Backend over in-memory trees. It models a
// baseline commit, a staging index and a working tree, evaluates ignore
// rules with go-git's gitignore matcher and produces patches with the diff
// engine.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"stagehand/internal/backend"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Operation names accepted by Fail.
const (
	OpWalk   = "walk"
	OpAdd    = "add"
	OpRemove = "remove"
	OpIgnore = "ignore"
	OpHead   = "head"
)

type tree map[string][]byte

func (t tree) clone() tree {
	out := make(tree, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Backend is not safe for concurrent use.
type Backend struct {
	root string

	head    plumbing.Hash
	born    bool
	commits map[plumbing.Hash]tree

	index tree
	work  tree

	patterns   []string
	unreadable map[string]bool
	failures   map[string]error
	closed     bool
}

var _ backend.Backend = (*Backend)(nil)

func New(root string) *Backend {
	return &Backend{
		root:       root,
		commits:    map[plumbing.Hash]tree{backend.EmptyTree.Tree: {}},
		index:      tree{},
		work:       tree{},
		unreadable: map[string]bool{},
		failures:   map[string]error{},
	}
}

func (b *Backend) Root() string { return b.root }

func (b *Backend) Close() error {
	b.closed = true
	return nil
}

// WriteFile creates or replaces a working tree file.
func (b *Backend) WriteFile(name string, content []byte) {
	b.work[clean(name)] = bytes.Clone(content)
}

// RemoveFile deletes a working tree file.
func (b *Backend) RemoveFile(name string) {
	delete(b.work, clean(name))
}

// Ignore appends gitignore patterns. A ".gitignore" file at the root of the
// working tree is honoured as well.
func (b *Backend) Ignore(patterns ...string) {
	b.patterns = append(b.patterns, patterns...)
}

// SetUnreadable marks a working tree file as unreadable.
func (b *Backend) SetUnreadable(name string, unreadable bool) {
	if unreadable {
		b.unreadable[clean(name)] = true
	} else {
		delete(b.unreadable, clean(name))
	}
}

// Fail makes the named operation return err until cleared with a nil err.
func (b *Backend) Fail(op string, err error) {
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// Commit records the index as the new head and returns its tree id.
func (b *Backend) Commit() plumbing.Hash {
	snapshot := b.index.clone()
	id := treeID(snapshot)
	b.commits[id] = snapshot
	b.head = id
	b.born = true
	return id
}

// Staged returns the indexed content of a path.
func (b *Backend) Staged(name string) ([]byte, bool) {
	content, ok := b.index[clean(name)]
	return content, ok
}

func (b *Backend) Head(context.Context) (backend.Baseline, error) {
	if err := b.failures[OpHead]; err != nil {
		return backend.Baseline{}, err
	}
	if !b.born {
		return backend.Baseline{}, backend.ErrUnbornHead
	}
	return backend.Baseline{Tree: b.head}, nil
}

func (b *Backend) baselineTree() tree {
	if !b.born {
		return tree{}
	}
	return b.commits[b.head]
}

func (b *Backend) AddPath(_ context.Context, name string) error {
	if err := b.failures[OpAdd]; err != nil {
		return err
	}
	name = clean(name)
	matched := false
	for _, p := range b.expand(name, b.work, b.index) {
		matched = true
		if content, ok := b.work[p]; ok {
			if b.unreadable[p] {
				return fmt.Errorf("open %s: permission denied", p)
			}
			b.index[p] = content
			continue
		}
		delete(b.index, p)
	}
	if !matched {
		return fmt.Errorf("pathspec %q did not match any files", name)
	}
	return nil
}

func (b *Backend) RemovePath(_ context.Context, name string) error {
	if err := b.failures[OpRemove]; err != nil {
		return err
	}
	base := b.baselineTree()
	for _, p := range b.expand(clean(name), b.index, base) {
		if content, ok := base[p]; ok {
			b.index[p] = content
		} else {
			delete(b.index, p)
		}
	}
	return nil
}

func (b *Backend) ShouldIgnore(_ context.Context, name string) (bool, error) {
	if err := b.failures[OpIgnore]; err != nil {
		return false, err
	}
	name = clean(name)
	return b.ignored(name, b.isDir(name)), nil
}

// expand resolves name to the file paths it covers in any of the trees:
// the path itself, or everything below it when it names a directory.
func (b *Backend) expand(name string, trees ...tree) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range trees {
		for p := range t {
			if seen[p] || !(p == name || strings.HasPrefix(p, name+"/")) {
				continue
			}
			if p != name && b.ignored(p, false) {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (b *Backend) isDir(name string) bool {
	prefix := name + "/"
	for p := range b.work {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (b *Backend) matcher() gitignore.Matcher {
	lines := append([]string(nil), b.patterns...)
	if content, ok := b.work[".gitignore"]; ok {
		lines = append(lines, strings.Split(string(content), "\n")...)
	}
	var patterns []gitignore.Pattern
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return gitignore.NewMatcher(patterns)
}

func (b *Backend) ignored(name string, isDir bool) bool {
	return b.matcher().Match(strings.Split(name, "/"), isDir)
}

func clean(name string) string {
	name = strings.TrimSuffix(path.Clean(strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "." {
		return ""
	}
	return name
}

func blobID(content []byte) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, content)
}

// treeID derives a stable id for a snapshot. It is not a git tree hash, only
// unique per content.
func treeID(t tree) plumbing.Hash {
	if len(t) == 0 {
		return backend.EmptyTree.Tree
	}
	var buf bytes.Buffer
	for _, p := range sortedKeys(t) {
		fmt.Fprintf(&buf, "%s %s\n", blobID(t[p]), p)
	}
	return plumbing.ComputeHash(plumbing.TreeObject, buf.Bytes())
}

func sortedKeys(t tree) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
