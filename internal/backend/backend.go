// Package backend defines the boundary to the version-control engine: raw
// change records, a callback-driven traversal, and index mutations.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// Status is the raw change kind reported for one path.
type Status int

const (
	Unmodified Status = iota
	Added
	Deleted
	Modified
	Renamed
	Copied
	Ignored
	Untracked
	Typechange
	Unreadable
	Conflicted
)

var statusNames = map[Status]string{
	Unmodified: "unmodified",
	Added:      "added",
	Deleted:    "deleted",
	Modified:   "modified",
	Renamed:    "renamed",
	Copied:     "copied",
	Ignored:    "ignored",
	Untracked:  "untracked",
	Typechange: "typechange",
	Unreadable: "unreadable",
	Conflicted: "conflicted",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Side is one file side of a change record.
type Side struct {
	ID   plumbing.Hash // zero when the side has no stored content
	Path string        // slash-separated, relative to the root
	Size uint64
}

// Record is one raw change. Files holds zero, one or two sides; with two
// sides the order is old, new.
type Record struct {
	Status Status
	Files  []Side
}

// Path is the path a record is known by: the new side when there are two
// sides, otherwise the only side.
func (r Record) Path() string {
	if len(r.Files) == 0 {
		return ""
	}
	return r.Files[len(r.Files)-1].Path
}

// Paths lists the distinct paths of all sides.
func (r Record) Paths() []string {
	var paths []string
	for _, side := range r.Files {
		if side.Path == "" {
			continue
		}
		if len(paths) > 0 && paths[len(paths)-1] == side.Path {
			continue
		}
		paths = append(paths, side.Path)
	}
	return paths
}

// Origin tags a line record. The values are the libgit2 origin characters.
type Origin byte

const (
	OriginContext      Origin = ' '
	OriginAddition     Origin = '+'
	OriginDeletion     Origin = '-'
	OriginContextEOFNL Origin = '='
	OriginAddEOFNL     Origin = '>'
	OriginDelEOFNL     Origin = '<'
	OriginFileHeader   Origin = 'F'
	OriginHunkHeader   Origin = 'H'
	OriginBinary       Origin = 'B'
)

var originNames = map[Origin]string{
	OriginContext:      "context",
	OriginAddition:     "addition",
	OriginDeletion:     "deletion",
	OriginContextEOFNL: "context-eofnl",
	OriginAddEOFNL:     "add-eofnl",
	OriginDelEOFNL:     "del-eofnl",
	OriginFileHeader:   "file-header",
	OriginHunkHeader:   "hunk-header",
	OriginBinary:       "binary",
}

func (o Origin) String() string {
	if name, ok := originNames[o]; ok {
		return name
	}
	return fmt.Sprintf("origin(%q)", byte(o))
}

func (o Origin) MarshalText() ([]byte, error) {
	if _, ok := originNames[o]; !ok {
		return nil, fmt.Errorf("unknown line origin %q", byte(o))
	}
	return []byte(o.String()), nil
}

func (o *Origin) UnmarshalText(text []byte) error {
	for origin, name := range originNames {
		if name == string(text) {
			*o = origin
			return nil
		}
	}
	return fmt.Errorf("unknown line origin %q", string(text))
}

// Line is one content record of a file's patch. Line numbers are 1-based and
// zero when the line has no counterpart on that side. ByteOffset is -1 for
// records that are not file content.
type Line struct {
	OldLineNo  uint32
	NewLineNo  uint32
	NumLines   uint32
	ByteOffset int64
	Content    []byte
	Origin     Origin
}

// EmptyTreeID is git's well-known id of the empty tree.
const EmptyTreeID = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Baseline is the snapshot the working tree and index are compared against.
type Baseline struct {
	Tree plumbing.Hash
}

// EmptyTree is the baseline of a repository with no commits.
var EmptyTree = Baseline{Tree: plumbing.NewHash(EmptyTreeID)}

func (b Baseline) IsEmpty() bool {
	return b.Tree == EmptyTree.Tree
}

func (b Baseline) String() string {
	return b.Tree.String()
}

// WalkOptions configures a traversal.
type WalkOptions struct {
	Baseline Baseline
	// Pathspec restricts the traversal to these paths. Empty means all.
	Pathspec []string

	IncludeUntracked  bool
	IncludeIgnored    bool
	IncludeTypechange bool
	IncludeUnreadable bool

	// ShowUntrackedContent emits an all-additions patch for untracked files.
	ShowUntrackedContent bool
	DetectRenames        bool
	ContextLines         int
}

// DefaultWalkOptions includes every kind of entry the classifier understands.
func DefaultWalkOptions(baseline Baseline) WalkOptions {
	return WalkOptions{
		Baseline:          baseline,
		IncludeUntracked:  true,
		IncludeIgnored:    true,
		IncludeTypechange: true,
		IncludeUnreadable: true,
		ContextLines:      3,
	}
}

var (
	// ErrStop, returned by a FileFunc, delivers the current file's lines and
	// then ends the walk without visiting further files.
	ErrStop = errors.New("stop walk")
	// ErrSkip, returned by a FileFunc, skips the current file's lines and
	// continues with the next file.
	ErrSkip = errors.New("skip file")
	// ErrUnbornHead is returned by Head when the repository has no commits.
	ErrUnbornHead = errors.New("head is unborn")
)

// FileFunc is called once per changed path, in path order.
type FileFunc func(rec Record) error

// LineFunc is called once per line of the file being processed.
type LineFunc func(rec Record, line Line) error

// Walker drives a traversal. A nil LineFunc visits files only. A walk that
// ends because of ErrStop returns nil.
type Walker interface {
	Walk(ctx context.Context, opts WalkOptions, fileFn FileFunc, lineFn LineFunc) error
}

// Index mutates the staging index.
type Index interface {
	AddPath(ctx context.Context, path string) error
	// RemovePath drops the path's staged state: the entry reverts to the
	// baseline version, or is removed when the baseline lacks the path.
	RemovePath(ctx context.Context, path string) error
	ShouldIgnore(ctx context.Context, path string) (bool, error)
}

// Backend is the engine owned by a repository facade.
type Backend interface {
	Walker
	Index
	Root() string
	Head(ctx context.Context) (Baseline, error)
	Close() error
}

// ResolveBaseline returns the head baseline, or the empty tree when the
// repository has no commits yet.
func ResolveBaseline(ctx context.Context, b Backend) (Baseline, error) {
	baseline, err := b.Head(ctx)
	if errors.Is(err, ErrUnbornHead) {
		return EmptyTree, nil
	}
	if err != nil {
		return Baseline{}, err
	}
	return baseline, nil
}
