// Package delta classifies raw backend change records.
package delta

import (
	"encoding/json"
	"fmt"

	"stagehand/internal/backend"
	"stagehand/internal/file"
)

// Kind is the classification of one changed path. There is no unmodified
// kind: the backend never reports unchanged paths.
type Kind int

const (
	Added Kind = iota + 1
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

var kindNames = map[Kind]string{
	Added:      "Added",
	Deleted:    "Deleted",
	Modified:   "Modified",
	Renamed:    "Renamed",
	Copied:     "Copied",
	Ignored:    "Ignored",
	Untracked:  "Untracked",
	Typechange: "Typechange",
	Unreadable: "Unreadable",
	Conflicted: "Conflicted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Dual reports whether the kind carries both an old and a new side.
func (k Kind) Dual() bool {
	switch k {
	case Modified, Renamed, Copied, Typechange, Conflicted:
		return true
	}
	return false
}

func (k Kind) valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Delta describes how one path differs between the baseline and the working
// state. Single-side kinds hold one Ref: Deleted keeps it as the old side,
// the others as the new side.
type Delta struct {
	kind Kind
	old  file.Ref
	new  file.Ref
}

func NewAdded(f file.Ref) Delta      { return Delta{kind: Added, new: f} }
func NewDeleted(f file.Ref) Delta    { return Delta{kind: Deleted, old: f} }
func NewIgnored(f file.Ref) Delta    { return Delta{kind: Ignored, new: f} }
func NewUntracked(f file.Ref) Delta  { return Delta{kind: Untracked, new: f} }
func NewUnreadable(f file.Ref) Delta { return Delta{kind: Unreadable, new: f} }

func NewModified(from, to file.Ref) Delta   { return Delta{kind: Modified, old: from, new: to} }
func NewRenamed(from, to file.Ref) Delta    { return Delta{kind: Renamed, old: from, new: to} }
func NewCopied(from, to file.Ref) Delta     { return Delta{kind: Copied, old: from, new: to} }
func NewTypechange(from, to file.Ref) Delta { return Delta{kind: Typechange, old: from, new: to} }
func NewConflicted(from, to file.Ref) Delta { return Delta{kind: Conflicted, old: from, new: to} }

func (d Delta) Kind() Kind { return d.kind }

// Old returns the old side, if the kind has one.
func (d Delta) Old() (file.Ref, bool) {
	if d.kind == Deleted || d.kind.Dual() {
		return d.old, true
	}
	return file.Ref{}, false
}

// New returns the new side, if the kind has one.
func (d Delta) New() (file.Ref, bool) {
	if d.kind == Deleted {
		return file.Ref{}, false
	}
	return d.new, true
}

// File returns the single side of a single-side kind, or the new side of a
// dual kind.
func (d Delta) File() file.Ref {
	if d.kind == Deleted {
		return d.old
	}
	return d.new
}

// Path is the path the delta is known by, falling back to the old side.
func (d Delta) Path() (string, bool) {
	if path, ok := d.File().Path(); ok {
		return path, true
	}
	if old, ok := d.Old(); ok {
		return old.Path()
	}
	return "", false
}

func (d Delta) String() string {
	if !d.kind.Dual() {
		return fmt.Sprintf("%s(%s)", d.kind, pathOf(d.File()))
	}
	oldPath, newPath := pathOf(d.old), pathOf(d.new)
	if oldPath == newPath {
		return fmt.Sprintf("%s(%s)", d.kind, newPath)
	}
	return fmt.Sprintf("%s(%s -> %s)", d.kind, oldPath, newPath)
}

func pathOf(f file.Ref) string {
	if path, ok := f.Path(); ok {
		return path
	}
	return "?"
}

type deltaJSON struct {
	Kind string    `json:"kind"`
	Old  *file.Ref `json:"old,omitempty"`
	New  *file.Ref `json:"new,omitempty"`
}

func (d Delta) MarshalJSON() ([]byte, error) {
	if !d.kind.valid() {
		return nil, fmt.Errorf("cannot encode %s", d.kind)
	}
	out := deltaJSON{Kind: d.kind.String()}
	if old, ok := d.Old(); ok {
		out.Old = &old
	}
	if to, ok := d.New(); ok {
		out.New = &to
	}
	return json.Marshal(out)
}

// UnmarshalJSON validates the side count for the kind. Decoded input comes
// from callers, so violations are errors rather than panics.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var in deltaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var kind Kind
	for k, name := range kindNames {
		if name == in.Kind {
			kind = k
		}
	}
	if kind == 0 {
		return fmt.Errorf("unknown delta kind %q", in.Kind)
	}

	switch {
	case kind.Dual():
		if in.Old == nil || in.New == nil {
			return fmt.Errorf("%s needs old and new sides", kind)
		}
		*d = Delta{kind: kind, old: *in.Old, new: *in.New}
	case kind == Deleted:
		if in.Old == nil || in.New != nil {
			return fmt.Errorf("%s needs exactly an old side", kind)
		}
		*d = Delta{kind: kind, old: *in.Old}
	default:
		if in.New == nil || in.Old != nil {
			return fmt.Errorf("%s needs exactly a new side", kind)
		}
		*d = Delta{kind: kind, new: *in.New}
	}
	return nil
}

// ContractViolation is the panic value raised when the backend hands the
// classifier a record it promised never to produce.
type ContractViolation struct {
	Record backend.Record
	Reason string
}

func (c *ContractViolation) Error() string {
	return fmt.Sprintf("backend contract violation (%s record with %d sides): %s",
		c.Record.Status, len(c.Record.Files), c.Reason)
}

// Classify maps one raw record to its Delta. It panics with a
// *ContractViolation on unmodified records, unknown statuses, or a side count
// that does not match the status.
func Classify(rec backend.Record) Delta {
	switch rec.Status {
	case backend.Added:
		return NewAdded(single(rec))
	case backend.Deleted:
		return NewDeleted(single(rec))
	case backend.Ignored:
		return NewIgnored(single(rec))
	case backend.Untracked:
		return NewUntracked(single(rec))
	case backend.Unreadable:
		return NewUnreadable(single(rec))
	case backend.Modified:
		return NewModified(both(rec))
	case backend.Renamed:
		return NewRenamed(both(rec))
	case backend.Copied:
		return NewCopied(both(rec))
	case backend.Typechange:
		return NewTypechange(both(rec))
	case backend.Conflicted:
		return NewConflicted(both(rec))
	case backend.Unmodified:
		panic(&ContractViolation{Record: rec, Reason: "unmodified paths are never reported"})
	default:
		panic(&ContractViolation{Record: rec, Reason: "unknown status"})
	}
}

func single(rec backend.Record) file.Ref {
	if len(rec.Files) != 1 {
		panic(&ContractViolation{Record: rec, Reason: "expected exactly one side"})
	}
	return fromSide(rec.Files[0])
}

func both(rec backend.Record) (file.Ref, file.Ref) {
	if len(rec.Files) != 2 {
		panic(&ContractViolation{Record: rec, Reason: "expected exactly two sides"})
	}
	return fromSide(rec.Files[0]), fromSide(rec.Files[1])
}

func fromSide(side backend.Side) file.Ref {
	return file.New(side.ID, side.Path, side.Size)
}
