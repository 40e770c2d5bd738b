// Package file holds the identity of one side of a changed path.
package file

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	apperr "stagehand/internal/errors"

	"github.com/go-git/go-git/v5/plumbing"
)

// Ref identifies one side of a changed path: its content id, its path relative
// to the repository root and its size. A side that does not exist in the
// snapshot it was read from has no id.
type Ref struct {
	id   plumbing.Hash
	path string
	size uint64
}

// New builds a Ref. A zero id or an empty path means the field is absent.
func New(id plumbing.Hash, path string, size uint64) Ref {
	return Ref{id: id, path: filepath.ToSlash(path), size: size}
}

// FromPath builds a Ref that only knows its path.
func FromPath(path string) Ref {
	return New(plumbing.ZeroHash, path, 0)
}

func (r Ref) ID() (plumbing.Hash, bool) {
	return r.id, !r.id.IsZero()
}

func (r Ref) Path() (string, bool) {
	return r.path, r.path != ""
}

func (r Ref) Size() uint64 {
	return r.size
}

// RequirePath returns the path or a MissingPath error.
func (r Ref) RequirePath() (string, error) {
	if r.path == "" {
		return "", apperr.MissingPath(r)
	}
	return r.path, nil
}

// RequireID returns the content id or a MissingID error.
func (r Ref) RequireID() (plumbing.Hash, error) {
	if r.id.IsZero() {
		return plumbing.ZeroHash, apperr.MissingID(r)
	}
	return r.id, nil
}

// AbsPath joins the path onto the repository root.
func (r Ref) AbsPath(root string) (string, bool) {
	if r.path == "" {
		return "", false
	}
	return filepath.Join(root, filepath.FromSlash(r.path)), true
}

func (r Ref) String() string {
	path := r.path
	if path == "" {
		path = "<no path>"
	}
	if r.id.IsZero() {
		return path
	}
	return fmt.Sprintf("%s@%s", path, r.id.String()[:7])
}

type refJSON struct {
	ID   string `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
	Size uint64 `json:"size"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	out := refJSON{Path: r.path, Size: r.size}
	if !r.id.IsZero() {
		out.ID = r.id.String()
	}
	return json.Marshal(out)
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var in refJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	id := plumbing.ZeroHash
	if in.ID != "" {
		if !plumbing.IsHash(in.ID) {
			return fmt.Errorf("invalid content id %q", in.ID)
		}
		id = plumbing.NewHash(in.ID)
	}
	*r = New(id, in.Path, in.Size)
	return nil
}
