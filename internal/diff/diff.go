// Package diff produces line-level detail for a single changed path.
package diff

import (
	"bytes"
	"fmt"

	"stagehand/internal/backend"
	"stagehand/internal/delta"
)

// Origin tags a line in a diff.
type Origin = backend.Origin

const (
	Context      = backend.OriginContext
	Addition     = backend.OriginAddition
	Deletion     = backend.OriginDeletion
	ContextEOFNL = backend.OriginContextEOFNL
	AddEOFNL     = backend.OriginAddEOFNL
	DelEOFNL     = backend.OriginDelEOFNL
	FileHeader   = backend.OriginFileHeader
	HunkHeader   = backend.OriginHunkHeader
	Binary       = backend.OriginBinary
)

// Line is one record of a file's diff. OldLineNo is zero for additions,
// NewLineNo is zero for deletions, ByteOffset is -1 when the record is not
// file content.
type Line struct {
	OldLineNo  uint32 `json:"old_lineno,omitempty"`
	NewLineNo  uint32 `json:"new_lineno,omitempty"`
	NumLines   uint32 `json:"num_lines"`
	ByteOffset int64  `json:"content_offset"`
	Content    []byte `json:"content"`
	Origin     Origin `json:"origin"`
}

// FromRecord copies a backend line. The backend may reuse its buffers
// between callbacks, so the content is cloned.
func FromRecord(l backend.Line) Line {
	return Line{
		OldLineNo:  l.OldLineNo,
		NewLineNo:  l.NewLineNo,
		NumLines:   l.NumLines,
		ByteOffset: l.ByteOffset,
		Content:    bytes.Clone(l.Content),
		Origin:     l.Origin,
	}
}

// Record converts back to the backend form.
func (l Line) Record() backend.Line {
	return backend.Line{
		OldLineNo:  l.OldLineNo,
		NewLineNo:  l.NewLineNo,
		NumLines:   l.NumLines,
		ByteOffset: l.ByteOffset,
		Content:    l.Content,
		Origin:     l.Origin,
	}
}

// Details is the classification of one path together with its lines in
// traversal order.
type Details struct {
	Delta delta.Delta `json:"delta"`
	Lines []Line      `json:"lines"`
}

// Stats counts the changed lines.
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`
}

func (d *Details) Stats() Stats {
	var s Stats
	for _, line := range d.Lines {
		switch line.Origin {
		case Addition:
			s.Additions++
		case Deletion:
			s.Deletions++
		}
	}
	s.Changes = s.Additions + s.Deletions
	return s
}

// Format renders the lines as a unified patch.
func (d *Details) Format() string {
	var buf bytes.Buffer
	for _, line := range d.Lines {
		switch line.Origin {
		case Context, Addition, Deletion:
			buf.WriteByte(byte(line.Origin))
			buf.Write(line.Content)
			if !bytes.HasSuffix(line.Content, []byte{'\n'}) {
				buf.WriteByte('\n')
			}
		case ContextEOFNL, AddEOFNL, DelEOFNL:
			buf.WriteString(noNewlineMarker)
		default:
			buf.Write(line.Content)
		}
	}
	return buf.String()
}

func (d *Details) String() string {
	s := d.Stats()
	return fmt.Sprintf("%s +%d -%d", d.Delta, s.Additions, s.Deletions)
}

const noNewlineMarker = "\\ No newline at end of file\n"

// Options tunes line generation.
type Options struct {
	ContextLines         int  `json:"context_lines" yaml:"context_lines"`
	DetectRenames        bool `json:"detect_renames" yaml:"detect_renames"`
	ShowUntrackedContent bool `json:"show_untracked_content" yaml:"show_untracked_content"`
}

func DefaultOptions() Options {
	return Options{ContextLines: 3}
}

// WalkOptions builds the traversal configuration for the given baseline.
func (o Options) WalkOptions(baseline backend.Baseline, pathspec ...string) backend.WalkOptions {
	opts := backend.DefaultWalkOptions(baseline)
	opts.Pathspec = pathspec
	opts.ContextLines = o.ContextLines
	opts.DetectRenames = o.DetectRenames
	opts.ShowUntrackedContent = o.ShowUntrackedContent
	return opts
}
