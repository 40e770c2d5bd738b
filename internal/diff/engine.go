package diff

import (
	"bytes"
	"fmt"
)

// Hunk is a contiguous block of changes with its surrounding context.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Header renders the hunk's "@@" line.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%s +%s @@\n", hunkRange(h.OldStart, h.OldLines), hunkRange(h.NewStart, h.NewLines))
}

func hunkRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// Result is the outcome of diffing two contents.
type Result struct {
	Hunks  []Hunk
	Binary bool
}

// Engine computes line diffs for in-memory contents.
type Engine struct {
	contextLines int
}

func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{contextLines: contextLines}
}

// binaryProbe is how much of a content is inspected for NUL bytes.
const binaryProbe = 8000

func isBinary(content []byte) bool {
	if len(content) > binaryProbe {
		content = content[:binaryProbe]
	}
	return bytes.IndexByte(content, 0) >= 0
}

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

// op is one step of the edit script. oldIdx and newIdx are the number of
// lines consumed on each side before the step.
type op struct {
	kind   opKind
	oldIdx int
	newIdx int
}

// span is a line with its start offset in the original content. The line
// keeps its trailing newline if it has one.
type span struct {
	text   []byte
	offset int64
}

func splitLines(content []byte) []span {
	var lines []span
	var offset int64
	for len(content) > 0 {
		n := bytes.IndexByte(content, '\n') + 1
		if n == 0 {
			n = len(content)
		}
		lines = append(lines, span{text: content[:n], offset: offset})
		offset += int64(n)
		content = content[n:]
	}
	return lines
}

func (s span) terminated() bool {
	return len(s.text) > 0 && s.text[len(s.text)-1] == '\n'
}

// Diff compares old and new content line by line.
func (e *Engine) Diff(oldContent, newContent []byte) *Result {
	if isBinary(oldContent) || isBinary(newContent) {
		return &Result{Binary: !bytes.Equal(oldContent, newContent)}
	}

	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	script := e.editScript(oldLines, newLines)
	return &Result{Hunks: e.group(script, oldLines, newLines)}
}

// editScript walks a suffix LCS matrix so that deletions come before
// insertions inside each changed block.
func (e *Engine) editScript(oldLines, newLines []span) []op {
	n, m := len(oldLines), len(newLines)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i].text, newLines[j].text) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	script := make([]op, 0, n+m)
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && bytes.Equal(oldLines[i].text, newLines[j].text):
			script = append(script, op{kind: opEqual, oldIdx: i, newIdx: j})
			i++
			j++
		case i < n && (j == m || lcs[i+1][j] >= lcs[i][j+1]):
			script = append(script, op{kind: opDelete, oldIdx: i, newIdx: j})
			i++
		default:
			script = append(script, op{kind: opInsert, oldIdx: i, newIdx: j})
			j++
		}
	}
	return script
}

// group cuts the edit script into hunks. Changes separated by no more than
// twice the context size share a hunk.
func (e *Engine) group(script []op, oldLines, newLines []span) []Hunk {
	var hunks []Hunk
	ctx := e.contextLines

	for i := 0; i < len(script); {
		if script[i].kind == opEqual {
			i++
			continue
		}
		end := i + 1
		for j := end; j < len(script); {
			if script[j].kind != opEqual {
				j++
				end = j
				continue
			}
			k := j
			for k < len(script) && script[k].kind == opEqual {
				k++
			}
			if k == len(script) || k-j > 2*ctx {
				break
			}
			j = k
		}
		start := max(0, i-ctx)
		stop := min(len(script), end+ctx)
		hunks = append(hunks, e.hunk(script[start:stop], oldLines, newLines))
		i = stop
	}
	return hunks
}

func (e *Engine) hunk(script []op, oldLines, newLines []span) Hunk {
	h := Hunk{OldStart: script[0].oldIdx, NewStart: script[0].newIdx}

	for _, step := range script {
		var line Line
		var last span
		switch step.kind {
		case opEqual:
			last = oldLines[step.oldIdx]
			line = Line{
				Origin:    Context,
				OldLineNo: uint32(step.oldIdx + 1),
				NewLineNo: uint32(step.newIdx + 1),
			}
			h.OldLines++
			h.NewLines++
		case opDelete:
			last = oldLines[step.oldIdx]
			line = Line{Origin: Deletion, OldLineNo: uint32(step.oldIdx + 1)}
			h.OldLines++
		case opInsert:
			last = newLines[step.newIdx]
			line = Line{Origin: Addition, NewLineNo: uint32(step.newIdx + 1)}
			h.NewLines++
		}
		line.NumLines = 1
		line.ByteOffset = last.offset
		line.Content = last.text
		h.Lines = append(h.Lines, line)

		if !last.terminated() {
			h.Lines = append(h.Lines, eofMarker(line.Origin))
		}
	}

	if h.OldLines > 0 {
		h.OldStart++
	}
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}

func eofMarker(after Origin) Line {
	origin := ContextEOFNL
	switch after {
	case Addition:
		origin = AddEOFNL
	case Deletion:
		origin = DelEOFNL
	}
	return Line{
		Origin:     origin,
		NumLines:   1,
		ByteOffset: -1,
		Content:    []byte("\n" + noNewlineMarker),
	}
}
