// Package render formats changes, patches and history for a terminal.
package render

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"stagehand/internal/delta"
	"stagehand/internal/diff"
	"stagehand/internal/history"
	histstore "stagehand/internal/history/storage"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	green   = color.New(color.FgGreen)
	red     = color.New(color.FgRed)
	yellow  = color.New(color.FgYellow)
	blue    = color.New(color.FgBlue)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
	faint   = color.New(color.Faint)
	bold    = color.New(color.Bold)
)

type marker struct {
	symbol string
	color  *color.Color
}

var markers = map[delta.Kind]marker{
	delta.Added:      {"A", green},
	delta.Deleted:    {"D", red},
	delta.Modified:   {"M", yellow},
	delta.Renamed:    {"R", cyan},
	delta.Copied:     {"C", cyan},
	delta.Typechange: {"T", yellow},
	delta.Untracked:  {"?", blue},
	delta.Ignored:    {"!", faint},
	delta.Unreadable: {"X", red},
	delta.Conflicted: {"U", magenta},
}

// section order for Status
var kindOrder = []delta.Kind{
	delta.Conflicted,
	delta.Added,
	delta.Renamed,
	delta.Copied,
	delta.Modified,
	delta.Typechange,
	delta.Deleted,
	delta.Unreadable,
	delta.Untracked,
	delta.Ignored,
}

// Status prints the deltas grouped by kind.
func Status(w io.Writer, deltas []delta.Delta) {
	if len(deltas) == 0 {
		fmt.Fprintln(w, "No changes (working tree clean)")
		return
	}

	groups := make(map[delta.Kind][]delta.Delta)
	for _, d := range deltas {
		groups[d.Kind()] = append(groups[d.Kind()], d)
	}

	for _, kind := range kindOrder {
		group := groups[kind]
		if len(group) == 0 {
			continue
		}
		bold.Fprintf(w, "%s:\n", kind)
		m := markers[kind]
		for _, d := range group {
			fmt.Fprintf(w, "\t%s %s%s\n", m.color.Sprint(m.symbol), label(d), size(d))
		}
		fmt.Fprintln(w)
	}
}

func label(d delta.Delta) string {
	path, _ := d.Path()
	if old, ok := d.Old(); ok && d.Kind().Dual() {
		if oldPath, ok := old.Path(); ok && oldPath != path {
			return fmt.Sprintf("%s -> %s", oldPath, path)
		}
	}
	return path
}

func size(d delta.Delta) string {
	f := d.File()
	path, _ := f.Path()
	if f.Size() == 0 || strings.HasSuffix(path, "/") {
		return ""
	}
	return faint.Sprintf(" (%s)", humanize.Bytes(f.Size()))
}

// DiffOptions control patch output.
type DiffOptions struct {
	// Highlight syntax-colours content lines by the file's extension.
	Highlight bool
	Style     string
}

// Diff prints the patch of one file.
func Diff(w io.Writer, d *diff.Details, opts DiffOptions) {
	path, _ := d.Delta.Path()
	var hl *highlighter
	if opts.Highlight && !color.NoColor {
		hl = newHighlighter(path, opts.Style)
	}

	for _, line := range d.Lines {
		content := strings.TrimSuffix(string(line.Content), "\n")
		switch line.Origin {
		case diff.FileHeader:
			bold.Fprintln(w, content)
		case diff.HunkHeader:
			cyan.Fprintln(w, content)
		case diff.Addition:
			fmt.Fprintln(w, green.Sprint("+")+hl.line(content, green))
		case diff.Deletion:
			fmt.Fprintln(w, red.Sprint("-")+hl.line(content, red))
		case diff.Context:
			fmt.Fprintln(w, " "+hl.line(content, nil))
		case diff.ContextEOFNL, diff.AddEOFNL, diff.DelEOFNL:
			faint.Fprintln(w, `\ No newline at end of file`)
		default:
			fmt.Fprintln(w, content)
		}
	}
	s := d.Stats()
	fmt.Fprintf(w, "%s %s\n", green.Sprintf("+%d", s.Additions), red.Sprintf("-%d", s.Deletions))
}

type highlighter struct {
	lexer     chroma.Lexer
	style     *chroma.Style
	formatter chroma.Formatter
}

func newHighlighter(path, style string) *highlighter {
	lexer := lexers.Match(path)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	if style == "" {
		style = "dracula"
	}
	s := styles.Get(style)
	if s == nil {
		s = styles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	return &highlighter{lexer: chroma.Coalesce(lexer), style: s, formatter: formatter}
}

// line highlights one content line. Without a highlighter the line takes the
// fallback colour.
func (h *highlighter) line(content string, fallback *color.Color) string {
	if h == nil {
		if fallback == nil {
			return content
		}
		return fallback.Sprint(content)
	}
	iterator, err := h.lexer.Tokenise(nil, content)
	if err != nil {
		return content
	}
	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return content
	}
	out := strings.ReplaceAll(buf.String(), "\n", "")
	if !strings.HasSuffix(out, "\x1b[0m") {
		out += "\x1b[0m"
	}
	return out
}

// Highlight returns content with terminal syntax colours for the file type
// of path.
func Highlight(path, content string) string {
	return newHighlighter(path, "").line(content, nil)
}

// History prints a snapshot in the same layout as History.String.
func History[C fmt.Stringer](w io.Writer, s history.Snapshot[C]) {
	line := func(pos int, text string) {
		if pos == s.Cursor {
			fmt.Fprintf(w, "%s %d %s\n", green.Sprint("*"), pos, text)
			return
		}
		fmt.Fprintf(w, "  %d %s\n", pos, text)
	}
	line(0, "origin")
	for i, cmd := range s.Entries {
		line(i+1, cmd.String())
	}
}

// Saved lists stored histories, one repository per line.
func Saved(w io.Writer, saved []histstore.Saved) {
	if len(saved) == 0 {
		faint.Fprintln(w, "no saved history")
		return
	}
	for _, s := range saved {
		fmt.Fprintf(w, "%s  %s\n", bold.Sprint(s.Root),
			faint.Sprintf("%d/%d actions, saved %s", s.Cursor, s.Entries, humanize.Time(s.SavedAt)))
	}
}
