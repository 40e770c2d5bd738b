package git

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"stagehand/internal/backend"

	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

// rawEntry is one record of "git diff --raw -z".
type rawEntry struct {
	status  byte
	oldID   plumbing.Hash
	newID   plumbing.Hash
	oldPath string
	newPath string
}

// parseRaw reads ":<mode> <mode> <sha> <sha> <status>[score]\0<path>\0[<path>\0]".
func parseRaw(out []byte) ([]rawEntry, error) {
	fields := splitNUL(out)
	var entries []rawEntry
	for i := 0; i < len(fields); i++ {
		meta := fields[i]
		if !strings.HasPrefix(meta, ":") {
			return nil, fmt.Errorf("unexpected raw diff field %q", meta)
		}
		parts := strings.Fields(meta[1:])
		if len(parts) != 5 || parts[4] == "" {
			return nil, fmt.Errorf("malformed raw diff entry %q", meta)
		}
		e := rawEntry{
			status: parts[4][0],
			oldID:  plumbing.NewHash(parts[2]),
			newID:  plumbing.NewHash(parts[3]),
		}
		if i+1 >= len(fields) {
			return nil, fmt.Errorf("raw diff entry %q has no path", meta)
		}
		i++
		e.oldPath, e.newPath = fields[i], fields[i]
		if e.status == 'R' || e.status == 'C' {
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("raw diff entry %q has no destination", meta)
			}
			i++
			e.newPath = fields[i]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// statusEntry is one line of "git status --porcelain=v1 -z".
type statusEntry struct {
	code string
	path string
}

func parseStatus(out []byte) ([]statusEntry, error) {
	fields := splitNUL(out)
	var entries []statusEntry
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) < 4 || f[2] != ' ' {
			return nil, fmt.Errorf("malformed status entry %q", f)
		}
		entries = append(entries, statusEntry{code: f[:2], path: f[3:]})
		// Renames and copies carry their source as a separate field.
		if f[0] == 'R' || f[0] == 'C' {
			i++
		}
	}
	return entries, nil
}

// parseBatchCheck reads "<sha> <type> <size>" lines.
func parseBatchCheck(out []byte) (map[plumbing.Hash]uint64, error) {
	sizes := map[plumbing.Hash]uint64{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) == 2 && parts[1] == "missing" {
			continue
		}
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed batch-check line %q", line)
		}
		size, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing object size: %w", err)
		}
		sizes[plumbing.NewHash(parts[0])] = size
	}
	return sizes, nil
}

func splitNUL(out []byte) []string {
	var fields []string
	for _, f := range bytes.Split(out, []byte{0}) {
		if len(f) > 0 {
			fields = append(fields, string(f))
		}
	}
	return fields
}

// lineTable maps 1-based line numbers to byte offsets in one content.
type lineTable []int64

func newLineTable(content []byte) lineTable {
	if len(content) == 0 {
		return lineTable{}
	}
	table := lineTable{0}
	for i, c := range content {
		if c == '\n' && i+1 < len(content) {
			table = append(table, int64(i+1))
		}
	}
	return table
}

func (t lineTable) offset(lineNo uint32) int64 {
	if lineNo == 0 || int(lineNo) > len(t) {
		return -1
	}
	return t[lineNo-1]
}

// offsetSource provides line tables on demand. Either loader may be nil.
// Load failures leave the offsets at -1 and are logged at debug.
type offsetSource struct {
	loadOld func() (lineTable, error)
	loadNew func() (lineTable, error)
	logger  *zap.Logger

	oldLines, newLines   lineTable
	oldLoaded, newLoaded bool
}

func (s *offsetSource) oldOffset(lineNo uint32) int64 {
	if !s.oldLoaded {
		s.oldLoaded = true
		s.oldLines = s.load("old", s.loadOld)
	}
	return s.oldLines.offset(lineNo)
}

func (s *offsetSource) newOffset(lineNo uint32) int64 {
	if !s.newLoaded {
		s.newLoaded = true
		s.newLines = s.load("new", s.loadNew)
	}
	return s.newLines.offset(lineNo)
}

func (s *offsetSource) load(side string, fn func() (lineTable, error)) lineTable {
	if fn == nil {
		return nil
	}
	table, err := fn()
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("byte offsets unavailable", zap.String("side", side), zap.Error(err))
		}
		return nil
	}
	return table
}

// patchParser turns a unified diff stream into line records.
type patchParser struct {
	r       *bufio.Reader
	offsets *offsetSource
	emit    func(backend.Line) error

	header   bytes.Buffer
	inHunk   bool
	oldNo    uint32
	newNo    uint32
	oldLeft  int
	newLeft  int
	lastType backend.Origin

	// pending is the last content line, held back until the next record
	// shows whether a no-newline marker follows it.
	pending *backend.Line
}

func newPatchParser(r io.Reader, offsets *offsetSource, emit func(backend.Line) error) *patchParser {
	if offsets == nil {
		offsets = &offsetSource{}
	}
	return &patchParser{r: bufio.NewReader(r), offsets: offsets, emit: emit}
}

func (p *patchParser) run() error {
	for {
		line, err := p.r.ReadBytes('\n')
		if len(line) > 0 {
			if perr := p.line(line); perr != nil {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			if err := p.flushPending(); err != nil {
				return err
			}
			return p.flushHeader()
		}
		if err != nil {
			return err
		}
	}
}

func (p *patchParser) line(line []byte) error {
	if p.inHunk && (p.oldLeft > 0 || p.newLeft > 0 || line[0] == '\\') {
		return p.hunkLine(line)
	}
	p.inHunk = false
	if err := p.flushPending(); err != nil {
		return err
	}

	switch {
	case bytes.HasPrefix(line, []byte("diff --git ")):
		if err := p.flushHeader(); err != nil {
			return err
		}
		p.header.Write(line)
	case bytes.HasPrefix(line, []byte("@@ ")):
		if err := p.flushHeader(); err != nil {
			return err
		}
		return p.hunkHeader(line)
	case bytes.HasPrefix(line, []byte("Binary files ")), bytes.HasPrefix(line, []byte("GIT binary patch")):
		if err := p.flushHeader(); err != nil {
			return err
		}
		return p.emit(metaLine(backend.OriginBinary, line))
	default:
		p.header.Write(line)
	}
	return nil
}

func (p *patchParser) flushPending() error {
	if p.pending == nil {
		return nil
	}
	l := *p.pending
	p.pending = nil
	return p.emit(l)
}

func (p *patchParser) flushHeader() error {
	if p.header.Len() == 0 {
		return nil
	}
	content := bytes.Clone(p.header.Bytes())
	p.header.Reset()
	return p.emit(metaLine(backend.OriginFileHeader, content))
}

// hunkHeader parses "@@ -a[,b] +c[,d] @@".
func (p *patchParser) hunkHeader(line []byte) error {
	fields := strings.Fields(string(line))
	if len(fields) < 3 {
		return fmt.Errorf("malformed hunk header %q", line)
	}
	oldStart, oldCount, err := parseRange(fields[1], '-')
	if err != nil {
		return err
	}
	newStart, newCount, err := parseRange(fields[2], '+')
	if err != nil {
		return err
	}
	p.inHunk = true
	p.oldNo, p.newNo = oldStart, newStart
	p.oldLeft, p.newLeft = oldCount, newCount
	return p.emit(metaLine(backend.OriginHunkHeader, line))
}

func parseRange(field string, sign byte) (uint32, int, error) {
	if len(field) < 2 || field[0] != sign {
		return 0, 0, fmt.Errorf("malformed hunk range %q", field)
	}
	startText, countText, hasCount := strings.Cut(field[1:], ",")
	start, err := strconv.ParseUint(startText, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed hunk range %q: %w", field, err)
	}
	count := uint64(1)
	if hasCount {
		if count, err = strconv.ParseUint(countText, 10, 32); err != nil {
			return 0, 0, fmt.Errorf("malformed hunk range %q: %w", field, err)
		}
	}
	return uint32(start), int(count), nil
}

func (p *patchParser) hunkLine(line []byte) error {
	content := bytes.Clone(line[1:])
	l := backend.Line{NumLines: 1, Content: content}

	switch line[0] {
	case ' ':
		l.Origin = backend.OriginContext
		l.OldLineNo, l.NewLineNo = p.oldNo, p.newNo
		l.ByteOffset = p.offsets.oldOffset(p.oldNo)
		p.oldNo++
		p.newNo++
		p.oldLeft--
		p.newLeft--
	case '-':
		l.Origin = backend.OriginDeletion
		l.OldLineNo = p.oldNo
		l.ByteOffset = p.offsets.oldOffset(p.oldNo)
		p.oldNo++
		p.oldLeft--
	case '+':
		l.Origin = backend.OriginAddition
		l.NewLineNo = p.newNo
		l.ByteOffset = p.offsets.newOffset(p.newNo)
		p.newNo++
		p.newLeft--
	case '\\':
		l.Origin = eofnlFor(p.lastType)
		l.ByteOffset = -1
		l.Content = append([]byte{'\n'}, line...)
		if !bytes.HasSuffix(l.Content, []byte{'\n'}) {
			l.Content = append(l.Content, '\n')
		}
		// The marker belongs to the previous line, which had no newline in
		// the file; the patch format added one.
		if p.pending != nil {
			p.pending.Content = bytes.TrimSuffix(p.pending.Content, []byte{'\n'})
			if err := p.flushPending(); err != nil {
				return err
			}
		}
		return p.emit(l)
	default:
		return fmt.Errorf("unexpected hunk line %q", line)
	}
	p.lastType = l.Origin
	if err := p.flushPending(); err != nil {
		return err
	}
	p.pending = &l
	return nil
}

func eofnlFor(origin backend.Origin) backend.Origin {
	switch origin {
	case backend.OriginAddition:
		return backend.OriginAddEOFNL
	case backend.OriginDeletion:
		return backend.OriginDelEOFNL
	}
	return backend.OriginContextEOFNL
}

func metaLine(origin backend.Origin, content []byte) backend.Line {
	return backend.Line{
		NumLines:   uint32(bytes.Count(content, []byte{'\n'})),
		ByteOffset: -1,
		Content:    bytes.Clone(content),
		Origin:     origin,
	}
}
