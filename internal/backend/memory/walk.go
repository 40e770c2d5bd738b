package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"stagehand/internal/backend"
	"stagehand/internal/diff"
)

// entry is one record plus the contents its patch is built from.
type entry struct {
	rec        backend.Record
	oldContent []byte
	newContent []byte
	patch      bool
}

func (b *Backend) Walk(ctx context.Context, opts backend.WalkOptions, fileFn backend.FileFunc, lineFn backend.LineFunc) error {
	if err := b.failures[OpWalk]; err != nil {
		return err
	}
	if b.closed {
		return errors.New("backend is closed")
	}
	base, ok := b.commits[opts.Baseline.Tree]
	if !ok {
		return fmt.Errorf("unknown baseline %s", opts.Baseline)
	}

	engine := diff.NewEngine(opts.ContextLines)
	for _, e := range b.entries(base, opts) {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fileFn(e.rec)
		if errors.Is(err, backend.ErrSkip) {
			continue
		}
		stop := errors.Is(err, backend.ErrStop)
		if err != nil && !stop {
			return err
		}

		if lineFn != nil && e.patch {
			if lerr := emitPatch(engine, e, lineFn); lerr != nil {
				if errors.Is(lerr, backend.ErrStop) {
					return nil
				}
				return lerr
			}
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (b *Backend) entries(base tree, opts backend.WalkOptions) []entry {
	var (
		entries   []entry
		added     []entry
		deleted   []entry
		untracked []string
	)

	paths := map[string]bool{}
	for _, t := range []tree{base, b.index, b.work} {
		for p := range t {
			paths[p] = true
		}
	}

	for p := range paths {
		if !inPathspec(p, opts.Pathspec) {
			continue
		}
		oldContent, inBase := base[p]
		_, inIndex := b.index[p]
		newContent, inWork := b.work[p]

		if !inBase && !inIndex {
			switch {
			case inWork && b.unreadable[p]:
				if opts.IncludeUnreadable {
					entries = append(entries, entry{rec: record(backend.Unreadable, backend.Side{Path: p})})
				}
			case inWork:
				untracked = append(untracked, p)
			}
			continue
		}

		switch {
		case inWork && b.unreadable[p]:
			if opts.IncludeUnreadable {
				entries = append(entries, entry{rec: record(backend.Unreadable, backend.Side{Path: p})})
			}
		case inBase && (!inWork || !inIndex):
			deleted = append(deleted, entry{
				rec:        record(backend.Deleted, side(p, oldContent)),
				oldContent: oldContent,
				patch:      true,
			})
			if inWork {
				untracked = append(untracked, p)
			}
		case !inBase && inWork:
			added = append(added, entry{
				rec:        record(backend.Added, side(p, newContent)),
				newContent: newContent,
				patch:      true,
			})
		case inBase && inWork && string(oldContent) != string(newContent):
			entries = append(entries, entry{
				rec:        record(backend.Modified, side(p, oldContent), side(p, newContent)),
				oldContent: oldContent,
				newContent: newContent,
				patch:      true,
			})
		}
	}

	if opts.DetectRenames {
		added, deleted, entries = pairRenames(added, deleted, entries)
	}
	entries = append(entries, added...)
	entries = append(entries, deleted...)
	entries = append(entries, b.untrackedEntries(untracked, base, opts)...)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].rec.Path() < entries[j].rec.Path()
	})
	return entries
}

// pairRenames turns a deleted and an added file with identical content into
// one rename.
func pairRenames(added, deleted, entries []entry) ([]entry, []entry, []entry) {
	var keptAdded []entry
	used := make([]bool, len(deleted))
	for _, a := range added {
		paired := false
		for i, d := range deleted {
			if used[i] || d.rec.Files[0].ID != a.rec.Files[0].ID {
				continue
			}
			used[i] = true
			paired = true
			entries = append(entries, entry{
				rec:        record(backend.Renamed, d.rec.Files[0], a.rec.Files[0]),
				oldContent: d.oldContent,
				newContent: a.newContent,
				patch:      true,
			})
			break
		}
		if !paired {
			keptAdded = append(keptAdded, a)
		}
	}
	var keptDeleted []entry
	for i, d := range deleted {
		if !used[i] {
			keptDeleted = append(keptDeleted, d)
		}
	}
	return keptAdded, keptDeleted, entries
}

// untrackedEntries reports untracked and ignored files. A directory that
// holds no tracked file is reported once as "dir/".
func (b *Backend) untrackedEntries(paths []string, base tree, opts backend.WalkOptions) []entry {
	seen := map[string]bool{}
	var out []entry
	for _, p := range paths {
		name, isDir := b.collapse(p, base, opts.Pathspec)
		if seen[name] {
			continue
		}
		seen[name] = true

		status := backend.Untracked
		if b.ignored(strings.TrimSuffix(name, "/"), isDir) {
			status = backend.Ignored
		}
		if status == backend.Untracked && !opts.IncludeUntracked {
			continue
		}
		if status == backend.Ignored && !opts.IncludeIgnored {
			continue
		}

		s := backend.Side{Path: name}
		e := entry{rec: record(status, s)}
		if !isDir {
			e.rec.Files[0].Size = uint64(len(b.work[p]))
			e.newContent = b.work[p]
			e.patch = status == backend.Untracked && opts.ShowUntrackedContent
		}
		out = append(out, e)
	}
	return out
}

// collapse returns the shallowest ancestor directory of an untracked path
// that contains no tracked file. Directories outside the pathspec are never
// collapsed into.
func (b *Backend) collapse(p string, base tree, pathspec []string) (string, bool) {
	parts := strings.Split(p, "/")
	for i := 1; i < len(parts); i++ {
		dir := strings.Join(parts[:i], "/")
		if !dirInPathspec(dir, pathspec) {
			continue
		}
		if !b.tracksUnder(dir, base) && (b.ignored(dir, true) == b.ignored(p, false)) {
			return dir + "/", true
		}
	}
	return p, false
}

func (b *Backend) tracksUnder(dir string, base tree) bool {
	prefix := dir + "/"
	for _, t := range []tree{base, b.index} {
		for p := range t {
			if strings.HasPrefix(p, prefix) {
				return true
			}
		}
	}
	return false
}

func inPathspec(p string, pathspec []string) bool {
	if len(pathspec) == 0 {
		return true
	}
	for _, spec := range pathspec {
		spec = strings.TrimSuffix(spec, "/")
		if spec == "" || p == spec || strings.HasPrefix(p, spec+"/") {
			return true
		}
	}
	return false
}

func dirInPathspec(dir string, pathspec []string) bool {
	if len(pathspec) == 0 {
		return true
	}
	for _, spec := range pathspec {
		spec = strings.TrimSuffix(spec, "/")
		if spec == "" || dir == spec || strings.HasPrefix(dir, spec+"/") {
			return true
		}
	}
	return false
}

func record(status backend.Status, sides ...backend.Side) backend.Record {
	return backend.Record{Status: status, Files: sides}
}

func side(p string, content []byte) backend.Side {
	return backend.Side{ID: blobID(content), Path: p, Size: uint64(len(content))}
}

// emitPatch produces the file header, hunks and lines of one entry.
func emitPatch(engine *diff.Engine, e entry, lineFn backend.LineFunc) error {
	result := engine.Diff(e.oldContent, e.newContent)
	if !result.Binary && len(result.Hunks) == 0 && e.rec.Status != backend.Renamed {
		return nil
	}

	header := fileHeader(e.rec)
	if err := lineFn(e.rec, meta(backend.OriginFileHeader, header)); err != nil {
		return err
	}
	if result.Binary {
		oldName, newName := patchNames(e.rec)
		text := fmt.Sprintf("Binary files %s and %s differ\n", oldName, newName)
		return lineFn(e.rec, meta(backend.OriginBinary, text))
	}
	for _, h := range result.Hunks {
		if err := lineFn(e.rec, meta(backend.OriginHunkHeader, h.Header())); err != nil {
			return err
		}
		for _, line := range h.Lines {
			if err := lineFn(e.rec, line.Record()); err != nil {
				return err
			}
		}
	}
	return nil
}

func meta(origin backend.Origin, text string) backend.Line {
	return backend.Line{
		NumLines:   uint32(strings.Count(text, "\n")),
		ByteOffset: -1,
		Content:    []byte(text),
		Origin:     origin,
	}
}

func patchNames(rec backend.Record) (string, string) {
	oldName, newName := "a/"+rec.Files[0].Path, "b/"+rec.Path()
	switch rec.Status {
	case backend.Added, backend.Untracked:
		oldName = "/dev/null"
	case backend.Deleted:
		newName = "/dev/null"
	}
	return oldName, newName
}

func fileHeader(rec backend.Record) string {
	oldName, newName := patchNames(rec)
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", rec.Files[0].Path, rec.Path())
	switch rec.Status {
	case backend.Added, backend.Untracked:
		b.WriteString("new file mode 100644\n")
	case backend.Deleted:
		b.WriteString("deleted file mode 100644\n")
	case backend.Renamed:
		fmt.Fprintf(&b, "rename from %s\nrename to %s\n", rec.Files[0].Path, rec.Path())
	}
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)
	return b.String()
}
