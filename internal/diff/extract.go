package diff

import (
	"context"

	"stagehand/internal/backend"
	"stagehand/internal/delta"
	apperr "stagehand/internal/errors"
)

// Extract walks the changes restricted to target and returns the details of
// the first record whose path equals it. Files before the match are skipped
// without line data and the walk stops after the matched file's lines.
func Extract(ctx context.Context, w backend.Walker, baseline backend.Baseline, target string, opts Options) (*Details, error) {
	if target == "" {
		return nil, apperr.MissingPath(target)
	}

	var (
		found   bool
		matched delta.Delta
		lines   []Line
	)

	fileFn := func(rec backend.Record) error {
		if !matches(rec, target) {
			return backend.ErrSkip
		}
		matched = delta.Classify(rec)
		found = true
		return backend.ErrStop
	}
	lineFn := func(rec backend.Record, line backend.Line) error {
		if found && matches(rec, target) {
			lines = append(lines, FromRecord(line))
		}
		return nil
	}

	err := w.Walk(ctx, opts.WalkOptions(baseline, target), fileFn, lineFn)
	if err != nil {
		return nil, apperr.Backend("walking changes", err)
	}
	if !found {
		return nil, apperr.PathNotFound(target)
	}
	return &Details{Delta: matched, Lines: lines}, nil
}

// matches compares the new side first, then the old side.
func matches(rec backend.Record, target string) bool {
	n := len(rec.Files)
	if n == 0 {
		return false
	}
	if rec.Files[n-1].Path == target {
		return true
	}
	return n == 2 && rec.Files[0].Path == target
}
