// Package history keeps a linear undo/redo record of invertible commands.
package history

import (
	"context"
	"fmt"
	"strings"

	apperr "stagehand/internal/errors"

	"go.uber.org/zap"
)

// Direction selects which action of a command runs.
type Direction int

const (
	Forward Direction = iota
	Inverse
)

func (d Direction) String() string {
	if d == Inverse {
		return "inverse"
	}
	return "forward"
}

// RunFunc executes cmd against target in the given direction.
type RunFunc[T any, C any] func(ctx context.Context, target T, cmd C, dir Direction) error

type settings struct {
	limit  int
	logger *zap.Logger
}

type Option func(*settings)

// WithLimit keeps at most n entries, dropping the oldest. Zero means no limit.
func WithLimit(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// History is an ordered list of applied commands and a cursor. Entries
// before the cursor are applied; entries at or after it have been undone and
// can be redone. The target is passed on every call and never retained.
//
// The cursor moves only after the run function succeeds, so a failed undo or
// redo leaves the history exactly as it was.
//
// A History is not safe for concurrent use.
type History[T any, C fmt.Stringer] struct {
	run     RunFunc[T, C]
	entries []C
	cursor  int
	limit   int
	logger  *zap.Logger
}

func New[T any, C fmt.Stringer](run RunFunc[T, C], opts ...Option) *History[T, C] {
	s := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	return &History[T, C]{run: run, limit: s.limit, logger: s.logger}
}

// Apply runs cmd forward. On success the redo tail is discarded and cmd is
// recorded; on failure nothing is recorded.
func (h *History[T, C]) Apply(ctx context.Context, target T, cmd C) error {
	if err := h.run(ctx, target, cmd, Forward); err != nil {
		return err
	}

	var zero C
	for i := h.cursor; i < len(h.entries); i++ {
		h.entries[i] = zero
	}
	h.entries = append(h.entries[:h.cursor], cmd)
	h.cursor++

	if h.limit > 0 && len(h.entries) > h.limit {
		drop := len(h.entries) - h.limit
		h.entries = append(h.entries[:0], h.entries[drop:]...)
		h.cursor -= drop
	}

	h.logger.Debug("applied command", zap.Stringer("command", cmd), zap.Int("cursor", h.cursor))
	return nil
}

// Undo runs the inverse of the last applied command.
func (h *History[T, C]) Undo(ctx context.Context, target T) error {
	if h.cursor == 0 {
		return apperr.ErrUndoEmpty
	}
	cmd := h.entries[h.cursor-1]
	if err := h.run(ctx, target, cmd, Inverse); err != nil {
		return err
	}
	h.cursor--

	h.logger.Debug("undid command", zap.Stringer("command", cmd), zap.Int("cursor", h.cursor))
	return nil
}

// Redo runs the next undone command forward.
func (h *History[T, C]) Redo(ctx context.Context, target T) error {
	if h.cursor == len(h.entries) {
		return apperr.ErrRedoEmpty
	}
	cmd := h.entries[h.cursor]
	if err := h.run(ctx, target, cmd, Forward); err != nil {
		return err
	}
	h.cursor++

	h.logger.Debug("redid command", zap.Stringer("command", cmd), zap.Int("cursor", h.cursor))
	return nil
}

func (h *History[T, C]) Len() int      { return len(h.entries) }
func (h *History[T, C]) Cursor() int   { return h.cursor }
func (h *History[T, C]) CanUndo() bool { return h.cursor > 0 }
func (h *History[T, C]) CanRedo() bool { return h.cursor < len(h.entries) }

// Entries returns a copy of all recorded commands, applied and undone.
func (h *History[T, C]) Entries() []C {
	return append([]C(nil), h.entries...)
}

// Clear forgets every entry without touching the target.
func (h *History[T, C]) Clear() {
	h.entries = nil
	h.cursor = 0
}

// String lists the entries oldest first. The line starting with "*" is the
// current position; position 0 is the state before any command.
func (h *History[T, C]) String() string {
	var b strings.Builder
	line := func(pos int, text string) {
		marker := " "
		if pos == h.cursor {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %d %s\n", marker, pos, text)
	}
	line(0, "origin")
	for i, cmd := range h.entries {
		line(i+1, cmd.String())
	}
	return b.String()
}

// Snapshot is the persistent form of a history.
type Snapshot[C any] struct {
	Entries []C `json:"entries"`
	Cursor  int `json:"cursor"`
}

func (h *History[T, C]) Snapshot() Snapshot[C] {
	return Snapshot[C]{Entries: h.Entries(), Cursor: h.cursor}
}

// Restore replaces the history with a snapshot. The limit applies to the
// restored entries as it does to applied ones.
func (h *History[T, C]) Restore(s Snapshot[C]) error {
	if s.Cursor < 0 || s.Cursor > len(s.Entries) {
		return apperr.ValidationError(
			fmt.Sprintf("history cursor %d out of range [0, %d]", s.Cursor, len(s.Entries)), s.Cursor)
	}
	entries := append([]C(nil), s.Entries...)
	cursor := s.Cursor
	if h.limit > 0 && len(entries) > h.limit {
		drop := len(entries) - h.limit
		entries = entries[drop:]
		cursor = max(0, cursor-drop)
	}
	h.entries = entries
	h.cursor = cursor
	return nil
}
