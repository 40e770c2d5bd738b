// Package staging defines the invertible index mutations recorded in the
// change history.
package staging

import (
	"context"
	"encoding/json"
	"fmt"

	apperr "stagehand/internal/errors"
	"stagehand/internal/file"
	"stagehand/internal/history"
	"stagehand/internal/logging"

	"go.uber.org/zap"
)

// Index is the part of a backend the commands mutate.
type Index interface {
	AddPath(ctx context.Context, path string) error
	RemovePath(ctx context.Context, path string) error
	ShouldIgnore(ctx context.Context, path string) (bool, error)
}

type Kind int

const (
	KindStage Kind = iota + 1
	KindUnstage
)

func (k Kind) String() string {
	switch k {
	case KindStage:
		return "stage"
	case KindUnstage:
		return "unstage"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) opposite() Kind {
	if k == KindStage {
		return KindUnstage
	}
	return KindStage
}

// Command is either Stage or Unstage of one file. It is a value and is never
// mutated after construction.
type Command struct {
	kind Kind
	file file.Ref
}

func Stage(f file.Ref) Command   { return Command{kind: KindStage, file: f} }
func Unstage(f file.Ref) Command { return Command{kind: KindUnstage, file: f} }

func (c Command) Kind() Kind       { return c.kind }
func (c Command) File() file.Ref   { return c.file }
func (c Command) Inverse() Command { return Command{kind: c.kind.opposite(), file: c.file} }

func (c Command) String() string {
	path, ok := c.file.Path()
	if !ok {
		path = "<no path>"
	}
	return fmt.Sprintf("%s %s", c.kind, path)
}

// Run executes the command's forward action, or its inverse.
func (c Command) Run(ctx context.Context, idx Index, dir history.Direction) error {
	kind := c.kind
	if dir == history.Inverse {
		kind = kind.opposite()
	}

	path, err := c.file.RequirePath()
	if err != nil {
		return err
	}

	switch kind {
	case KindStage:
		return stage(ctx, idx, path)
	case KindUnstage:
		return apperr.Backend("removing "+path+" from the index", idx.RemovePath(ctx, path))
	}
	return apperr.Internal(fmt.Sprintf("unknown staging command %s", kind))
}

// stage adds path to the index unless an ignore rule matches it.
func stage(ctx context.Context, idx Index, path string) error {
	ignored, err := idx.ShouldIgnore(ctx, path)
	if err != nil {
		return apperr.Backend("checking ignore rules for "+path, err)
	}
	if ignored {
		logging.FromContext(ctx).Debug("not staging ignored path", zap.String("path", path))
		return nil
	}
	return apperr.Backend("adding "+path+" to the index", idx.AddPath(ctx, path))
}

type commandJSON struct {
	Kind string   `json:"kind"`
	File file.Ref `json:"file"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(commandJSON{Kind: c.kind.String(), File: c.file})
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var in commandJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "stage":
		*c = Stage(in.File)
	case "unstage":
		*c = Unstage(in.File)
	default:
		return fmt.Errorf("unknown staging command %q", in.Kind)
	}
	return nil
}

// RunFunc adapts Command.Run to a history of commands over target.
func RunFunc[T Index]() history.RunFunc[T, Command] {
	return func(ctx context.Context, target T, cmd Command, dir history.Direction) error {
		return cmd.Run(ctx, target, dir)
	}
}
