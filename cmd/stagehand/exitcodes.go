package main

import (
	"errors"

	apperr "stagehand/internal/errors"
)

const (
	ExitSuccess     = 0
	ExitError       = 1 // runtime failure
	ExitConfigError = 2 // unreadable config, no repository
	ExitNothingToDo = 3 // undo or redo with an empty side
	ExitNotFound    = 4 // no change for the requested path
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, apperr.ErrUndoEmpty), errors.Is(err, apperr.ErrRedoEmpty):
		return ExitNothingToDo
	case errors.Is(err, apperr.ErrPathNotFound):
		return ExitNotFound
	case errors.Is(err, errConfig):
		return ExitConfigError
	default:
		return ExitError
	}
}
