package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
)

// Runner executes the git binary inside one work tree.
type Runner struct {
	bin string
	dir string
}

func NewRunner(bin, dir string) *Runner {
	if strings.TrimSpace(bin) == "" {
		bin = "git"
	}
	return &Runner{bin: bin, dir: dir}
}

// ExitError is a git process that ran and exited with a non-zero code.
type ExitError struct {
	Op     string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("git %s: exit status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("git %s: %s", e.Op, e.Stderr)
}

// exitCode reports the exit code carried by err, if it is an ExitError.
func exitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

func (r *Runner) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Dir = r.dir
	return cmd
}

// Run executes git and returns its stdout.
func (r *Runner) Run(ctx context.Context, args ...string) ([]byte, error) {
	return r.RunInput(ctx, nil, args...)
}

// RunInput executes git with stdin connected to input.
func (r *Runner) RunInput(ctx context.Context, input io.Reader, args ...string) ([]byte, error) {
	cmd := r.command(ctx, args)
	var out, errb bytes.Buffer
	cmd.Stdin = input
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return out.Bytes(), r.wrap(ctx, args, err, errb.String())
	}
	return out.Bytes(), nil
}

// Stream executes git and hands its stdout to fn while the process runs.
// When fn returns an error the process is killed and that error returned.
func (r *Runner) Stream(ctx context.Context, fn func(io.Reader) error, args ...string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := r.command(ctx, args)
	var errb bytes.Buffer
	cmd.Stderr = &errb
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return r.wrap(ctx, args, err, "")
	}

	if ferr := fn(stdout); ferr != nil {
		cancel()
		_ = cmd.Wait()
		return ferr
	}
	_, _ = io.Copy(io.Discard, stdout)
	if err := cmd.Wait(); err != nil {
		return r.wrap(ctx, args, err, errb.String())
	}
	return nil
}

func (r *Runner) wrap(ctx context.Context, args []string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("git %s: %w", sanitizeArgs(args), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Op:     sanitizeArgs(args),
			Code:   exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr),
		}
	}
	return fmt.Errorf("git %s: %w", sanitizeArgs(args), err)
}

var safeArg = regexp.MustCompile(`^[a-z][a-z-]*$`)

// sanitizeArgs keeps at most the first two subcommand words so paths never
// end up in error messages.
func sanitizeArgs(args []string) string {
	if len(args) == 0 {
		return "<no-args>"
	}
	safe := make([]string, 0, 2)
	for _, a := range args {
		if !safeArg.MatchString(a) {
			break
		}
		safe = append(safe, a)
		if len(safe) == 2 {
			break
		}
	}
	if len(safe) == 0 {
		return "<redacted>"
	}
	return strings.Join(safe, " ")
}
