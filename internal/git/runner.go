package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git commands.
type Runner interface {
	// Run executes git with args in dir and returns its stdout with
	// leading and trailing whitespace removed.
	// When git fails, a *CommandError is returned.
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandError is returned when a git command fails.
type CommandError struct {
	Args   []string
	Stderr string
	// ExitCode is the exit code of the git process, it is -1 if the
	// process did not exit normally.
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("git %s failed: %s", strings.Join(e.Args, " "), e.Err)
	}

	return fmt.Sprintf("git %s failed: %s", strings.Join(e.Args, " "), stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// hasExitCode returns true if err is a CommandError with the given exit
// code.
func hasExitCode(err error, code int) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && cmdErr.ExitCode == code
}

// ExecRunner runs the git binary found in PATH.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		return "", &CommandError{
			Args:     args,
			Stderr:   stderr.String(),
			ExitCode: exitCode,
			Err:      err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// CheckInstalled returns an error if the git binary can not be found in PATH.
func CheckInstalled() error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git is not installed: %w", err)
	}

	return nil
}
