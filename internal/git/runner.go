// Package git provides the local repository operations the engine depends
// on: enumerating pending commits, reading messages, and pushing review
// branches. Reads go through go-git; network operations shell out to git so
// the user's normal credentials and transport configuration apply.
package git

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	mrerrors "mrstack.dev/mrstack/internal/errors"
)

// DefaultCommandTimeout is the default timeout for git commands
const DefaultCommandTimeout = 5 * time.Minute

// CommandRunner handles execution of git commands
type CommandRunner struct {
	workingDir string
}

// NewCommandRunner creates a new CommandRunner rooted at the given directory
func NewCommandRunner(workingDir string) *CommandRunner {
	return &CommandRunner{workingDir: workingDir}
}

// Run executes a git command and returns its trimmed stdout
func (r *CommandRunner) Run(ctx context.Context, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCommandTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	if r.workingDir != "" {
		cmd.Dir = r.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		op := "git"
		if len(args) > 0 {
			op = args[0]
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = &commandError{err: err, stderr: msg}
		}
		return "", mrerrors.NewGitError(op, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

type commandError struct {
	err    error
	stderr string
}

func (e *commandError) Error() string {
	return e.err.Error() + ": " + e.stderr
}

func (e *commandError) Unwrap() error {
	return e.err
}
