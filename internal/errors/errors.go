// Package errors provides sentinel errors and custom error types for the
// mrstack application. Use errors.Is() and errors.As() to check for specific
// error types.
package errors

import (
	"errors"
	"fmt"
)

// Is and As re-export the standard library helpers so callers don't need a
// second errors import.
var (
	Is = errors.Is
	As = errors.As
)

// Sentinel errors for common conditions
var (
	// ErrNoPendingCommits indicates there are no local commits ahead of the
	// remote final branch. A recoverable no-op, not a crash.
	ErrNoPendingCommits = errors.New("no pending commits")

	// ErrNoMergeRequests indicates no open merge requests were found for the
	// final branch when a merge was requested.
	ErrNoMergeRequests = errors.New("no merge requests")

	// ErrNothingMergeable indicates the root of the chain is not mergeable,
	// so no prefix of the chain can be merged.
	ErrNothingMergeable = errors.New("nothing mergeable")

	// ErrDetachedHead indicates HEAD is not on a branch.
	ErrDetachedHead = errors.New("HEAD is detached. Are you in the process of a rebase?")

	// ErrStabilizeTimeout indicates the backend did not converge on the
	// pushed commits within the configured bound.
	ErrStabilizeTimeout = errors.New("timed out waiting for merge requests to stabilize")
)

// MissingChangeIDError indicates a commit message without a Change-Id trailer.
type MissingChangeIDError struct {
	Message string
}

func (e *MissingChangeIDError) Error() string {
	return fmt.Sprintf("didn't find the Change-Id in the commit message:\n%s", e.Message)
}

// NewMissingChangeIDError creates a new MissingChangeIDError
func NewMissingChangeIDError(message string) *MissingChangeIDError {
	return &MissingChangeIDError{Message: message}
}

// GitError represents a failed repository operation.
type GitError struct {
	Op  string
	Err error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: %v", e.Op, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// NewGitError creates a new GitError
func NewGitError(op string, err error) *GitError {
	return &GitError{Op: op, Err: err}
}
