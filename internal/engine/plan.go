package engine

import (
	"context"
	"strings"

	"mrstack.dev/mrstack/internal/changeid"
	"mrstack.dev/mrstack/internal/errors"
	"mrstack.dev/mrstack/internal/git"
	"mrstack.dev/mrstack/internal/gitlab"
)

// Entry is one planned link in the review chain, rebuilt fresh every run.
type Entry struct {
	Commit   git.Commit
	ChangeID string
	// SourceBranch is a pure function of the final branch and the Change-Id,
	// so re-running against unchanged commits is idempotent.
	SourceBranch string
	// TargetBranch is the final branch for the oldest entry and the previous
	// entry's source branch for every other one. This encodes the stack.
	TargetBranch string
	// Request is the existing merge request bound to SourceBranch, nil when
	// one needs to be created.
	Request *gitlab.MergeRequest
	// Created and Updated record what the reconciler did this run.
	Created bool
	Updated bool
}

// Title returns the request title derived from the commit message.
func (en *Entry) Title() string {
	title, _ := splitMessage(en.Commit.Message)
	return title
}

// Plan fetches the remote and derives the review chain for the commits on
// the local branch that are strictly ahead of the remote final branch.
// No backend state is touched.
func (e *Engine) Plan(ctx context.Context) ([]*Entry, error) {
	if err := e.repo.Fetch(ctx, e.opts.RemoteName); err != nil {
		return nil, err
	}
	commits, err := e.repo.CommitsAhead(e.opts.RemoteName, e.opts.FinalBranch, e.opts.LocalBranch)
	if err != nil {
		return nil, err
	}
	return e.BuildPlan(commits)
}

// BuildPlan turns the pending commits, as returned by the repository newest
// first, into ordered chain entries from the oldest unmerged commit to the
// newest. An empty input signals ErrNoPendingCommits; a commit without a
// Change-Id trailer is a fatal input error.
func (e *Engine) BuildPlan(commits []git.Commit) ([]*Entry, error) {
	if len(commits) == 0 {
		return nil, errors.ErrNoPendingCommits
	}

	ordered := make([]git.Commit, len(commits))
	for i, c := range commits {
		ordered[len(commits)-1-i] = c
	}

	entries := make([]*Entry, 0, len(ordered))
	for i, commit := range ordered {
		id, err := changeid.FromMessage(commit.Message)
		if err != nil {
			return nil, err
		}
		entry := &Entry{
			Commit:       commit,
			ChangeID:     id,
			SourceBranch: changeid.BranchName(e.opts.FinalBranch, id),
		}
		if i == 0 {
			entry.TargetBranch = e.opts.FinalBranch
		} else {
			entry.TargetBranch = entries[i-1].SourceBranch
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// splitMessage splits a commit message into a request title and description.
// The title is the first line; the description is the remainder with the
// Change-Id trailer stripped.
func splitMessage(message string) (title, description string) {
	parts := strings.SplitN(message, "\n", 2)
	title = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		description = strings.TrimSpace(changeid.StripTrailer(parts[1]))
	}
	return title, description
}
