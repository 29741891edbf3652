// Package engine implements the stacked-review synchronization engine: it
// derives a review chain from the pending local commits, reconciles it
// against the open merge requests on the backend, pushes the review branches
// in one batch, cancels superseded pipelines, waits for the backend to
// ingest the push, and merges the largest mergeable prefix of the chain.
//
// The engine is deliberately single-threaded. The ordering of backend
// mutations is the correctness mechanism (see Reconcile), so no two mutating
// calls may be reordered or parallelized.
package engine

import (
	"time"

	"mrstack.dev/mrstack/internal/git"
	"mrstack.dev/mrstack/internal/gitlab"
	"mrstack.dev/mrstack/internal/output"
)

const (
	defaultStabilizePollInterval = 500 * time.Millisecond
	defaultMergeRetryDelay       = 2 * time.Second
)

// Options configures an engine run.
type Options struct {
	// RemoteName is the git remote the review branches are pushed to.
	RemoteName string
	// FinalBranch is the real destination branch the whole stack is headed
	// for. The bottom of the chain targets it directly.
	FinalBranch string
	// LocalBranch is the local branch under review.
	LocalBranch string
	// RemoveSourceBranch is forwarded to the backend on creation so merged
	// review branches are deleted.
	RemoveSourceBranch bool
	// DryRun computes the plan but performs no mutations.
	DryRun bool

	// StabilizePollInterval is the fixed delay between stabilization polls.
	// Defaults to 500ms.
	StabilizePollInterval time.Duration
	// StabilizeTimeout bounds the stabilization wait. Zero means unbounded,
	// the production default; tests set it to stay deterministic.
	StabilizeTimeout time.Duration
	// MergeRetryDelay is the fixed delay between merge attempts while the
	// backend reports a transient non-success. Defaults to 2s.
	MergeRetryDelay time.Duration
	// MergeRetryLimit bounds merge retries per request. Zero means
	// unbounded, the production default.
	MergeRetryLimit int
}

// Engine synchronizes the local commit stack with the remote review chain.
type Engine struct {
	repo    git.Repository
	backend gitlab.Client
	splog   *output.Splog
	opts    Options
}

// New creates an engine. Zero timing options get production defaults.
func New(repo git.Repository, backend gitlab.Client, splog *output.Splog, opts Options) *Engine {
	if opts.StabilizePollInterval == 0 {
		opts.StabilizePollInterval = defaultStabilizePollInterval
	}
	if opts.MergeRetryDelay == 0 {
		opts.MergeRetryDelay = defaultMergeRetryDelay
	}
	return &Engine{
		repo:    repo,
		backend: backend,
		splog:   splog,
		opts:    opts,
	}
}

// Options returns the options the engine was created with.
func (e *Engine) Options() Options {
	return e.opts
}
