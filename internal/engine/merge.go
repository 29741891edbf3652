package engine

import (
	"context"
	"fmt"
	"time"

	"mrstack.dev/mrstack/internal/errors"
	"mrstack.dev/mrstack/internal/gitlab"
)

// Merge walks the review chain from its root and merges the largest
// mergeable prefix, in order. The first non-mergeable request halts the
// scan: its dependents cannot be merged ahead of it.
//
// Each request is retargeted to the final branch before its merge call, so
// the merge lands on the real destination rather than on an intermediate
// review branch that is about to disappear.
//
// Returns the number of merged requests. Zero with ErrNothingMergeable when
// the root itself is blocked.
func (e *Engine) Merge(ctx context.Context) (int, error) {
	dir, err := e.buildDirectory(ctx)
	if err != nil {
		return 0, err
	}
	if len(dir) == 0 {
		return 0, errors.ErrNoMergeRequests
	}

	chain := dir.chain()

	targetsFinal := false
	for _, mr := range chain {
		if mr.TargetBranch == e.opts.FinalBranch {
			targetsFinal = true
			break
		}
	}
	if !targetsFinal {
		e.splog.Warn("Not a single MR interested in merging into %s?", e.opts.FinalBranch)
		return 0, errors.ErrNoMergeRequests
	}

	// The bulk listing may carry stale mergeability; a per-request fetch is
	// mandatory before trusting it.
	for i, mr := range chain {
		fresh, err := e.backend.GetMergeRequest(ctx, mr.IID)
		if err != nil {
			return 0, err
		}
		chain[i] = fresh
		e.splog.Info("* %s %s", fresh.WebURL, fresh.Title)
		e.splog.Info("    [mergeable]: %v", fresh.Mergeable())
	}

	var mergeables []*gitlab.MergeRequest
	for _, mr := range chain {
		if !mr.Mergeable() {
			break
		}
		mergeables = append(mergeables, mr)
	}
	if len(mergeables) == 0 {
		e.splog.Warn("No MRs can be merged into %s as the root of the MR chain is not mergeable.",
			e.opts.FinalBranch)
		return 0, errors.ErrNothingMergeable
	}

	if e.opts.DryRun {
		return len(mergeables), nil
	}

	for _, mr := range mergeables {
		if mr.TargetBranch != e.opts.FinalBranch {
			if _, err := e.backend.UpdateMergeRequest(ctx, mr.IID, gitlab.UpdateMROptions{
				TargetBranch: &e.opts.FinalBranch,
			}); err != nil {
				return 0, fmt.Errorf("retargeting %s before merge: %w", mr.Ref(), err)
			}
		}
		if err := e.mergeWithRetry(ctx, mr); err != nil {
			return 0, err
		}
	}
	return len(mergeables), nil
}

// mergeWithRetry issues the merge call, retrying on non-success status with
// a fixed delay. "Merge pending" is a valid transient state while the
// backend's merge checks run, so the retry is unbounded by default;
// Options.MergeRetryLimit caps it for tests.
func (e *Engine) mergeWithRetry(ctx context.Context, mr *gitlab.MergeRequest) error {
	for attempt := 1; ; attempt++ {
		err := e.backend.MergeMergeRequest(ctx, mr.IID)
		if err == nil {
			return nil
		}
		var apiErr *gitlab.APIError
		if !errors.As(err, &apiErr) {
			return err
		}
		if e.opts.MergeRetryLimit > 0 && attempt >= e.opts.MergeRetryLimit {
			return fmt.Errorf("merging %s: %w", mr.Ref(), err)
		}
		e.splog.Debug("Merge of %s returned %d, retrying", mr.Ref(), apiErr.StatusCode)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.MergeRetryDelay):
		}
	}
}
