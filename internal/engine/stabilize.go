package engine

import (
	"context"
	"fmt"
	"time"

	"mrstack.dev/mrstack/internal/errors"
)

// WaitForStabilization polls every entry's request until the backend has
// ingested the batched push: the prepared timestamp is set and the recorded
// head sha matches the commit that was just pushed. The backend computes a
// request's commit list and mergeability asynchronously after a push, so
// acting before stabilization risks trusting stale data.
//
// The wait is unbounded by default, tolerating arbitrary backend processing
// latency; Options.StabilizeTimeout bounds it for callers that need
// determinism.
func (e *Engine) WaitForStabilization(ctx context.Context, entries []*Entry) error {
	var deadline time.Time
	if e.opts.StabilizeTimeout > 0 {
		deadline = time.Now().Add(e.opts.StabilizeTimeout)
	}

	for _, entry := range entries {
		if entry.Request == nil {
			continue
		}
		for {
			mr, err := e.backend.GetMergeRequest(ctx, entry.Request.IID)
			if err != nil {
				return err
			}
			if mr.PreparedAt != "" && mr.SHA == entry.Commit.SHA {
				entry.Request = mr
				break
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return fmt.Errorf("%w: %s still at %s, want %s",
					errors.ErrStabilizeTimeout, mr.Ref(), mr.SHA, entry.Commit.SHA)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.opts.StabilizePollInterval):
			}
		}
	}
	return nil
}
