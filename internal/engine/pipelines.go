package engine

import (
	"context"

	"mrstack.dev/mrstack/internal/changeid"
	"mrstack.dev/mrstack/internal/gitlab"
)

// cancelStalePipelines cancels CI runs for superseded revisions: for every
// commit whose request was marked updated, any running pipeline carrying the
// same Change-Id at a different sha is now wasted work. The pipeline at the
// commit's own sha is left alone.
//
// Everything here is best effort. Pipelines whose commit message cannot be
// read locally are skipped, and cancellation failures are logged per
// pipeline and do not abort the run.
func (e *Engine) cancelStalePipelines(ctx context.Context, plan []*Entry) {
	var updated []*Entry
	for _, entry := range plan {
		if entry.Updated {
			updated = append(updated, entry)
		}
	}
	if len(updated) == 0 {
		return
	}

	pipelines, err := e.backend.ListPipelines(ctx, gitlab.PipelineRunning, gitlab.PipelinePending)
	if err != nil {
		e.splog.Warn("Could not list pipelines, skipping cancellation: %v", err)
		return
	}

	// Pipelines are keyed by sha; the Change-Id comes from the commit
	// message at that sha.
	byChangeID := map[string][]*gitlab.Pipeline{}
	for _, p := range pipelines {
		message, err := e.repo.CommitMessage(p.SHA)
		if err != nil {
			continue
		}
		if id := changeid.FromMessageSilent(message); id != "" {
			byChangeID[id] = append(byChangeID[id], p)
		}
	}

	for _, entry := range updated {
		for _, p := range byChangeID[entry.ChangeID] {
			if p.SHA == entry.Commit.SHA {
				continue
			}
			if err := e.backend.CancelPipeline(ctx, p.ID); err != nil {
				e.splog.Warn("Could not cancel pipeline %d for %s: %v", p.ID, p.SHA, err)
				continue
			}
			e.splog.Debug("Cancelled pipeline %d (superseded revision %s)", p.ID, p.SHA)
		}
	}
}
