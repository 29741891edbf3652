package engine

import (
	"context"
	"fmt"
	"strings"

	"mrstack.dev/mrstack/internal/git"
	"mrstack.dev/mrstack/internal/gitlab"
)

// Result summarizes a reconcile run.
type Result struct {
	Entries []*Entry
	Created []*gitlab.MergeRequest
	Updated []*gitlab.MergeRequest
	// Pushed is the batched refspec list, in chain order.
	Pushed []git.Refspec
}

// Reconcile synchronizes the backend's review chain with the planned
// entries. The backend may silently auto-merge a request whose source branch
// commits become a subset of its target branch's, a side effect of other
// requests' target changes. The mutation order below avoids that:
//
//  1. create every missing request (creation pushes no code),
//  2. rewrite target branch, title, and description on every request,
//     tip to root,
//  3. only then push all source branches in one batched force push.
//
// Every target branch is correct before the backend observes any content
// change, so the spurious auto-merge cannot trigger. Creation and update
// failures abort the run with the backend's error surfaced; already-applied
// mutations are not rolled back. Rerunning converges because branch names
// are idempotent.
func (e *Engine) Reconcile(ctx context.Context, plan []*Entry) (*Result, error) {
	dir, err := e.buildDirectory(ctx)
	if err != nil {
		return nil, err
	}
	dir.link(plan)

	result := &Result{Entries: plan}
	if e.opts.DryRun {
		for _, entry := range plan {
			entry.Created = entry.Request == nil
			entry.Updated = entry.Request != nil && e.needsUpdate(entry, plan)
		}
		return result, nil
	}

	// Pass 1: create. New requests get their stacked target immediately but
	// a plain description; cross-links are filled in below once every
	// request in the plan has an id.
	for _, entry := range plan {
		if entry.Request != nil {
			continue
		}
		title, description := splitMessage(entry.Commit.Message)
		mr, err := e.backend.CreateMergeRequest(ctx, gitlab.CreateMROptions{
			SourceBranch:       entry.SourceBranch,
			TargetBranch:       entry.TargetBranch,
			Title:              title,
			Description:        description,
			RemoveSourceBranch: e.opts.RemoveSourceBranch,
		})
		if err != nil {
			return nil, fmt.Errorf("creating merge request for %s -> %s: %w",
				entry.SourceBranch, entry.TargetBranch, err)
		}
		entry.Request = mr
		entry.Created = true
		result.Created = append(result.Created, mr)
	}

	// Pass 2: retarget and rewrite, tip to root, strictly before the push.
	for i := len(plan) - 1; i >= 0; i-- {
		entry := plan[i]
		if e.needsUpdate(entry, plan) {
			title := entry.Title()
			description := e.descriptionFor(entry, plan)
			mr, err := e.backend.UpdateMergeRequest(ctx, entry.Request.IID, gitlab.UpdateMROptions{
				TargetBranch: &entry.TargetBranch,
				Title:        &title,
				Description:  &description,
			})
			if err != nil {
				return nil, fmt.Errorf("updating merge request %s: %w", entry.Request.Ref(), err)
			}
			entry.Request = mr
			if !entry.Created {
				entry.Updated = true
			}
		} else if !entry.Created && e.shaWillChange(entry) {
			// No field changed, but the push will move the head sha.
			entry.Updated = true
		}
		if entry.Updated {
			result.Updated = append(result.Updated, entry.Request)
		}
	}

	// Pass 3: one batched push of every source branch.
	for _, entry := range plan {
		result.Pushed = append(result.Pushed, git.Refspec{
			SHA:    entry.Commit.SHA,
			Branch: entry.SourceBranch,
		})
	}
	if err := e.repo.Push(ctx, e.opts.RemoteName, result.Pushed); err != nil {
		return nil, err
	}

	e.cancelStalePipelines(ctx, plan)

	return result, nil
}

// needsUpdate reports whether the entry's request differs from the desired
// target branch, title, or description.
func (e *Engine) needsUpdate(entry *Entry, plan []*Entry) bool {
	mr := entry.Request
	if mr == nil {
		return false
	}
	return mr.TargetBranch != entry.TargetBranch ||
		mr.Title != entry.Title() ||
		strings.TrimSpace(mr.Description) != e.descriptionFor(entry, plan)
}

// shaWillChange reports whether the batched push will move the request's
// recorded head sha.
func (e *Engine) shaWillChange(entry *Entry) bool {
	return e.repo.RemoteRefSHA(e.opts.RemoteName, entry.SourceBranch) != entry.Commit.SHA
}

// descriptionFor derives the request description from the commit message
// and, when the plan has more than one entry, appends a block cross-linking
// every request in the chain so reviewers can navigate the stack. The block
// is recomputed from scratch each run, so repeated runs are stable.
func (e *Engine) descriptionFor(entry *Entry, plan []*Entry) string {
	_, description := splitMessage(entry.Commit.Message)
	if len(plan) < 2 {
		return description
	}

	var b strings.Builder
	b.WriteString(description)
	if description != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("---\n\nRelated merge requests:\n")
	for _, other := range plan {
		if other.Request == nil {
			// Dry run: not every request exists yet.
			continue
		}
		b.WriteString(fmt.Sprintf("\n* %s %s", other.Request.Ref(), other.Title()))
		if other == entry {
			b.WriteString(" (this MR)")
		}
	}
	return b.String()
}
