package engine

import (
	"context"

	"mrstack.dev/mrstack/internal/changeid"
	"mrstack.dev/mrstack/internal/gitlab"
)

// directory is the lookup from source branch to existing merge request,
// built once per run from a single listing call.
type directory map[string]*gitlab.MergeRequest

// buildDirectory lists the backend's open merge requests and keeps the ones
// whose source branch was derived from this run's final branch, the
// requests this tool owns.
func (e *Engine) buildDirectory(ctx context.Context) (directory, error) {
	open, err := e.backend.ListOpenMergeRequests(ctx)
	if err != nil {
		return nil, err
	}

	pattern := changeid.BranchPattern(e.opts.FinalBranch)
	dir := directory{}
	for _, mr := range open {
		if pattern.MatchString(mr.SourceBranch) {
			dir[mr.SourceBranch] = mr
		}
	}
	return dir, nil
}

// link binds each plan entry to its existing request, if any. Entries left
// unbound need creation.
func (dir directory) link(plan []*Entry) {
	for _, entry := range plan {
		entry.Request = dir[entry.SourceBranch]
	}
}

// chain returns the requests in dependency order, roots first. Roots are
// requests whose target branch is not another request's source branch.
// The walk is an iterative adjacency traversal keyed by source branch, so
// pathological chains cannot exhaust the stack. Multiple independent roots
// are supported; each root's chain is emitted root to tip.
func (dir directory) chain() []*gitlab.MergeRequest {
	if len(dir) == 0 {
		return nil
	}

	// A request at branch B is followed by the request targeting B.
	byTarget := make(map[string]*gitlab.MergeRequest, len(dir))
	for _, mr := range dir {
		byTarget[mr.TargetBranch] = mr
	}

	var chain []*gitlab.MergeRequest
	for _, root := range dir.roots() {
		for cur := root; cur != nil; cur = byTarget[cur.SourceBranch] {
			chain = append(chain, cur)
		}
	}
	return chain
}

// roots returns the requests not targeting another request's source branch,
// in deterministic (iid) order.
func (dir directory) roots() []*gitlab.MergeRequest {
	var roots []*gitlab.MergeRequest
	for _, mr := range dir {
		if _, stacked := dir[mr.TargetBranch]; !stacked {
			roots = append(roots, mr)
		}
	}
	for i := 1; i < len(roots); i++ {
		for j := i; j > 0 && roots[j-1].IID > roots[j].IID; j-- {
			roots[j-1], roots[j] = roots[j], roots[j-1]
		}
	}
	return roots
}
