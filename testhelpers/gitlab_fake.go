package testhelpers

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"mrstack.dev/mrstack/internal/gitlab"
)

// FakeBackend is an in-memory gitlab.Client. Mutations are recorded in the
// shared call log; reads are not.
type FakeBackend struct {
	Log *CallLog

	nextIID int
	mrs     map[int]*gitlab.MergeRequest

	// Pipelines is the full pipeline list; ListPipelines filters by status.
	Pipelines []*gitlab.Pipeline

	// MergeStatuses overrides the detailed merge status per iid. Unlisted
	// requests report "mergeable".
	MergeStatuses map[int]string

	// MergeFailures holds, per iid, how many merge attempts fail with a 405
	// before one succeeds.
	MergeFailures map[int]int

	// StallPreparation leaves PreparedAt empty after pushes, simulating a
	// backend that never finishes ingesting.
	StallPreparation bool

	// ListErr, when set, fails ListOpenMergeRequests.
	ListErr error

	Merged    []int
	Cancelled []int
}

// NewFakeBackend creates an empty backend recording into log.
func NewFakeBackend(log *CallLog) *FakeBackend {
	return &FakeBackend{
		Log:           log,
		nextIID:       1,
		mrs:           map[int]*gitlab.MergeRequest{},
		MergeStatuses: map[int]string{},
		MergeFailures: map[int]int{},
	}
}

// SeedMergeRequest installs a pre-existing merge request and returns it.
func (b *FakeBackend) SeedMergeRequest(source, target, title, description, sha string) *gitlab.MergeRequest {
	iid := b.nextIID
	b.nextIID++
	mr := &gitlab.MergeRequest{
		IID:          iid,
		WebURL:       fmt.Sprintf("https://gitlab.example.com/group/repo/-/merge_requests/%d", iid),
		Title:        title,
		Description:  description,
		SourceBranch: source,
		TargetBranch: target,
		State:        gitlab.StateOpened,
		SHA:          sha,
		PreparedAt:   "2024-01-01T00:00:00Z",
	}
	b.mrs[iid] = mr
	return mr
}

// MR returns the stored request by iid, or nil.
func (b *FakeBackend) MR(iid int) *gitlab.MergeRequest {
	return b.mrs[iid]
}

// OpenCount returns the number of open merge requests.
func (b *FakeBackend) OpenCount() int {
	n := 0
	for _, mr := range b.mrs {
		if mr.State == gitlab.StateOpened {
			n++
		}
	}
	return n
}

// observePush records what GitLab would learn from a branch push: the new
// head sha and, once ingestion finishes, a prepared timestamp.
func (b *FakeBackend) observePush(branch, sha string) {
	for _, mr := range b.mrs {
		if mr.SourceBranch != branch || mr.State != gitlab.StateOpened {
			continue
		}
		mr.SHA = sha
		if b.StallPreparation {
			mr.PreparedAt = ""
		} else {
			mr.PreparedAt = "2024-01-01T00:00:00Z"
		}
	}
}

func (b *FakeBackend) view(mr *gitlab.MergeRequest) *gitlab.MergeRequest {
	record := *mr
	if status, ok := b.MergeStatuses[mr.IID]; ok {
		record.DetailedMergeStatus = status
	} else {
		record.DetailedMergeStatus = gitlab.MergeStatusMergeable
	}
	return &record
}

func (b *FakeBackend) ListOpenMergeRequests(_ context.Context) ([]*gitlab.MergeRequest, error) {
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	var open []*gitlab.MergeRequest
	for _, mr := range b.mrs {
		if mr.State == gitlab.StateOpened {
			open = append(open, b.view(mr))
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].IID < open[j].IID })
	return open, nil
}

func (b *FakeBackend) CreateMergeRequest(_ context.Context, opts gitlab.CreateMROptions) (*gitlab.MergeRequest, error) {
	b.Log.record("create %s -> %s", opts.SourceBranch, opts.TargetBranch)
	mr := b.SeedMergeRequest(opts.SourceBranch, opts.TargetBranch, opts.Title, opts.Description, "")
	mr.PreparedAt = ""
	return b.view(mr), nil
}

func (b *FakeBackend) UpdateMergeRequest(_ context.Context, iid int, opts gitlab.UpdateMROptions) (*gitlab.MergeRequest, error) {
	mr, ok := b.mrs[iid]
	if !ok {
		return nil, &gitlab.APIError{Method: "PUT", StatusCode: http.StatusNotFound, Body: "404 Not Found"}
	}
	b.Log.record("update !%d", iid)
	if opts.TargetBranch != nil {
		mr.TargetBranch = *opts.TargetBranch
	}
	if opts.Title != nil {
		mr.Title = *opts.Title
	}
	if opts.Description != nil {
		mr.Description = *opts.Description
	}
	if opts.StateEvent != nil && *opts.StateEvent == "close" {
		mr.State = "closed"
	}
	return b.view(mr), nil
}

func (b *FakeBackend) GetMergeRequest(_ context.Context, iid int) (*gitlab.MergeRequest, error) {
	mr, ok := b.mrs[iid]
	if !ok {
		return nil, &gitlab.APIError{Method: "GET", StatusCode: http.StatusNotFound, Body: "404 Not Found"}
	}
	return b.view(mr), nil
}

func (b *FakeBackend) MergeMergeRequest(_ context.Context, iid int) error {
	b.Log.record("merge !%d", iid)
	mr, ok := b.mrs[iid]
	if !ok {
		return &gitlab.APIError{Method: "PUT", StatusCode: http.StatusNotFound, Body: "404 Not Found"}
	}
	if b.MergeFailures[iid] > 0 {
		b.MergeFailures[iid]--
		return &gitlab.APIError{
			Method:     "PUT",
			Path:       fmt.Sprintf("/merge_requests/%d/merge", iid),
			StatusCode: http.StatusMethodNotAllowed,
			Body:       `{"message":"405 Method Not Allowed"}`,
		}
	}
	mr.State = "merged"
	b.Merged = append(b.Merged, iid)
	return nil
}

func (b *FakeBackend) ApproveMergeRequest(_ context.Context, iid int, sha string) error {
	b.Log.record("approve !%d", iid)
	return nil
}

func (b *FakeBackend) CloseMergeRequest(ctx context.Context, iid int) error {
	closed := "close"
	_, err := b.UpdateMergeRequest(ctx, iid, gitlab.UpdateMROptions{StateEvent: &closed})
	return err
}

func (b *FakeBackend) DeleteMergeRequest(_ context.Context, iid int) error {
	b.Log.record("delete !%d", iid)
	delete(b.mrs, iid)
	return nil
}

func (b *FakeBackend) ListPipelines(_ context.Context, statuses ...string) ([]*gitlab.Pipeline, error) {
	want := map[string]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*gitlab.Pipeline
	for _, p := range b.Pipelines {
		if len(want) == 0 || want[p.Status] {
			record := *p
			out = append(out, &record)
		}
	}
	return out, nil
}

func (b *FakeBackend) CancelPipeline(_ context.Context, id int) error {
	b.Log.record("cancel pipeline %d", id)
	for _, p := range b.Pipelines {
		if p.ID == id {
			p.Status = gitlab.PipelineCanceled
		}
	}
	b.Cancelled = append(b.Cancelled, id)
	return nil
}
