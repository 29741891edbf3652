// Package gitlab provides a client for the GitLab merge request and pipeline
// APIs, scoped to a single project.
package gitlab

import (
	"fmt"
)

// Merge request states and merge statuses used by the engine.
const (
	MergeStatusMergeable = "mergeable"
	StateOpened          = "opened"
)

// Pipeline statuses as reported by GitLab.
const (
	PipelineCreated            = "created"
	PipelineWaitingForResource = "waiting_for_resource"
	PipelinePreparing          = "preparing"
	PipelinePending            = "pending"
	PipelineRunning            = "running"
	PipelineSuccess            = "success"
	PipelineFailed             = "failed"
	PipelineCanceled           = "canceled"
	PipelineSkipped            = "skipped"
	PipelineManual             = "manual"
	PipelineScheduled          = "scheduled"
)

// MergeRequest is the engine's projection of a GitLab merge request. Fields
// are decoded explicitly; responses missing required fields fail loudly
// instead of propagating zero values.
type MergeRequest struct {
	IID                 int    `json:"iid"`
	WebURL              string `json:"web_url"`
	Title               string `json:"title"`
	Description         string `json:"description"`
	SourceBranch        string `json:"source_branch"`
	TargetBranch        string `json:"target_branch"`
	State               string `json:"state"`
	SHA                 string `json:"sha"`
	DetailedMergeStatus string `json:"detailed_merge_status"`
	// PreparedAt is set once the backend has finished ingesting the latest
	// push; the commit list and mergeability fields are stale until then.
	PreparedAt string `json:"prepared_at"`
}

// Mergeable reports whether the backend considers this merge request
// mergeable right now. Only trust it on a freshly fetched record; the bulk
// list endpoint may return stale merge statuses.
func (m *MergeRequest) Mergeable() bool {
	return m.DetailedMergeStatus == MergeStatusMergeable
}

// Ref returns the short reference used to link this merge request from
// another one's description.
func (m *MergeRequest) Ref() string {
	return fmt.Sprintf("!%d", m.IID)
}

func (m *MergeRequest) validate() error {
	if m.IID == 0 {
		return fmt.Errorf("merge request response missing required field %q", "iid")
	}
	if m.WebURL == "" {
		return fmt.Errorf("merge request response missing required field %q", "web_url")
	}
	if m.SourceBranch == "" {
		return fmt.Errorf("merge request response missing required field %q", "source_branch")
	}
	return nil
}

// Pipeline is a CI run keyed by the sha it was triggered for.
type Pipeline struct {
	ID     int    `json:"id"`
	SHA    string `json:"sha"`
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

func (p *Pipeline) validate() error {
	if p.ID == 0 {
		return fmt.Errorf("pipeline response missing required field %q", "id")
	}
	if p.SHA == "" {
		return fmt.Errorf("pipeline response missing required field %q", "sha")
	}
	return nil
}

// APIError is a non-2xx response from the backend. The body is surfaced
// verbatim so the user sees the offending payload.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gitlab: %s %s: %d\n%s", e.Method, e.Path, e.StatusCode, e.Body)
}
