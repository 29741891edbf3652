package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
)

const listPageSize = 50

// CreateMROptions contains the fields for creating a merge request
type CreateMROptions struct {
	SourceBranch       string `json:"source_branch"`
	TargetBranch       string `json:"target_branch"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	RemoveSourceBranch bool   `json:"remove_source_branch"`
}

// UpdateMROptions contains the fields for updating a merge request.
// Nil fields are left untouched.
type UpdateMROptions struct {
	TargetBranch *string `json:"target_branch,omitempty"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	StateEvent   *string `json:"state_event,omitempty"`
}

// Client is the interface the engine uses to talk to the review backend.
type Client interface {
	// ListOpenMergeRequests returns every open merge request created by the
	// token's user, across all pages.
	ListOpenMergeRequests(ctx context.Context) ([]*MergeRequest, error)

	// CreateMergeRequest creates a merge request. The source branch does not
	// need to exist yet; code is pushed afterwards.
	CreateMergeRequest(ctx context.Context, opts CreateMROptions) (*MergeRequest, error)

	// UpdateMergeRequest updates fields on a merge request and returns the
	// refreshed record.
	UpdateMergeRequest(ctx context.Context, iid int, opts UpdateMROptions) (*MergeRequest, error)

	// GetMergeRequest fetches a single merge request, including its current
	// mergeability, head sha, and prepared timestamp.
	GetMergeRequest(ctx context.Context, iid int) (*MergeRequest, error)

	// MergeMergeRequest issues a single merge attempt. A *APIError with a
	// non-success status is a valid transient state while merge checks run.
	MergeMergeRequest(ctx context.Context, iid int) error

	// ApproveMergeRequest approves a merge request, optionally pinned to a sha.
	ApproveMergeRequest(ctx context.Context, iid int, sha string) error

	// CloseMergeRequest closes a merge request without merging it.
	CloseMergeRequest(ctx context.Context, iid int) error

	// DeleteMergeRequest deletes a merge request.
	DeleteMergeRequest(ctx context.Context, iid int) error

	// ListPipelines returns the project's pipelines with any of the given
	// statuses.
	ListPipelines(ctx context.Context, statuses ...string) ([]*Pipeline, error)

	// CancelPipeline cancels a pipeline by id.
	CancelPipeline(ctx context.Context, id int) error
}

// privateTokenTransport adds the PRIVATE-TOKEN header GitLab expects for
// personal access tokens.
type privateTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *privateTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("PRIVATE-TOKEN", t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// ClientOptions configures a project-scoped GitLab client.
type ClientOptions struct {
	// HostURL is the base URL of the GitLab host, e.g. "https://gitlab.com".
	HostURL string
	// ProjectPath is the URL-encoded project path, e.g. "group%2Frepo".
	ProjectPath string
	// Token authenticates every request.
	Token string
	// OAuth selects bearer authentication instead of the PRIVATE-TOKEN
	// header, for tokens issued via the OAuth flow.
	OAuth bool
}

// httpClient implements Client against the GitLab v4 REST API.
type httpClient struct {
	projectURL string
	client     *http.Client
}

// NewClient creates a Client for a single project.
func NewClient(ctx context.Context, opts ClientOptions) (Client, error) {
	if opts.HostURL == "" || opts.ProjectPath == "" {
		return nil, fmt.Errorf("gitlab client requires a host URL and project path")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("gitlab client requires a token")
	}

	var hc *http.Client
	if opts.OAuth {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: opts.Token,
		}))
	} else {
		hc = &http.Client{Transport: &privateTokenTransport{token: opts.Token}}
	}

	return &httpClient{
		projectURL: fmt.Sprintf("%s/api/v4/projects/%s", opts.HostURL, opts.ProjectPath),
		client:     hc,
	}, nil
}

// do issues a request and decodes the JSON response into out (if non-nil).
// Non-2xx responses become *APIError with the body preserved verbatim.
func (c *httpClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.projectURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gitlab: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gitlab: %s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("gitlab: %s %s: decoding response: %w", method, path, err)
		}
	}
	return nil
}

func (c *httpClient) ListOpenMergeRequests(ctx context.Context) ([]*MergeRequest, error) {
	var results []*MergeRequest
	for page := 1; ; page++ {
		query := url.Values{
			"state":    {StateOpened},
			"scope":    {"created_by_me"},
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(listPageSize)},
		}
		var batch []*MergeRequest
		if err := c.do(ctx, http.MethodGet, "/merge_requests?"+query.Encode(), nil, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, mr := range batch {
			if err := mr.validate(); err != nil {
				return nil, err
			}
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (c *httpClient) CreateMergeRequest(ctx context.Context, opts CreateMROptions) (*MergeRequest, error) {
	var mr MergeRequest
	if err := c.do(ctx, http.MethodPost, "/merge_requests", opts, &mr); err != nil {
		return nil, err
	}
	if err := mr.validate(); err != nil {
		return nil, err
	}
	return &mr, nil
}

func (c *httpClient) UpdateMergeRequest(ctx context.Context, iid int, opts UpdateMROptions) (*MergeRequest, error) {
	var mr MergeRequest
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/merge_requests/%d", iid), opts, &mr); err != nil {
		return nil, err
	}
	if err := mr.validate(); err != nil {
		return nil, err
	}
	return &mr, nil
}

func (c *httpClient) GetMergeRequest(ctx context.Context, iid int) (*MergeRequest, error) {
	var mr MergeRequest
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/merge_requests/%d", iid), nil, &mr); err != nil {
		return nil, err
	}
	if err := mr.validate(); err != nil {
		return nil, err
	}
	return &mr, nil
}

func (c *httpClient) MergeMergeRequest(ctx context.Context, iid int) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/merge_requests/%d/merge", iid), nil, nil)
}

func (c *httpClient) ApproveMergeRequest(ctx context.Context, iid int, sha string) error {
	path := fmt.Sprintf("/merge_requests/%d/approve", iid)
	if sha != "" {
		path += "?sha=" + url.QueryEscape(sha)
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *httpClient) CloseMergeRequest(ctx context.Context, iid int) error {
	closed := "close"
	_, err := c.UpdateMergeRequest(ctx, iid, UpdateMROptions{StateEvent: &closed})
	return err
}

func (c *httpClient) DeleteMergeRequest(ctx context.Context, iid int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/merge_requests/%d", iid), nil, nil)
}

func (c *httpClient) ListPipelines(ctx context.Context, statuses ...string) ([]*Pipeline, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	var pipelines []*Pipeline
	if err := c.do(ctx, http.MethodGet, "/pipelines?"+query.Encode(), nil, &pipelines); err != nil {
		return nil, err
	}
	for _, p := range pipelines {
		if err := p.validate(); err != nil {
			return nil, err
		}
	}
	return pipelines, nil
}

func (c *httpClient) CancelPipeline(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/pipelines/%d/cancel", id), nil, nil)
}
