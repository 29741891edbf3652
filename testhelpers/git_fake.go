package testhelpers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"mrstack.dev/mrstack/internal/git"
	"mrstack.dev/mrstack/internal/output"
)

// FakeRepo is an in-memory git.Repository. Pushes update the remote refs and
// are observed by the linked backend, the way GitLab observes a real push.
type FakeRepo struct {
	Log     *CallLog
	Backend *FakeBackend

	// Branch is the checked-out branch. Empty means detached HEAD.
	Branch string

	// Ahead holds the commits on Branch ahead of the remote final branch,
	// newest first, matching the walk order of a real repository.
	Ahead []git.Commit

	// Messages maps shas outside Ahead to commit messages, for pipeline
	// commits at superseded revisions.
	Messages map[string]string

	// RemoteRefs maps branch name to the sha currently on the remote.
	RemoteRefs map[string]string

	URL     string
	PushErr error
	Fetched int
}

// NewFakeRepo creates a repo on branch "main" linked to the backend.
func NewFakeRepo(log *CallLog, backend *FakeBackend) *FakeRepo {
	return &FakeRepo{
		Log:        log,
		Backend:    backend,
		Branch:     "main",
		Messages:   map[string]string{},
		RemoteRefs: map[string]string{},
		URL:        "git@gitlab.example.com:group/repo.git",
	}
}

// NewFixture wires a repo, a backend, and a shared call log together.
func NewFixture() (*FakeRepo, *FakeBackend, *CallLog) {
	log := &CallLog{}
	backend := NewFakeBackend(log)
	repo := NewFakeRepo(log, backend)
	return repo, backend, log
}

// NewTestSplog returns a logger that discards console output.
func NewTestSplog() *output.Splog {
	splog, _ := output.NewSplogWithConfig(io.Discard, "")
	return splog
}

// CommitMessage builds a commit message with a Change-Id trailer.
func CommitMessage(title, changeID string) string {
	return fmt.Sprintf("%s\n\nChange-Id: %s\n", title, changeID)
}

func (r *FakeRepo) CurrentBranch() (string, error) {
	if r.Branch == "" {
		return "", fmt.Errorf("HEAD is detached")
	}
	return r.Branch, nil
}

func (r *FakeRepo) Fetch(_ context.Context, remote string) error {
	r.Fetched++
	return nil
}

func (r *FakeRepo) CommitsAhead(_, _, _ string) ([]git.Commit, error) {
	out := make([]git.Commit, len(r.Ahead))
	copy(out, r.Ahead)
	return out, nil
}

func (r *FakeRepo) CommitMessage(sha string) (string, error) {
	for _, c := range r.Ahead {
		if c.SHA == sha {
			return c.Message, nil
		}
	}
	if msg, ok := r.Messages[sha]; ok {
		return msg, nil
	}
	return "", fmt.Errorf("unknown commit %s", sha)
}

func (r *FakeRepo) HasRemoteRef(_, branch string) bool {
	_, ok := r.RemoteRefs[branch]
	return ok
}

func (r *FakeRepo) RemoteRefSHA(_, branch string) string {
	return r.RemoteRefs[branch]
}

func (r *FakeRepo) Push(_ context.Context, remote string, refspecs []git.Refspec) error {
	if len(refspecs) == 0 {
		return nil
	}
	specs := make([]string, len(refspecs))
	for i, spec := range refspecs {
		specs[i] = spec.Branch
	}
	r.Log.record("push %s", strings.Join(specs, " "))
	if r.PushErr != nil {
		return r.PushErr
	}
	for _, spec := range refspecs {
		r.RemoteRefs[spec.Branch] = spec.SHA
		if r.Backend != nil {
			r.Backend.observePush(spec.Branch, spec.SHA)
		}
	}
	return nil
}

func (r *FakeRepo) RemoteURL(_ string) (string, error) {
	return r.URL, nil
}

func (r *FakeRepo) ConfigValue(_, _ string) string {
	return ""
}
