package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mrstack.dev/mrstack/internal/engine"
	"mrstack.dev/mrstack/internal/errors"
	"mrstack.dev/mrstack/internal/git"
	"mrstack.dev/mrstack/internal/gitlab"
	"mrstack.dev/mrstack/testhelpers"
)

const (
	idA = "Iaaaaaaaa00000000000000000000000000000000"
	idB = "Ibbbbbbbb00000000000000000000000000000000"
	idC = "Icccccccc00000000000000000000000000000000"

	shaA = "1111111111111111111111111111111111111111"
	shaB = "2222222222222222222222222222222222222222"
	shaC = "3333333333333333333333333333333333333333"
)

// newEngine wires a fixture engine with tight, deterministic timing.
func newEngine(repo *testhelpers.FakeRepo, backend *testhelpers.FakeBackend, mutate ...func(*engine.Options)) *engine.Engine {
	opts := engine.Options{
		RemoteName:            "origin",
		FinalBranch:           "main",
		LocalBranch:           "master",
		RemoveSourceBranch:    true,
		StabilizePollInterval: time.Millisecond,
		StabilizeTimeout:      5 * time.Second,
		MergeRetryDelay:       time.Millisecond,
		MergeRetryLimit:       10,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return engine.New(repo, backend, testhelpers.NewTestSplog(), opts)
}

// threeCommits loads the repo with three pending commits, newest first, the
// order a real walk returns them in.
func threeCommits(repo *testhelpers.FakeRepo) {
	repo.Ahead = []git.Commit{
		{SHA: shaC, Message: testhelpers.CommitMessage("Third change", idC)},
		{SHA: shaB, Message: testhelpers.CommitMessage("Second change", idB)},
		{SHA: shaA, Message: testhelpers.CommitMessage("First change", idA)},
	}
}

func TestBuildPlan(t *testing.T) {
	t.Run("orders entries oldest first and chains targets", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, repo.Fetched)
		require.Len(t, plan, 3)

		require.Equal(t, shaA, plan[0].Commit.SHA)
		require.Equal(t, "main-aaaaaaaa", plan[0].SourceBranch)
		require.Equal(t, "main", plan[0].TargetBranch)

		require.Equal(t, "main-bbbbbbbb", plan[1].SourceBranch)
		require.Equal(t, "main-aaaaaaaa", plan[1].TargetBranch)

		require.Equal(t, "main-cccccccc", plan[2].SourceBranch)
		require.Equal(t, "main-bbbbbbbb", plan[2].TargetBranch)

		require.Equal(t, "First change", plan[0].Title())
	})

	t.Run("no pending commits", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		e := newEngine(repo, backend)

		_, err := e.Plan(context.Background())
		require.ErrorIs(t, err, errors.ErrNoPendingCommits)
	})

	t.Run("commit without a Change-Id is fatal", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		repo.Ahead = []git.Commit{{SHA: shaA, Message: "No trailer here\n"}}
		e := newEngine(repo, backend)

		_, err := e.Plan(context.Background())
		require.Error(t, err)

		var missing *errors.MissingChangeIDError
		require.True(t, errors.As(err, &missing))
	})
}

func TestReconcile(t *testing.T) {
	t.Run("creates the full chain and pushes once", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		result, err := e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Len(t, result.Created, 3)
		require.Empty(t, result.Updated)
		require.Len(t, result.Pushed, 3)

		// Creation runs root to tip.
		require.Equal(t, "create main-aaaaaaaa -> main", log.Calls[0])
		require.Equal(t, "create main-bbbbbbbb -> main-aaaaaaaa", log.Calls[1])
		require.Equal(t, "create main-cccccccc -> main-bbbbbbbb", log.Calls[2])

		// Exactly one push, and nothing after it but pipeline work.
		var pushes []string
		for _, call := range log.Calls {
			if strings.HasPrefix(call, "push ") {
				pushes = append(pushes, call)
			}
		}
		require.Len(t, pushes, 1)
		require.Equal(t, "push main-aaaaaaaa main-bbbbbbbb main-cccccccc", pushes[0])
		require.Equal(t, pushes[0], log.Calls[len(log.Calls)-1])

		// The push moved the remote refs.
		require.Equal(t, shaA, repo.RemoteRefs["main-aaaaaaaa"])
		require.Equal(t, shaC, repo.RemoteRefs["main-cccccccc"])
	})

	t.Run("every update lands before the push", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		pushAt := -1
		for i, call := range log.Calls {
			if strings.HasPrefix(call, "push ") {
				pushAt = i
			}
		}
		require.GreaterOrEqual(t, pushAt, 0)
		for i, call := range log.Calls {
			if strings.HasPrefix(call, "create ") || strings.HasPrefix(call, "update ") {
				require.Less(t, i, pushAt, "mutation %q after the push", call)
			}
		}
	})

	t.Run("cross-links every request in the chain", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		desc := backend.MR(plan[0].Request.IID).Description
		require.Contains(t, desc, "Related merge requests:")
		require.Contains(t, desc, "!1 First change (this MR)")
		require.Contains(t, desc, "!2 Second change")
		require.Contains(t, desc, "!3 Third change")

		// The marker moves with the entry.
		desc = backend.MR(plan[2].Request.IID).Description
		require.Contains(t, desc, "!3 Third change (this MR)")
		require.NotContains(t, desc, "!1 First change (this MR)")
	})

	t.Run("single commit gets no cross-link block", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		repo.Ahead = []git.Commit{
			{SHA: shaA, Message: testhelpers.CommitMessage("Only change", idA)},
		}
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		result, err := e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Len(t, result.Created, 1)
		require.NotContains(t, backend.MR(1).Description, "Related merge requests")
	})

	t.Run("second run is a no-op apart from the push", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		log.Reset()
		plan, err = e.Plan(context.Background())
		require.NoError(t, err)
		result, err := e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Empty(t, result.Created)
		require.Empty(t, result.Updated)
		// The push always runs; with identical shas it is a remote no-op.
		require.Equal(t, []string{"push main-aaaaaaaa main-bbbbbbbb main-cccccccc"}, log.Calls)
		require.Equal(t, 3, backend.OpenCount())
	})

	t.Run("amended commit updates in place", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		// Amend the middle commit: same Change-Id, new sha and title.
		oldMessage := repo.Ahead[1].Message
		amendedSHA := "4444444444444444444444444444444444444444"
		repo.Ahead[1] = git.Commit{SHA: amendedSHA, Message: testhelpers.CommitMessage("Second change, reworked", idB)}
		repo.Messages[shaB] = oldMessage

		log.Reset()
		plan, err = e.Plan(context.Background())
		require.NoError(t, err)
		result, err := e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Empty(t, result.Created)
		// The amended request changes, and so do its neighbors: their
		// cross-link blocks carry the amended title.
		require.Len(t, result.Updated, 3)
		require.Equal(t, "Second change, reworked", backend.MR(2).Title)
		require.Equal(t, amendedSHA, repo.RemoteRefs["main-bbbbbbbb"])

		// The amended title propagates into every description's link block.
		require.Contains(t, backend.MR(1).Description, "Second change, reworked")
	})

	t.Run("sha move alone still counts as updated", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		repo.Ahead = []git.Commit{
			{SHA: shaA, Message: testhelpers.CommitMessage("Only change", idA)},
		}
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		// Rebase without message changes: new sha, identical fields.
		rebasedSHA := "5555555555555555555555555555555555555555"
		repo.Messages[shaA] = repo.Ahead[0].Message
		repo.Ahead[0].SHA = rebasedSHA

		log.Reset()
		plan, err = e.Plan(context.Background())
		require.NoError(t, err)
		result, err := e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Len(t, result.Updated, 1)
		for _, call := range log.Calls {
			require.NotContains(t, call, "update", "no field changed, no API update expected")
		}
	})

	t.Run("adding a commit on top extends the chain", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		repo.Ahead = []git.Commit{
			{SHA: shaA, Message: testhelpers.CommitMessage("First change", idA)},
		}
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		repo.Ahead = []git.Commit{
			{SHA: shaB, Message: testhelpers.CommitMessage("Second change", idB)},
			{SHA: shaA, Message: testhelpers.CommitMessage("First change", idA)},
		}

		log.Reset()
		plan, err = e.Plan(context.Background())
		require.NoError(t, err)
		result, err := e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Len(t, result.Created, 1)
		require.Equal(t, "main-aaaaaaaa", backend.MR(2).TargetBranch)
		// The existing request gained the cross-link block.
		require.Contains(t, backend.MR(1).Description, "Related merge requests:")
		require.Len(t, result.Updated, 1)
	})

	t.Run("dry run mutates nothing", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		threeCommits(repo)
		backend.SeedMergeRequest("main-aaaaaaaa", "main", "First change", "", shaA)
		e := newEngine(repo, backend, func(o *engine.Options) { o.DryRun = true })

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		result, err := e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Empty(t, log.Calls)
		require.Equal(t, 1, backend.OpenCount())
		require.False(t, plan[0].Created)
		require.True(t, plan[1].Created)
		require.True(t, plan[2].Created)
		require.Empty(t, result.Pushed)
	})

	t.Run("creation failure aborts before the push", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		backend.ListErr = &gitlab.APIError{Method: "GET", StatusCode: 500, Body: "boom"}

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.Error(t, err)

		for _, call := range log.Calls {
			require.False(t, strings.HasPrefix(call, "push "), "must not push after a failure")
		}
	})
}

func TestCancelStalePipelines(t *testing.T) {
	t.Run("cancels runs at superseded revisions", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		oldMessage := repo.Ahead[1].Message
		amendedSHA := "4444444444444444444444444444444444444444"
		repo.Ahead[1] = git.Commit{SHA: amendedSHA, Message: testhelpers.CommitMessage("Second change v2", idB)}
		repo.Messages[shaB] = oldMessage

		backend.Pipelines = []*gitlab.Pipeline{
			// Running at the superseded revision: cancel.
			{ID: 71, SHA: shaB, Ref: "main-bbbbbbbb", Status: gitlab.PipelineRunning},
			// Running at the new revision: keep.
			{ID: 72, SHA: amendedSHA, Ref: "main-bbbbbbbb", Status: gitlab.PipelinePending},
			// Running for an untouched change: keep.
			{ID: 73, SHA: shaA, Ref: "main-aaaaaaaa", Status: gitlab.PipelineRunning},
			// Already finished: not even listed.
			{ID: 74, SHA: shaB, Ref: "main-bbbbbbbb", Status: gitlab.PipelineSuccess},
		}

		plan, err = e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Equal(t, []int{71}, backend.Cancelled)
	})

	t.Run("unreadable pipeline commits are skipped", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		repo.Ahead = []git.Commit{
			{SHA: shaA, Message: testhelpers.CommitMessage("Only change", idA)},
		}
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		repo.Messages[shaA] = repo.Ahead[0].Message
		repo.Ahead[0].SHA = "5555555555555555555555555555555555555555"
		backend.Pipelines = []*gitlab.Pipeline{
			// Pipeline for a commit this clone has never seen.
			{ID: 81, SHA: "6666666666666666666666666666666666666666", Ref: "x", Status: gitlab.PipelineRunning},
		}

		plan, err = e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.Empty(t, backend.Cancelled)
	})
}

func TestWaitForStabilization(t *testing.T) {
	t.Run("converges once the push is ingested", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		threeCommits(repo)
		e := newEngine(repo, backend)

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		require.NoError(t, e.WaitForStabilization(context.Background(), plan))
		for _, entry := range plan {
			require.Equal(t, entry.Commit.SHA, entry.Request.SHA)
			require.NotEmpty(t, entry.Request.PreparedAt)
		}
	})

	t.Run("times out when the backend never prepares", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		threeCommits(repo)
		backend.StallPreparation = true
		e := newEngine(repo, backend, func(o *engine.Options) {
			o.StabilizeTimeout = 20 * time.Millisecond
		})

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		err = e.WaitForStabilization(context.Background(), plan)
		require.ErrorIs(t, err, errors.ErrStabilizeTimeout)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		threeCommits(repo)
		backend.StallPreparation = true
		e := newEngine(repo, backend, func(o *engine.Options) {
			o.StabilizeTimeout = 0 // unbounded
		})

		plan, err := e.Plan(context.Background())
		require.NoError(t, err)
		_, err = e.Reconcile(context.Background(), plan)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err = e.WaitForStabilization(ctx, plan)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// seedChain installs the canonical three-request chain directly on the
// backend, the state left behind by a previous submit.
func seedChain(backend *testhelpers.FakeBackend) {
	backend.SeedMergeRequest("main-aaaaaaaa", "main", "First change", "", shaA)
	backend.SeedMergeRequest("main-bbbbbbbb", "main-aaaaaaaa", "Second change", "", shaB)
	backend.SeedMergeRequest("main-cccccccc", "main-bbbbbbbb", "Third change", "", shaC)
}

func TestMerge(t *testing.T) {
	t.Run("no merge requests at all", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		e := newEngine(repo, backend)

		_, err := e.Merge(context.Background())
		require.ErrorIs(t, err, errors.ErrNoMergeRequests)
	})

	t.Run("nothing targets the final branch", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		backend.SeedMergeRequest("main-aaaaaaaa", "develop", "Stray", "", shaA)
		e := newEngine(repo, backend)

		_, err := e.Merge(context.Background())
		require.ErrorIs(t, err, errors.ErrNoMergeRequests)
	})

	t.Run("merges the whole chain in order", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		seedChain(backend)
		e := newEngine(repo, backend)

		merged, err := e.Merge(context.Background())
		require.NoError(t, err)
		require.Equal(t, 3, merged)
		require.Equal(t, []int{1, 2, 3}, backend.Merged)

		// Stacked requests are retargeted to the final branch before their
		// merge; the root already targets it.
		require.Equal(t, []string{
			"merge !1",
			"update !2",
			"merge !2",
			"update !3",
			"merge !3",
		}, log.Calls)
	})

	t.Run("retargets each request before merging it", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		seedChain(backend)
		e := newEngine(repo, backend)

		_, err := e.Merge(context.Background())
		require.NoError(t, err)

		indexOf := func(call string) int {
			for i, c := range log.Calls {
				if c == call {
					return i
				}
			}
			return -1
		}
		require.NotContains(t, log.Calls, "update !1", "root already targets main")
		require.Less(t, indexOf("merge !1"), indexOf("update !2"))
		require.Less(t, indexOf("update !2"), indexOf("merge !2"))
		require.Less(t, indexOf("update !3"), indexOf("merge !3"))
		require.Equal(t, "main", backend.MR(2).TargetBranch)
		require.Equal(t, "main", backend.MR(3).TargetBranch)
	})

	t.Run("stops at the first blocked request", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		seedChain(backend)
		backend.MergeStatuses[2] = "ci_still_running"
		e := newEngine(repo, backend)

		merged, err := e.Merge(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, merged)
		require.Equal(t, []int{1}, backend.Merged)
		// The mergeable request above the blocked one stays open.
		require.Equal(t, gitlab.StateOpened, backend.MR(3).State)
	})

	t.Run("blocked root means nothing merges", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		seedChain(backend)
		backend.MergeStatuses[1] = "not_approved"
		e := newEngine(repo, backend)

		_, err := e.Merge(context.Background())
		require.ErrorIs(t, err, errors.ErrNothingMergeable)
		require.Empty(t, backend.Merged)
	})

	t.Run("chain order follows targets not iids", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		// Seeded tip first: !1 stacks on !2.
		backend.SeedMergeRequest("main-bbbbbbbb", "main-aaaaaaaa", "Second change", "", shaB)
		backend.SeedMergeRequest("main-aaaaaaaa", "main", "First change", "", shaA)
		e := newEngine(repo, backend)

		merged, err := e.Merge(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, merged)
		require.Equal(t, []int{2, 1}, backend.Merged)
	})

	t.Run("retries transient merge failures", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		backend.SeedMergeRequest("main-aaaaaaaa", "main", "First change", "", shaA)
		backend.MergeFailures[1] = 2
		e := newEngine(repo, backend)

		merged, err := e.Merge(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, merged)

		attempts := 0
		for _, call := range log.Calls {
			if call == "merge !1" {
				attempts++
			}
		}
		require.Equal(t, 3, attempts)
	})

	t.Run("retry limit surfaces the backend error", func(t *testing.T) {
		repo, backend, _ := testhelpers.NewFixture()
		backend.SeedMergeRequest("main-aaaaaaaa", "main", "First change", "", shaA)
		backend.MergeFailures[1] = 100
		e := newEngine(repo, backend, func(o *engine.Options) { o.MergeRetryLimit = 3 })

		_, err := e.Merge(context.Background())
		require.Error(t, err)

		var apiErr *gitlab.APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, 405, apiErr.StatusCode)
	})

	t.Run("dry run reports the prefix without merging", func(t *testing.T) {
		repo, backend, log := testhelpers.NewFixture()
		seedChain(backend)
		backend.MergeStatuses[3] = "ci_still_running"
		e := newEngine(repo, backend, func(o *engine.Options) { o.DryRun = true })

		merged, err := e.Merge(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, merged)
		require.Empty(t, backend.Merged)
		require.Empty(t, log.Calls)
	})
}
