package cli

import (
	"github.com/spf13/cobra"

	"mrstack.dev/mrstack/internal/engine"
	"mrstack.dev/mrstack/internal/errors"
	"mrstack.dev/mrstack/internal/gitlab"
	"mrstack.dev/mrstack/internal/output"
	"mrstack.dev/mrstack/internal/runtime"
	"mrstack.dev/mrstack/internal/tui"
)

func newSubmitCmd(splog *output.Splog, yes *bool) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "submit [remote] [branch]",
		Short: "Create or update the merge request chain for pending commits",
		Long: `Submit turns every local commit ahead of the remote target branch into a
merge request, one per commit, each targeting the one below it. Re-running
after an amend or rebase updates the existing chain in place.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runtime.SetupOptions{DryRun: dryRun}
			if len(args) > 0 {
				opts.RemoteName = args[0]
			}
			if len(args) > 1 {
				opts.LocalBranch = args[1]
			}

			rt, err := runtime.Setup(cmd.Context(), splog, opts)
			if err != nil {
				return err
			}

			plan, err := rt.Engine.Plan(cmd.Context())
			if err != nil {
				if errors.Is(err, errors.ErrNoPendingCommits) {
					splog.Warn("No local commits ahead of %s/%s.",
						rt.Config.RemoteName, rt.Config.TargetBranch)
					return errNoOp
				}
				return err
			}

			splog.Info("%s", output.AccentStyle().Render("Commits to be reviewed:"))
			for _, entry := range plan {
				splog.Info("* %s %s", entry.Commit.SHA[:8], entry.Title())
			}
			splog.Newline()

			if !*yes && !dryRun {
				confirmed, err := tui.Confirm("Submit these commits for review?")
				if err != nil {
					return err
				}
				if !confirmed {
					return nil
				}
			}

			result, err := rt.Engine.Reconcile(cmd.Context(), plan)
			if err != nil {
				return err
			}

			if dryRun {
				reportDryRun(splog, plan)
				return nil
			}

			if err := tui.WithSpinner(splog, "Waiting for GitLab to process the push...", func() error {
				return rt.Engine.WaitForStabilization(cmd.Context(), plan)
			}); err != nil {
				return err
			}

			reportResult(splog, rt, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without touching GitLab")

	return cmd
}

func reportDryRun(splog *output.Splog, plan []*engine.Entry) {
	for _, entry := range plan {
		switch {
		case entry.Created:
			splog.Info("Would create an MR for %s -> %s", entry.SourceBranch, entry.TargetBranch)
		case entry.Updated:
			splog.Info("Would update %s (%s -> %s)", entry.Request.Ref(), entry.SourceBranch, entry.TargetBranch)
		default:
			splog.Info("Up to date: %s (%s -> %s)", entry.Request.Ref(), entry.SourceBranch, entry.TargetBranch)
		}
	}
}

func reportResult(splog *output.Splog, rt *runtime.Context, result *engine.Result) {
	splog.Newline()
	if len(result.Created) == 0 && len(result.Updated) == 0 {
		splog.Info("All merge requests are up to date.")
		return
	}

	splog.Success("SUCCESS")
	splog.Newline()

	if len(result.Updated) > 0 {
		splog.Info("Updated MRs:")
		for _, mr := range result.Updated {
			printMergeRequest(splog, mr)
		}
		splog.Newline()
	}
	if len(result.Created) > 0 {
		splog.Info("New MRs:")
		for _, mr := range result.Created {
			printMergeRequest(splog, mr)
		}
		splog.Newline()
	}

	if url, err := rt.Repo.RemoteURL(rt.Config.RemoteName); err == nil {
		splog.Info("To %s", url)
	}
}

func printMergeRequest(splog *output.Splog, mr *gitlab.MergeRequest) {
	splog.Info("* %s %s", mr.WebURL, mr.Title)
	splog.Info("    %s -> %s", mr.SourceBranch, mr.TargetBranch)
}
