package cli

import (
	"github.com/spf13/cobra"

	"mrstack.dev/mrstack/internal/errors"
	"mrstack.dev/mrstack/internal/output"
	"mrstack.dev/mrstack/internal/runtime"
)

func newMergeCmd(splog *output.Splog) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "merge [remote] [branch]",
		Short: "Merge the approved prefix of the merge request chain",
		Long: `Merge walks the chain from the merge request targeting the final branch
and merges every consecutive mergeable request, retargeting each one to the
final branch first. The first blocked request stops the walk.`,
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

			merged, err := rt.Engine.Merge(cmd.Context())
			if err != nil {
				if errors.Is(err, errors.ErrNoMergeRequests) {
					splog.Warn("No open MRs found for %s.", rt.Config.TargetBranch)
					return errNoOp
				}
				if errors.Is(err, errors.ErrNothingMergeable) {
					// The engine already explained which MR is blocking.
					return errNoOp
				}
				return err
			}

			splog.Newline()
			if dryRun {
				splog.Info("Would merge %d MRs into %s.", merged, rt.Config.TargetBranch)
				return nil
			}
			splog.Success("SUCCESS")
			splog.Newline()
			splog.Info("Merged %d MRs into %s.", merged, rt.Config.TargetBranch)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show which MRs would merge without merging")

	return cmd
}
