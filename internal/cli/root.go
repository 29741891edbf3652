// Package cli defines the mrstack command tree.
package cli

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/spf13/cobra"

	"mrstack.dev/mrstack/internal/errors"
	"mrstack.dev/mrstack/internal/output"
)

// errNoOp marks recoverable no-op outcomes (nothing pending, nothing
// mergeable). The command already explained itself with a warning; the
// process still exits non-zero so scripts can tell a no-op from a success.
var errNoOp = stderrors.New("nothing to do")

// NewRootCmd creates the root cobra command
func NewRootCmd(splog *output.Splog, version string) *cobra.Command {
	var debug bool
	var yes bool

	rootCmd := &cobra.Command{
		Use:   "mrstack",
		Short: "Gerrit-style stacked merge requests for GitLab",
		Long: `mrstack keeps a stack of local commits in sync with a chain of GitLab
merge requests, one MR per commit, each targeting the one below it. Reviews
can be approved and merged independently while preserving their order.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			splog.SetDebug(debug)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompts")

	rootCmd.AddCommand(newSubmitCmd(splog, &yes))
	rootCmd.AddCommand(newMergeCmd(splog))
	rootCmd.AddCommand(newInitCmd(splog))
	rootCmd.AddCommand(newChangeIDCmd())
	rootCmd.AddCommand(newVersionCmd(version))

	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	splog, err := output.NewSplogWithConfig(os.Stdout, output.LogFilePath())
	if err != nil {
		splog = output.NewSplog()
	}
	defer func() { _ = splog.Close() }()

	rootCmd := NewRootCmd(splog, version)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errNoOp) {
			splog.Error("%v", err)
		}
		return 1
	}
	return 0
}
