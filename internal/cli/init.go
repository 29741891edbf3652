package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mrstack.dev/mrstack/internal/git"
	"mrstack.dev/mrstack/internal/output"
)

// commitMsgHook appends a Change-Id trailer to new commit messages. It skips
// messages that already carry one, so amend and rebase keep the original id.
const commitMsgHook = `#!/bin/sh
# Installed by mrstack init. Adds a Change-Id trailer to new commits.
if ! grep -q '^Change-Id:' "$1"; then
    printf '\nChange-Id: %s\n' "$(mrstack change-id)" >> "$1"
fi
`

func newInitCmd(splog *output.Splog) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Install the commit-msg hook that stamps Change-Id trailers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			repo, err := git.Open(".")
			if err != nil {
				return err
			}

			hookPath := filepath.Join(repo.GitDir(), "hooks", "commit-msg")
			if _, err := os.Stat(hookPath); err == nil {
				splog.Info("commit-msg hook already installed at %s", hookPath)
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(hookPath), 0750); err != nil {
				return fmt.Errorf("creating hooks directory: %w", err)
			}
			if err := os.WriteFile(hookPath, []byte(commitMsgHook), 0755); err != nil {
				return fmt.Errorf("writing commit-msg hook: %w", err)
			}

			splog.Success("Installed commit-msg hook")
			splog.Info("New commits will carry a Change-Id trailer at %s", hookPath)
			return nil
		},
	}
}
