package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/codesync/internal/model"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkspaceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print a workspace's file tree",
		Long: `Print the file tree of a workspace.

The tree is read from the relay, or from a relay database with --db. With
--format json the output also carries every file's content.

Example:
  codesync snapshot -w team-space
  codesync snapshot --db ./relay.db -w team-space --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := opts.fetch(cmd)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.formatter(cmd).SuccessIn(state.Workspace, state)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%d files)\n", state.Workspace, len(model.FileIDs(state.Tree)))
			writeTree(w, state.Tree, 1)
			return nil
		},
	}

	opts.bind(cmd, true)
	return cmd
}
