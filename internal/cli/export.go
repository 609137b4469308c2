package cli

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/codesync/internal/export"
	"github.com/roach88/codesync/internal/model"
)

// exportFS is swapped for an in-memory filesystem in tests.
var exportFS = afero.NewOsFs()

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkspaceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Write a workspace out as files",
		Long: `Write every folder and file of a workspace under <dir>, plus a
` + export.ManifestName + ` manifest holding the tree with node ids.

Example:
  codesync export ./out -w team-space
  codesync export ./out --db ./relay.db -w team-space`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := opts.fetch(cmd)
			if err != nil {
				return err
			}
			opts.formatter(cmd).VerboseLog("writing %s (%d contents) to %s", state.Workspace, len(state.Contents), args[0])
			res, err := export.Write(exportFS, args[0], state.Tree, state.Contents)
			if err != nil {
				return WrapExitError(ExitFailure, "export failed", err)
			}
			if opts.Format == "json" {
				return opts.formatter(cmd).SuccessIn(state.Workspace, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s: %d folders, %d files\n", state.Workspace, args[0], res.Folders, res.Files)
			writeExportNotes(cmd.OutOrStdout(), state.Tree, res)
			return nil
		},
	}

	opts.bind(cmd, true)
	return cmd
}

// writeExportNotes lists renamed and skipped nodes. Skipped nodes are shown
// by their path in the tree, since they have no path on disk.
func writeExportNotes(w io.Writer, tree []model.Node, res export.Result) {
	for _, p := range res.Renamed {
		fmt.Fprintf(w, "  renamed to avoid a clash: %s\n", p)
	}
	for _, id := range res.Skipped {
		where, ok := model.Path(tree, id)
		if !ok {
			where = "?"
		}
		fmt.Fprintf(w, "  skipped %q (node %s): name is not a valid path\n", where, id)
	}
}
