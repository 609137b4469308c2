package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/codesync/internal/projection"
	"github.com/roach88/codesync/internal/session"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	WorkspaceOptions
	NoSeed bool
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{WorkspaceOptions: WorkspaceOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a workspace and follow its changes",
		Long: `Join a workspace through the relay and print a line every time the
file tree changes or someone comes or goes.

If the workspace is empty after the first sync, the default project is
written into it unless --no-seed is given or the config disables seeding.

Example:
  codesync join
  codesync join -w team-space --relay wss://relay.example.com/ws --name Ada`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(opts, cmd)
		},
	}

	opts.bind(cmd, false)
	cmd.Flags().BoolVar(&opts.NoSeed, "no-seed", false, "never write the default project")

	return cmd
}

func runJoin(opts *JoinOptions, cmd *cobra.Command) error {
	cfg, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, errc, err := connect(ctx, cfg, cfg.Seed && !opts.NoSeed)
	if err != nil {
		return err
	}
	if err := waitSynced(s, errc, opts.Timeout); err != nil {
		cancel()
		<-s.Done()
		return err
	}

	f := opts.formatter(cmd)
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		w = f.GetErrWriter()
	}
	fmt.Fprintf(w, "Joined %s as %s. Press Ctrl-C to leave.\n", cfg.Workspace, s.Peers()[0].Name)

	updates := s.Projector().Updates()
	last := s.Projector().Snapshot()
	online := s.Online()
	printStatus(f, cfg.Workspace, last, online)

	// Presence changes do not produce document events, so poll the count.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			last = snap
			online = s.Online()
			printStatus(f, cfg.Workspace, last, online)
		case <-ticker.C:
			if n := s.Online(); n != online {
				online = n
				printStatus(f, cfg.Workspace, last, online)
			}
		case err := <-errc:
			if err == nil || isCancel(err) {
				slog.Info("left workspace", "workspace", cfg.Workspace)
				return nil
			}
			if errors.Is(err, session.ErrDisconnected) {
				return WrapExitError(ExitFailure, "relay went away", err)
			}
			return WrapExitError(ExitFailure, "session error", err)
		}
	}
}

type status struct {
	Seq    uint64 `json:"seq"`
	Files  int    `json:"files"`
	Online int    `json:"online"`
}

func (s status) String() string {
	return fmt.Sprintf("seq %d: %d files, %d online", s.Seq, s.Files, s.Online)
}

func printStatus(f *OutputFormatter, workspace string, snap projection.Snapshot, online int) {
	if err := f.SuccessIn(workspace, status{Seq: snap.Seq, Files: snap.FileCount(), Online: online}); err != nil {
		slog.Warn("write status", "error", err)
	}
}
