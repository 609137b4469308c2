package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/codesync/internal/config"
	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/model"
	"github.com/roach88/codesync/internal/presence"
	"github.com/roach88/codesync/internal/session"
	"github.com/roach88/codesync/internal/store"
	"github.com/roach88/codesync/internal/templates"
	"github.com/roach88/codesync/internal/transport"
)

// WorkspaceOptions holds flags for commands that act on one workspace.
type WorkspaceOptions struct {
	*RootOptions
	Workspace string
	Relay     string
	Name      string
	Timeout   time.Duration
	// Database reads the workspace from a relay's SQLite log instead of
	// connecting. Only snapshot and export offer it.
	Database string
}

func (o *WorkspaceOptions) bind(cmd *cobra.Command, offline bool) {
	cmd.Flags().StringVarP(&o.Workspace, "workspace", "w", "", "workspace id (default from config)")
	cmd.Flags().StringVar(&o.Relay, "relay", "", "relay websocket url (default from config)")
	cmd.Flags().StringVar(&o.Name, "name", "", "display name shown to other sessions")
	cmd.Flags().DurationVar(&o.Timeout, "timeout", 10*time.Second, "how long to wait for the initial sync")
	if offline {
		cmd.Flags().StringVar(&o.Database, "db", "", "read from a relay database instead of connecting")
	}
}

// settings loads the config file and applies flag overrides.
func (o *WorkspaceOptions) settings(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cmd.Flags().Changed("workspace") {
		cfg.Workspace = o.Workspace
	}
	if cmd.Flags().Changed("relay") {
		cfg.Relay = o.Relay
	}
	if cmd.Flags().Changed("name") {
		cfg.Name = o.Name
	}
	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid settings", err)
	}
	return cfg, nil
}

func identity(cfg config.Config) presence.Identity {
	id := presence.RandomIdentity(rand.New(rand.NewSource(time.Now().UnixNano())))
	if cfg.Name != "" {
		id.Name = cfg.Name
	}
	if cfg.Color != "" {
		id.Color = cfg.Color
	}
	return id
}

// connect dials the relay and starts a session. The returned channel
// yields Run's result.
func connect(ctx context.Context, cfg config.Config, seed bool) (*session.Session, <-chan error, error) {
	conn, err := transport.Dial(ctx, cfg.Relay, transport.DefaultSettings())
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to connect to relay", err)
	}
	s := session.New(conn, session.Options{
		Workspace:   cfg.Workspace,
		Token:       cfg.Token,
		Identity:    identity(cfg),
		Heartbeat:   cfg.Heartbeat,
		PresenceTTL: cfg.PresenceTTL,
		Seed:        seed,
	})
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	return s, errc, nil
}

func waitSynced(s *session.Session, errc <-chan error, timeout time.Duration) error {
	select {
	case <-s.Synced():
		return nil
	case err := <-errc:
		return WrapExitError(ExitCommandError, "relay closed the session before sync", err)
	case <-time.After(timeout):
		return NewExitError(ExitCommandError, fmt.Sprintf("no sync from relay within %s", timeout))
	}
}

// workspaceState is a settled copy of a workspace.
type workspaceState struct {
	Workspace string            `json:"workspace"`
	Tree      []model.Node      `json:"tree"`
	Contents  map[string]string `json:"contents"`
}

// fetch reads the workspace once, from the database if --db is set and
// from the relay otherwise.
func (o *WorkspaceOptions) fetch(cmd *cobra.Command) (workspaceState, error) {
	cfg, err := o.settings(cmd)
	if err != nil {
		return workspaceState{}, err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	if o.Database != "" {
		return fetchFromStore(ctx, o.Database, cfg.Workspace)
	}

	s, errc, err := connect(ctx, cfg, false)
	if err != nil {
		return workspaceState{}, err
	}
	defer func() {
		cancel()
		<-s.Done()
	}()
	if err := waitSynced(s, errc, o.Timeout); err != nil {
		return workspaceState{}, err
	}

	tree, err := s.Snapshot(ctx)
	if err != nil {
		return workspaceState{}, err
	}
	contents, err := s.Contents(ctx)
	if err != nil {
		return workspaceState{}, err
	}
	return workspaceState{Workspace: cfg.Workspace, Tree: tree, Contents: contents}, nil
}

func fetchFromStore(ctx context.Context, path, workspace string) (workspaceState, error) {
	st, err := store.Open(path)
	if err != nil {
		return workspaceState{}, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	d := doc.New("codesync-cli")
	n, err := st.Replay(ctx, workspace, d)
	if err != nil {
		return workspaceState{}, WrapExitError(ExitCommandError, "failed to replay workspace", err)
	}
	d.MarkSynced()
	slog.Debug("replayed workspace", "workspace", workspace, "updates", n, "pending", d.Pending())
	return workspaceState{Workspace: workspace, Tree: d.Snapshot(), Contents: d.Contents()}, nil
}

// writeTree prints nodes as an indented listing with each file's language.
func writeTree(w io.Writer, nodes []model.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		if n.IsFolder {
			fmt.Fprintf(w, "%s%s/\n", indent, n.Name)
			writeTree(w, n.Children, depth+1)
			continue
		}
		fmt.Fprintf(w, "%s%s (%s)\n", indent, n.Name, templates.Language(n.Name))
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
