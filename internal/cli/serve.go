package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/codesync/internal/auth"
	"github.com/roach88/codesync/internal/relay"
	"github.com/roach88/codesync/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
	Secret   string
	// Listener overrides Addr (for testing).
	Listener net.Listener
}

// SecretEnv names the environment variable holding the token secret.
const SecretEnv = "CODESYNC_SECRET"

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Long: `Run the relay that sessions connect to.

Sessions connect over websocket at /ws. Prometheus metrics are served at
/metrics. With --db, workspace logs are kept in SQLite and survive restarts;
without it they live in memory. With a secret (flag or ` + SecretEnv + `),
sessions must present a token from "codesync login".

Example:
  codesync serve --addr :1234 --db ./relay.db
  CODESYNC_SECRET=s3cret codesync serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":1234", "listen address")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (optional)")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "token secret; enables authentication")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	relayOpts := relay.Options{}

	if opts.Database != "" {
		slog.Info("opening database", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		relayOpts.Store = st
	}

	secret := opts.Secret
	if secret == "" {
		secret = os.Getenv(SecretEnv)
	}
	if secret != "" {
		a, err := auth.New([]byte(secret))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to set up authentication", err)
		}
		relayOpts.Auth = a
	}

	ln := opts.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", opts.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	srv := &http.Server{
		Handler:           relay.New(relayOpts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	slog.Info("relay listening", "addr", ln.Addr().String(), "persistent", relayOpts.Store != nil, "auth", relayOpts.Auth != nil)
	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s. Press Ctrl-C to stop.\n", ln.Addr())

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "relay error", err)
		}
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("relay shutdown", "error", err)
		}
	}

	slog.Info("relay stopped")
	return nil
}
