package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/codesync/internal/auth"
	"github.com/roach88/codesync/internal/config"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Secret string
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login <name>",
		Short: "Store a display name and relay token",
		Long: `Issue a token for <name> signed with the relay's secret and save both
in the settings file. There are no passwords: anyone who knows the secret
can log in as anyone.

Example:
  codesync login GraceHopper --secret s3cret`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := opts.Secret
			if secret == "" {
				secret = os.Getenv(SecretEnv)
			}
			if secret == "" {
				return NewExitError(ExitCommandError, "a secret is required (--secret or "+SecretEnv+")")
			}
			a, err := auth.New([]byte(secret))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to set up authentication", err)
			}
			token, err := a.Issue(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to issue token", err)
			}

			cfg, err := config.Load(opts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			cfg.Name = args[0]
			cfg.Token = token
			if err := config.Save(opts.Config, cfg); err != nil {
				return WrapExitError(ExitCommandError, "failed to save config", err)
			}

			if opts.Format == "json" {
				return opts.formatter(cmd).Success(map[string]string{"name": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", "", "relay token secret")
	return cmd
}
