package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	gate "github.com/goliatone/go-auth-gate"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tourgate",
		Short: "Session and role gate for the tour booking front end",
		Long: `tourgate serves the tour booking pages behind a session gate.

Every browser gets a client session that mirrors the identity provider state
and a backend access token persisted for 24 hours. Protected pages wait for
the session and the role to resolve before rendering or redirecting.

Configuration is read from TOURGATE_* environment variables.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newTokensCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gate.LoadEnvConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return Serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides TOURGATE_ADDR")
	return cmd
}

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain persisted access tokens",
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete persisted token records older than the token TTL",
		Long: `Delete persisted token records that can no longer be restored.

Records are kept in the SQL local storage. Redis entries expire on their own
and are not touched.

Examples:
  # Use the configured TOURGATE_TOKEN_TTL
  tourgate tokens prune

  # Prune anything older than 2 days
  tourgate tokens prune --older-than 48h
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gate.LoadEnvConfig()
			if err != nil {
				return err
			}

			ttl := cfg.GetTokenTTL()
			if olderThan > 0 {
				ttl = olderThan
			}

			removed, err := PruneTokens(cmd.Context(), cfg, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d token record(s) older than %s\n", removed, ttl)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold, defaults to the token TTL")

	cmd.AddCommand(prune)
	return cmd
}
