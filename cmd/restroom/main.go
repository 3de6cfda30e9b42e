// Command restroom runs the restroom credential and session server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"restroom/cmd/internal/app"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the ledger sweeper",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Serve(configPath)
		},
	}

	root := &cobra.Command{
		Use:           "restroom",
		Short:         "Credential and session server for the restroom monitoring API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env vars override it)")

	root.AddCommand(
		serve,
		migrateCmd(&configPath),
		ledgerCmd(&configPath),
		checkCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "restroom %s (%s)\n", version, commit)
			},
		},
	)
	return root
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return app.MigrateDatabase(ctx, cfg, log)
		},
	}
}

func ledgerCmd(configPath *string) *cobra.Command {
	ledger := &cobra.Command{
		Use:   "ledger",
		Short: "Refresh ledger maintenance",
	}
	ledger.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Remove expired refresh ledger entries once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			n, err := app.PurgeLedger(ctx, cfg, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired entries from %s ledger\n", n, cfg.ResolvedLedgerBackend())
			return nil
		},
	})
	return ledger
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and secrets without starting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := app.ValidateSecurityConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok (env=%s, ledger=%s)\n", cfg.Env, cfg.ResolvedLedgerBackend())
			return nil
		},
	}
}

func load(path string) (app.Config, app.Logger, error) {
	cfg, err := app.LoadConfig(path)
	if err != nil {
		return app.Config{}, nil, err
	}
	return cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
