// Package cmd wires the migratemail subcommands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vectorfy/migratemail/internal/config"
)

var (
	cfgFile string
	envFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "migratemail",
	Short: "Migrate an IMAP mailbox into Gmail",
	Long: `migratemail copies messages from an IMAP account (iCloud by default)
into a Gmail account, keeping a SQLite ledger of every message so runs are
resumable, and archiving each fetched message as an immutable .eml file
before it is uploaded.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, envFile)
		if err != nil {
			return err
		}

		level := parseLevel(cfg.Logging.Level)
		if verbose {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if cfg.Logging.Format == "json" {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(os.Stderr, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureDirs creates the storage directories the commands rely on.
func ensureDirs() error {
	for _, dir := range []string{cfg.Storage.RootDir, cfg.Storage.EvidenceDir, cfg.Storage.ReportsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// targetUser returns the Gmail userId in effect for display purposes.
func targetUser() string {
	if cfg.Gmail.TargetUserEmail != "" {
		return cfg.Gmail.TargetUserEmail
	}
	return "me"
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file loaded before MIG_ variables are read")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
