package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vectorfy/migratemail/internal/evidence"
	"github.com/vectorfy/migratemail/internal/gmail"
	"github.com/vectorfy/migratemail/internal/imap"
	"github.com/vectorfy/migratemail/internal/ledger"
	"github.com/vectorfy/migratemail/internal/pipeline"
)

var (
	migrateDryRun bool
	migrateReset  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the migration",
	Long: `Migrate messages from the configured IMAP account into Gmail.

The run is resumable: each folder keeps a UID checkpoint, every message is
recorded in the SQLite ledger, and messages already imported are skipped.

Examples:
  migratemail migrate
  migratemail migrate --dry-run
  migratemail migrate --reset`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireIMAP(); err != nil {
			return err
		}
		if !migrateDryRun {
			if err := cfg.RequireGmail(); err != nil {
				return err
			}
		}
		if err := ensureDirs(); err != nil {
			return err
		}

		ctx := cmd.Context()

		led, err := ledger.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer led.Close()

		store := evidence.New(cfg.Storage.EvidenceDir)

		var api gmail.API
		if !migrateDryRun {
			auth, err := gmail.NewAuthorizer(cfg.Gmail.CredentialsPath, cfg.Gmail.TokenPath, logger)
			if err != nil {
				return err
			}
			tokenSource, err := auth.TokenSource(ctx)
			if err != nil {
				return fmt.Errorf("gmail authorization: %w", err)
			}
			api = gmail.NewClient(tokenSource,
				gmail.WithClientLogger(logger),
				gmail.WithUserID(cfg.Gmail.TargetUserEmail),
			)
			logger.Info("gmail client ready", "user", targetUser())
		}

		pool := imap.NewPool(imap.SessionConfig{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			SSL:      cfg.IMAP.SSL,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
		}, cfg.Concurrency.IMAPConnections, imap.WithLogger(logger))

		if err := pool.Connect(ctx); err != nil {
			return err
		}
		defer func() {
			// The command context may already be cancelled on Ctrl+C.
			logoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			pool.Logout(logoutCtx)
		}()

		orch := pipeline.New(cfg, pipeline.PoolAdapter{Pool: pool}, led, store, api,
			pipeline.WithLogger(logger),
			pipeline.WithProgress(pipeline.NewLogProgress(logger, 100)),
		)

		start := time.Now()
		if err := orch.Run(ctx, pipeline.RunOptions{DryRun: migrateDryRun, Reset: migrateReset}); err != nil {
			return err
		}
		logger.Info("migration finished", "elapsed", time.Since(start).Round(time.Second).String())
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "fetch and archive only, upload nothing")
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "revive skipped and failed messages and rescan from UID 1")
	rootCmd.AddCommand(migrateCmd)
}
