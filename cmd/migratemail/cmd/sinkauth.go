package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vectorfy/migratemail/internal/gmail"
)

var sinkAuthCmd = &cobra.Command{
	Use:   "sink-auth",
	Short: "Authorize the Gmail account",
	Long: `Run the OAuth consent flow for the destination Gmail account and
store the refresh token. Prints the authorized identity and current mailbox
totals as a sanity check.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireGmail(); err != nil {
			return err
		}
		if err := ensureDirs(); err != nil {
			return err
		}

		ctx := cmd.Context()
		auth, err := gmail.NewAuthorizer(cfg.Gmail.CredentialsPath, cfg.Gmail.TokenPath, logger)
		if err != nil {
			return err
		}
		tokenSource, err := auth.TokenSource(ctx)
		if err != nil {
			return fmt.Errorf("gmail authorization: %w", err)
		}

		client := gmail.NewClient(tokenSource,
			gmail.WithClientLogger(logger),
			gmail.WithUserID(cfg.Gmail.TargetUserEmail),
		)
		profile, err := client.GetProfile(ctx)
		if err != nil {
			return fmt.Errorf("get gmail profile: %w", err)
		}

		fmt.Printf("Authorized as:  %s\n", profile.EmailAddress)
		fmt.Printf("Messages total: %d\n", profile.MessagesTotal)
		fmt.Printf("Threads total:  %d\n", profile.ThreadsTotal)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sinkAuthCmd)
}
