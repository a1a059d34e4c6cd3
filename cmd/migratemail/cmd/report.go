package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vectorfy/migratemail/internal/ledger"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a JSON migration summary",
	Long: `Write a JSON summary of the migration state (per-status message
counts plus an evidence integrity scan) to the reports directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureDirs(); err != nil {
			return err
		}

		led, err := ledger.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer led.Close()

		counts, err := led.CountsByStatus()
		if err != nil {
			return fmt.Errorf("count statuses: %w", err)
		}
		scan, err := scanEvidence(led)
		if err != nil {
			return err
		}

		summary := struct {
			CreatedAt          string           `json:"created_at"`
			SQLitePath         string           `json:"sqlite_path"`
			Counts             map[string]int64 `json:"counts"`
			EvidenceChecked    int64            `json:"evidence_checked"`
			EvidenceMismatches int64            `json:"evidence_mismatches"`
			EvidenceMissing    int64            `json:"evidence_missing"`
		}{
			CreatedAt:          time.Now().UTC().Format(time.RFC3339),
			SQLitePath:         cfg.Storage.SQLitePath,
			Counts:             make(map[string]int64, len(counts)),
			EvidenceChecked:    scan.checked,
			EvidenceMismatches: scan.mismatches,
			EvidenceMissing:    scan.missing,
		}
		for st, n := range counts {
			summary.Counts[string(st)] = n
		}

		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		path := filepath.Join(cfg.Storage.ReportsDir, "summary-"+summary.CreatedAt+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}

		fmt.Printf("Report written to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
