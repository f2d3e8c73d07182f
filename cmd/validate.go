package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/playforge/reconcile-cli/internal/model"
	"github.com/playforge/reconcile-cli/internal/pipeline"
)

var validateDataDir string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the input snapshots without running the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir := cfg.Pipeline.DataDir
		if validateDataDir != "" {
			dataDir = validateDataDir
		}

		tables, err := pipeline.LoadTables(cmd.Context(), dataDir)
		if err != nil {
			return err
		}

		acqs := pipeline.DedupAcquisitions(tables.Acquisitions)
		confs := pipeline.DedupConfirmations(tables.Confirmations)

		report := struct {
			Acquisitions      int              `json:"acquisitions"`
			Confirmations     int              `json:"confirmations"`
			Costs             int              `json:"costs"`
			Sessions          int              `json:"sessions"`
			DuplicatesDropped int              `json:"duplicates_dropped"`
			RowErrors         []model.RowError `json:"row_errors,omitempty"`
		}{
			Acquisitions:  len(acqs),
			Confirmations: len(confs),
			Costs:         len(tables.Costs),
			Sessions:      len(tables.Sessions),
			DuplicatesDropped: (len(tables.Acquisitions) - len(acqs)) +
				(len(tables.Confirmations) - len(confs)),
			RowErrors: tables.RowErrors,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateDataDir, "data-dir", "", "input directory (default from config)")
	rootCmd.AddCommand(validateCmd)
}
