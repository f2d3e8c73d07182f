package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/playforge/reconcile-cli/internal/model"
	"github.com/playforge/reconcile-cli/internal/pipeline"
)

var (
	runDate       string
	runDataDir    string
	runReportsDir string
	runTolerance  int
	runThreshold  float64
	runXLSX       bool
	runNoHistory  bool
)

// pipelineContext builds the immutable run context from config and flags.
// Flags win over config.
func pipelineContext() pipeline.Context {
	pctx := pipeline.Context{
		DataDir:    cfg.Pipeline.DataDir,
		ReportsDir: cfg.Pipeline.ReportsDir,
		Date:       runDate,
		Tolerance:  time.Duration(cfg.Pipeline.ToleranceMinutes) * time.Minute,
		Threshold:  cfg.Pipeline.ROASThreshold,
		XLSX:       cfg.Pipeline.XLSXExport,
	}
	if runDataDir != "" {
		pctx.DataDir = runDataDir
	}
	if runReportsDir != "" {
		pctx.ReportsDir = runReportsDir
	}
	if runTolerance > 0 {
		pctx.Tolerance = time.Duration(runTolerance) * time.Minute
	}
	if runThreshold > 0 {
		pctx.Threshold = runThreshold
	}
	if runXLSX {
		pctx.XLSX = true
	}
	return pctx
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		result, runErr := pipeline.Run(ctx, pipelineContext())

		if result != nil && !runNoHistory {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
			record := model.PipelineRun{
				ID:        uuid.New().String(),
				Date:      result.Date,
				OK:        result.OK,
				Result:    *result,
				CreatedAt: time.Now().UTC(),
			}
			if err := st.InsertPipelineRun(ctx, record); err != nil {
				zap.L().Warn("persist run history", zap.Error(err))
			}
		}

		if result != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return eris.Wrap(err, "encode result")
			}
		}

		return runErr
	},
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "reporting date YYYY-MM-DD (default derived from data)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "input directory (default from config)")
	runCmd.Flags().StringVar(&runReportsDir, "reports-dir", "", "output directory (default from config)")
	runCmd.Flags().IntVar(&runTolerance, "tolerance", 0, "match tolerance in minutes (default from config)")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", 0, "ROAS anomaly threshold (default from config)")
	runCmd.Flags().BoolVar(&runXLSX, "xlsx", false, "also emit an xlsx workbook")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "skip recording the run in the store")
	rootCmd.AddCommand(runCmd)
}
