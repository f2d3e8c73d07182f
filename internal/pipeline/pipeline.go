package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/playforge/reconcile-cli/internal/model"
)

// Run executes the full reconciliation pipeline against the data directory
// in pctx and commits reports to the reports directory. It is a pure
// function of the Context and the input snapshot: no state survives between
// runs except the emitted files.
//
// The returned RunResult is non-nil even on failure and carries every stage
// completed so far plus the failure cause. Row-level validation failures and
// join gaps never fail a run; a missing input file or an uncommittable
// report does.
func Run(ctx context.Context, pctx Context) (*model.RunResult, error) {
	if pctx.Tolerance <= 0 {
		pctx.Tolerance = DefaultTolerance
	}
	if pctx.Threshold <= 0 {
		pctx.Threshold = DefaultThreshold
	}

	log := zap.L().With(zap.String("data_dir", pctx.DataDir), zap.String("reports_dir", pctx.ReportsDir))
	log.Info("pipeline: starting run",
		zap.Duration("tolerance", pctx.Tolerance),
		zap.Float64("threshold", pctx.Threshold),
	)

	result := &model.RunResult{Date: pctx.Date}

	if err := os.MkdirAll(pctx.ReportsDir, 0o755); err != nil {
		return fail(result, eris.Wrapf(err, "pipeline: create reports dir %s", pctx.ReportsDir))
	}

	lock, err := acquireRunLock(pctx.ReportsDir)
	if err != nil {
		return fail(result, err)
	}
	defer lock.release()

	// Stage tracking in one place so every stage reports rows and duration
	// the same way.
	stage := func(name string, fn func() (rowsIn, rowsOut int, err error)) error {
		start := time.Now()
		rowsIn, rowsOut, stageErr := fn()
		sr := model.StageResult{
			Name:       name,
			Status:     model.StageStatusComplete,
			RowsIn:     rowsIn,
			RowsOut:    rowsOut,
			Dropped:    rowsIn - rowsOut,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if stageErr != nil {
			sr.Status = model.StageStatusFailed
			sr.Error = stageErr.Error()
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Error(stageErr))
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", name),
				zap.Int("rows_in", rowsIn),
				zap.Int("rows_out", rowsOut),
				zap.Int64("duration_ms", sr.DurationMS),
			)
		}
		result.Stages = append(result.Stages, sr)
		return stageErr
	}

	var tables *Tables
	if err := stage("load", func() (int, int, error) {
		t, loadErr := LoadTables(ctx, pctx.DataDir)
		if loadErr != nil {
			return 0, 0, loadErr
		}
		tables = t
		valid := t.RawRows() - len(t.RowErrors)
		return t.RawRows(), valid, nil
	}); err != nil {
		return fail(result, err)
	}
	result.RowErrors = tables.RowErrors

	var (
		canonAcqs  []model.AcquisitionRecord
		canonConfs []model.ConfirmationRecord
	)
	_ = stage("dedup", func() (int, int, error) {
		canonAcqs = DedupAcquisitions(tables.Acquisitions)
		canonConfs = DedupConfirmations(tables.Confirmations)
		return len(tables.Acquisitions) + len(tables.Confirmations), len(canonAcqs) + len(canonConfs), nil
	})

	var outcome *MatchOutcome
	_ = stage("match", func() (int, int, error) {
		outcome = Match(canonAcqs, canonConfs, pctx.Tolerance)
		return len(canonAcqs) + len(canonConfs), len(outcome.Matches), nil
	})
	result.Summary = &outcome.Summary

	date := ReportingDate(pctx.Date, outcome.Curated)
	result.Date = date

	var (
		revenue map[string]CampaignRevenue
		roas    []model.ROASRecord
	)
	_ = stage("roas", func() (int, int, error) {
		revenue = AggregateRevenue(outcome.Curated, date)
		roas = BuildROAS(revenue, tables.Costs, date)
		return len(outcome.Curated), len(roas), nil
	})

	var anomalies []model.AnomalyRecord
	_ = stage("anomaly", func() (int, int, error) {
		anomalies = DetectAnomalies(roas, pctx.Threshold)
		return len(roas), len(anomalies), nil
	})

	var arpdau []model.ARPDAURecord
	_ = stage("arpdau", func() (int, int, error) {
		arpdau = ComputeARPDAU(revenue, tables.Sessions, date)
		return len(revenue), len(arpdau), nil
	})

	if err := stage("emit", func() (int, int, error) {
		written, emitErr := EmitReports(pctx, &ReportData{
			Outcome:   outcome,
			ROAS:      roas,
			Anomalies: anomalies,
			ARPDAU:    arpdau,
			Threshold: pctx.Threshold,
		})
		result.Reports = written
		return 0, len(written), emitErr
	}); err != nil {
		return fail(result, err)
	}

	result.OK = true
	log.Info("pipeline: run complete",
		zap.String("date", date),
		zap.Int("matched", outcome.Summary.Matched),
		zap.Int("row_errors", len(result.RowErrors)),
		zap.Int("reports", len(result.Reports)),
	)
	return result, nil
}

func fail(result *model.RunResult, err error) (*model.RunResult, error) {
	result.OK = false
	result.Error = err.Error()
	return result, err
}
