package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/playforge/reconcile-cli/internal/model"
)

// Report file names inside the reports directory.
const (
	CuratedFile        = "purchases_curated.csv"
	ReconciliationFile = "reconciliation.json"
	ROASFile           = "roas.json"
	AnomalyFile        = "roas_anomaly.json"
	ARPDAUFile         = "arpdau.json"
	WorkbookFile       = "reports.xlsx"
)

// ReportData is everything the emitter serializes for one run.
type ReportData struct {
	Outcome   *MatchOutcome
	ROAS      []model.ROASRecord
	Anomalies []model.AnomalyRecord
	ARPDAU    []model.ARPDAURecord
	Threshold float64
}

// matchedDetail is the audit form of a MatchResult, with the delta in
// seconds instead of nanoseconds.
type matchedDetail struct {
	AcquisitionID  string  `json:"acquisition_id"`
	ConfirmationID string  `json:"confirmation_id"`
	DeltaSeconds   float64 `json:"delta_seconds"`
}

type reconciliationReport struct {
	Summary                model.ReconciliationSummary `json:"summary"`
	Matched                []matchedDetail             `json:"matched"`
	UnmatchedAcquisitions  []model.AcquisitionRecord   `json:"unmatched_acquisitions"`
	UnmatchedConfirmations []model.ConfirmationRecord  `json:"unmatched_confirmations"`
	Chargebacks            []model.CuratedPurchase     `json:"chargebacks"`
}

type anomalyReport struct {
	Threshold float64               `json:"threshold"`
	Anomalies []model.AnomalyRecord `json:"anomalies"`
}

// EmitReports writes the curated purchase table and every derived report.
// Each file is written to a temporary name in the destination directory and
// renamed into place, so consumers never observe a partial report. Any
// failure aborts the run.
func EmitReports(pctx Context, data *ReportData) ([]string, error) {
	var written []string

	curatedPath := filepath.Join(pctx.ReportsDir, CuratedFile)
	if err := emitCuratedCSV(curatedPath, data.Outcome.Curated); err != nil {
		return written, err
	}
	written = append(written, curatedPath)

	recon := reconciliationReport{
		Summary:                data.Outcome.Summary,
		Matched:                make([]matchedDetail, 0, len(data.Outcome.Matches)),
		UnmatchedAcquisitions:  orEmpty(data.Outcome.UnmatchedAcquisitions),
		UnmatchedConfirmations: orEmpty(data.Outcome.UnmatchedConfirmations),
		Chargebacks:            orEmpty(data.Outcome.Chargebacks),
	}
	for _, m := range data.Outcome.Matches {
		recon.Matched = append(recon.Matched, matchedDetail{
			AcquisitionID:  m.AcquisitionID,
			ConfirmationID: m.ConfirmationID,
			DeltaSeconds:   m.MatchDelta.Seconds(),
		})
	}

	roasByCampaign := make(map[string]model.ROASRecord, len(data.ROAS))
	for _, r := range data.ROAS {
		roasByCampaign[r.Campaign] = r
	}
	arpdauByCampaign := make(map[string]model.ARPDAURecord, len(data.ARPDAU))
	for _, r := range data.ARPDAU {
		arpdauByCampaign[r.Campaign] = r
	}

	for _, report := range []struct {
		file    string
		payload any
	}{
		{ReconciliationFile, recon},
		{ROASFile, roasByCampaign},
		{AnomalyFile, anomalyReport{Threshold: data.Threshold, Anomalies: orEmpty(data.Anomalies)}},
		{ARPDAUFile, arpdauByCampaign},
	} {
		path := filepath.Join(pctx.ReportsDir, report.file)
		if err := emitJSON(path, report.payload); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if pctx.XLSX {
		path := filepath.Join(pctx.ReportsDir, WorkbookFile)
		if err := emitWorkbook(path, data); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	zap.L().Info("emitter: reports written",
		zap.String("dir", pctx.ReportsDir),
		zap.Int("files", len(written)),
	)
	return written, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeAtomic writes via a temp file in the destination directory and
// renames it into place.
func writeAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return eris.Wrapf(err, "emitter: create temp for %s", path)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "emitter: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "emitter: close %s", path)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return eris.Wrapf(err, "emitter: chmod %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "emitter: commit %s", path)
	}
	return nil
}

func emitCuratedCSV(path string, curated []model.CuratedPurchase) error {
	return writeAtomic(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write([]string{"source_id", "transaction_id", "user_id", "amount", "campaign", "occurred_at", "confirmed_at"}); err != nil {
			return err
		}
		for _, p := range curated {
			row := []string{
				p.SourceID,
				p.TransactionID,
				p.UserID,
				strconv.FormatFloat(p.Amount, 'f', -1, 64),
				p.Campaign,
				p.OccurredAt.UTC().Format(time.RFC3339),
				p.ConfirmedAt.UTC().Format(time.RFC3339),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

func emitJSON(path string, v any) error {
	return writeAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}
