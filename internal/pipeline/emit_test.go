package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/reconcile-cli/internal/model"
)

func sampleReportData() *ReportData {
	outcome := Match(
		[]model.AcquisitionRecord{
			acq("A1", "U1", 500, "SUMMER", "2025-11-06T10:00:00Z"),
			acq("A2", "U2", 300, "SUMMER", "2025-11-06T11:00:00Z"),
		},
		[]model.ConfirmationRecord{
			conf("C1", "U1", 500, "2025-11-06T10:07:00Z", model.StatusConfirmed),
			conf("C2", "U2", 300, "2025-11-06T11:01:00Z", model.StatusChargeback),
		},
		DefaultTolerance,
	)
	roas := []model.ROASRecord{{Campaign: "SUMMER", Revenue: 500, Cost: 1000, ROAS: 0.5, Installs: 1}}
	return &ReportData{
		Outcome:   outcome,
		ROAS:      roas,
		Anomalies: DetectAnomalies(roas, 1.0),
		ARPDAU:    []model.ARPDAURecord{{Campaign: "SUMMER", Revenue: 500, DAU: 10, ARPDAU: 50}},
		Threshold: 1.0,
	}
}

func TestEmitReports_WritesAllFiles(t *testing.T) {
	dir := t.TempDir()
	pctx := Context{ReportsDir: dir}

	written, err := EmitReports(pctx, sampleReportData())
	require.NoError(t, err)
	require.Len(t, written, 5)

	for _, name := range []string{CuratedFile, ReconciliationFile, ROASFile, AnomalyFile, ARPDAUFile} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr, name)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), e.Name())
	}
}

func TestEmitReports_CuratedCSV(t *testing.T) {
	dir := t.TempDir()
	_, err := EmitReports(Context{ReportsDir: dir}, sampleReportData())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, CuratedFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")

	require.Len(t, lines, 2) // header + one confirmed purchase; chargeback excluded
	assert.Equal(t, "source_id,transaction_id,user_id,amount,campaign,occurred_at,confirmed_at", lines[0])
	assert.Equal(t, "A1,C1,U1,500,SUMMER,2025-11-06T10:00:00Z,2025-11-06T10:07:00Z", lines[1])
}

func TestEmitReports_ReconciliationJSON(t *testing.T) {
	dir := t.TempDir()
	_, err := EmitReports(Context{ReportsDir: dir}, sampleReportData())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, ReconciliationFile))
	require.NoError(t, err)

	var report struct {
		Summary model.ReconciliationSummary `json:"summary"`
		Matched []struct {
			AcquisitionID string  `json:"acquisition_id"`
			DeltaSeconds  float64 `json:"delta_seconds"`
		} `json:"matched"`
		Chargebacks []model.CuratedPurchase `json:"chargebacks"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))

	assert.Equal(t, 2, report.Summary.Matched)
	require.Len(t, report.Matched, 2)
	assert.InDelta(t, 420.0, report.Matched[0].DeltaSeconds, 0.001) // 7 minutes
	require.Len(t, report.Chargebacks, 1)
	assert.Equal(t, "C2", report.Chargebacks[0].TransactionID)
}

func TestEmitReports_ROASKeyedByCampaign(t *testing.T) {
	dir := t.TempDir()
	_, err := EmitReports(Context{ReportsDir: dir}, sampleReportData())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, ROASFile))
	require.NoError(t, err)

	var report map[string]model.ROASRecord
	require.NoError(t, json.Unmarshal(raw, &report))
	require.Contains(t, report, "SUMMER")
	assert.InDelta(t, 0.5, report["SUMMER"].ROAS, 0.001)
}

func TestEmitReports_AnomalyCarriesThreshold(t *testing.T) {
	dir := t.TempDir()
	_, err := EmitReports(Context{ReportsDir: dir}, sampleReportData())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, AnomalyFile))
	require.NoError(t, err)

	var report struct {
		Threshold float64               `json:"threshold"`
		Anomalies []model.AnomalyRecord `json:"anomalies"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.InDelta(t, 1.0, report.Threshold, 0.001)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, model.SeverityMedium, report.Anomalies[0].Severity)
}

func TestEmitReports_XLSXWorkbook(t *testing.T) {
	dir := t.TempDir()
	written, err := EmitReports(Context{ReportsDir: dir, XLSX: true}, sampleReportData())
	require.NoError(t, err)
	assert.Len(t, written, 6)

	info, err := os.Stat(filepath.Join(dir, WorkbookFile))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestEmitReports_UnwritableDirFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist")
	_, err := EmitReports(Context{ReportsDir: dir}, sampleReportData())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emitter:")
}

func TestWriteAtomic_NoPartialFileOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	err := writeAtomic(path, func(f *os.File) error {
		_, _ = f.WriteString("partial")
		return assert.AnError
	})
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr)) // nothing committed
}
