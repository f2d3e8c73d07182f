package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/playforge/reconcile-cli/internal/model"
)

// Input table file names inside the data directory.
const (
	AcquisitionsFile  = "acquisitions.csv"
	ConfirmationsFile = "confirmations.csv"
	CostsFile         = "costs.csv"
	SessionsFile      = "sessions.csv"
)

// Tables holds the typed rows of all four input tables plus every row-level
// validation failure collected while loading them.
type Tables struct {
	Acquisitions  []model.AcquisitionRecord
	Confirmations []model.ConfirmationRecord
	Costs         []model.CostRecord
	Sessions      []model.SessionRecord
	RowErrors     []model.RowError
}

// RawRows returns the total number of data rows read across all tables,
// valid or not.
func (t *Tables) RawRows() int {
	return len(t.Acquisitions) + len(t.Confirmations) + len(t.Costs) + len(t.Sessions) + len(t.RowErrors)
}

// LoadTables reads the four input tables concurrently. A missing or
// structurally broken file aborts the load; malformed rows are dropped and
// recorded in Tables.RowErrors.
func LoadTables(ctx context.Context, dataDir string) (*Tables, error) {
	tables := &Tables{}
	var mu sync.Mutex

	record := func(errs []model.RowError) {
		mu.Lock()
		tables.RowErrors = append(tables.RowErrors, errs...)
		mu.Unlock()
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, errs, err := LoadAcquisitions(filepath.Join(dataDir, AcquisitionsFile))
		if err != nil {
			return err
		}
		tables.Acquisitions = rows
		record(errs)
		return nil
	})
	g.Go(func() error {
		rows, errs, err := LoadConfirmations(filepath.Join(dataDir, ConfirmationsFile))
		if err != nil {
			return err
		}
		tables.Confirmations = rows
		record(errs)
		return nil
	})
	g.Go(func() error {
		rows, errs, err := LoadCosts(filepath.Join(dataDir, CostsFile))
		if err != nil {
			return err
		}
		tables.Costs = rows
		record(errs)
		return nil
	})
	g.Go(func() error {
		rows, errs, err := LoadSessions(filepath.Join(dataDir, SessionsFile))
		if err != nil {
			return err
		}
		tables.Sessions = rows
		record(errs)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("loader: tables loaded",
		zap.Int("acquisitions", len(tables.Acquisitions)),
		zap.Int("confirmations", len(tables.Confirmations)),
		zap.Int("costs", len(tables.Costs)),
		zap.Int("sessions", len(tables.Sessions)),
		zap.Int("row_errors", len(tables.RowErrors)),
	)

	return tables, nil
}

// LoadAcquisitions reads the acquisition table. Returns typed rows plus one
// RowError per dropped row.
func LoadAcquisitions(path string) ([]model.AcquisitionRecord, []model.RowError, error) {
	rows, errs, err := readTable(path, "acquisitions",
		[]string{"source_id", "user_id", "amount", "campaign", "occurred_at"},
		func(get func(string) string) (model.AcquisitionRecord, error) {
			amount, err := parseAmount(get("amount"))
			if err != nil {
				return model.AcquisitionRecord{}, err
			}
			at, err := parseTimestamp(get("occurred_at"))
			if err != nil {
				return model.AcquisitionRecord{}, err
			}
			return model.AcquisitionRecord{
				SourceID:   get("source_id"),
				UserID:     get("user_id"),
				Amount:     amount,
				Campaign:   normalizeCampaign(get("campaign")),
				OccurredAt: at,
			}, nil
		})
	return rows, errs, err
}

// LoadConfirmations reads the confirmation table.
func LoadConfirmations(path string) ([]model.ConfirmationRecord, []model.RowError, error) {
	rows, errs, err := readTable(path, "confirmations",
		[]string{"transaction_id", "user_id", "amount", "occurred_at", "status"},
		func(get func(string) string) (model.ConfirmationRecord, error) {
			amount, err := parseAmount(get("amount"))
			if err != nil {
				return model.ConfirmationRecord{}, err
			}
			at, err := parseTimestamp(get("occurred_at"))
			if err != nil {
				return model.ConfirmationRecord{}, err
			}
			status := model.ConfirmationStatus(strings.ToLower(strings.TrimSpace(get("status"))))
			if !status.Valid() {
				return model.ConfirmationRecord{}, fmt.Errorf("unknown status %q", get("status"))
			}
			return model.ConfirmationRecord{
				TransactionID: get("transaction_id"),
				UserID:        get("user_id"),
				Amount:        amount,
				OccurredAt:    at,
				Status:        status,
			}, nil
		})
	return rows, errs, err
}

// LoadCosts reads the daily ad-spend table.
func LoadCosts(path string) ([]model.CostRecord, []model.RowError, error) {
	rows, errs, err := readTable(path, "costs",
		[]string{"campaign", "date", "spend"},
		func(get func(string) string) (model.CostRecord, error) {
			spend, err := parseAmount(get("spend"))
			if err != nil {
				return model.CostRecord{}, err
			}
			date, err := parseDate(get("date"))
			if err != nil {
				return model.CostRecord{}, err
			}
			return model.CostRecord{
				Campaign: normalizeCampaign(get("campaign")),
				Date:     date,
				Spend:    spend,
			}, nil
		})
	return rows, errs, err
}

// LoadSessions reads the session table.
func LoadSessions(path string) ([]model.SessionRecord, []model.RowError, error) {
	rows, errs, err := readTable(path, "sessions",
		[]string{"user_id", "campaign", "date"},
		func(get func(string) string) (model.SessionRecord, error) {
			date, err := parseDate(get("date"))
			if err != nil {
				return model.SessionRecord{}, err
			}
			return model.SessionRecord{
				UserID:   get("user_id"),
				Campaign: normalizeCampaign(get("campaign")),
				Date:     date,
			}, nil
		})
	return rows, errs, err
}

// readTable opens a CSV table, verifies the declared columns exist in the
// header, and converts each data row via parse. A row with a missing value
// or a parse failure is dropped and recorded; the load itself only fails on
// a missing file, an unreadable file, or a header missing a declared column
// (no row could validate against it).
func readTable[T any](path, table string, columns []string, parse func(get func(string) string) (T, error)) ([]T, []model.RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "loader: open %s table", table)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "loader: read %s table", table)
	}
	if len(records) == 0 {
		return nil, nil, eris.Errorf("loader: %s table has no header row", table)
	}

	header := records[0]
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.TrimSpace(col)] = i
	}
	for _, col := range columns {
		if _, ok := colIdx[col]; !ok {
			return nil, nil, eris.Errorf("loader: %s table missing required column %q", table, col)
		}
	}

	var (
		rows    []T
		rowErrs []model.RowError
	)
	for i, record := range records[1:] {
		rowNum := i + 1

		missing := ""
		for _, col := range columns {
			if getCol(record, colIdx, col) == "" {
				missing = col
				break
			}
		}
		if missing != "" {
			rowErrs = append(rowErrs, model.RowError{Table: table, Row: rowNum, Reason: "missing " + missing})
			continue
		}

		row, parseErr := parse(func(col string) string { return getCol(record, colIdx, col) })
		if parseErr != nil {
			rowErrs = append(rowErrs, model.RowError{Table: table, Row: rowNum, Reason: parseErr.Error()})
			continue
		}
		rows = append(rows, row)
	}

	return rows, rowErrs, nil
}

// getCol safely retrieves a column value from a CSV row.
func getCol(row []string, colIdx map[string]int, col string) string {
	idx, ok := colIdx[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// normalizeCampaign trims and upper-cases a campaign name so both sides of
// every join use the same key.
func normalizeCampaign(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// parseAmount parses a monetary amount. Upstream exports sometimes use a
// decimal comma, so "12,50" is read as 12.50. Negative amounts are rejected.
func parseAmount(s string) (float64, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp parses an event timestamp and normalizes it to UTC.
// Layouts without an offset are taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// parseDate validates a YYYY-MM-DD date and returns it in canonical form.
func parseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q", s)
	}
	return ts.Format("2006-01-02"), nil
}
