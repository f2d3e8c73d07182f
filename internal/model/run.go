package model

import "time"

// StageStatus is the outcome of one pipeline stage.
type StageStatus string

const (
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
)

// RowError records one dropped input row: which table, which row (1-based,
// excluding the header), and why.
type RowError struct {
	Table  string `json:"table"`
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// StageResult is the per-stage accounting conveyed in a RunResult.
type StageResult struct {
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	RowsIn     int         `json:"rows_in"`
	RowsOut    int         `json:"rows_out"`
	Dropped    int         `json:"dropped"`
	DurationMS int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
}

// RunResult is the structured outcome of one pipeline run. A run can succeed
// while still reporting dropped rows; OK is false only on a fatal error.
type RunResult struct {
	OK        bool                   `json:"ok"`
	Date      string                 `json:"date"`
	Stages    []StageResult          `json:"stages"`
	RowErrors []RowError             `json:"row_errors,omitempty"`
	Summary   *ReconciliationSummary `json:"summary,omitempty"`
	Reports   []string               `json:"reports,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// User is a player account with a soft-currency balance.
type User struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// Event is one logged gameplay or economy event.
type Event struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"ts"`
	Meta       string    `json:"meta,omitempty"`
}

// EventStat is a per-event-type count.
type EventStat struct {
	EventType string `json:"eventType"`
	Count     int    `json:"count"`
}

// PipelineRun is a persisted record of one triggered pipeline execution.
type PipelineRun struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	OK        bool      `json:"ok"`
	Result    RunResult `json:"result"`
	CreatedAt time.Time `json:"createdAt"`
}
