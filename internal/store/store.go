package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/playforge/reconcile-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the player backend and the
// pipeline run history.
type Store interface {
	// Users
	GetUser(ctx context.Context, userID string) (*model.User, error)
	CreateUser(ctx context.Context, userID string) (*model.User, error)
	// Credit adds amount to the user's balance and records an event. When
	// idempotencyKey is non-empty and was seen before, the stored outcome is
	// returned without re-applying the credit.
	Credit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) (*model.User, error)

	// Events
	InsertEvent(ctx context.Context, event model.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)
	EventStats(ctx context.Context, userID string) ([]model.EventStat, error)

	// Pipeline runs
	InsertPipelineRun(ctx context.Context, run model.PipelineRun) error
	ListPipelineRuns(ctx context.Context, limit int) ([]model.PipelineRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (map[string]int, error)
	Migrate(ctx context.Context) error
	Close() error
}
