package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/reconcile-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Users ---

func TestSQLite_CreateUser_NewAndExisting(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	u, err := st.CreateUser(ctx, "player1")
	require.NoError(t, err)
	assert.Equal(t, "player1", u.UserID)
	assert.Equal(t, int64(0), u.Balance)

	// Re-creating keeps the existing row and its balance.
	_, err = st.Credit(ctx, "player1", 50, "quest", "")
	require.NoError(t, err)

	u, err = st.CreateUser(ctx, "player1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), u.Balance)
}

func TestSQLite_GetUser_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetUser(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- Credit ---

func TestSQLite_Credit_AccumulatesBalance(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "player1")
	require.NoError(t, err)

	u, err := st.Credit(ctx, "player1", 100, "quest", "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	u, err = st.Credit(ctx, "player1", 25, "daily", "")
	require.NoError(t, err)
	assert.Equal(t, int64(125), u.Balance)

	// Each credit leaves an earn event behind.
	events, err := st.ListEvents(ctx, EventFilter{UserID: "player1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "earn", events[0].Type)
}

func TestSQLite_Credit_UnknownUser(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.Credit(context.Background(), "ghost", 10, "quest", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_Credit_IdempotencyKeyReplay(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "player1")
	require.NoError(t, err)

	u, err := st.Credit(ctx, "player1", 100, "quest", "req-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	// Same key: stored outcome returned, balance not re-applied.
	u, err = st.Credit(ctx, "player1", 100, "quest", "req-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	fresh, err := st.GetUser(ctx, "player1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), fresh.Balance)

	events, err := st.ListEvents(ctx, EventFilter{UserID: "player1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// --- Events ---

func TestSQLite_InsertAndListEvents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "player1")
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, "player2")
	require.NoError(t, err)

	base := time.Date(2025, 11, 6, 10, 0, 0, 0, time.UTC)
	for i, userID := range []string{"player1", "player1", "player2"} {
		err := st.InsertEvent(ctx, model.Event{
			ID:         uuid.New().String(),
			UserID:     userID,
			Type:       "level_up",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			Meta:       `{"level":2}`,
		})
		require.NoError(t, err)
	}

	events, err := st.ListEvents(ctx, EventFilter{UserID: "player1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	assert.True(t, events[0].OccurredAt.After(events[1].OccurredAt))
	assert.Equal(t, `{"level":2}`, events[0].Meta)
}

func TestSQLite_ListEvents_LimitApplied(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "player1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := st.InsertEvent(ctx, model.Event{
			ID:         uuid.New().String(),
			UserID:     "player1",
			Type:       "session_start",
			OccurredAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	events, err := st.ListEvents(ctx, EventFilter{UserID: "player1", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestSQLite_EventStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "player1")
	require.NoError(t, err)

	now := time.Now().UTC()
	for _, typ := range []string{"level_up", "level_up", "purchase"} {
		err := st.InsertEvent(ctx, model.Event{
			ID: uuid.New().String(), UserID: "player1", Type: typ, OccurredAt: now,
		})
		require.NoError(t, err)
	}

	stats, err := st.EventStats(ctx, "")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, model.EventStat{EventType: "level_up", Count: 2}, stats[0])
	assert.Equal(t, model.EventStat{EventType: "purchase", Count: 1}, stats[1])
}

// --- Pipeline runs ---

func TestSQLite_PipelineRuns_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := model.PipelineRun{
		ID:   uuid.New().String(),
		Date: "2025-11-06",
		OK:   true,
		Result: model.RunResult{
			OK:   true,
			Date: "2025-11-06",
			Summary: &model.ReconciliationSummary{
				TotalAcquisition: 5, TotalConfirmed: 3, Matched: 3, MatchRate: 0.6,
			},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertPipelineRun(ctx, run))

	runs, err := st.ListPipelineRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.True(t, runs[0].OK)
	require.NotNil(t, runs[0].Result.Summary)
	assert.Equal(t, 3, runs[0].Result.Summary.Matched)
}

func TestSQLite_Counts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "player1")
	require.NoError(t, err)
	_, err = st.Credit(ctx, "player1", 10, "quest", "")
	require.NoError(t, err)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["users"])
	assert.Equal(t, 1, counts["events"])
	assert.Equal(t, 0, counts["pipeline_runs"])
}
