package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/reconcile-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetUser_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT user_id, balance FROM users WHERE user_id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetUser(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUser_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT user_id, balance FROM users WHERE user_id = \$1`).
		WithArgs("player1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "balance"}).AddRow("player1", int64(250)))

	u, err := s.GetUser(context.Background(), "player1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), u.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateUser_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs("player1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT user_id, balance FROM users WHERE user_id = \$1`).
		WithArgs("player1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "balance"}).AddRow("player1", int64(0)))

	u, err := s.CreateUser(context.Background(), "player1")
	require.NoError(t, err)
	assert.Equal(t, "player1", u.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Credit_AppliesAndLogsEvent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE users SET balance = balance \+ \$1 WHERE user_id = \$2 RETURNING balance`).
		WithArgs(int64(100), "player1").
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(100)))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(pgxmock.AnyArg(), "player1", pgxmock.AnyArg(), pgxmock.AnyArg(), nil, int64(100)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback() // deferred rollback after commit is a no-op

	u, err := s.Credit(context.Background(), "player1", 100, "quest", "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Credit_IdempotentReplay(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance_after FROM events WHERE idempotency_key = \$1`).
		WithArgs("req-abc").
		WillReturnRows(pgxmock.NewRows([]string{"balance_after"}).AddRow(int64(100)))
	mock.ExpectRollback()

	u, err := s.Credit(context.Background(), "player1", 100, "quest", "req-abc")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Credit_UnknownUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE users SET balance = balance \+ \$1`).
		WithArgs(int64(10), "ghost").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Credit(context.Background(), "ghost", 10, "quest", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEvent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO events \(id, user_id, type, occurred_at, meta\)`).
		WithArgs("evt-1", "player1", "level_up", pgxmock.AnyArg(), `{"level":3}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.InsertEvent(context.Background(), model.Event{
		ID:         "evt-1",
		UserID:     "player1",
		Type:       "level_up",
		OccurredAt: time.Now(),
		Meta:       `{"level":3}`,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertPipelineRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO pipeline_runs`).
		WithArgs("run-1", "2025-11-06", true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.InsertPipelineRun(context.Background(), model.PipelineRun{
		ID:        "run-1",
		Date:      "2025-11-06",
		OK:        true,
		Result:    model.RunResult{OK: true, Date: "2025-11-06"},
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EventStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT type, COUNT\(\*\) FROM events GROUP BY type`).
		WillReturnRows(pgxmock.NewRows([]string{"type", "count"}).
			AddRow("level_up", 4).
			AddRow("purchase", 1))

	stats, err := s.EventStats(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, model.EventStat{EventType: "level_up", Count: 4}, stats[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
