package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/playforge/reconcile-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	user_id    TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES users(user_id),
	type            TEXT NOT NULL,
	occurred_at     DATETIME NOT NULL,
	meta            TEXT,
	idempotency_key TEXT UNIQUE,
	balance_after   INTEGER
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id         TEXT PRIMARY KEY,
	date       TEXT NOT NULL,
	ok         INTEGER NOT NULL,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_created_at ON pipeline_runs(created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance FROM users WHERE user_id = ?`,
		userID,
	).Scan(&u.UserID, &u.Balance)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get user %s", userID)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, userID string) (*model.User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, balance, created_at) VALUES (?, 0, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create user %s", userID)
	}
	return s.GetUser(ctx, userID)
}

func (s *SQLiteStore) Credit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) (*model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin credit")
	}
	defer tx.Rollback()

	if idempotencyKey != "" {
		var balanceAfter int64
		err := tx.QueryRowContext(ctx,
			`SELECT balance_after FROM events WHERE idempotency_key = ?`,
			idempotencyKey,
		).Scan(&balanceAfter)
		if err == nil {
			// Replay: return the stored outcome untouched.
			return &model.User{UserID: userID, Balance: balanceAfter}, nil
		}
		if err != sql.ErrNoRows {
			return nil, eris.Wrap(err, "sqlite: check idempotency key")
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = balance + ? WHERE user_id = ?`,
		amount, userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: credit user %s", userID)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	} else if n == 0 {
		return nil, ErrNotFound
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE user_id = ?`, userID,
	).Scan(&balance); err != nil {
		return nil, eris.Wrapf(err, "sqlite: read balance %s", userID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, user_id, type, occurred_at, meta, idempotency_key, balance_after)
		 VALUES (?, ?, 'earn', ?, ?, ?, ?)`,
		uuid.New().String(), userID, time.Now().UTC(),
		creditMeta(amount, reason), nullableKey(idempotencyKey), balance,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert earn event")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit credit")
	}
	return &model.User{UserID: userID, Balance: balance}, nil
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, event model.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, user_id, type, occurred_at, meta) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Type, event.OccurredAt.UTC(), event.Meta,
	)
	return eris.Wrapf(err, "sqlite: insert event %s", event.Type)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	query := `SELECT id, user_id, type, occurred_at, COALESCE(meta, '') FROM events WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY occurred_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.OccurredAt, &e.Meta); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) EventStats(ctx context.Context, userID string) ([]model.EventStat, error) {
	query := `SELECT type, COUNT(*) FROM events`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY type ORDER BY COUNT(*) DESC, type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: event stats")
	}
	defer rows.Close()

	var stats []model.EventStat
	for rows.Next() {
		var st model.EventStat
		if err := rows.Scan(&st.EventType, &st.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stat")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: event stats iterate")
}

func (s *SQLiteStore) InsertPipelineRun(ctx context.Context, run model.PipelineRun) error {
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, date, ok, result, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Date, run.OK, string(resultJSON), run.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert pipeline run")
}

func (s *SQLiteStore) ListPipelineRuns(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, ok, result, created_at FROM pipeline_runs
		 ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pipeline runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		var resultJSON string
		if err := rows.Scan(&r.ID, &r.Date, &r.OK, &resultJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pipeline run")
		}
		if err := json.Unmarshal([]byte(resultJSON), &r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run result")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list pipeline runs iterate")
}

func (s *SQLiteStore) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, 3)
	for _, table := range []string{"users", "events", "pipeline_runs"} {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}

// helpers

func creditMeta(amount int64, reason string) string {
	meta, _ := json.Marshal(map[string]any{"amount": amount, "reason": reason})
	return string(meta)
}

func nullableKey(key string) any {
	if key == "" {
		return nil
	}
	return key
}
