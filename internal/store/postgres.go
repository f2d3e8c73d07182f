package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/playforge/reconcile-cli/internal/db"
	"github.com/playforge/reconcile-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_user":        `SELECT user_id, balance FROM users WHERE user_id = $1`,
	"insert_event":    `INSERT INTO events (id, user_id, type, occurred_at, meta) VALUES ($1, $2, $3, $4, $5)`,
	"event_stats":     `SELECT type, COUNT(*) FROM events GROUP BY type ORDER BY COUNT(*) DESC, type`,
	"insert_run":      `INSERT INTO pipeline_runs (id, date, ok, result, created_at) VALUES ($1, $2, $3, $4, $5)`,
	"check_idem_key":  `SELECT balance_after FROM events WHERE idempotency_key = $1`,
	"update_balance":  `UPDATE users SET balance = balance + $1 WHERE user_id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	user_id    TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id         TEXT NOT NULL REFERENCES users(user_id),
	type            TEXT NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	meta            TEXT,
	idempotency_key TEXT UNIQUE,
	balance_after   BIGINT
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	date       TEXT NOT NULL,
	ok         BOOLEAN NOT NULL,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_created_at ON pipeline_runs(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get user %s", userID)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, userID string) (*model.User, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, balance, created_at) VALUES ($1, 0, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create user %s", userID)
	}
	return s.GetUser(ctx, userID)
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) (*model.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin credit")
	}
	defer tx.Rollback(ctx)

	if idempotencyKey != "" {
		var balanceAfter int64
		err := tx.QueryRow(ctx,
			`SELECT balance_after FROM events WHERE idempotency_key = $1`,
			idempotencyKey,
		).Scan(&balanceAfter)
		if err == nil {
			return &model.User{UserID: userID, Balance: balanceAfter}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrap(err, "postgres: check idempotency key")
		}
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $1 WHERE user_id = $2 RETURNING balance`,
		amount, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: credit user %s", userID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, user_id, type, occurred_at, meta, idempotency_key, balance_after)
		 VALUES ($1, $2, 'earn', $3, $4, $5, $6)`,
		uuid.New().String(), userID, time.Now().UTC(),
		creditMeta(amount, reason), nullableKey(idempotencyKey), balance,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert earn event")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit credit")
	}
	return &model.User{UserID: userID, Balance: balance}, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, user_id, type, occurred_at, meta) VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.UserID, event.Type, event.OccurredAt.UTC(), event.Meta,
	)
	return eris.Wrapf(err, "postgres: insert event %s", event.Type)
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	query := `SELECT id, user_id, type, occurred_at, COALESCE(meta, '') FROM events WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += ` AND user_id = $1`
		args = append(args, filter.UserID)
		argIdx++
	}
	query += ` ORDER BY occurred_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.OccurredAt, &e.Meta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) EventStats(ctx context.Context, userID string) ([]model.EventStat, error) {
	query := `SELECT type, COUNT(*) FROM events`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` GROUP BY type ORDER BY COUNT(*) DESC, type`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: event stats")
	}
	defer rows.Close()

	var stats []model.EventStat
	for rows.Next() {
		var st model.EventStat
		if err := rows.Scan(&st.EventType, &st.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stat")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: event stats iterate")
}

func (s *PostgresStore) InsertPipelineRun(ctx context.Context, run model.PipelineRun) error {
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, date, ok, result, created_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Date, run.OK, resultJSON, run.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert pipeline run")
}

func (s *PostgresStore) ListPipelineRuns(ctx context.Context, limit int) ([]model.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, date, ok, result, created_at FROM pipeline_runs
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pipeline runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var r model.PipelineRun
		var resultJSON []byte
		if err := rows.Scan(&r.ID, &r.Date, &r.OK, &resultJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pipeline run")
		}
		if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run result")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list pipeline runs iterate")
}

func (s *PostgresStore) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, 3)
	for _, table := range []string{"users", "events", "pipeline_runs"} {
		var n int
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "postgres: count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}
