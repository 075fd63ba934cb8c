package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"reviewgate/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rate_records (
	key      TEXT PRIMARY KEY,
	count    INTEGER NOT NULL,
	reset_at TIMESTAMPTZ NOT NULL,
	allowed  BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS rate_records_reset_at_idx ON rate_records (reset_at);`

// The SET expressions see the pre-update row through the "r" alias, so the
// rollover, the limit check and the increment are decided by one statement
// under the row lock.
const postgresTake = `
INSERT INTO rate_records AS r (key, count, reset_at, allowed)
VALUES ($1, 1, $3, TRUE)
ON CONFLICT (key) DO UPDATE SET
	count = CASE
		WHEN r.reset_at <= $2 THEN 1
		WHEN r.count >= $4 THEN r.count
		ELSE r.count + 1
	END,
	reset_at = CASE WHEN r.reset_at <= $2 THEN $3 ELSE r.reset_at END,
	allowed  = (r.reset_at <= $2 OR r.count < $4)
RETURNING count, reset_at, allowed`

const postgresPrune = `DELETE FROM rate_records WHERE reset_at <= $1`

// PostgresStore keeps records in a PostgreSQL table shared by every gateway
// instance using the same database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and creates the rate_records
// table if it does not exist.
func NewPostgresStore(ctx context.Context, cfg models.DatabaseConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL store")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create rate_records table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Take(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Record, bool, error) {
	var (
		rec     Record
		allowed bool
	)
	err := s.pool.QueryRow(ctx, postgresTake, key, now, now.Add(window), limit).
		Scan(&rec.Count, &rec.ResetAt, &allowed)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to take %q: %w", key, err)
	}
	return rec, allowed, nil
}

func (s *PostgresStore) Prune(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, postgresPrune, now)
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
