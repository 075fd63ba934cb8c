package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// reset_at is stored as unix milliseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rate_records (
	key      TEXT PRIMARY KEY,
	count    INTEGER NOT NULL,
	reset_at INTEGER NOT NULL,
	allowed  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS rate_records_reset_at_idx ON rate_records (reset_at);`

const sqliteTake = `
INSERT INTO rate_records (key, count, reset_at, allowed)
VALUES (?1, 1, ?3, 1)
ON CONFLICT (key) DO UPDATE SET
	count = CASE
		WHEN rate_records.reset_at <= ?2 THEN 1
		WHEN rate_records.count >= ?4 THEN rate_records.count
		ELSE rate_records.count + 1
	END,
	reset_at = CASE WHEN rate_records.reset_at <= ?2 THEN ?3 ELSE rate_records.reset_at END,
	allowed  = CASE WHEN rate_records.reset_at <= ?2 OR rate_records.count < ?4 THEN 1 ELSE 0 END
RETURNING count, reset_at, allowed`

const sqlitePrune = `DELETE FROM rate_records WHERE reset_at <= ?1`

// SQLiteStore keeps records in a local SQLite database file. It suits a
// single gateway instance that must keep counters across restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for SQLite store")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY between
	// pooled connections of the same process.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Take(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Record, bool, error) {
	var (
		count   int
		resetAt int64
		allowed int
	)
	err := s.db.QueryRowContext(ctx, sqliteTake, key, now.UnixMilli(), now.Add(window).UnixMilli(), limit).
		Scan(&count, &resetAt, &allowed)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to take %q: %w", key, err)
	}
	return Record{Count: count, ResetAt: time.UnixMilli(resetAt)}, allowed == 1, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, sqlitePrune, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
