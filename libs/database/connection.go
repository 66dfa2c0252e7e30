// Package database provides the pgx-backed connection pool behind the
// optional trade-history mirror. The JSONL journals stay authoritative;
// this pool exists so closed trades can be queried with SQL instead of
// replaying log files.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB is an *sql.DB configured from Config.
type DB struct {
	*sql.DB
}

// Connect opens and pings the database, doubling RetryDelay between
// attempts. It returns once a ping succeeds or attempts are exhausted;
// ctx cancellation aborts the backoff wait immediately.
func Connect(ctx context.Context, cfg *Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	delay := cfg.RetryDelay
	var lastErr error
	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}

		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			lastErr = err
			continue
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			lastErr = err
			continue
		}
		return &DB{DB: db}, nil
	}
	return nil, fmt.Errorf("database: connect after %d attempts: %w", cfg.RetryAttempts+1, lastErr)
}
