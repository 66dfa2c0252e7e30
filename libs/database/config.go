package database

import "time"

// Config sizes the mirror's connection pool. The trade-history mirror
// writes one row per closed trade, so the pool stays small; the knobs
// exist for an analytics consumer pointing heavier read load at the
// same database.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxOpenConns caps concurrent connections.
	MaxOpenConns int

	// MaxIdleConns caps the idle pool.
	MaxIdleConns int

	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime closes connections idle longer than this.
	ConnMaxIdleTime time.Duration

	// RetryAttempts is how many reconnects Connect makes beyond the
	// first try.
	RetryAttempts int

	// RetryDelay is the initial backoff between attempts; it doubles
	// each retry.
	RetryDelay time.Duration
}

// Validate rejects an unusable config and fills unset knobs with
// defaults sized for the mirror's write load.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return ErrInvalidDSN
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = time.Minute
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return nil
}
