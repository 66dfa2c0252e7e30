package database

import "errors"

// ErrInvalidDSN is returned by Config.Validate when no connection
// string was supplied. The mirror is optional; callers treat this as
// "run without Postgres", not as a fatal error.
var ErrInvalidDSN = errors.New("database: empty DSN")
