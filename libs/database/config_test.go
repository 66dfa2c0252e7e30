package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidateRejectsEmptyDSN(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidDSN) {
		t.Errorf("err = %v, want ErrInvalidDSN", err)
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{DSN: "postgres://localhost:5432/trades"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.MaxOpenConns != 10 {
		t.Errorf("MaxOpenConns = %d, want 10", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 2 {
		t.Errorf("MaxIdleConns = %d, want 2", cfg.MaxIdleConns)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.RetryDelay)
	}
	if cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want 5m", cfg.ConnMaxLifetime)
	}
}

func TestValidateKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		DSN:           "postgres://localhost:5432/trades",
		MaxOpenConns:  4,
		MaxIdleConns:  1,
		RetryAttempts: 5,
		RetryDelay:    250 * time.Millisecond,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MaxOpenConns != 4 || cfg.MaxIdleConns != 1 {
		t.Errorf("pool sizes changed: open=%d idle=%d", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
}

func TestValidateClampsIdleToOpen(t *testing.T) {
	cfg := &Config{
		DSN:          "postgres://localhost:5432/trades",
		MaxOpenConns: 3,
		MaxIdleConns: 8,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.MaxIdleConns != 3 {
		t.Errorf("MaxIdleConns = %d, want clamped to 3", cfg.MaxIdleConns)
	}
}

func TestConnectFailsOnBadDSN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, &Config{DSN: "not-a-dsn", RetryAttempts: 0})
	if err == nil {
		t.Error("expected error for malformed DSN")
	}
}

func TestConnectHonoursContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Connect(ctx, &Config{
		DSN:           "postgres://127.0.0.1:1/unreachable",
		RetryAttempts: 10,
		RetryDelay:    100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// Cancellation must cut the backoff short, not ride out all retries.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Connect blocked %v past cancellation", elapsed)
	}
}
