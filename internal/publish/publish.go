// Package publish fans out assembled Snapshots to out-of-tree consumers
// (a dashboard process serving an HTTP/WebSocket surface to operators) over
// Redis pub/sub, so the core engine never depends on who is listening.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nifty-options-engine/internal/domain"
	"nifty-options-engine/libs/observability"
)

// DefaultChannel is the Redis pub/sub channel Snapshots are published on.
const DefaultChannel = "nifty-options-engine:snapshot"

// PublishTimeout bounds how long one publish call may block; a slow or
// down Redis must never stall snapshot assembly back into the engine.
const PublishTimeout = 500 * time.Millisecond

// RedisPublisher fans out Snapshots to a Redis channel, best-effort.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to addr and returns a Publisher for channel
// (DefaultChannel if empty).
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("publish: connect to redis: %w", err)
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish marshals snap and publishes it, logging (never panicking or
// blocking the caller beyond PublishTimeout) on failure.
func (p *RedisPublisher) Publish(ctx context.Context, snap domain.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		observability.LogEvent(ctx, "error", "snapshot_publish_marshal_failed", map[string]any{"error": err.Error()})
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	if err := p.client.Publish(pubCtx, p.channel, data).Err(); err != nil {
		observability.LogEvent(ctx, "warn", "snapshot_publish_failed", map[string]any{"error": err.Error(), "channel": p.channel})
	}
}

// Close releases the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
