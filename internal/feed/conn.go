package feed

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nifty-options-engine/libs/observability"
)

// Conn wraps the broker WebSocket connection: it authenticates with the
// bearer credential, keeps the desired subscription set and replays it on
// every (re)connect, and turns read errors plus three consecutive decode
// failures into a reconnect with exponential backoff (1s initial,
// doubling to a 30s cap, jittered ±20%, unbounded retries, each failure
// logged).
type Conn struct {
	url       string
	authToken string

	mu      sync.Mutex
	active  *websocket.Conn
	desired map[Mode]map[string]struct{}

	malformedStreak int
}

// NewConn creates a feed connection descriptor. Dial happens in Run.
func NewConn(url, authToken string) *Conn {
	return &Conn{url: url, authToken: authToken, desired: map[Mode]map[string]struct{}{}}
}

// UpdateSubscriptions reconciles the desired key set for mode: newly
// wanted keys are subscribed, no-longer-wanted keys unsubscribed. The
// set survives reconnects — Run replays it after every successful dial.
func (c *Conn) UpdateSubscriptions(mode Mode, keys []string) {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}

	c.mu.Lock()
	have := c.desired[mode]
	var added, removed []string
	for k := range want {
		if _, ok := have[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range have {
		if _, ok := want[k]; !ok {
			removed = append(removed, k)
		}
	}
	c.desired[mode] = want
	conn := c.active
	c.mu.Unlock()

	if conn == nil {
		return // replayed on next connect
	}
	if len(added) > 0 {
		if err := c.sendControl(conn, "sub", added, mode); err != nil {
			log.Printf("feed: subscribe failed: %v", err)
		}
	}
	if len(removed) > 0 {
		if err := c.sendControl(conn, "unsub", removed, mode); err != nil {
			log.Printf("feed: unsubscribe failed: %v", err)
		}
	}
}

// Run dials the broker feed and delivers decoded frames on out until ctx is
// cancelled, reconnecting with exponential backoff on any socket failure.
// out is expected to be drained promptly; Run never blocks on a slow
// consumer beyond the channel's own buffering (callers should give out a
// generous buffer, since the feed must never stall on downstream backpressure).
func (c *Conn) Run(ctx context.Context, out chan<- FeedMessage, onReconnect func(attempt int, delay time.Duration)) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		header := http.Header{}
		if c.authToken != "" {
			header.Set("Authorization", "Bearer "+c.authToken)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
		if err != nil {
			log.Printf("feed: dial failed: %v", err)
			attempt++
			c.sleepBackoff(ctx, &backoff, maxBackoff, attempt, onReconnect)
			continue
		}

		backoff = time.Second
		attempt = 0
		c.malformedStreak = 0

		c.mu.Lock()
		c.active = conn
		c.mu.Unlock()
		c.replaySubscriptions(conn)

		err = c.readLoop(ctx, conn, out)
		conn.Close()
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("feed: connection lost: %v", err)
		}
		attempt++
		c.sleepBackoff(ctx, &backoff, maxBackoff, attempt, onReconnect)
	}
}

// replaySubscriptions re-sends the full desired set after a (re)connect.
func (c *Conn) replaySubscriptions(conn *websocket.Conn) {
	c.mu.Lock()
	byMode := make(map[Mode][]string, len(c.desired))
	for mode, keys := range c.desired {
		for k := range keys {
			byMode[mode] = append(byMode[mode], k)
		}
	}
	c.mu.Unlock()

	for mode, keys := range byMode {
		if len(keys) == 0 {
			continue
		}
		if err := c.sendControl(conn, "sub", keys, mode); err != nil {
			log.Printf("feed: resubscribe failed: %v", err)
		}
	}
}

func (c *Conn) sendControl(conn *websocket.Conn, method string, keys []string, mode Mode) error {
	msg := ControlMessage{
		GUID:   uuid.NewString(),
		Method: method,
		Data:   ControlPayload{InstrumentKeys: keys, Mode: mode},
	}
	b, err := EncodeControl(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *Conn) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- FeedMessage) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, decErr := Decode(raw)
		if decErr != nil {
			c.malformedStreak++
			observability.RecordFrameDropped()
			log.Printf("feed: malformed frame (%d consecutive): %v", c.malformedStreak, decErr)
			if c.malformedStreak >= 3 {
				return decErr // escalate to reconnect
			}
			continue
		}
		c.malformedStreak = 0
		observability.RecordTickProcessed()

		// Decode is pure and leaves a missing timestamp zero; the
		// transport is the layer that may read the clock, so stamp
		// arrival time here.
		arrival := time.Now().UTC()
		for i := range msg.Ticks {
			if msg.Ticks[i].TS.IsZero() {
				msg.Ticks[i].TS = arrival
			}
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Conn) sleepBackoff(ctx context.Context, backoff *time.Duration, max time.Duration, attempt int, onReconnect func(attempt int, delay time.Duration)) {
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // ±20%
	delay := time.Duration(float64(*backoff) * jitter)
	if onReconnect != nil {
		onReconnect(attempt, delay)
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	*backoff *= 2
	if *backoff > max {
		*backoff = max
	}
}
