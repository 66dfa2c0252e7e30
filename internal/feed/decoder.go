package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"nifty-options-engine/internal/domain"
)

// wireMessage mirrors the broker's schema-defined server frame: a message
// kind and a map of instrument key to a feed-union payload. The broker's
// actual wire format is a length-delimited Protocol-Buffers message; no
// .proto was available to this build; Decode targets the documented JSON
// projection of the same field union (ltpc | fullFeed | firstLevelWithGreeks)
// so the parsing and routing logic in this package is unaffected by which
// wire codec eventually back it — only this file would change.
type wireMessage struct {
	Type string                     `json:"type"`
	Feeds map[string]wireFeedUnion  `json:"feeds"`
	MarketInfo map[string]any       `json:"marketInfo"`
}

type wireFeedUnion struct {
	LTPC *wireLTPC `json:"ltpc"`
	FullFeed *wireFullFeed `json:"fullFeed"`
	FirstLevelWithGreeks *wireFullFeed `json:"firstLevelWithGreeks"`
}

type wireLTPC struct {
	LTP    float64 `json:"ltp"`
	LTQ    int64   `json:"ltq"`
	LTT    int64   `json:"ltt"` // epoch ms
	Volume int64   `json:"vol"`
	OI     *int64  `json:"oi"`
}

type wireFullFeed struct {
	LTPC   *wireLTPC `json:"ltpc"`
	LTT    int64     `json:"ltt"`
	Volume int64     `json:"vol"`
	Bid    float64   `json:"bidP"`
	Ask    float64   `json:"askP"`
	OI     *int64    `json:"oi"`
	OpenInterest *int64 `json:"open_interest"`
	OHLC   *struct {
		OI *int64 `json:"oi"`
	} `json:"ohlc"`
}

// resolveOI treats ohlc.oi, oi, and open_interest as equivalent sources,
// preferring the outermost explicit field since brokers have shipped open
// interest under all three names across schema revisions.
func (f wireFullFeed) resolveOI() *int64 {
	if f.OI != nil {
		return f.OI
	}
	if f.OpenInterest != nil {
		return f.OpenInterest
	}
	if f.OHLC != nil && f.OHLC.OI != nil {
		return f.OHLC.OI
	}
	if f.LTPC != nil && f.LTPC.OI != nil {
		return f.LTPC.OI
	}
	return nil
}

// Decode parses one length-delimited broker frame into a FeedMessage. It
// performs no I/O. Unknown fields are ignored by encoding/json by default.
// A malformed frame returns a *DecodeError; Conn.readLoop in conn.go
// counts consecutive failures and escalates to reconnect after three.
func Decode(frame []byte) (FeedMessage, error) {
	var wm wireMessage
	if err := json.Unmarshal(frame, &wm); err != nil {
		return FeedMessage{}, &DecodeError{Reason: err.Error(), At: time.Now()}
	}

	switch wm.Type {
	case "initial_feed":
		ticks, err := decodeTicks(wm.Feeds)
		if err != nil {
			return FeedMessage{}, err
		}
		return FeedMessage{Kind: KindInitialFeed, Ticks: ticks}, nil
	case "live_feed":
		ticks, err := decodeTicks(wm.Feeds)
		if err != nil {
			return FeedMessage{}, err
		}
		return FeedMessage{Kind: KindLiveFeed, Ticks: ticks}, nil
	case "market_info":
		status := "unknown"
		if s, ok := wm.MarketInfo["status"].(string); ok {
			status = s
		}
		return FeedMessage{Kind: KindMarketInfo, Status: &MarketStatus{Status: status, Raw: wm.MarketInfo}}, nil
	default:
		return FeedMessage{}, &DecodeError{Reason: fmt.Sprintf("unknown frame type %q", wm.Type), At: time.Now()}
	}
}

func decodeTicks(feeds map[string]wireFeedUnion) ([]domain.Tick, error) {
	ticks := make([]domain.Tick, 0, len(feeds))
	for key, union := range feeds {
		t, ok := tickFromUnion(domain.InstrumentKey(key), union)
		if !ok {
			continue // unknown/empty union for this instrument: ignore, not a frame error
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

func tickFromUnion(key domain.InstrumentKey, union wireFeedUnion) (domain.Tick, bool) {
	switch {
	case union.FullFeed != nil:
		f := union.FullFeed
		t := domain.Tick{
			Instrument: key,
			Volume:     f.Volume,
			Bid:        f.Bid,
			Ask:        f.Ask,
			OI:         f.resolveOI(),
		}
		if f.LTPC != nil {
			t.LTP = f.LTPC.LTP
			t.LTQ = f.LTPC.LTQ
			t.TS = msToTime(f.LTPC.LTT)
		} else {
			t.TS = msToTime(f.LTT)
		}
		return t, true
	case union.FirstLevelWithGreeks != nil:
		f := union.FirstLevelWithGreeks
		t := domain.Tick{Instrument: key, Volume: f.Volume, Bid: f.Bid, Ask: f.Ask, OI: f.resolveOI()}
		if f.LTPC != nil {
			t.LTP = f.LTPC.LTP
			t.LTQ = f.LTPC.LTQ
			t.TS = msToTime(f.LTPC.LTT)
		}
		return t, true
	case union.LTPC != nil:
		l := union.LTPC
		return domain.Tick{
			Instrument: key,
			TS:         msToTime(l.LTT),
			LTP:        l.LTP,
			LTQ:        l.LTQ,
			Volume:     l.Volume,
			OI:         l.OI,
		}, true
	default:
		return domain.Tick{}, false
	}
}

// msToTime converts an epoch-ms field. Decode is pure and deterministic,
// so a frame without a timestamp yields the zero time for the caller to
// handle — never a wall-clock read here.
func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// EncodeControl serialises a ControlMessage the way the client transmits
// sub/unsub/change_mode requests: JSON encoded as UTF-8 binary frame bytes.
func EncodeControl(msg ControlMessage) ([]byte, error) {
	return json.Marshal(msg)
}
