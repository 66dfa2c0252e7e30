// Package domain holds the named record types shared across the trading
// engine. Filter results, signals, positions and snapshots are concrete
// structs rather than maps so a missing field is a compile error, not a
// runtime surprise.
package domain

import "time"

// InstrumentKey uniquely names a tradable contract.
type InstrumentKey string

// Segment classifies an instrument.
type Segment string

const (
	SegmentIndex  Segment = "INDEX"
	SegmentOption Segment = "OPTION"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	CE OptionType = "CE"
	PE OptionType = "PE"
)

// Instrument describes a tradable contract resolved from the master file.
type Instrument struct {
	Key        InstrumentKey
	Symbol     string
	Segment    Segment
	OptionType OptionType // zero value for index
	Strike     float64
	Expiry     time.Time
	LotSize    int
	TickSize   float64
}

// Tick is a single market-data update for one instrument.
type Tick struct {
	Instrument InstrumentKey
	TS         time.Time
	LTP        float64
	LTQ        int64
	OI         *int64
	Volume     int64
	Bid        float64
	Ask        float64
}

// Candle is one OHLCV bucket for a fixed interval.
type Candle struct {
	Start  time.Time
	End    time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// OptionContractState is the last-known state of one subscribed option.
type OptionContractState struct {
	InstrumentKey InstrumentKey
	Strike        float64
	Type          OptionType
	Expiry        time.Time
	LastPrice     float64
	OI            int64
	LastUpdate    time.Time
}

// Leg holds Greeks for one side (CE or PE) of the ATM pair.
type Leg struct {
	Delta        float64
	Gamma        float64
	Theta        float64
	Vega         float64
	Rho          float64
	IV           float64
	Price        float64
	QualityScore int
	Converged    bool
}

// GreeksSnapshot is the ATM CE/PE Greeks pair at a point in time.
type GreeksSnapshot struct {
	ATMStrike float64
	Expiry    time.Time
	CE        Leg
	PE        Leg
	ComputedAt time.Time
}

// PCRSentiment classifies the put-call ratio.
type PCRSentiment string

const (
	SentimentExtremeBearish PCRSentiment = "EXTREME_BEARISH"
	SentimentBearish        PCRSentiment = "BEARISH"
	SentimentBullish        PCRSentiment = "BULLISH"
	SentimentExtremeBullish PCRSentiment = "EXTREME_BULLISH"
	SentimentNeutral        PCRSentiment = "NEUTRAL"
)

// PCRTrend is the sign of the slope of the rolling PCR sample window.
type PCRTrend string

const (
	TrendUp    PCRTrend = "UP"
	TrendDown  PCRTrend = "DOWN"
	TrendFlat  PCRTrend = "FLAT"
)

// PCRState is the aggregated put-call open-interest picture.
type PCRState struct {
	TotalCEOI   int64
	TotalPEOI   int64
	PCR         float64 // NaN when TotalCEOI == 0
	Sentiment   PCRSentiment
	Trend       PCRTrend
	SampleCount int
	LastUpdate  time.Time
}

// SignalKind is the output of the signal engine.
type SignalKind string

const (
	BuyCE SignalKind = "BUY_CE"
	BuyPE SignalKind = "BUY_PE"
	Hold  SignalKind = "HOLD"
)

// FilterName identifies one of the eight entry filters.
type FilterName string

const (
	FilterSupertrend          FilterName = "supertrend"
	FilterEMA                 FilterName = "ema"
	FilterRSI                 FilterName = "rsi"
	FilterVolatility          FilterName = "volatility"
	FilterEntryConfirmation   FilterName = "entry_confirmation"
	FilterGreeks              FilterName = "greeks"
	FilterPCR                 FilterName = "pcr"
	FilterVolume              FilterName = "volume"
)

// FilterResult is one row of the signal engine's reasoning table.
type FilterResult struct {
	Name     FilterName
	Passed   bool
	Observed float64
}

// Signal is the output of one signal-engine evaluation.
type Signal struct {
	Kind       SignalKind
	Reason     string
	Filters    []FilterResult
	Confidence float64
	IssuedAt   time.Time
	Diagnostic string // e.g. "COOLDOWN", "TIE"
}

// PositionStatus is OPEN or CLOSED.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason names why a position was closed.
type ExitReason string

const (
	ExitStop      ExitReason = "STOP"
	ExitTarget    ExitReason = "TARGET"
	ExitTrail     ExitReason = "TRAIL"
	ExitSquareOff ExitReason = "EOD_SQUARE_OFF"
	ExitManual    ExitReason = "MANUAL"
)

// Position is one open or closed options trade.
type Position struct {
	ID              string
	Type            OptionType
	InstrumentKey   InstrumentKey
	Strike          float64
	EntryTS         time.Time
	EntryPrice      float64
	Qty             int
	StopLoss        float64
	Target          float64
	TrailingSL      float64
	TrailOffset     float64
	TrailingActive  bool
	Status          PositionStatus
	ExitReason      ExitReason
	ExitTS          time.Time
	ExitPrice       float64
	RealisedPnL     float64
	LastPrice       float64
	UnrealisedPnL   float64
}

// RiskState is the engine-wide risk budget and trading-allowed gate.
type RiskState struct {
	InitialCapital         float64
	CurrentBalance         float64
	DailyPnL               float64
	DailyLossLimit         float64
	MaxConcurrentPositions int
	RiskPerTradePct        float64
	TradingAllowed         bool
	SessionStart           time.Time
}

// AuthState reflects the health of the broker bearer credential.
type AuthState struct {
	Authenticated         bool
	TokenRemainingSeconds int64
	ErrorMessage          string
}

// IndicatorsView is the Snapshot's flattened indicator panel.
type IndicatorsView struct {
	RSI         float64
	EMA5        float64
	EMA20       float64
	ATRPct      float64
	VWAP        float64
	Supertrend  string // "BULLISH" | "BEARISH"
}

// PCRView is the Snapshot's flattened PCR panel.
type PCRView struct {
	Value     float64
	Sentiment PCRSentiment
	Trend     PCRTrend
	CEOI      int64
	PEOI      int64
	Samples   int
}

// Snapshot is the single typed structure emitted to downstream consumers.
type Snapshot struct {
	TS         time.Time
	Spot       float64
	Positions  []Position
	Signal     SignalKind
	Filters    []FilterResult
	Reasoning  string
	Indicators IndicatorsView
	PCR        PCRView
	Greeks     GreeksSnapshot
	Risk       RiskState
	Auth       AuthState
}
