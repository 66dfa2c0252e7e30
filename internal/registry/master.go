package registry

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"nifty-options-engine/internal/domain"
	"nifty-options-engine/libs/observability"
	"nifty-options-engine/libs/resilience"
)

const masterEndpoint = "contract_master"

// HTTPMasterSource fetches the gzip-compressed CSV contract master from a
// stable URL using resty, wrapped in a circuit breaker so a flaky master
// host degrades to "keep previous registry" instead of
// blocking the refresh goroutine.
type HTTPMasterSource struct {
	client *resty.Client
	url    string
	cb     *resilience.CircuitBreaker
}

// NewHTTPMasterSource creates a master-file source for url.
func NewHTTPMasterSource(url string) *HTTPMasterSource {
	return &HTTPMasterSource{
		client: resty.New().SetTimeout(30 * time.Second),
		url:    url,
		cb:     resilience.NewCircuitBreaker(resilience.DefaultConfig("instrument-master")),
	}
}

// Required CSV columns, in any order, matched by header name.
const (
	colInstrumentKey = "instrument_key"
	colSymbol        = "symbol"
	colSegment       = "segment"
	colOptionType    = "option_type"
	colStrike        = "strike"
	colExpiry        = "expiry"
	colLotSize       = "lot_size"
	colTickSize      = "tick_size"
)

// Load fetches, ungzips, and parses the contract master into Instruments.
func (s *HTTPMasterSource) Load(ctx context.Context) ([]domain.Instrument, error) {
	start := time.Now()
	observability.LogBrokerCallStart(ctx, masterEndpoint, map[string]any{"url": s.url})

	result, err := s.cb.ExecuteWithContext(ctx, func() (any, error) {
		resp, err := s.client.R().SetContext(ctx).Get(s.url)
		if err != nil {
			return nil, fmt.Errorf("registry: fetch master: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("registry: master fetch status %d", resp.StatusCode())
		}
		return resp.Body(), nil
	})
	observability.LogBrokerCallEnd(ctx, masterEndpoint, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	body := result.([]byte)
	return parseMaster(body)
}

func parseMaster(body []byte) ([]domain.Instrument, error) {
	gz, err := gzip.NewReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("registry: ungzip master: %w", err)
	}
	defer gz.Close()
	return parseCSV(gz)
}

func parseCSV(r io.Reader) ([]domain.Instrument, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("registry: read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{colInstrumentKey, colSymbol, colSegment, colLotSize, colTickSize} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("registry: master missing required column %q", required)
		}
	}

	var instruments []domain.Instrument
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("registry: read row: %w", err)
		}

		inst, ok := parseRow(rec, idx)
		if !ok {
			continue // data-quality error: drop the row, keep going
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

func parseRow(rec []string, idx map[string]int) (domain.Instrument, bool) {
	get := func(col string) string {
		if i, ok := idx[col]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	lotSize, err := strconv.Atoi(get(colLotSize))
	if err != nil {
		return domain.Instrument{}, false
	}
	tickSize, err := strconv.ParseFloat(get(colTickSize), 64)
	if err != nil {
		return domain.Instrument{}, false
	}

	inst := domain.Instrument{
		Key:      domain.InstrumentKey(get(colInstrumentKey)),
		Symbol:   get(colSymbol),
		LotSize:  lotSize,
		TickSize: tickSize,
	}

	switch strings.ToUpper(get(colSegment)) {
	case "INDEX":
		inst.Segment = domain.SegmentIndex
	case "OPTION", "OPTIDX", "OPTSTK":
		inst.Segment = domain.SegmentOption
	default:
		return domain.Instrument{}, false
	}

	if inst.Segment == domain.SegmentOption {
		switch strings.ToUpper(get(colOptionType)) {
		case "CE":
			inst.OptionType = domain.CE
		case "PE":
			inst.OptionType = domain.PE
		default:
			return domain.Instrument{}, false // unknown/missing option type: drop
		}
		strike, err := strconv.ParseFloat(get(colStrike), 64)
		if err != nil {
			return domain.Instrument{}, false
		}
		inst.Strike = strike

		expiry, err := time.Parse("2006-01-02", get(colExpiry))
		if err != nil {
			return domain.Instrument{}, false // missing expiry: data-quality drop
		}
		inst.Expiry = expiry
	}

	if inst.Key == "" || inst.Symbol == "" {
		return domain.Instrument{}, false
	}
	return inst, true
}
