package orders

import (
	"context"
	"time"
)

// LiveTimeout bounds how long the broker has to report a terminal order
// state before the placement is marked UNKNOWN.
const LiveTimeout = 5 * time.Second

// BrokerClient is the narrow surface a live broker adapter must expose:
// submit an order and stream back fill reports (possibly more than one,
// for partial fills) until the broker reports a terminal state.
type BrokerClient interface {
	SubmitOrder(ctx context.Context, req Request) (brokerOrderID string, err error)
	StreamFills(ctx context.Context, brokerOrderID string) (<-chan FillReport, error)
}

// FillReport is one partial or terminal fill notification from the broker.
type FillReport struct {
	Qty      int
	Price    float64
	Terminal bool
}

// liveSubmitEndpoint is the Throttle bucket key for broker order placement.
const liveSubmitEndpoint = "submit_order"

// LiveBackend delegates placement to a broker adapter, collapsing any
// partial fills into a single weighted-average Ack once the broker
// reports the terminal state, or within LiveTimeout. Submissions are
// throttled so a burst of signals never exceeds the broker's own
// order-placement rate limit.
type LiveBackend struct {
	client   BrokerClient
	now      func() time.Time
	throttle *Throttle
}

// NewLiveBackend wraps a broker adapter as an orders.Backend, allowing up
// to submitRate order placements per second with a burst of submitBurst.
func NewLiveBackend(client BrokerClient, submitBurst, submitRate float64) *LiveBackend {
	return &LiveBackend{client: client, now: time.Now, throttle: NewThrottle(submitBurst, submitRate)}
}

func (l *LiveBackend) Place(ctx context.Context, req Request) (Ack, error) {
	if !l.throttle.Allow(liveSubmitEndpoint) {
		return Ack{}, ErrThrottled
	}

	orderID, err := l.client.SubmitOrder(ctx, req)
	if err != nil {
		return Ack{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, LiveTimeout)
	defer cancel()

	fills, err := l.client.StreamFills(ctx, orderID)
	if err != nil {
		return Ack{}, err
	}

	var totalQty int
	var totalNotional float64

	for {
		select {
		case <-ctx.Done():
			if totalQty > 0 {
				return Ack{
					OrderID: orderID, Status: StatusUnknown,
					FilledQty: totalQty, FilledPrice: totalNotional / float64(totalQty),
					Timestamp: l.now(),
				}, nil
			}
			// No fills observed before timeout: caller must not create a position.
			return Ack{OrderID: orderID, Status: StatusUnknown, Timestamp: l.now()}, nil

		case report, ok := <-fills:
			if !ok {
				return Ack{
					OrderID: orderID, Status: StatusUnknown,
					FilledQty: totalQty, FilledPrice: weightedAvg(totalQty, totalNotional),
					Timestamp: l.now(),
				}, nil
			}
			totalQty += report.Qty
			totalNotional += report.Price * float64(report.Qty)
			if report.Terminal {
				status := StatusFilled
				if totalQty < req.Qty {
					status = StatusPartial
				}
				return Ack{
					OrderID: orderID, Status: status,
					FilledQty: totalQty, FilledPrice: weightedAvg(totalQty, totalNotional),
					Timestamp: l.now(),
				}, nil
			}
		}
	}
}

func weightedAvg(qty int, notional float64) float64 {
	if qty == 0 {
		return 0
	}
	return notional / float64(qty)
}
