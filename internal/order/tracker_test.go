package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/pkg/broker/common"
)

// pollGateway serves a scripted sequence of status responses, repeating the
// last one forever. A nil state means that poll returns an error.
type pollGateway struct {
	states []*common.OrderState
	calls  int
}

func (g *pollGateway) OrderStatus(ctx context.Context, orderID string) (*common.OrderState, error) {
	idx := g.calls
	if idx >= len(g.states) {
		idx = len(g.states) - 1
	}
	g.calls++
	if g.states[idx] == nil {
		return nil, errors.New("broker unavailable")
	}
	s := *g.states[idx]
	s.OrderID = orderID
	return &s, nil
}

func (g *pollGateway) Name() string                      { return "fake" }
func (g *pollGateway) Connect(ctx context.Context) error { return nil }
func (g *pollGateway) Close() error                      { return nil }
func (g *pollGateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (*common.OrderAck, error) {
	return nil, errors.New("not implemented")
}
func (g *pollGateway) Quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("not implemented")
}
func (g *pollGateway) Positions(ctx context.Context) ([]common.BrokerPosition, error) {
	return nil, errors.New("not implemented")
}

func newTestTracker(g common.Gateway, timeout time.Duration) *Tracker {
	return NewTracker(g, PollPolicy{Interval: time.Millisecond, Timeout: timeout}, zerolog.Nop())
}

func submission() Submission {
	return Submission{OrderID: "ord-1", Ticker: "BAC", Side: common.SideBuy, RequestedQty: 100}
}

func TestAwaitFullFill(t *testing.T) {
	g := &pollGateway{states: []*common.OrderState{
		{Status: common.StatusNew},
		{Status: common.StatusPartial, FilledQty: 40, AvgFillPrice: decimal.NewFromInt(40)},
		{Status: common.StatusFilled, FilledQty: 100, AvgFillPrice: decimal.NewFromInt(40)},
	}}
	res := newTestTracker(g, time.Second).Await(context.Background(), submission())

	if res.Outcome != FilledAll || res.FilledQty != 100 || res.PartialFill {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.Settled() {
		t.Fatal("full fill must settle")
	}
}

func TestAwaitPartialThenCanceled(t *testing.T) {
	g := &pollGateway{states: []*common.OrderState{
		{Status: common.StatusPartial, FilledQty: 60, AvgFillPrice: decimal.NewFromInt(40)},
		{Status: common.StatusCanceled, FilledQty: 60, AvgFillPrice: decimal.NewFromInt(40)},
	}}
	res := newTestTracker(g, time.Second).Await(context.Background(), submission())

	if res.Outcome != FilledPart || res.FilledQty != 60 || !res.PartialFill {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAwaitCleanCancel(t *testing.T) {
	g := &pollGateway{states: []*common.OrderState{
		{Status: common.StatusCanceled},
	}}
	res := newTestTracker(g, time.Second).Await(context.Background(), submission())

	if res.Outcome != Cancelled || res.Settled() {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAwaitRejected(t *testing.T) {
	g := &pollGateway{states: []*common.OrderState{
		{Status: common.StatusRejected},
	}}
	res := newTestTracker(g, time.Second).Await(context.Background(), submission())

	if res.Outcome != Failed || res.FilledQty != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAwaitTimeoutReportsFinalRead(t *testing.T) {
	// Never terminal; the post-timeout read sees a partial fill.
	g := &pollGateway{states: []*common.OrderState{
		{Status: common.StatusPartial, FilledQty: 30, AvgFillPrice: decimal.NewFromInt(40)},
	}}
	res := newTestTracker(g, 5*time.Millisecond).Await(context.Background(), submission())

	if res.Outcome != FilledPart || res.FilledQty != 30 || !res.PartialFill {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAwaitTimeoutWithFailedFinalReadIsUnknown(t *testing.T) {
	g := &pollGateway{states: []*common.OrderState{nil}}
	res := newTestTracker(g, 5*time.Millisecond).Await(context.Background(), submission())

	if res.Outcome != Unknown {
		t.Fatalf("outcome = %s, want UNKNOWN", res.Outcome)
	}
	if res.FilledQty != 0 {
		t.Fatalf("unknown outcome must carry no fill data, got %d", res.FilledQty)
	}
	if res.Settled() {
		t.Fatal("unknown outcome must never settle")
	}
}

func TestAwaitContextCancelIsUnknown(t *testing.T) {
	g := &pollGateway{states: []*common.OrderState{
		{Status: common.StatusNew},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestTracker(g, time.Second).Await(ctx, submission())

	if res.Outcome != Unknown {
		t.Fatalf("outcome = %s, want UNKNOWN", res.Outcome)
	}
}
