// Package order drives a submitted order to an authoritative outcome by
// polling the broker until a terminal status or a wall-clock timeout.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/pkg/broker/common"
)

// Outcome classifies how an order's tracking ended.
type Outcome string

const (
	FilledAll  Outcome = "FILLED_ALL"
	FilledPart Outcome = "FILLED_PART"
	Cancelled  Outcome = "CANCELLED"
	Failed     Outcome = "FAILED"
	// Unknown means the order's fate could not be established before the
	// timeout. The caller must not treat this as a clean failure and must
	// not resubmit; the next reconciliation pass settles it.
	Unknown Outcome = "UNKNOWN"
)

// Submission identifies the order being tracked.
type Submission struct {
	OrderID      string
	Ticker       string
	Side         common.Side
	RequestedQty int64
}

// Result is terminal; no field changes after Await returns.
type Result struct {
	Outcome      Outcome
	OrderID      string
	RequestedQty int64
	FilledQty    int64
	AvgFillPrice decimal.Decimal
	PartialFill  bool
	Message      string
}

// Settled reports whether shares actually changed hands.
func (r Result) Settled() bool {
	return r.FilledQty > 0 && (r.Outcome == FilledAll || r.Outcome == FilledPart)
}

// PollPolicy bounds the tracking loop.
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Tracker polls order status against a broker gateway.
type Tracker struct {
	gateway common.Gateway
	policy  PollPolicy
	log     zerolog.Logger
}

func NewTracker(gateway common.Gateway, policy PollPolicy, log zerolog.Logger) *Tracker {
	return &Tracker{
		gateway: gateway,
		policy:  policy,
		log:     log.With().Str("component", "order").Logger(),
	}
}

// Await blocks until the order reaches a terminal status or the poll timeout
// elapses. A terminal status ends the loop immediately. On timeout one final
// status query runs; whatever it observes is reported, and if that query
// itself fails the outcome is Unknown with no fill data.
func (t *Tracker) Await(ctx context.Context, sub Submission) Result {
	deadline := time.Now().Add(t.policy.Timeout)

	for {
		state, err := t.gateway.OrderStatus(ctx, sub.OrderID)
		if err == nil && state.Status.Terminal() {
			return t.resolve(sub, state)
		}
		if err != nil {
			t.log.Warn().Err(err).Str("order_id", sub.OrderID).Msg("status poll failed")
		}

		if time.Now().After(deadline) {
			return t.finalRead(ctx, sub)
		}
		select {
		case <-time.After(t.policy.Interval):
		case <-ctx.Done():
			return Result{
				Outcome:      Unknown,
				OrderID:      sub.OrderID,
				RequestedQty: sub.RequestedQty,
				Message:      fmt.Sprintf("tracking aborted: %v", ctx.Err()),
			}
		}
	}
}

// finalRead is the last chance to observe the order after the timeout. A
// failed read here must surface as Unknown: shares may have filled, and
// reporting a clean failure would invite a double submit.
func (t *Tracker) finalRead(ctx context.Context, sub Submission) Result {
	state, err := t.gateway.OrderStatus(ctx, sub.OrderID)
	if err != nil {
		t.log.Error().Err(err).Str("order_id", sub.OrderID).Msg("final status read failed")
		return Result{
			Outcome:      Unknown,
			OrderID:      sub.OrderID,
			RequestedQty: sub.RequestedQty,
			Message:      fmt.Sprintf("timeout and final status read failed: %v", err),
		}
	}
	if state.Status.Terminal() {
		return t.resolve(sub, state)
	}

	// Still live after the budget. Report whatever filled so far.
	res := Result{
		OrderID:      sub.OrderID,
		RequestedQty: sub.RequestedQty,
		FilledQty:    state.FilledQty,
		AvgFillPrice: state.AvgFillPrice,
	}
	switch {
	case state.FilledQty >= sub.RequestedQty && state.FilledQty > 0:
		res.Outcome = FilledAll
		res.Message = "filled in full, broker status lagging"
	case state.FilledQty > 0:
		res.Outcome = FilledPart
		res.PartialFill = true
		res.Message = fmt.Sprintf("timed out with %d of %d filled, order still open",
			state.FilledQty, sub.RequestedQty)
	default:
		res.Outcome = Unknown
		res.Message = "timed out with no fills observed, order still open"
	}
	return res
}

func (t *Tracker) resolve(sub Submission, state *common.OrderState) Result {
	res := Result{
		OrderID:      sub.OrderID,
		RequestedQty: sub.RequestedQty,
		FilledQty:    state.FilledQty,
		AvgFillPrice: state.AvgFillPrice,
		PartialFill:  state.FilledQty > 0 && state.FilledQty < sub.RequestedQty,
	}
	switch state.Status {
	case common.StatusFilled:
		if res.PartialFill {
			res.Outcome = FilledPart
			res.Message = fmt.Sprintf("filled %d of %d", state.FilledQty, sub.RequestedQty)
		} else {
			res.Outcome = FilledAll
			res.Message = "filled in full"
		}
	case common.StatusCanceled, common.StatusExpired:
		if state.FilledQty > 0 {
			res.Outcome = FilledPart
			res.Message = fmt.Sprintf("%s with %d of %d filled",
				state.Status, state.FilledQty, sub.RequestedQty)
		} else {
			res.Outcome = Cancelled
			res.Message = string(state.Status)
		}
	case common.StatusRejected:
		res.Outcome = Failed
		res.Message = "rejected by broker"
	default:
		res.Outcome = Unknown
		res.Message = fmt.Sprintf("unexpected terminal status %s", state.Status)
	}
	return res
}
