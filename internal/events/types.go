package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topic enumerates the event streams the bus carries.
type Topic string

const (
	TopicSignal        Topic = "signal"
	TopicOrderPlaced   Topic = "order.placed"
	TopicOrderSettled  Topic = "order.settled"
	TopicPositionDelta Topic = "position.delta"
	TopicRunCompleted  Topic = "run.completed"
)

// SignalEvent is published for every decision the engine makes, including
// holds, so observers see the full picture of a run.
type SignalEvent struct {
	Ticker string    `json:"ticker"`
	Action string    `json:"action"`
	Score  int       `json:"score"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// OrderPlacedEvent is published after a broker acked an order.
type OrderPlacedEvent struct {
	OrderID  string    `json:"order_id"`
	Ticker   string    `json:"ticker"`
	Side     string    `json:"side"`
	Quantity int64     `json:"quantity"`
	At       time.Time `json:"at"`
}

// OrderSettledEvent is published once an order's tracking finished, whatever
// the outcome.
type OrderSettledEvent struct {
	OrderID      string          `json:"order_id"`
	Ticker       string          `json:"ticker"`
	Side         string          `json:"side"`
	Outcome      string          `json:"outcome"`
	FilledQty    int64           `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	At           time.Time       `json:"at"`
}

// PositionDeltaEvent is published whenever the local book changes, by a fill
// or by reconciliation.
type PositionDeltaEvent struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"` // new absolute quantity, 0 means closed
	Source   string `json:"source"`   // "fill" or "reconcile"
}

// RunCompletedEvent is published when a scheduled run finishes.
type RunCompletedEvent struct {
	Kind     string    `json:"kind"` // "daily" or "price"
	Executed int       `json:"executed"`
	Skipped  int       `json:"skipped"`
	At       time.Time `json:"at"`
}
