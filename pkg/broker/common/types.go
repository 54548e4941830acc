package common

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	// StatusUnknown means the order's fate could not be determined. It must
	// never be treated as a clean failure; shares may have been filled.
	StatusUnknown OrderStatus = "UNKNOWN"
)

// Terminal reports whether the status is final and will not change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest is a market order to submit. Quantity is whole shares.
type OrderRequest struct {
	Ticker   string
	Side     Side
	Quantity int64
}

// OrderAck is the broker's acceptance of a submitted order.
type OrderAck struct {
	OrderID     string
	SubmittedAt time.Time
}

// OrderState is a point-in-time snapshot of an order's progress.
type OrderState struct {
	OrderID      string
	Status       OrderStatus
	FilledQty    int64
	AvgFillPrice decimal.Decimal // zero when nothing filled
}

// BrokerPosition is a holding as the broker reports it.
type BrokerPosition struct {
	Ticker   string
	Quantity int64
	AvgCost  decimal.Decimal
}

var (
	// ErrOrderNotFound is returned when the broker has no record of an order ID.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotConnected is returned when the gateway has no live session.
	ErrNotConnected = errors.New("broker not connected")
)
