package common

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the broker abstraction the rest of the system trades through.
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Name identifies the venue, e.g. "alpaca" or "sim".
	Name() string

	// Connect establishes the broker session. Gateways with stateless HTTP
	// APIs may verify credentials and return.
	Connect(ctx context.Context) error

	// Close releases the session. Safe to call on a never-connected gateway.
	Close() error

	// PlaceOrder submits a market order and returns the broker's ack.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// OrderStatus returns the current state of a previously placed order.
	OrderStatus(ctx context.Context, orderID string) (*OrderState, error)

	// Quote returns the latest trade price for a ticker.
	Quote(ctx context.Context, ticker string) (decimal.Decimal, error)

	// Positions returns all holdings the broker knows about.
	Positions(ctx context.Context) ([]BrokerPosition, error)
}
