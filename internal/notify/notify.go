// Package notify delivers operator notifications. Delivery is best effort;
// a failed notification is logged and never propagates into the trading
// path.
package notify

import (
	"context"

	"github.com/shopspring/decimal"
)

// Trade describes an executed trade for notification purposes.
type Trade struct {
	Ticker   string
	Action   string
	Quantity int64
	Price    decimal.Decimal
	Score    int
	Reason   string
	// AvgCost is set on sells so the message can show realized P&L.
	AvgCost decimal.Decimal
}

// Signal describes a detected trading signal.
type Signal struct {
	Ticker       string
	Action       string
	Score        int
	CurrentPrice decimal.Decimal
	TargetPrice  decimal.Decimal
}

// Holding is one line of the daily summary.
type Holding struct {
	Ticker   string
	Quantity int64
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Added   []string
	Removed []string
	Updated []string
}

// Notifier pushes events to the operator channel. Implementations swallow
// their own failures.
type Notifier interface {
	TradeExecuted(ctx context.Context, t Trade)
	SignalDetected(ctx context.Context, s Signal)
	Errorf(ctx context.Context, format string, args ...any)
	DailySummary(ctx context.Context, holdings []Holding, totalValue, unrealizedPnL decimal.Decimal)
	Reconciled(ctx context.Context, r ReconcileReport)
	Startup(ctx context.Context, venue string, dryRun bool)
	Shutdown(ctx context.Context)
}

// Noop discards every notification. Used when no channel is configured.
type Noop struct{}

func (Noop) TradeExecuted(context.Context, Trade)   {}
func (Noop) SignalDetected(context.Context, Signal) {}
func (Noop) Errorf(context.Context, string, ...any) {}
func (Noop) DailySummary(context.Context, []Holding, decimal.Decimal, decimal.Decimal) {}
func (Noop) Reconciled(context.Context, ReconcileReport) {}
func (Noop) Startup(context.Context, string, bool)       {}
func (Noop) Shutdown(context.Context)                    {}
