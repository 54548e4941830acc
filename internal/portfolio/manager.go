// Package portfolio owns the local position book. Every mutation runs as a
// sqlite transaction, and one coarse trading lock serializes the daily score
// pass and the price sweep so their mutations never interleave.
package portfolio

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/internal/events"
	"scorebot/pkg/db"
)

// ErrNoPosition is returned when an operation targets a ticker that is not
// held.
var ErrNoPosition = errors.New("no position held")

// Manager mediates all reads and writes of the position book.
type Manager struct {
	tradeMu sync.Mutex
	db      *db.Database
	bus     *events.Bus
	log     zerolog.Logger
}

func NewManager(database *db.Database, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		db:  database,
		bus: bus,
		log: log.With().Str("component", "portfolio").Logger(),
	}
}

// LockTrading acquires the trading lock and returns the release func. The
// daily pass and the price sweep each hold it for their whole run.
func (m *Manager) LockTrading() func() {
	m.tradeMu.Lock()
	return m.tradeMu.Unlock
}

// Get returns the position for ticker, or ErrNoPosition.
func (m *Manager) Get(ctx context.Context, ticker string) (*db.Position, error) {
	p, err := m.db.GetPosition(ctx, ticker)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoPosition
	}
	return p, err
}

// List returns all held positions.
func (m *Manager) List(ctx context.Context) ([]*db.Position, error) {
	return m.db.ListPositions(ctx)
}

// Count returns the number of open positions, used for the entry limit.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.db.CountPositions(ctx)
}

// RecordBuy applies a filled buy: a fresh ticker opens a position with the
// filled quantity, an existing one grows with quantity-weighted average
// cost. Target and stop prices come from the actual fill, not the request.
func (m *Manager) RecordBuy(ctx context.Context, p *db.Position) error {
	if err := m.db.ApplyBuyFill(ctx, p); err != nil {
		return err
	}
	updated, err := m.db.GetPosition(ctx, p.Ticker)
	if err != nil {
		return err
	}
	m.publishDelta(p.Ticker, updated.Quantity, "fill")
	return nil
}

// RecordSell applies a filled sell. A full fill removes the row; a partial
// fill keeps the remainder at its original average cost.
func (m *Manager) RecordSell(ctx context.Context, ticker string, soldQty int64) error {
	if err := m.db.ReducePosition(ctx, ticker, soldQty); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNoPosition
		}
		return err
	}
	remaining := int64(0)
	if p, err := m.db.GetPosition(ctx, ticker); err == nil {
		remaining = p.Quantity
	}
	m.publishDelta(ticker, remaining, "fill")
	return nil
}

// Replace force-writes a position to the given quantity and cost. Used by
// reconciliation when the broker disagrees with the local book.
func (m *Manager) Replace(ctx context.Context, p *db.Position) error {
	if err := m.db.SetPosition(ctx, p); err != nil {
		return err
	}
	m.publishDelta(p.Ticker, p.Quantity, "reconcile")
	return nil
}

// Remove drops a position without a trade, for reconciliation of stale rows.
func (m *Manager) Remove(ctx context.Context, ticker string) error {
	if err := m.db.DeletePosition(ctx, ticker); err != nil {
		return err
	}
	m.publishDelta(ticker, 0, "reconcile")
	return nil
}

// LogTrade appends one trade record.
func (m *Manager) LogTrade(ctx context.Context, t *db.Trade) error {
	return m.db.InsertTrade(ctx, t)
}

// Value prices the book with the given quote function and returns total
// market value and unrealized P&L. Tickers that cannot be quoted are priced
// at cost and logged.
func (m *Manager) Value(ctx context.Context, quote func(context.Context, string) (decimal.Decimal, error)) (total, pnl decimal.Decimal, err error) {
	positions, err := m.db.ListPositions(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, p := range positions {
		price, qerr := quote(ctx, p.Ticker)
		if qerr != nil {
			m.log.Warn().Err(qerr).Str("ticker", p.Ticker).Msg("pricing at cost, quote failed")
			price = p.AvgCost
		}
		qty := decimal.NewFromInt(p.Quantity)
		total = total.Add(price.Mul(qty))
		pnl = pnl.Add(price.Sub(p.AvgCost).Mul(qty))
	}
	return total, pnl, nil
}

func (m *Manager) publishDelta(ticker string, quantity int64, source string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.TopicPositionDelta, events.PositionDeltaEvent{
		Ticker:   ticker,
		Quantity: quantity,
		Source:   source,
	})
}
