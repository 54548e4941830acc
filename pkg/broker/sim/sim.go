// Package sim is an in-memory broker used for dry runs and tests. Orders
// fill immediately and fully at the last set price, and positions are
// tracked so reconciliation behaves like a real venue.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"scorebot/pkg/broker/common"
)

type simOrder struct {
	state common.OrderState
	// remaining poll responses to serve before the final state, oldest first.
	pending []common.OrderState
}

// Gateway implements common.Gateway against in-memory state.
type Gateway struct {
	mu        sync.Mutex
	connected bool
	prices    map[string]decimal.Decimal
	positions map[string]common.BrokerPosition
	orders    map[string]*simOrder
	scripted  []common.OrderState
}

func New() *Gateway {
	return &Gateway{
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]common.BrokerPosition),
		orders:    make(map[string]*simOrder),
	}
}

func (g *Gateway) Name() string { return "sim" }

func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	return nil
}

// SetPrice sets the price all future fills and quotes for ticker use.
func (g *Gateway) SetPrice(ticker string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[ticker] = price
}

// SeedPosition installs a holding as if it had been bought externally.
func (g *Gateway) SeedPosition(p common.BrokerPosition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[p.Ticker] = p
}

// ScriptOrder makes the next order placed return the given intermediate
// states from OrderStatus before settling on the last one. Used by tests
// to exercise partial fills and slow orders.
func (g *Gateway) ScriptOrder(states ...common.OrderState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripted = states
}

func (g *Gateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (*common.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, common.ErrNotConnected
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", req.Quantity)
	}
	price, ok := g.prices[req.Ticker]
	if !ok {
		return nil, fmt.Errorf("no price for %s", req.Ticker)
	}

	id := uuid.NewString()
	order := &simOrder{
		state: common.OrderState{
			OrderID:      id,
			Status:       common.StatusFilled,
			FilledQty:    req.Quantity,
			AvgFillPrice: price,
		},
	}
	if len(g.scripted) > 0 {
		final := g.scripted[len(g.scripted)-1]
		final.OrderID = id
		pending := make([]common.OrderState, len(g.scripted)-1)
		for i, s := range g.scripted[:len(g.scripted)-1] {
			s.OrderID = id
			pending[i] = s
		}
		order.state = final
		order.pending = pending
		g.scripted = nil
	}
	g.orders[id] = order
	g.applyFill(req, order.state)

	return &common.OrderAck{OrderID: id, SubmittedAt: time.Now()}, nil
}

func (g *Gateway) applyFill(req common.OrderRequest, final common.OrderState) {
	if final.FilledQty <= 0 {
		return
	}
	pos, held := g.positions[req.Ticker]
	if req.Side == common.SideBuy {
		if !held {
			g.positions[req.Ticker] = common.BrokerPosition{
				Ticker:   req.Ticker,
				Quantity: final.FilledQty,
				AvgCost:  final.AvgFillPrice,
			}
			return
		}
		newQty := pos.Quantity + final.FilledQty
		oldTotal := pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity))
		addTotal := final.AvgFillPrice.Mul(decimal.NewFromInt(final.FilledQty))
		pos.Quantity = newQty
		pos.AvgCost = oldTotal.Add(addTotal).Div(decimal.NewFromInt(newQty))
		g.positions[req.Ticker] = pos
		return
	}
	if !held {
		return
	}
	pos.Quantity -= final.FilledQty
	if pos.Quantity <= 0 {
		delete(g.positions, req.Ticker)
		return
	}
	g.positions[req.Ticker] = pos
}

func (g *Gateway) OrderStatus(ctx context.Context, orderID string) (*common.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	if !ok {
		return nil, common.ErrOrderNotFound
	}
	if len(order.pending) > 0 {
		next := order.pending[0]
		order.pending = order.pending[1:]
		return &next, nil
	}
	state := order.state
	return &state, nil
}

func (g *Gateway) Quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.prices[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", ticker)
	}
	return price, nil
}

func (g *Gateway) Positions(ctx context.Context) ([]common.BrokerPosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]common.BrokerPosition, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}
