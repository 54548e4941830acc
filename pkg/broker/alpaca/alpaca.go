// Package alpaca implements the broker gateway against the Alpaca trading
// API. Paper and live accounts differ only by base URL.
package alpaca

import (
	"context"
	"fmt"
	"strings"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"scorebot/pkg/broker/common"
)

// Gateway implements common.Gateway over Alpaca's REST API. The underlying
// clients are stateless HTTP wrappers, so Connect only verifies credentials.
type Gateway struct {
	trading *alpacaapi.Client
	data    *marketdata.Client
}

type Credentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

func New(creds Credentials) *Gateway {
	return &Gateway{
		trading: alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
			BaseURL:   creds.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
		}),
	}
}

func (g *Gateway) Name() string { return "alpaca" }

func (g *Gateway) Connect(ctx context.Context) error {
	if _, err := g.trading.GetAccount(); err != nil {
		return fmt.Errorf("verify alpaca account: %w", err)
	}
	return nil
}

func (g *Gateway) Close() error { return nil }

func (g *Gateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (*common.OrderAck, error) {
	qty := decimal.NewFromInt(req.Quantity)
	side := alpacaapi.Buy
	if req.Side == common.SideSell {
		side = alpacaapi.Sell
	}
	order, err := g.trading.PlaceOrder(alpacaapi.PlaceOrderRequest{
		Symbol:      req.Ticker,
		Qty:         &qty,
		Side:        side,
		Type:        alpacaapi.Market,
		TimeInForce: alpacaapi.Day,
	})
	if err != nil {
		return nil, fmt.Errorf("place %s %s x%d: %w", req.Side, req.Ticker, req.Quantity, err)
	}
	return &common.OrderAck{OrderID: order.ID, SubmittedAt: order.SubmittedAt}, nil
}

func (g *Gateway) OrderStatus(ctx context.Context, orderID string) (*common.OrderState, error) {
	order, err := g.trading.GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	state := &common.OrderState{
		OrderID:   order.ID,
		Status:    mapStatus(order.Status),
		FilledQty: order.FilledQty.IntPart(),
	}
	if order.FilledAvgPrice != nil {
		state.AvgFillPrice = *order.FilledAvgPrice
	}
	return state, nil
}

func (g *Gateway) Quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	trade, err := g.data.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("latest trade %s: %w", ticker, err)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

func (g *Gateway) Positions(ctx context.Context) ([]common.BrokerPosition, error) {
	raw, err := g.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := make([]common.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		out = append(out, common.BrokerPosition{
			Ticker:   p.Symbol,
			Quantity: p.Qty.IntPart(),
			AvgCost:  p.AvgEntryPrice,
		})
	}
	return out, nil
}

// mapStatus folds Alpaca's order states onto the internal lifecycle.
// Pre-fill states (accepted, pending_new, ...) all map to NEW.
func mapStatus(s string) common.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return common.StatusFilled
	case "partially_filled":
		return common.StatusPartial
	case "canceled", "pending_cancel", "done_for_day":
		return common.StatusCanceled
	case "rejected", "stopped", "suspended":
		return common.StatusRejected
	case "expired":
		return common.StatusExpired
	case "new", "accepted", "pending_new", "accepted_for_bidding", "calculated", "held":
		return common.StatusNew
	}
	return common.StatusUnknown
}
