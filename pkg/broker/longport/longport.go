// Package longport implements the broker gateway against the Longport
// OpenAPI. US tickers are mapped to Longport's "TICKER.US" symbol form at
// the boundary so the rest of the system stays venue-neutral.
package longport

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/longportapp/openapi-go/trade"
	"github.com/shopspring/decimal"

	"scorebot/pkg/broker/common"
)

type Credentials struct {
	AppKey      string
	AppSecret   string
	AccessToken string
}

// Gateway implements common.Gateway over Longport's trade and quote contexts.
type Gateway struct {
	creds    Credentials
	tradeCtx *trade.TradeContext
	quoteCtx *quote.QuoteContext
}

func New(creds Credentials) *Gateway {
	return &Gateway{creds: creds}
}

func (g *Gateway) Name() string { return "longport" }

func (g *Gateway) Connect(ctx context.Context) error {
	conf, err := lpconfig.New(lpconfig.WithConfigKey(g.creds.AppKey, g.creds.AppSecret, g.creds.AccessToken))
	if err != nil {
		return fmt.Errorf("longport config: %w", err)
	}
	if g.tradeCtx, err = trade.NewFromCfg(conf); err != nil {
		return fmt.Errorf("longport trade context: %w", err)
	}
	if g.quoteCtx, err = quote.NewFromCfg(conf); err != nil {
		return fmt.Errorf("longport quote context: %w", err)
	}
	return nil
}

func (g *Gateway) Close() error {
	if g.tradeCtx != nil {
		g.tradeCtx.Close()
	}
	if g.quoteCtx != nil {
		g.quoteCtx.Close()
	}
	return nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (*common.OrderAck, error) {
	if g.tradeCtx == nil {
		return nil, common.ErrNotConnected
	}
	side := trade.OrderSideBuy
	if req.Side == common.SideSell {
		side = trade.OrderSideSell
	}
	orderID, err := g.tradeCtx.SubmitOrder(ctx, &trade.SubmitOrder{
		Symbol:            toSymbol(req.Ticker),
		OrderType:         trade.OrderTypeMO,
		Side:              side,
		SubmittedQuantity: uint64(req.Quantity),
		TimeInForce:       trade.TimeTypeDay,
	})
	if err != nil {
		return nil, fmt.Errorf("place %s %s x%d: %w", req.Side, req.Ticker, req.Quantity, err)
	}
	return &common.OrderAck{OrderID: orderID}, nil
}

func (g *Gateway) OrderStatus(ctx context.Context, orderID string) (*common.OrderState, error) {
	if g.tradeCtx == nil {
		return nil, common.ErrNotConnected
	}
	detail, err := g.tradeCtx.OrderDetail(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order detail %s: %w", orderID, err)
	}
	state := &common.OrderState{
		OrderID: orderID,
		Status:  mapStatus(detail.Status),
	}
	state.FilledQty = detail.ExecutedQuantity
	if detail.ExecutedPrice != nil {
		state.AvgFillPrice = *detail.ExecutedPrice
	}
	return state, nil
}

func (g *Gateway) Quote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if g.quoteCtx == nil {
		return decimal.Zero, common.ErrNotConnected
	}
	quotes, err := g.quoteCtx.Quote(ctx, []string{toSymbol(ticker)})
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %w", ticker, err)
	}
	if len(quotes) == 0 || quotes[0].LastDone == nil {
		return decimal.Zero, fmt.Errorf("no quote for %s", ticker)
	}
	return *quotes[0].LastDone, nil
}

func (g *Gateway) Positions(ctx context.Context) ([]common.BrokerPosition, error) {
	if g.tradeCtx == nil {
		return nil, common.ErrNotConnected
	}
	stock, err := g.tradeCtx.StockPositions(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("stock positions: %w", err)
	}
	var out []common.BrokerPosition
	for _, channel := range stock {
		for _, p := range channel.Positions {
			qty, err := strconv.ParseInt(p.Quantity, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse quantity %q for %s: %w", p.Quantity, p.Symbol, err)
			}
			pos := common.BrokerPosition{
				Ticker:   fromSymbol(p.Symbol),
				Quantity: qty,
			}
			if p.CostPrice != nil {
				pos.AvgCost = *p.CostPrice
			}
			out = append(out, pos)
		}
	}
	return out, nil
}

func toSymbol(ticker string) string {
	if strings.Contains(ticker, ".") {
		return ticker
	}
	return ticker + ".US"
}

func fromSymbol(symbol string) string {
	return strings.TrimSuffix(symbol, ".US")
}

func mapStatus(s trade.OrderStatus) common.OrderStatus {
	switch s {
	case trade.OrderFilledStatus:
		return common.StatusFilled
	case trade.OrderPartialFilledStatus:
		return common.StatusPartial
	case trade.OrderCanceledStatus:
		return common.StatusCanceled
	case trade.OrderRejectedStatus:
		return common.StatusRejected
	case trade.OrderExpiredStatus:
		return common.StatusExpired
	case trade.OrderNewStatus, trade.OrderWaitToNew, trade.OrderNotReported:
		return common.StatusNew
	}
	return common.StatusUnknown
}
