// Package quotes resolves current prices. The configured broker gateway is
// asked first; when it cannot answer, Yahoo Finance serves as a fallback so
// a flaky market-data session does not blind the price rules.
package quotes

import (
	"context"
	"fmt"

	yahoo "github.com/piquette/finance-go/quote"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/pkg/broker/common"
)

// Source answers price lookups for one ticker at a time.
type Source struct {
	gateway common.Gateway
	log     zerolog.Logger
}

func NewSource(gateway common.Gateway, log zerolog.Logger) *Source {
	return &Source{
		gateway: gateway,
		log:     log.With().Str("component", "quotes").Logger(),
	}
}

// Price returns the latest trade price for ticker, or an error when neither
// the gateway nor the fallback can answer.
func (s *Source) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	price, gatewayErr := s.gateway.Quote(ctx, ticker)
	if gatewayErr == nil && price.IsPositive() {
		return price, nil
	}
	if gatewayErr != nil {
		s.log.Warn().Err(gatewayErr).Str("ticker", ticker).Msg("gateway quote failed, trying fallback")
	}

	q, err := yahoo.Get(ticker)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: gateway: %v, fallback: %w", ticker, gatewayErr, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return decimal.Zero, fmt.Errorf("quote %s: no price from any source", ticker)
	}
	return decimal.NewFromFloat(q.RegularMarketPrice), nil
}
