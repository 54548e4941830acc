// Package reconcile aligns the local position book with the broker's view.
// The broker is authoritative: broker-only tickers are inserted locally,
// local-only tickers are deleted as stale, and quantity or cost drift is
// overwritten with broker values.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/internal/portfolio"
	"scorebot/pkg/broker/common"
	"scorebot/pkg/db"
)

// costEpsilon tolerates sub-cent rounding differences between the broker's
// average cost and ours before forcing an update.
var costEpsilon = decimal.RequireFromString("0.01")

// Report lists what a pass changed. All three slices are sorted.
type Report struct {
	Added   []string
	Removed []string
	Updated []string
}

// Empty reports whether the pass found local and broker state in agreement.
func (r Report) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Updated) == 0
}

// Service runs reconciliation passes. It must run once at startup, before
// any trading decision, so decisions never act on stale local rows.
type Service struct {
	gateway common.Gateway
	book    *portfolio.Manager
	log     zerolog.Logger
}

func NewService(gateway common.Gateway, book *portfolio.Manager, log zerolog.Logger) *Service {
	return &Service{
		gateway: gateway,
		book:    book,
		log:     log.With().Str("component", "reconcile").Logger(),
	}
}

// Run performs one pass. Fetch failures abort the pass; mutation failures
// for individual tickers are logged and skipped so one bad row cannot block
// the rest of the sync.
func (s *Service) Run(ctx context.Context) (Report, error) {
	brokerPositions, err := s.gateway.Positions(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("fetch broker positions: %w", err)
	}
	local, err := s.book.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list local positions: %w", err)
	}

	remote := make(map[string]common.BrokerPosition, len(brokerPositions))
	for _, p := range brokerPositions {
		if p.Quantity > 0 {
			remote[p.Ticker] = p
		}
	}
	held := make(map[string]*db.Position, len(local))
	for _, p := range local {
		held[p.Ticker] = p
	}

	var report Report
	for ticker, bp := range remote {
		lp, ok := held[ticker]
		if !ok {
			if err := s.book.Replace(ctx, brokerToLocal(bp)); err != nil {
				s.log.Error().Err(err).Str("ticker", ticker).Msg("insert skipped")
				continue
			}
			report.Added = append(report.Added, ticker)
			continue
		}
		if lp.Quantity != bp.Quantity || lp.AvgCost.Sub(bp.AvgCost).Abs().GreaterThan(costEpsilon) {
			updated := *lp
			updated.Quantity = bp.Quantity
			updated.AvgCost = bp.AvgCost
			if err := s.book.Replace(ctx, &updated); err != nil {
				s.log.Error().Err(err).Str("ticker", ticker).Msg("update skipped")
				continue
			}
			report.Updated = append(report.Updated, ticker)
		}
	}
	for ticker := range held {
		if _, ok := remote[ticker]; ok {
			continue
		}
		if err := s.book.Remove(ctx, ticker); err != nil {
			s.log.Error().Err(err).Str("ticker", ticker).Msg("removal skipped")
			continue
		}
		report.Removed = append(report.Removed, ticker)
	}

	sort.Strings(report.Added)
	sort.Strings(report.Removed)
	sort.Strings(report.Updated)

	if report.Empty() {
		s.log.Debug().Msg("positions in sync")
	} else {
		s.log.Info().Strs("added", report.Added).Strs("removed", report.Removed).
			Strs("updated", report.Updated).Msg("positions reconciled")
	}
	return report, nil
}

func brokerToLocal(bp common.BrokerPosition) *db.Position {
	return &db.Position{
		Ticker:    bp.Ticker,
		Quantity:  bp.Quantity,
		AvgCost:   bp.AvgCost,
		EntryDate: time.Now().UTC(),
	}
}
