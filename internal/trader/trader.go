// Package trader sequences the trading passes: score-driven daily checks,
// stop-loss/take-profit price sweeps and the daily summary. Tickers are
// processed one at a time to completion, so no two orders for the same
// ticker can ever be in flight together.
package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/internal/decision"
	"scorebot/internal/events"
	"scorebot/internal/notify"
	"scorebot/internal/order"
	"scorebot/internal/portfolio"
	"scorebot/internal/scores"
	"scorebot/pkg/broker/common"
	"scorebot/pkg/db"
)

// lastDailyRunKey is the run_state key holding the calendar date of the last
// completed daily pass.
const lastDailyRunKey = "last_daily_run"

// ScoreSource is what the trader needs from the scoring feed.
type ScoreSource interface {
	Score(ctx context.Context, ticker string, date time.Time) (*scores.Score, error)
}

// QuoteSource resolves current prices.
type QuoteSource interface {
	Price(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// Config is the trader's decision and sizing configuration.
type Config struct {
	Watchlist       []string
	Thresholds      decision.Thresholds
	DefaultQuantity int64
}

// Trader owns the execution pipeline. All collaborators are injected.
type Trader struct {
	cfg      Config
	book     *portfolio.Manager
	gateway  common.Gateway
	tracker  *order.Tracker
	scores   ScoreSource
	quotes   QuoteSource
	store    *db.Database
	notifier notify.Notifier
	bus      *events.Bus
	now      func() time.Time
	log      zerolog.Logger
}

type Deps struct {
	Book     *portfolio.Manager
	Gateway  common.Gateway
	Tracker  *order.Tracker
	Scores   ScoreSource
	Quotes   QuoteSource
	Store    *db.Database
	Notifier notify.Notifier
	Bus      *events.Bus
	// Now is the clock used for the daily idempotence guard. Defaults to
	// time.Now.
	Now func() time.Time
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Trader {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Trader{
		cfg:      cfg,
		book:     deps.Book,
		gateway:  deps.Gateway,
		tracker:  deps.Tracker,
		scores:   deps.Scores,
		quotes:   deps.Quotes,
		store:    deps.Store,
		notifier: deps.Notifier,
		bus:      deps.Bus,
		now:      now,
		log:      log.With().Str("component", "trader").Logger(),
	}
}

// RunDailyCheck walks the watchlist once per calendar date. A second
// invocation on the same date is a no-op, so a restarted scheduler cannot
// double-buy. One ticker's failure never stops the rest of the list.
func (t *Trader) RunDailyCheck(ctx context.Context) error {
	today := t.now().Format("2006-01-02")
	last, err := t.store.GetRunState(ctx, lastDailyRunKey)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("read last run date: %w", err)
	}
	if last == today {
		t.log.Info().Str("date", today).Msg("daily check already completed, skipping")
		return nil
	}

	unlock := t.book.LockTrading()
	defer unlock()

	t.log.Info().Str("date", today).Int("tickers", len(t.cfg.Watchlist)).Msg("daily check started")
	executed, skipped := 0, 0
	for _, ticker := range t.cfg.Watchlist {
		acted, err := t.checkTicker(ctx, ticker)
		if err != nil {
			skipped++
			t.log.Error().Err(err).Str("ticker", ticker).Msg("ticker skipped")
			t.notifier.Errorf(ctx, "%s skipped: %v", ticker, err)
			continue
		}
		if acted {
			executed++
		}
	}

	if err := t.store.SetRunState(ctx, lastDailyRunKey, today); err != nil {
		return fmt.Errorf("record run date: %w", err)
	}
	t.publish(events.TopicRunCompleted, events.RunCompletedEvent{
		Kind: "daily", Executed: executed, Skipped: skipped, At: t.now(),
	})
	t.log.Info().Int("executed", executed).Int("skipped", skipped).Msg("daily check finished")
	return nil
}

// checkTicker runs the full pipeline for one ticker. The returned bool says
// whether an order was executed.
func (t *Trader) checkTicker(ctx context.Context, ticker string) (bool, error) {
	score, err := t.scores.Score(ctx, ticker, t.now())
	if err != nil {
		return false, fmt.Errorf("score: %w", err)
	}
	t.recordScore(ctx, score)

	position, err := t.book.Get(ctx, ticker)
	if err != nil && !errors.Is(err, portfolio.ErrNoPosition) {
		return false, fmt.Errorf("load position: %w", err)
	}

	price, err := t.quotes.Price(ctx, ticker)
	if err != nil {
		// Price rules are skipped without a quote; score rules still apply.
		t.log.Warn().Err(err).Str("ticker", ticker).Msg("no quote, price rules disabled")
		price = decimal.Zero
	}

	open, err := t.book.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count positions: %w", err)
	}

	sig := decision.Decide(decision.Input{
		Ticker:        ticker,
		Score:         score,
		Position:      position,
		CurrentPrice:  price,
		OpenPositions: open,
	}, t.cfg.Thresholds)

	t.publish(events.TopicSignal, events.SignalEvent{
		Ticker: ticker,
		Action: string(sig.Action),
		Score:  sig.Score,
		Reason: sig.Reason,
		At:     t.now(),
	})
	t.log.Info().Str("ticker", ticker).Str("action", string(sig.Action)).
		Int("score", sig.Score).Str("reason", sig.Reason).Msg("decision")

	if sig.Action == decision.Hold {
		return false, nil
	}
	t.notifier.SignalDetected(ctx, notify.Signal{
		Ticker:       ticker,
		Action:       string(sig.Action),
		Score:        sig.Score,
		CurrentPrice: sig.CurrentPrice,
		TargetPrice:  sig.TargetPrice,
	})
	return true, t.executeSignal(ctx, sig, position)
}

// RunPriceCheck sweeps held positions for stop-loss and take-profit exits.
// Score decay is left to the daily pass; a synthetic at-threshold score
// keeps it out of play here.
func (t *Trader) RunPriceCheck(ctx context.Context) error {
	unlock := t.book.LockTrading()
	defer unlock()

	positions, err := t.book.List(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}

	executed, skipped := 0, 0
	for _, position := range positions {
		price, err := t.quotes.Price(ctx, position.Ticker)
		if err != nil {
			skipped++
			t.log.Warn().Err(err).Str("ticker", position.Ticker).Msg("price check skipped")
			continue
		}
		sig := decision.Decide(decision.Input{
			Ticker:       position.Ticker,
			Score:        &scores.Score{Ticker: position.Ticker, Composite: t.cfg.Thresholds.SellScore},
			Position:     position,
			CurrentPrice: price,
		}, t.cfg.Thresholds)
		if sig.Action != decision.Sell {
			continue
		}
		sig.Score = position.EntryScore

		t.log.Info().Str("ticker", position.Ticker).Str("reason", sig.Reason).Msg("exit triggered")
		t.notifier.SignalDetected(ctx, notify.Signal{
			Ticker:       position.Ticker,
			Action:       string(sig.Action),
			Score:        sig.Score,
			CurrentPrice: price,
		})
		if err := t.executeSignal(ctx, sig, position); err != nil {
			skipped++
			t.log.Error().Err(err).Str("ticker", position.Ticker).Msg("exit failed")
			t.notifier.Errorf(ctx, "%s exit failed: %v", position.Ticker, err)
			continue
		}
		executed++
	}

	t.publish(events.TopicRunCompleted, events.RunCompletedEvent{
		Kind: "price", Executed: executed, Skipped: skipped, At: t.now(),
	})
	return nil
}

// RunDailySummary values the book and notifies the operator.
func (t *Trader) RunDailySummary(ctx context.Context) error {
	positions, err := t.book.List(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	total, pnl, err := t.book.Value(ctx, t.quotes.Price)
	if err != nil {
		return fmt.Errorf("value positions: %w", err)
	}
	holdings := make([]notify.Holding, 0, len(positions))
	for _, p := range positions {
		holdings = append(holdings, notify.Holding{Ticker: p.Ticker, Quantity: p.Quantity})
	}
	t.notifier.DailySummary(ctx, holdings, total, pnl)
	return nil
}

// executeSignal submits the order and settles the outcome into the book.
// Positions mutate only from actually filled quantities; an UNKNOWN outcome
// mutates nothing and is left for the next reconciliation.
func (t *Trader) executeSignal(ctx context.Context, sig decision.Signal, position *db.Position) error {
	side := common.SideBuy
	qty := t.cfg.DefaultQuantity
	if sig.Action == decision.Sell {
		side = common.SideSell
		qty = position.Quantity
	}

	ack, err := t.gateway.PlaceOrder(ctx, common.OrderRequest{
		Ticker:   sig.Ticker,
		Side:     side,
		Quantity: qty,
	})
	if err != nil {
		t.notifier.Errorf(ctx, "%s %s x%d rejected at submit: %v", sig.Action, sig.Ticker, qty, err)
		return fmt.Errorf("submit order: %w", err)
	}
	t.publish(events.TopicOrderPlaced, events.OrderPlacedEvent{
		OrderID:  ack.OrderID,
		Ticker:   sig.Ticker,
		Side:     string(side),
		Quantity: qty,
		At:       t.now(),
	})

	res := t.tracker.Await(ctx, order.Submission{
		OrderID:      ack.OrderID,
		Ticker:       sig.Ticker,
		Side:         side,
		RequestedQty: qty,
	})
	t.publish(events.TopicOrderSettled, events.OrderSettledEvent{
		OrderID:      res.OrderID,
		Ticker:       sig.Ticker,
		Side:         string(side),
		Outcome:      string(res.Outcome),
		FilledQty:    res.FilledQty,
		AvgFillPrice: res.AvgFillPrice,
		At:           t.now(),
	})

	switch {
	case res.Settled():
		return t.applyFill(ctx, sig, position, side, res)
	case res.Outcome == order.Unknown:
		t.log.Error().Str("order_id", res.OrderID).Str("ticker", sig.Ticker).
			Str("message", res.Message).Msg("order outcome unknown")
		t.notifier.Errorf(ctx, "%s order %s outcome unknown (%s); will settle via reconciliation",
			sig.Ticker, res.OrderID, res.Message)
		return nil
	default:
		t.notifier.Errorf(ctx, "%s %s failed: %s", sig.Action, sig.Ticker, res.Message)
		return fmt.Errorf("order %s: %s", res.Outcome, res.Message)
	}
}

func (t *Trader) applyFill(ctx context.Context, sig decision.Signal, position *db.Position, side common.Side, res order.Result) error {
	one := decimal.NewFromInt(1)
	if side == common.SideBuy {
		err := t.book.RecordBuy(ctx, &db.Position{
			Ticker:      sig.Ticker,
			Quantity:    res.FilledQty,
			AvgCost:     res.AvgFillPrice,
			EntryDate:   t.now(),
			EntryScore:  sig.Score,
			TargetPrice: res.AvgFillPrice.Mul(one.Add(t.cfg.Thresholds.TakeProfitPct)),
			StopLoss:    res.AvgFillPrice.Mul(one.Sub(t.cfg.Thresholds.StopLossPct)),
		})
		if err != nil {
			return fmt.Errorf("record buy fill: %w", err)
		}
	} else {
		if err := t.book.RecordSell(ctx, sig.Ticker, res.FilledQty); err != nil {
			return fmt.Errorf("record sell fill: %w", err)
		}
	}

	trade := &db.Trade{
		ID:        uuid.NewString(),
		Ticker:    sig.Ticker,
		Action:    string(sig.Action),
		Quantity:  res.FilledQty,
		Price:     res.AvgFillPrice,
		Total:     res.AvgFillPrice.Mul(decimal.NewFromInt(res.FilledQty)),
		Score:     sig.Score,
		Reason:    sig.Reason,
		OrderID:   res.OrderID,
		CreatedAt: t.now(),
	}
	if err := t.book.LogTrade(ctx, trade); err != nil {
		return fmt.Errorf("log trade: %w", err)
	}

	n := notify.Trade{
		Ticker:   sig.Ticker,
		Action:   string(sig.Action),
		Quantity: res.FilledQty,
		Price:    res.AvgFillPrice,
		Score:    sig.Score,
		Reason:   sig.Reason,
	}
	if side == common.SideSell && position != nil {
		n.AvgCost = position.AvgCost
	}
	t.notifier.TradeExecuted(ctx, n)

	if res.PartialFill {
		t.log.Warn().Str("ticker", sig.Ticker).Int64("filled", res.FilledQty).
			Int64("requested", res.RequestedQty).Msg("partial fill recorded")
	}
	return nil
}

func (t *Trader) recordScore(ctx context.Context, s *scores.Score) {
	err := t.store.UpsertScore(ctx, &db.ScoreRecord{
		Date:        s.Date,
		Ticker:      s.Ticker,
		Composite:   s.Composite,
		Fundamental: s.Fundamental,
		Technical:   s.Technical,
		Sentiment:   s.Sentiment,
		TargetPrice: s.TargetPrice,
	})
	if err != nil {
		t.log.Warn().Err(err).Str("ticker", s.Ticker).Msg("score history write failed")
	}
}

func (t *Trader) publish(topic events.Topic, payload any) {
	if t.bus != nil {
		t.bus.Publish(topic, payload)
	}
}
