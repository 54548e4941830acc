package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func TestGetPositionNotFound(t *testing.T) {
	d := openTestDB(t)
	_, err := d.GetPosition(context.Background(), "BAC")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyBuyFill(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	entry := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	err := d.ApplyBuyFill(ctx, &Position{
		Ticker:      "BAC",
		Quantity:    100,
		AvgCost:     dec(t, "40.00"),
		EntryDate:   entry,
		EntryScore:  10,
		TargetPrice: dec(t, "46.00"),
		StopLoss:    dec(t, "36.80"),
	})
	if err != nil {
		t.Fatalf("initial buy: %v", err)
	}

	p, err := d.GetPosition(ctx, "BAC")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Quantity != 100 || !p.AvgCost.Equal(dec(t, "40.00")) {
		t.Fatalf("unexpected position: qty=%d cost=%s", p.Quantity, p.AvgCost)
	}
	if p.EntryScore != 10 || !p.EntryDate.Equal(entry) {
		t.Fatalf("entry fields not stored: score=%d date=%v", p.EntryScore, p.EntryDate)
	}

	t.Run("add-on buy recomputes weighted average", func(t *testing.T) {
		err := d.ApplyBuyFill(ctx, &Position{
			Ticker:     "BAC",
			Quantity:   100,
			AvgCost:    dec(t, "42.00"),
			EntryDate:  time.Now().UTC(),
			EntryScore: 9,
		})
		if err != nil {
			t.Fatalf("add-on buy: %v", err)
		}
		p, err := d.GetPosition(ctx, "BAC")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if p.Quantity != 200 {
			t.Fatalf("quantity = %d, want 200", p.Quantity)
		}
		if !p.AvgCost.Equal(dec(t, "41")) {
			t.Fatalf("avg cost = %s, want 41", p.AvgCost)
		}
		// Entry fields belong to the opening buy, not the add-on.
		if p.EntryScore != 10 || !p.EntryDate.Equal(entry) {
			t.Fatalf("entry fields changed: score=%d date=%v", p.EntryScore, p.EntryDate)
		}
	})
}

func TestReducePosition(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.ReducePosition(ctx, "FHN", 50); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown ticker, got %v", err)
	}

	seed := &Position{
		Ticker:    "FHN",
		Quantity:  100,
		AvgCost:   dec(t, "15.50"),
		EntryDate: time.Now().UTC(),
	}
	if err := d.ApplyBuyFill(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := d.ReducePosition(ctx, "FHN", 40); err != nil {
		t.Fatalf("partial reduce: %v", err)
	}
	p, err := d.GetPosition(ctx, "FHN")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Quantity != 60 {
		t.Fatalf("quantity = %d, want 60", p.Quantity)
	}
	if !p.AvgCost.Equal(dec(t, "15.50")) {
		t.Fatalf("partial sell must not change avg cost, got %s", p.AvgCost)
	}

	if err := d.ReducePosition(ctx, "FHN", 60); err != nil {
		t.Fatalf("full reduce: %v", err)
	}
	if _, err := d.GetPosition(ctx, "FHN"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("fully sold position should be deleted, got %v", err)
	}
}

func TestSetPositionUpsert(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	entry := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	p := &Position{
		Ticker:     "OZK",
		Quantity:   30,
		AvgCost:    dec(t, "48.25"),
		EntryDate:  entry,
		EntryScore: 8,
	}
	if err := d.SetPosition(ctx, p); err != nil {
		t.Fatalf("set: %v", err)
	}

	p.Quantity = 45
	p.AvgCost = dec(t, "49.10")
	p.EntryScore = 3 // should be ignored on update
	if err := d.SetPosition(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := d.GetPosition(ctx, "OZK")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Quantity != 45 || !got.AvgCost.Equal(dec(t, "49.10")) {
		t.Fatalf("upsert did not apply: qty=%d cost=%s", got.Quantity, got.AvgCost)
	}
	if got.EntryScore != 8 {
		t.Fatalf("entry score overwritten on upsert: %d", got.EntryScore)
	}

	n, err := d.CountPositions(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestTrades(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 21, 0, 0, 0, time.UTC)
	for i, ticker := range []string{"BAC", "OZK", "SSB"} {
		err := d.InsertTrade(ctx, &Trade{
			ID:        ticker + "-trade",
			Ticker:    ticker,
			Action:    "BUY",
			Quantity:  100,
			Price:     dec(t, "10.00"),
			Total:     dec(t, "1000.00"),
			Score:     10,
			Reason:    "composite above buy threshold",
			OrderID:   ticker + "-order",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", ticker, err)
		}
	}

	trades, err := d.RecentTrades(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("len = %d, want 2", len(trades))
	}
	if trades[0].Ticker != "SSB" || trades[1].Ticker != "OZK" {
		t.Fatalf("wrong order: %s, %s", trades[0].Ticker, trades[1].Ticker)
	}
}

func TestScoreHistory(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	rec := &ScoreRecord{
		Date: "2026-04-01", Ticker: "NBTB",
		Composite: 9, Fundamental: 8, Technical: 7, Sentiment: 6,
		TargetPrice: dec(t, "44.50"),
	}
	if err := d.UpsertScore(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec.Composite = 10
	if err := d.UpsertScore(ctx, rec); err != nil {
		t.Fatalf("same-day overwrite: %v", err)
	}
	if err := d.UpsertScore(ctx, &ScoreRecord{Date: "2026-04-02", Ticker: "NBTB", Composite: 6}); err != nil {
		t.Fatalf("next day: %v", err)
	}

	history, err := d.ScoreHistory(ctx, "NBTB", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len = %d, want 2", len(history))
	}
	if history[0].Date != "2026-04-02" || history[0].Composite != 6 {
		t.Fatalf("newest first expected, got %+v", history[0])
	}
	if history[1].Composite != 10 {
		t.Fatalf("same-day upsert not applied: %d", history[1].Composite)
	}
	if !history[1].TargetPrice.Equal(dec(t, "44.50")) {
		t.Fatalf("target price = %s", history[1].TargetPrice)
	}
}

func TestRunState(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if _, err := d.GetRunState(ctx, "last_daily_run"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := d.SetRunState(ctx, "last_daily_run", "2026-04-01"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := d.SetRunState(ctx, "last_daily_run", "2026-04-02"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := d.GetRunState(ctx, "last_daily_run")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "2026-04-02" {
		t.Fatalf("value = %q", v)
	}
}
