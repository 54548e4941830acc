package reconcile

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/internal/events"
	"scorebot/internal/portfolio"
	"scorebot/pkg/broker/common"
	"scorebot/pkg/broker/sim"
	"scorebot/pkg/db"
)

func newFixture(t *testing.T) (*Service, *portfolio.Manager, *sim.Gateway) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	book := portfolio.NewManager(database, events.NewBus(), zerolog.Nop())
	gateway := sim.New()
	if err := gateway.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return NewService(gateway, book, zerolog.Nop()), book, gateway
}

func hold(t *testing.T, book *portfolio.Manager, ticker string, qty int64, cost string) {
	t.Helper()
	err := book.Replace(context.Background(), &db.Position{
		Ticker:    ticker,
		Quantity:  qty,
		AvgCost:   decimal.RequireFromString(cost),
		EntryDate: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", ticker, err)
	}
}

func TestRunInsertsBrokerOnly(t *testing.T) {
	svc, book, gateway := newFixture(t)
	gateway.SeedPosition(common.BrokerPosition{
		Ticker: "BAC", Quantity: 100, AvgCost: decimal.RequireFromString("40.00"),
	})

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(report.Added, []string{"BAC"}) || len(report.Removed) != 0 || len(report.Updated) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	p, err := book.Get(context.Background(), "BAC")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Quantity != 100 || !p.AvgCost.Equal(decimal.RequireFromString("40.00")) {
		t.Fatalf("broker values not copied: %+v", p)
	}
}

func TestRunRemovesLocalOnly(t *testing.T) {
	svc, book, _ := newFixture(t)
	hold(t, book, "FHN", 50, "15.00")

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(report.Removed, []string{"FHN"}) {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := book.Get(context.Background(), "FHN"); err == nil {
		t.Fatal("stale row should be gone")
	}
}

func TestRunUpdatesDrift(t *testing.T) {
	svc, book, gateway := newFixture(t)
	hold(t, book, "OZK", 30, "48.00")
	hold(t, book, "SSB", 10, "90.00")
	gateway.SeedPosition(common.BrokerPosition{
		Ticker: "OZK", Quantity: 45, AvgCost: decimal.RequireFromString("48.00"),
	})
	// within the cost epsilon, no update expected
	gateway.SeedPosition(common.BrokerPosition{
		Ticker: "SSB", Quantity: 10, AvgCost: decimal.RequireFromString("90.005"),
	})

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(report.Updated, []string{"OZK"}) {
		t.Fatalf("unexpected report: %+v", report)
	}

	p, err := book.Get(context.Background(), "OZK")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Quantity != 45 {
		t.Fatalf("quantity = %d, want 45", p.Quantity)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	svc, book, gateway := newFixture(t)
	hold(t, book, "FHN", 50, "15.00")
	gateway.SeedPosition(common.BrokerPosition{
		Ticker: "BAC", Quantity: 100, AvgCost: decimal.RequireFromString("40.00"),
	})

	first, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Empty() {
		t.Fatal("first run should report changes")
	}

	second, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Empty() {
		t.Fatalf("second run must be a no-op, got %+v", second)
	}
}
