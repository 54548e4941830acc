package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Trading.BuyScoreThreshold != 10 {
		t.Errorf("BuyScoreThreshold=%d, want 10", cfg.Trading.BuyScoreThreshold)
	}
	if cfg.Trading.SellScoreThreshold != 7 {
		t.Errorf("SellScoreThreshold=%d, want 7", cfg.Trading.SellScoreThreshold)
	}
	if cfg.Trading.MaxPositions != 8 {
		t.Errorf("MaxPositions=%d, want 8", cfg.Trading.MaxPositions)
	}
	if cfg.Trading.TakeProfitPct != 0.15 {
		t.Errorf("TakeProfitPct=%v, want 0.15", cfg.Trading.TakeProfitPct)
	}
	if cfg.Trading.StopLossPct != 0.08 {
		t.Errorf("StopLossPct=%v, want 0.08", cfg.Trading.StopLossPct)
	}
	if len(cfg.Trading.Watchlist) == 0 {
		t.Error("expected non-empty default watchlist")
	}
	if cfg.Orders.PollInterval != 2*time.Second {
		t.Errorf("PollInterval=%v, want 2s", cfg.Orders.PollInterval)
	}
	if cfg.Broker.Venue != "sim" {
		t.Errorf("Venue=%q, want sim", cfg.Broker.Venue)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
trading:
  buy_score_threshold: 9
  max_positions: 4
  watchlist: ["AAPL", "MSFT"]
orders:
  poll_interval: 500ms
  poll_timeout: 10s
broker:
  venue: sim
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Trading.BuyScoreThreshold != 9 {
		t.Errorf("BuyScoreThreshold=%d, want 9", cfg.Trading.BuyScoreThreshold)
	}
	if cfg.Trading.MaxPositions != 4 {
		t.Errorf("MaxPositions=%d, want 4", cfg.Trading.MaxPositions)
	}
	if len(cfg.Trading.Watchlist) != 2 || cfg.Trading.Watchlist[0] != "AAPL" {
		t.Errorf("Watchlist=%v, want [AAPL MSFT]", cfg.Trading.Watchlist)
	}
	if cfg.Orders.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval=%v, want 500ms", cfg.Orders.PollInterval)
	}
	// Untouched fields keep their defaults.
	if cfg.Trading.SellScoreThreshold != 7 {
		t.Errorf("SellScoreThreshold=%d, want default 7", cfg.Trading.SellScoreThreshold)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"buy threshold out of range", "trading:\n  buy_score_threshold: 11\n"},
		{"zero max positions", "trading:\n  max_positions: 0\n"},
		{"unknown venue", "broker:\n  venue: etrade\n"},
		{"stop loss over 100%", "trading:\n  stop_loss_pct: 1.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	cfg.Scores.APIKey = ""
	if err := cfg.ValidateCredentials(); err == nil {
		t.Error("expected error for missing score feed key")
	}

	cfg.Scores.APIKey = "k"
	cfg.Broker.Venue = "sim"
	if err := cfg.ValidateCredentials(); err != nil {
		t.Errorf("sim venue should not need broker credentials: %v", err)
	}

	cfg.Broker.Venue = "alpaca"
	cfg.Broker.Alpaca.APIKey = ""
	if err := cfg.ValidateCredentials(); err == nil {
		t.Error("expected error for missing alpaca credentials")
	}
}
