package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/internal/events"
	"scorebot/internal/portfolio"
	"scorebot/pkg/db"
)

func newTestServer(t *testing.T) (*Server, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	bus := events.NewBus()
	book := portfolio.NewManager(database, bus, zerolog.Nop())
	meta := Meta{Venue: "sim", DryRun: true, Watchlist: []string{"BAC"}, Version: "test"}
	return NewServer(bus, database, book, meta, "test-secret", "open-sesame", zerolog.Nop()), database
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/auth/login", "", map[string]string{"operator_key": "open-sesame"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Token
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestLoginRejectsWrongKey(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/auth/login", "", map[string]string{"operator_key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/api/status", "/api/positions", "/api/trades", "/api/scores/BAC"} {
		w := doJSON(t, s, http.MethodGet, path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, w.Code)
		}
	}

	w := doJSON(t, s, http.MethodGet, "/api/status", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bogus token status = %d, want 401", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, database := newTestServer(t)
	if err := database.SetRunState(t.Context(), "last_daily_run", "2026-04-01"); err != nil {
		t.Fatalf("seed run state: %v", err)
	}

	w := doJSON(t, s, http.MethodGet, "/api/status", loginToken(t, s), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Venue        string `json:"venue"`
		DryRun       bool   `json:"dry_run"`
		LastDailyRun string `json:"last_daily_run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Venue != "sim" || !resp.DryRun || resp.LastDailyRun != "2026-04-01" {
		t.Fatalf("unexpected status payload: %+v", resp)
	}
}

func TestPositionsAndTradesEndpoints(t *testing.T) {
	s, database := newTestServer(t)
	ctx := t.Context()
	err := database.ApplyBuyFill(ctx, &db.Position{
		Ticker:    "BAC",
		Quantity:  100,
		AvgCost:   decimal.RequireFromString("40.00"),
		EntryDate: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed position: %v", err)
	}
	err = database.InsertTrade(ctx, &db.Trade{
		ID: "t1", Ticker: "BAC", Action: "BUY", Quantity: 100,
		Price: decimal.RequireFromString("40.00"),
		Total: decimal.RequireFromString("4000.00"),
	})
	if err != nil {
		t.Fatalf("seed trade: %v", err)
	}

	token := loginToken(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/positions", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("positions status = %d", w.Code)
	}
	var positions struct {
		Positions []struct {
			Ticker   string `json:"ticker"`
			Quantity int64  `json:"quantity"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &positions); err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	if len(positions.Positions) != 1 || positions.Positions[0].Quantity != 100 {
		t.Fatalf("unexpected positions: %+v", positions)
	}

	w = doJSON(t, s, http.MethodGet, "/api/trades?limit=5", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trades status = %d", w.Code)
	}
	var trades struct {
		Trades []struct {
			ID string `json:"id"`
		} `json:"trades"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &trades); err != nil {
		t.Fatalf("decode trades: %v", err)
	}
	if len(trades.Trades) != 1 || trades.Trades[0].ID != "t1" {
		t.Fatalf("unexpected trades: %+v", trades)
	}
}
