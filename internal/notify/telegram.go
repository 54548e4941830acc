package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// retryDelays spaces out redelivery attempts after a failed send.
var retryDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// Telegram sends HTML-formatted messages through the Bot API. Sends are
// retried a few times with growing delays; a message that still fails is
// logged and dropped.
type Telegram struct {
	http   *resty.Client
	chatID string
	delays []time.Duration
	log    zerolog.Logger
}

func NewTelegram(botToken, chatID string, log zerolog.Logger) *Telegram {
	return &Telegram{
		http: resty.New().
			SetBaseURL("https://api.telegram.org/bot" + botToken).
			SetTimeout(10 * time.Second),
		chatID: chatID,
		delays: retryDelays,
		log:    log.With().Str("component", "notify").Logger(),
	}
}

func (t *Telegram) send(ctx context.Context, message string) {
	var lastErr error
	for attempt := 0; attempt < len(t.delays); attempt++ {
		resp, err := t.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"chat_id":    t.chatID,
				"text":       message,
				"parse_mode": "HTML",
			}).
			Post("/sendMessage")
		if err == nil && !resp.IsError() {
			return
		}
		if err == nil {
			lastErr = fmt.Errorf("telegram status %d", resp.StatusCode())
		} else {
			lastErr = err
		}
		if attempt < len(t.delays)-1 {
			t.log.Warn().Err(lastErr).Dur("retry_in", t.delays[attempt]).Msg("telegram send failed")
			select {
			case <-time.After(t.delays[attempt]):
			case <-ctx.Done():
				return
			}
		}
	}
	t.log.Error().Err(lastErr).Msg("telegram message dropped after retries")
}

func (t *Telegram) TradeExecuted(ctx context.Context, tr Trade) {
	emoji, title := "🟢", "Trade Executed"
	if tr.Action == "SELL" {
		reason := strings.ToLower(tr.Reason)
		switch {
		case strings.Contains(reason, "stop loss"):
			emoji, title = "🛑", "Stop Loss Triggered"
		case strings.Contains(reason, "take profit"):
			emoji, title = "💰", "Take Profit Triggered"
		default:
			emoji, title = "🔴", "Trade Executed"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", emoji, title)
	fmt.Fprintf(&b, "<b>Ticker:</b> %s\n", tr.Ticker)
	fmt.Fprintf(&b, "<b>Action:</b> %s\n", tr.Action)
	fmt.Fprintf(&b, "<b>Quantity:</b> %d shares\n", tr.Quantity)
	fmt.Fprintf(&b, "<b>Price:</b> $%s\n", tr.Price.StringFixed(2))
	fmt.Fprintf(&b, "<b>Total:</b> $%s\n", tr.Price.Mul(decimal.NewFromInt(tr.Quantity)).StringFixed(2))
	if tr.Action == "SELL" && tr.AvgCost.IsPositive() {
		pnl := tr.Price.Sub(tr.AvgCost).Mul(decimal.NewFromInt(tr.Quantity))
		pnlPct := tr.Price.Sub(tr.AvgCost).Div(tr.AvgCost).Mul(decimal.NewFromInt(100))
		arrow, sign := "📈", "+"
		if pnl.IsNegative() {
			arrow, sign = "📉", ""
		}
		fmt.Fprintf(&b, "<b>Avg Cost:</b> $%s\n", tr.AvgCost.StringFixed(2))
		fmt.Fprintf(&b, "<b>P&amp;L:</b> %s %s$%s (%s%s%%)\n", arrow, sign, pnl.StringFixed(2), sign, pnlPct.StringFixed(1))
	}
	if tr.Score > 0 {
		fmt.Fprintf(&b, "<b>AI Score:</b> %d/10\n", tr.Score)
	}
	if tr.Reason != "" {
		fmt.Fprintf(&b, "<b>Reason:</b> %s\n", html.EscapeString(tr.Reason))
	}
	t.send(ctx, strings.TrimSpace(b.String()))
}

func (t *Telegram) SignalDetected(ctx context.Context, s Signal) {
	emoji := "📈"
	if s.Action == "SELL" {
		emoji = "📉"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Trading Signal: %s</b>\n\n", emoji, s.Action)
	fmt.Fprintf(&b, "<b>Ticker:</b> %s\n", s.Ticker)
	fmt.Fprintf(&b, "<b>AI Score:</b> %d/10\n", s.Score)
	if s.CurrentPrice.IsPositive() {
		fmt.Fprintf(&b, "<b>Current Price:</b> $%s\n", s.CurrentPrice.StringFixed(2))
	}
	if s.TargetPrice.IsPositive() {
		fmt.Fprintf(&b, "<b>Target Price:</b> $%s\n", s.TargetPrice.StringFixed(2))
	}
	t.send(ctx, strings.TrimSpace(b.String()))
}

func (t *Telegram) Errorf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.send(ctx, "⚠️ <b>Trading System Error</b>\n\n"+html.EscapeString(msg))
}

func (t *Telegram) DailySummary(ctx context.Context, holdings []Holding, totalValue, unrealizedPnL decimal.Decimal) {
	arrow, sign := "📈", "+"
	if unrealizedPnL.IsNegative() {
		arrow, sign = "📉", ""
	}
	var b strings.Builder
	b.WriteString("📊 <b>Daily Summary</b>\n\n")
	fmt.Fprintf(&b, "<b>Total Value:</b> $%s\n", totalValue.StringFixed(2))
	fmt.Fprintf(&b, "<b>Unrealized P&amp;L:</b> %s %s$%s\n", arrow, sign, unrealizedPnL.StringFixed(2))
	fmt.Fprintf(&b, "<b>Positions:</b> %d\n", len(holdings))
	if len(holdings) > 0 {
		b.WriteString("\n<b>Holdings:</b>\n")
		shown := holdings
		if len(shown) > 5 {
			shown = shown[:5]
		}
		for _, h := range shown {
			fmt.Fprintf(&b, "  • %s: %d shares\n", h.Ticker, h.Quantity)
		}
		if len(holdings) > 5 {
			fmt.Fprintf(&b, "  ... and %d more\n", len(holdings)-5)
		}
	}
	t.send(ctx, strings.TrimSpace(b.String()))
}

func (t *Telegram) Reconciled(ctx context.Context, r ReconcileReport) {
	if len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Updated) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString("🔄 <b>Positions Reconciled</b>\n\n")
	if len(r.Added) > 0 {
		fmt.Fprintf(&b, "<b>Added:</b> %s\n", strings.Join(r.Added, ", "))
	}
	if len(r.Removed) > 0 {
		fmt.Fprintf(&b, "<b>Removed:</b> %s\n", strings.Join(r.Removed, ", "))
	}
	if len(r.Updated) > 0 {
		fmt.Fprintf(&b, "<b>Updated:</b> %s\n", strings.Join(r.Updated, ", "))
	}
	t.send(ctx, strings.TrimSpace(b.String()))
}

func (t *Telegram) Startup(ctx context.Context, venue string, dryRun bool) {
	emoji, mode := "🚀", "LIVE"
	if dryRun {
		emoji, mode = "🧪", "DRY RUN"
	}
	t.send(ctx, fmt.Sprintf("%s <b>Trading System Started</b>\n\n<b>Broker:</b> %s\n<b>Mode:</b> %s", emoji, venue, mode))
}

func (t *Telegram) Shutdown(ctx context.Context) {
	t.send(ctx, "🛑 <b>Trading System Stopped</b>")
}
