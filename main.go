package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scorebot/internal/api"
	"scorebot/internal/decision"
	"scorebot/internal/events"
	"scorebot/internal/notify"
	"scorebot/internal/order"
	"scorebot/internal/portfolio"
	"scorebot/internal/quotes"
	"scorebot/internal/reconcile"
	"scorebot/internal/scores"
	"scorebot/internal/trader"
	"scorebot/pkg/broker/alpaca"
	"scorebot/pkg/broker/common"
	"scorebot/pkg/broker/longport"
	"scorebot/pkg/broker/sim"
	"scorebot/pkg/config"
	"scorebot/pkg/db"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "trade against the in-memory sim broker")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := newLogger(cfg.Log)
	log.Info().Str("version", version).Str("venue", cfg.Broker.Venue).
		Bool("dry_run", *dryRun).Msg("scorebot starting")

	if !*dryRun {
		if err := cfg.ValidateCredentials(); err != nil {
			log.Fatal().Err(err).Msg("credentials missing")
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Str("tz", cfg.Schedule.Timezone).Msg("bad timezone")
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	bus := events.NewBus()
	book := portfolio.NewManager(database, bus, log)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Telegram.Enabled() {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
	} else {
		log.Warn().Msg("telegram not configured, notifications disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway := buildGateway(cfg, *dryRun)
	if err := connectWithRetry(ctx, gateway, cfg.Broker, log); err != nil {
		notifier.Errorf(ctx, "broker unreachable, shutting down: %v", err)
		log.Fatal().Err(err).Msg("broker connect failed")
	}
	defer gateway.Close()

	// Sync the book before any decision so stale rows from a crashed run
	// cannot drive trades.
	reconciler := reconcile.NewService(gateway, book, log)
	report, err := reconciler.Run(ctx)
	if err != nil {
		notifier.Errorf(ctx, "startup reconciliation failed: %v", err)
		log.Fatal().Err(err).Msg("startup reconciliation failed")
	}
	if !report.Empty() {
		notifier.Reconciled(ctx, notify.ReconcileReport{
			Added: report.Added, Removed: report.Removed, Updated: report.Updated,
		})
	}

	scoreClient := scores.NewClient(scores.Options{
		BaseURL:           cfg.Scores.BaseURL,
		APIKey:            cfg.Scores.APIKey,
		Timeout:           cfg.Scores.Timeout,
		LookbackDays:      cfg.Scores.LookbackDays,
		RequestsPerSecond: float64(cfg.Scores.RequestsPerMinute) / 60,
	}, log)
	quoteSource := quotes.NewSource(gateway, log)
	tracker := order.NewTracker(gateway, order.PollPolicy{
		Interval: cfg.Orders.PollInterval,
		Timeout:  cfg.Orders.PollTimeout,
	}, log)

	bot := trader.New(trader.Config{
		Watchlist: cfg.Trading.Watchlist,
		Thresholds: decision.Thresholds{
			BuyScore:      cfg.Trading.BuyScoreThreshold,
			SellScore:     cfg.Trading.SellScoreThreshold,
			MaxPositions:  cfg.Trading.MaxPositions,
			TakeProfitPct: decimal.NewFromFloat(cfg.Trading.TakeProfitPct),
			StopLossPct:   decimal.NewFromFloat(cfg.Trading.StopLossPct),
		},
		DefaultQuantity: cfg.Trading.DefaultQuantity,
	}, trader.Deps{
		Book:     book,
		Gateway:  gateway,
		Tracker:  tracker,
		Scores:   scoreClient,
		Quotes:   quoteSource,
		Store:    database,
		Notifier: notifier,
		Bus:      bus,
		Now:      func() time.Time { return time.Now().In(loc) },
	}, log)

	if cfg.API.Enabled {
		server := api.NewServer(bus, database, book, api.Meta{
			Venue:     gateway.Name(),
			DryRun:    *dryRun,
			Watchlist: cfg.Trading.Watchlist,
			Version:   version,
		}, cfg.API.JWTSecret, cfg.API.OperatorKey, log)
		go func() {
			if err := server.Start(cfg.API.Addr); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
		log.Info().Str("addr", cfg.API.Addr).Msg("api listening")
	}

	notifier.Startup(ctx, gateway.Name(), *dryRun)

	go runSchedule(ctx, cfg.Schedule, loc, bot, log)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	notifier.Shutdown(context.Background())
}

// runSchedule fires the trading passes at their configured local times and
// sweeps prices on a fixed interval in between.
func runSchedule(ctx context.Context, sched config.ScheduleConfig, loc *time.Location, bot *trader.Trader, log zerolog.Logger) {
	priceTicker := time.NewTicker(sched.PriceCheckInterval)
	defer priceTicker.Stop()

	dailyAt := waitUntil(ctx, sched.DailyCheckTime, loc)
	summaryAt := waitUntil(ctx, sched.DailySummaryTime, loc)

	for {
		select {
		case <-ctx.Done():
			return
		case <-priceTicker.C:
			if err := bot.RunPriceCheck(ctx); err != nil {
				log.Error().Err(err).Msg("price check failed")
			}
		case <-dailyAt:
			if err := bot.RunDailyCheck(ctx); err != nil {
				log.Error().Err(err).Msg("daily check failed")
			}
			dailyAt = waitUntil(ctx, sched.DailyCheckTime, loc)
		case <-summaryAt:
			if err := bot.RunDailySummary(ctx); err != nil {
				log.Error().Err(err).Msg("daily summary failed")
			}
			summaryAt = waitUntil(ctx, sched.DailySummaryTime, loc)
		}
	}
}

// waitUntil returns a channel that fires at the next occurrence of the
// HH:MM wall-clock time in loc.
func waitUntil(ctx context.Context, hhmm string, loc *time.Location) <-chan time.Time {
	now := time.Now().In(loc)
	at, err := time.ParseInLocation("15:04", hhmm, loc)
	if err != nil {
		// config validation should have caught this; fall back to a day away
		return time.After(24 * time.Hour)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return time.After(time.Until(next))
}

func buildGateway(cfg *config.Config, dryRun bool) common.Gateway {
	if dryRun || cfg.Broker.Venue == "sim" {
		return sim.New()
	}
	switch cfg.Broker.Venue {
	case "alpaca":
		return alpaca.New(alpaca.Credentials{
			APIKey:    cfg.Broker.Alpaca.APIKey,
			APISecret: cfg.Broker.Alpaca.APISecret,
			BaseURL:   cfg.Broker.Alpaca.BaseURL,
		})
	case "longport":
		return longport.New(longport.Credentials{
			AppKey:      cfg.Broker.Longport.AppKey,
			AppSecret:   cfg.Broker.Longport.AppSecret,
			AccessToken: cfg.Broker.Longport.AccessToken,
		})
	}
	// config validation restricts Venue, this is unreachable
	return sim.New()
}

// connectWithRetry keeps trying the broker session before giving up for
// good. A bot that starts without a broker would decide on stale state.
func connectWithRetry(ctx context.Context, gateway common.Gateway, cfg config.BrokerConfig, log zerolog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectRetries; attempt++ {
		err := gateway.Connect(ctx)
		if err == nil {
			log.Info().Str("venue", gateway.Name()).Int("attempt", attempt).Msg("broker connected")
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Int("max", cfg.ConnectRetries).
			Dur("retry_in", cfg.ConnectRetryDelay).Msg("broker connect failed")
		select {
		case <-time.After(cfg.ConnectRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("broker unreachable after %d attempts: %w", cfg.ConnectRetries, lastErr)
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
