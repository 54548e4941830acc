// Package config loads the bot configuration from a YAML file with
// environment-variable overrides for credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all settings for the trading bot.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Scores   ScoresConfig   `yaml:"scores"`
	Broker   BrokerConfig   `yaml:"broker"`
	Telegram TelegramConfig `yaml:"telegram"`
	Trading  TradingConfig  `yaml:"trading"`
	Orders   OrdersConfig   `yaml:"orders"`
	Schedule ScheduleConfig `yaml:"schedule"`
	API      APIConfig      `yaml:"api"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" default:"./data/scorebot.db" validate:"required"`
}

// ScoresConfig configures the AI score feed client.
type ScoresConfig struct {
	BaseURL string `yaml:"base_url" default:"https://apirest.danelfin.com/ranking" validate:"url"`
	// APIKey comes from DANELFIN_API_KEY; never put it in the YAML file.
	APIKey string `yaml:"-"`
	// LookbackDays bounds the fallback search for the most recent available
	// score when the requested date has no data yet.
	LookbackDays      int           `yaml:"lookback_days" default:"5" validate:"min=0,max=30"`
	Timeout           time.Duration `yaml:"timeout" default:"10s"`
	RequestsPerMinute int           `yaml:"requests_per_minute" default:"60" validate:"min=1"`
}

// BrokerConfig selects and configures the order gateway.
type BrokerConfig struct {
	// Venue is the gateway implementation: sim, alpaca or longport.
	Venue             string         `yaml:"venue" default:"sim" validate:"oneof=sim alpaca longport"`
	ConnectRetries    int            `yaml:"connect_retries" default:"10" validate:"min=1"`
	ConnectRetryDelay time.Duration  `yaml:"connect_retry_delay" default:"30s"`
	Alpaca            AlpacaConfig   `yaml:"alpaca"`
	Longport          LongportConfig `yaml:"longport"`
}

type AlpacaConfig struct {
	BaseURL   string `yaml:"base_url" default:"https://paper-api.alpaca.markets"`
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

type LongportConfig struct {
	AppKey      string `yaml:"-"`
	AppSecret   string `yaml:"-"`
	AccessToken string `yaml:"-"`
}

type TelegramConfig struct {
	BotToken string `yaml:"-"`
	ChatID   string `yaml:"-"`
}

// Enabled reports whether Telegram notifications are configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// TradingConfig holds the decision thresholds.
type TradingConfig struct {
	Watchlist          []string `yaml:"watchlist" default:"[\"BAC\",\"FHN\",\"OZK\",\"NBTB\",\"SSB\"]" validate:"min=1"`
	BuyScoreThreshold  int      `yaml:"buy_score_threshold" default:"10" validate:"min=1,max=10"`
	SellScoreThreshold int      `yaml:"sell_score_threshold" default:"7" validate:"min=0,max=10"`
	MaxPositions       int      `yaml:"max_positions" default:"8" validate:"min=1"`
	TakeProfitPct      float64  `yaml:"take_profit_pct" default:"0.15" validate:"gt=0,lt=1"`
	StopLossPct        float64  `yaml:"stop_loss_pct" default:"0.08" validate:"gt=0,lt=1"`
	DefaultQuantity    int64    `yaml:"default_quantity" default:"100" validate:"min=1"`
}

// OrdersConfig bounds the fill-polling loop.
type OrdersConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" default:"2s"`
	PollTimeout  time.Duration `yaml:"poll_timeout" default:"45s"`
}

type ScheduleConfig struct {
	// Times are HH:MM in Timezone; the defaults bracket the US session from
	// Hong Kong.
	DailyCheckTime     string        `yaml:"daily_check_time" default:"21:00" validate:"required"`
	DailySummaryTime   string        `yaml:"daily_summary_time" default:"05:00" validate:"required"`
	PriceCheckInterval time.Duration `yaml:"price_check_interval" default:"1m"`
	Timezone           string        `yaml:"timezone" default:"Asia/Hong_Kong"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:":8080"`
	// JWTSecret signs ops-API tokens; OperatorKey is the shared secret
	// exchanged for one. Both come from the environment.
	JWTSecret   string `yaml:"-"`
	OperatorKey string `yaml:"-"`
}

// Load reads the YAML file at path (optional), applies defaults, then layers
// credentials from the environment (a .env file is honored when present) and
// validates the result.
func Load(path string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults plus env are a complete configuration
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	c.applyEnv()

	if err := validator.New().Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	c.Scores.APIKey = os.Getenv("DANELFIN_API_KEY")
	c.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")
	c.Broker.Alpaca.APIKey = os.Getenv("ALPACA_API_KEY")
	c.Broker.Alpaca.APISecret = os.Getenv("ALPACA_API_SECRET")
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		c.Broker.Alpaca.BaseURL = v
	}
	c.Broker.Longport.AppKey = os.Getenv("LONGPORT_APP_KEY")
	c.Broker.Longport.AppSecret = os.Getenv("LONGPORT_APP_SECRET")
	c.Broker.Longport.AccessToken = os.Getenv("LONGPORT_ACCESS_TOKEN")
	c.API.JWTSecret = getEnv("SCOREBOT_JWT_SECRET", "dev-secret")
	c.API.OperatorKey = os.Getenv("SCOREBOT_OPERATOR_KEY")
	if v := os.Getenv("WATCHLIST"); v != "" {
		c.Trading.Watchlist = splitAndTrim(v)
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
}

// ValidateCredentials checks the settings that cannot be defaulted. Called
// once at startup; failures are fatal before any trading happens.
func (c *Config) ValidateCredentials() error {
	var missing []string
	if c.Scores.APIKey == "" {
		missing = append(missing, "DANELFIN_API_KEY")
	}
	switch c.Broker.Venue {
	case "alpaca":
		if c.Broker.Alpaca.APIKey == "" || c.Broker.Alpaca.APISecret == "" {
			missing = append(missing, "ALPACA_API_KEY/ALPACA_API_SECRET")
		}
	case "longport":
		lp := c.Broker.Longport
		if lp.AppKey == "" || lp.AppSecret == "" || lp.AccessToken == "" {
			missing = append(missing, "LONGPORT_APP_KEY/LONGPORT_APP_SECRET/LONGPORT_ACCESS_TOKEN")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
