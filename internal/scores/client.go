// Package scores fetches AI conviction scores from the Danelfin REST feed.
//
// The feed publishes one row per (ticker, date). When the requested date has
// no row yet (weekends, holidays, feed lag) the client walks backwards day by
// day up to a lookback window and transparently serves the most recent
// available score. Callers that need same-day freshness must check the Date
// field of the returned score.
package scores

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ErrUnavailable means no score exists for the ticker inside the lookback
// window.
var ErrUnavailable = errors.New("score unavailable")

// Score is one day's AI rating for a ticker. Composite is 0 to 10; higher
// means stronger buy conviction.
type Score struct {
	Ticker      string
	Date        string // YYYY-MM-DD, may be older than requested
	Composite   int
	Fundamental int
	Technical   int
	Sentiment   int
	TargetPrice decimal.Decimal // zero when the feed has none
}

type scoreRow struct {
	AIScore     int      `json:"aiscore"`
	Fundamental int      `json:"fundamental"`
	Technical   int      `json:"technical"`
	Sentiment   int      `json:"sentiment"`
	TargetPrice *float64 `json:"target_price"`
}

// Client talks to the scoring feed. Requests share a rate limiter so batch
// fetches stay inside the feed's request quota.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	lookback int
	log      zerolog.Logger
}

type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	LookbackDays      int
	RequestsPerSecond float64
}

func NewClient(opts Options, log zerolog.Logger) *Client {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	return &Client{
		http: resty.New().
			SetBaseURL(opts.BaseURL).
			SetHeader("x-api-key", opts.APIKey).
			SetTimeout(opts.Timeout),
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		lookback: opts.LookbackDays,
		log:      log.With().Str("component", "scores").Logger(),
	}
}

// Score returns the ticker's score for date, falling back to the most recent
// earlier date within the lookback window. The returned Score's Date says
// which day actually answered.
func (c *Client) Score(ctx context.Context, ticker string, date time.Time) (*Score, error) {
	for i := 0; i < c.lookback; i++ {
		day := date.AddDate(0, 0, -i).Format("2006-01-02")
		score, err := c.fetch(ctx, ticker, day)
		if errors.Is(err, ErrUnavailable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if i > 0 {
			c.log.Debug().Str("ticker", ticker).Str("served_date", day).
				Str("requested_date", date.Format("2006-01-02")).
				Msg("score served from lookback")
		}
		return score, nil
	}
	return nil, fmt.Errorf("%s within %d days of %s: %w",
		ticker, c.lookback, date.Format("2006-01-02"), ErrUnavailable)
}

func (c *Client) fetch(ctx context.Context, ticker, day string) (*Score, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var row scoreRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ticker", ticker).
		SetQueryParam("date", day).
		SetResult(&row).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("fetch score %s %s: %w", ticker, day, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrUnavailable
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch score %s %s: status %d", ticker, day, resp.StatusCode())
	}
	if row.AIScore == 0 {
		// The feed answers an empty object for dates it has no data for.
		return nil, ErrUnavailable
	}
	if row.AIScore < 0 || row.AIScore > 10 {
		return nil, fmt.Errorf("fetch score %s %s: composite %d out of range", ticker, day, row.AIScore)
	}
	score := &Score{
		Ticker:      ticker,
		Date:        day,
		Composite:   row.AIScore,
		Fundamental: row.Fundamental,
		Technical:   row.Technical,
		Sentiment:   row.Sentiment,
	}
	if row.TargetPrice != nil {
		score.TargetPrice = decimal.NewFromFloat(*row.TargetPrice)
	}
	return score, nil
}

// Batch fetches scores for several tickers. Tickers without a score are
// omitted; only transport-level errors abort the batch.
func (c *Client) Batch(ctx context.Context, tickers []string, date time.Time) (map[string]*Score, error) {
	out := make(map[string]*Score, len(tickers))
	for _, ticker := range tickers {
		score, err := c.Score(ctx, ticker, date)
		if errors.Is(err, ErrUnavailable) {
			c.log.Warn().Str("ticker", ticker).Msg("no score in lookback window")
			continue
		}
		if err != nil {
			return nil, err
		}
		out[ticker] = score
	}
	return out, nil
}

// TopScoring returns all tickers whose composite score on date is at least
// minScore, best first.
func (c *Client) TopScoring(ctx context.Context, minScore int, date time.Time) ([]*Score, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	day := date.Format("2006-01-02")
	var payload map[string]map[string]scoreRow // date -> ticker -> row
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("aiscore", fmt.Sprintf("%d", minScore)).
		SetQueryParam("date", day).
		SetResult(&payload).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("top scoring %s: %w", day, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("top scoring %s: status %d", day, resp.StatusCode())
	}

	var out []*Score
	for respDay, rows := range payload {
		for ticker, row := range rows {
			if row.AIScore < minScore {
				continue
			}
			s := &Score{
				Ticker:      ticker,
				Date:        respDay,
				Composite:   row.AIScore,
				Fundamental: row.Fundamental,
				Technical:   row.Technical,
				Sentiment:   row.Sentiment,
			}
			if row.TargetPrice != nil {
				s.TargetPrice = decimal.NewFromFloat(*row.TargetPrice)
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Composite != out[j].Composite {
			return out[i].Composite > out[j].Composite
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out, nil
}
