package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is the locally tracked holding for one ticker. The store never
// contains a row with quantity <= 0; fully exited positions are deleted.
type Position struct {
	Ticker      string
	Quantity    int64
	AvgCost     decimal.Decimal
	EntryDate   time.Time
	EntryScore  int
	TargetPrice decimal.Decimal // zero when unknown
	StopLoss    decimal.Decimal // zero when unknown
	UpdatedAt   time.Time
}

// Trade is one append-only execution log entry. Rows are never updated.
type Trade struct {
	ID        string
	Ticker    string
	Action    string
	Quantity  int64
	Price     decimal.Decimal
	Total     decimal.Decimal
	Score     int
	Reason    string
	OrderID   string
	CreatedAt time.Time
}

// ScoreRecord is one day's AI score snapshot for a ticker.
type ScoreRecord struct {
	Date        string // YYYY-MM-DD
	Ticker      string
	Composite   int
	Fundamental int
	Technical   int
	Sentiment   int
	TargetPrice decimal.Decimal
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

// nullDecimal converts an optional TEXT column into a decimal, treating
// NULL/empty as zero.
func nullDecimal(field string, s sql.NullString) (decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(field, s.String)
}

// decimalOrNull stores zero decimals as NULL so optional prices stay optional.
func decimalOrNull(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}
