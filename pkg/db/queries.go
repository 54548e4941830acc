package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const positionColumns = `ticker, quantity, avg_cost, entry_date, entry_score, target_price, stop_loss, updated_at`

func scanPosition(row interface{ Scan(...any) error }) (*Position, error) {
	var (
		p            Position
		avgCost      string
		entryDate    string
		target, stop sql.NullString
		updatedAt    string
	)
	if err := row.Scan(&p.Ticker, &p.Quantity, &avgCost, &entryDate, &p.EntryScore, &target, &stop, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.AvgCost, err = parseDecimal("avg_cost", avgCost); err != nil {
		return nil, err
	}
	if p.TargetPrice, err = nullDecimal("target_price", target); err != nil {
		return nil, err
	}
	if p.StopLoss, err = nullDecimal("stop_loss", stop); err != nil {
		return nil, err
	}
	if p.EntryDate, err = time.Parse(time.RFC3339, entryDate); err != nil {
		return nil, fmt.Errorf("parse entry_date %q: %w", entryDate, err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return &p, nil
}

// GetPosition returns the held position for ticker, or ErrNotFound.
func (d *Database) GetPosition(ctx context.Context, ticker string) (*Position, error) {
	row := d.DB.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE ticker = ?`, ticker)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", ticker, err)
	}
	return p, nil
}

// ListPositions returns all held positions ordered by ticker.
func (d *Database) ListPositions(ctx context.Context) ([]*Position, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// CountPositions returns the number of open positions.
func (d *Database) CountPositions(ctx context.Context) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return n, nil
}

// ApplyBuyFill records a filled buy. A new ticker inserts a fresh position;
// an existing one is averaged: the new avg_cost is the quantity-weighted
// mean of the old cost and the fill price. Entry date and score keep their
// original values on add-on buys.
func (d *Database) ApplyBuyFill(ctx context.Context, p *Position) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin buy fill: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	var (
		oldQty  int64
		oldCost string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT quantity, avg_cost FROM positions WHERE ticker = ?`, p.Ticker).
		Scan(&oldQty, &oldCost)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO positions (`+positionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Ticker, p.Quantity, p.AvgCost.String(),
			p.EntryDate.UTC().Format(time.RFC3339), p.EntryScore,
			decimalOrNull(p.TargetPrice), decimalOrNull(p.StopLoss), now)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.Ticker, err)
		}
	case err != nil:
		return fmt.Errorf("load position %s: %w", p.Ticker, err)
	default:
		prevCost, err := parseDecimal("avg_cost", oldCost)
		if err != nil {
			return err
		}
		newQty := oldQty + p.Quantity
		oldTotal := prevCost.Mul(decimal.NewFromInt(oldQty))
		addTotal := p.AvgCost.Mul(decimal.NewFromInt(p.Quantity))
		newCost := oldTotal.Add(addTotal).Div(decimal.NewFromInt(newQty))
		_, err = tx.ExecContext(ctx,
			`UPDATE positions SET quantity = ?, avg_cost = ?, target_price = ?, stop_loss = ?, updated_at = ?
			 WHERE ticker = ?`,
			newQty, newCost.String(),
			decimalOrNull(p.TargetPrice), decimalOrNull(p.StopLoss), now, p.Ticker)
		if err != nil {
			return fmt.Errorf("average position %s: %w", p.Ticker, err)
		}
	}
	return tx.Commit()
}

// ReducePosition subtracts a filled sell from a position. When the remaining
// quantity drops to zero or below the row is deleted; partial sells keep the
// original average cost. Reducing a missing ticker returns ErrNotFound.
func (d *Database) ReducePosition(ctx context.Context, ticker string, soldQty int64) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reduce: %w", err)
	}
	defer tx.Rollback()

	var qty int64
	err = tx.QueryRowContext(ctx,
		`SELECT quantity FROM positions WHERE ticker = ?`, ticker).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load position %s: %w", ticker, err)
	}

	remaining := qty - soldQty
	if remaining <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE ticker = ?`, ticker); err != nil {
			return fmt.Errorf("close position %s: %w", ticker, err)
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`UPDATE positions SET quantity = ?, updated_at = ? WHERE ticker = ?`,
			remaining, time.Now().UTC().Format(time.RFC3339), ticker)
		if err != nil {
			return fmt.Errorf("reduce position %s: %w", ticker, err)
		}
	}
	return tx.Commit()
}

// SetPosition force-writes a position to match an external source of truth.
// Entry date and score survive when the row already exists; new rows get
// the provided values.
func (d *Database) SetPosition(ctx context.Context, p *Position) error {
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO positions (`+positionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ticker) DO UPDATE SET quantity = excluded.quantity,
		   avg_cost = excluded.avg_cost, updated_at = excluded.updated_at`,
		p.Ticker, p.Quantity, p.AvgCost.String(),
		p.EntryDate.UTC().Format(time.RFC3339), p.EntryScore,
		decimalOrNull(p.TargetPrice), decimalOrNull(p.StopLoss),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set position %s: %w", p.Ticker, err)
	}
	return nil
}

// DeletePosition removes a position row. Deleting a missing ticker is a no-op.
func (d *Database) DeletePosition(ctx context.Context, ticker string) error {
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE ticker = ?`, ticker); err != nil {
		return fmt.Errorf("delete position %s: %w", ticker, err)
	}
	return nil
}

// InsertTrade appends one execution record.
func (d *Database) InsertTrade(ctx context.Context, t *Trade) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO trades (id, ticker, action, quantity, price, total, score, reason, order_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Ticker, t.Action, t.Quantity, t.Price.String(), t.Total.String(),
		t.Score, t.Reason, t.OrderID, created.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert trade %s %s: %w", t.Action, t.Ticker, err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first.
func (d *Database) RecentTrades(ctx context.Context, limit int) ([]*Trade, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT id, ticker, action, quantity, price, total, score, reason, order_id, created_at
		 FROM trades ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		var (
			t       Trade
			price   string
			total   string
			created string
		)
		if err := rows.Scan(&t.ID, &t.Ticker, &t.Action, &t.Quantity, &price, &total,
			&t.Score, &t.Reason, &t.OrderID, &created); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if t.Price, err = parseDecimal("price", price); err != nil {
			return nil, err
		}
		if t.Total, err = parseDecimal("total", total); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// UpsertScore records one day's scores for a ticker, overwriting a
// same-day snapshot.
func (d *Database) UpsertScore(ctx context.Context, s *ScoreRecord) error {
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO score_history (date, ticker, composite, fundamental, technical, sentiment, target_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(date, ticker) DO UPDATE SET composite = excluded.composite,
		   fundamental = excluded.fundamental, technical = excluded.technical,
		   sentiment = excluded.sentiment, target_price = excluded.target_price`,
		s.Date, s.Ticker, s.Composite, s.Fundamental, s.Technical, s.Sentiment,
		decimalOrNull(s.TargetPrice))
	if err != nil {
		return fmt.Errorf("upsert score %s %s: %w", s.Date, s.Ticker, err)
	}
	return nil
}

// ScoreHistory returns up to limit score snapshots for a ticker, newest first.
func (d *Database) ScoreHistory(ctx context.Context, ticker string, limit int) ([]*ScoreRecord, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT date, ticker, composite, fundamental, technical, sentiment, target_price
		 FROM score_history WHERE ticker = ? ORDER BY date DESC LIMIT ?`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("score history %s: %w", ticker, err)
	}
	defer rows.Close()

	var records []*ScoreRecord
	for rows.Next() {
		var (
			r      ScoreRecord
			target sql.NullString
		)
		if err := rows.Scan(&r.Date, &r.Ticker, &r.Composite, &r.Fundamental,
			&r.Technical, &r.Sentiment, &target); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		if r.TargetPrice, err = nullDecimal("target_price", target); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// GetRunState returns the stored value for key, or ErrNotFound.
func (d *Database) GetRunState(ctx context.Context, key string) (string, error) {
	var value string
	err := d.DB.QueryRowContext(ctx,
		`SELECT value FROM run_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get run state %s: %w", key, err)
	}
	return value, nil
}

// SetRunState stores value under key, replacing any previous value.
func (d *Database) SetRunState(ctx context.Context, key, value string) error {
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO run_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set run state %s: %w", key, err)
	}
	return nil
}
