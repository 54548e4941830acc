// Package decision turns a score, an optional position and an optional
// price into a BUY, SELL or HOLD signal. The engine is a pure function so
// every rule can be tested against literal inputs.
package decision

import (
	"fmt"

	"github.com/shopspring/decimal"

	"scorebot/internal/scores"
	"scorebot/pkg/db"
)

// Action is the engine's verdict for one ticker.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Signal is the engine's output. It is consumed immediately by the
// orchestrator and never persisted.
type Signal struct {
	Ticker       string
	Action       Action
	Reason       string
	Score        int
	CurrentPrice decimal.Decimal // zero when no quote was available
	TargetPrice  decimal.Decimal
}

// Thresholds are the configured decision parameters.
type Thresholds struct {
	BuyScore      int
	SellScore     int
	MaxPositions  int
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
}

// Input is everything the engine looks at for one ticker. Position is nil
// when nothing is held; CurrentPrice is zero when no quote was available.
type Input struct {
	Ticker        string
	Score         *scores.Score
	Position      *db.Position
	CurrentPrice  decimal.Decimal
	OpenPositions int
}

// Decide evaluates one ticker.
//
// Without a position, a BUY needs the composite score at or above the buy
// threshold and a free position slot. With a position, exit rules run in
// fixed priority: stop loss, then take profit, then score decay. The first
// match wins; overlapping thresholds therefore always resolve to the stop
// loss. A missing price disables the two price rules but not score decay.
func Decide(in Input, t Thresholds) Signal {
	sig := Signal{
		Ticker: in.Ticker,
		Action: Hold,
		Score:  in.Score.Composite,
	}
	if in.Score.TargetPrice.IsPositive() {
		sig.TargetPrice = in.Score.TargetPrice
	}
	sig.CurrentPrice = in.CurrentPrice

	if in.Position == nil {
		if in.Score.Composite < t.BuyScore {
			sig.Reason = fmt.Sprintf("score %d below buy threshold %d", in.Score.Composite, t.BuyScore)
			return sig
		}
		if in.OpenPositions >= t.MaxPositions {
			sig.Reason = fmt.Sprintf("position limit reached (%d/%d)", in.OpenPositions, t.MaxPositions)
			return sig
		}
		sig.Action = Buy
		sig.Reason = fmt.Sprintf("score %d at or above buy threshold %d", in.Score.Composite, t.BuyScore)
		return sig
	}

	if in.CurrentPrice.IsPositive() {
		one := decimal.NewFromInt(1)
		stopAt := in.Position.AvgCost.Mul(one.Sub(t.StopLossPct))
		if in.CurrentPrice.LessThanOrEqual(stopAt) {
			sig.Action = Sell
			sig.Reason = fmt.Sprintf("stop loss: price %s at or below %s",
				in.CurrentPrice.StringFixed(2), stopAt.StringFixed(2))
			return sig
		}
		profitAt := in.Position.AvgCost.Mul(one.Add(t.TakeProfitPct))
		if in.CurrentPrice.GreaterThanOrEqual(profitAt) {
			sig.Action = Sell
			sig.Reason = fmt.Sprintf("take profit: price %s at or above %s",
				in.CurrentPrice.StringFixed(2), profitAt.StringFixed(2))
			return sig
		}
	}

	if in.Score.Composite < t.SellScore {
		sig.Action = Sell
		sig.Reason = fmt.Sprintf("score dropped to %d, below sell threshold %d", in.Score.Composite, t.SellScore)
		return sig
	}

	sig.Reason = "no exit condition met"
	return sig
}
