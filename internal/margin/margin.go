// Package margin computes margin requirements for leveraged positions and the
// liquidation predicate.
//
// The monitor is advisory: it deterministically computes whether a position
// has breached the liquidation threshold, and a higher layer decides what to
// do about it. Forced unwinding goes back through the normal trade path.
package margin

import (
	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/valuation"
)

// Monitor holds the margin configuration. Immutable after construction — no
// process-wide settings object.
type Monitor struct {
	// MaxLeverage is the highest leverage an order may request.
	MaxLeverage decimal.Decimal

	// LiquidationThreshold is the margin ratio below which a position is
	// flagged for liquidation (e.g. 0.10 = margin call at 10%).
	LiquidationThreshold decimal.Decimal
}

// NewMonitor creates a monitor with the given leverage cap and liquidation
// threshold.
func NewMonitor(maxLeverage, liquidationThreshold decimal.Decimal) *Monitor {
	return &Monitor{
		MaxLeverage:          maxLeverage,
		LiquidationThreshold: liquidationThreshold,
	}
}

// ValidLeverage reports whether lev is within [1, MaxLeverage].
func (m *Monitor) ValidLeverage(lev decimal.Decimal) bool {
	one := decimal.NewFromInt(1)
	return lev.GreaterThanOrEqual(one) && lev.LessThanOrEqual(m.MaxLeverage)
}

// RequiredMargin returns notional / leverage.
func (m *Monitor) RequiredMargin(notional, leverage decimal.Decimal) decimal.Decimal {
	if leverage.LessThanOrEqual(decimal.Zero) {
		return notional
	}
	return notional.Div(leverage)
}

// NotionalAtRisk returns the larger leg's entry-priced notional: the exposure
// the margin requirement is computed against.
func NotionalAtRisk(pos *model.Position) decimal.Decimal {
	long := decimal.NewFromInt(pos.SharesOwned).Mul(pos.AvgBuyPrice)
	short := decimal.NewFromInt(pos.SharesShorted).Mul(pos.AvgShortPrice)
	if short.GreaterThan(long) {
		return short
	}
	return long
}

// Assess marks the position to currentPrice and evaluates margin health at
// the given leverage.
//
// A position is unhealthy when (margin used − unrealized loss) / required
// falls below the liquidation threshold. Unrealized gains do not raise the
// ratio above fully-margined; only losses erode it. A flat position is
// always healthy.
func (m *Monitor) Assess(pos *model.Position, currentPrice, leverage decimal.Decimal) model.MarginStatus {
	status := model.MarginStatus{
		AccountID: pos.AccountID,
		MovieID:   pos.MovieID,
		Used:      pos.MarginUsed,
		Healthy:   true,
	}

	required := m.RequiredMargin(NotionalAtRisk(pos), leverage)
	status.Required = required
	if !required.IsPositive() {
		status.Ratio = decimal.NewFromInt(1)
		return status
	}

	mark := valuation.MarkToMarket(pos, currentPrice)
	loss := decimal.Zero
	if mark.UnrealizedPnL.IsNegative() {
		loss = mark.UnrealizedPnL.Neg()
	}

	status.Ratio = pos.MarginUsed.Sub(loss).Div(required)
	status.Healthy = status.Ratio.GreaterThanOrEqual(m.LiquidationThreshold)
	return status
}
