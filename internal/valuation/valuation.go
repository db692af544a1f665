// Package valuation marks positions to the current quote. Every function here
// is pure and idempotent: callable at any frequency without touching the
// position's authoritative fields.
package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Mark is the result of marking one position to one price.
type Mark struct {
	CurrentValue  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TotalReturn   decimal.Decimal
}

// MarkToMarket computes current value, unrealized P&L and total return for a
// position at the given price.
//
//	current_value  = (owned − shorted) × price
//	unrealized_pnl = long leg (price − avgBuy) × owned + short leg (avgShort − price) × shorted
//	total_return   = (current_value + realized − invested) / invested × 100, 0 when invested = 0
func MarkToMarket(pos *model.Position, price decimal.Decimal) Mark {
	owned := decimal.NewFromInt(pos.SharesOwned)
	shorted := decimal.NewFromInt(pos.SharesShorted)

	m := Mark{
		CurrentValue:  owned.Mul(price).Sub(shorted.Mul(price)),
		UnrealizedPnL: decimal.Zero,
		TotalReturn:   decimal.Zero,
	}

	if pos.SharesOwned > 0 {
		m.UnrealizedPnL = m.UnrealizedPnL.Add(price.Sub(pos.AvgBuyPrice).Mul(owned))
	}
	if pos.SharesShorted > 0 {
		m.UnrealizedPnL = m.UnrealizedPnL.Add(pos.AvgShortPrice.Sub(price).Mul(shorted))
	}

	if pos.TotalInvested.IsPositive() {
		m.TotalReturn = m.CurrentValue.Add(pos.RealizedPnL).Sub(pos.TotalInvested).
			Div(pos.TotalInvested).Mul(hundred)
	}

	return m
}

// SnapshotReader supplies historical valuation points for windowed returns.
// Implemented by the store; the valuation engine owns no state of its own.
type SnapshotReader interface {
	// ValuationAt returns the snapshot at or nearest before the given time,
	// or nil when no snapshot exists that early.
	ValuationAt(ctx context.Context, accountID, movieID string, at time.Time) (*model.ValuationSnapshot, error)
}

// Window horizons for the standard return metrics.
const (
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
	Window30d = 30 * 24 * time.Hour
)

// WindowedReturn computes the percentage change of current value against the
// snapshot nearest before now−window. Returns zero when no history exists
// that far back or the historical value was zero.
func WindowedReturn(ctx context.Context, r SnapshotReader, pos *model.Position,
	current decimal.Decimal, window time.Duration, now time.Time) (decimal.Decimal, error) {

	snap, err := r.ValuationAt(ctx, pos.AccountID, pos.MovieID, now.Add(-window))
	if err != nil {
		return decimal.Zero, err
	}
	if snap == nil || snap.Value.IsZero() {
		return decimal.Zero, nil
	}
	return current.Sub(snap.Value).Div(snap.Value).Mul(hundred), nil
}

// Enrich fills the position's derived fields in place from the current price
// and snapshot history. Only the derived fields are written; the copy passed
// to callers is theirs to serialize.
func Enrich(ctx context.Context, r SnapshotReader, pos *model.Position,
	price decimal.Decimal, now time.Time) error {

	m := MarkToMarket(pos, price)
	pos.CurrentValue = m.CurrentValue
	pos.UnrealizedPnL = m.UnrealizedPnL
	pos.TotalReturn = m.TotalReturn

	for _, w := range []struct {
		d   time.Duration
		dst *decimal.Decimal
	}{
		{Window24h, &pos.Return24h},
		{Window7d, &pos.Return7d},
		{Window30d, &pos.Return30d},
	} {
		ret, err := WindowedReturn(ctx, r, pos, m.CurrentValue, w.d, now)
		if err != nil {
			return err
		}
		*w.dst = ret
	}
	return nil
}
