// Package ledger applies executed trades to positions: weighted-average cost
// basis on opening trades, realized P&L on closing trades.
//
// Apply is a pure function of the prior position and one EXECUTED trade. It
// performs no I/O; serialization per (account, movie) and persistence are the
// caller's responsibility. All monetary values use shopspring/decimal.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
)

var (
	// ErrNotExecuted is returned when Apply receives a trade that is not in
	// the EXECUTED state. The ledger is never fed non-terminal trades.
	ErrNotExecuted = errors.New("ledger: trade is not executed")

	// ErrInsufficientShares is returned when a SELL or COVER exceeds the
	// held or shorted share count. The executor validates this before the
	// ledger runs; the ledger refuses rather than silently clamping, so a
	// broken precondition cannot hide a lost order.
	ErrInsufficientShares = errors.New("ledger: close exceeds open shares")

	// ErrUnknownKind is returned for a trade kind outside BUY/SELL/SHORT/COVER.
	ErrUnknownKind = errors.New("ledger: unknown trade kind")
)

// Apply returns the position after trade has been applied. pos is taken by
// value and never mutated; on error the input position is returned unchanged.
func Apply(pos model.Position, trade *model.Trade) (model.Position, error) {
	if trade.Status != model.StatusExecuted {
		return pos, ErrNotExecuted
	}

	shares := decimal.NewFromInt(trade.Shares)
	openBefore := pos.SharesOwned + pos.SharesShorted

	switch trade.Kind {
	case model.KindBuy:
		// New average = weighted average of existing and new notional.
		totalCost := decimal.NewFromInt(pos.SharesOwned).Mul(pos.AvgBuyPrice).
			Add(shares.Mul(trade.ExecutionPrice))
		pos.SharesOwned += trade.Shares
		pos.AvgBuyPrice = totalCost.Div(decimal.NewFromInt(pos.SharesOwned))
		pos.TotalInvested = pos.TotalInvested.Add(trade.MarginUsed)
		pos.MarginUsed = pos.MarginUsed.Add(trade.MarginUsed)

	case model.KindSell:
		if trade.Shares > pos.SharesOwned {
			return pos, fmt.Errorf("%w: sell %d, owned %d",
				ErrInsufficientShares, trade.Shares, pos.SharesOwned)
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(
			trade.ExecutionPrice.Sub(pos.AvgBuyPrice).Mul(shares))
		pos.MarginUsed = pos.MarginUsed.Sub(releasedMargin(pos.MarginUsed, trade.Shares, openBefore))
		pos.SharesOwned -= trade.Shares
		// Average price belongs to the remaining shares, so it is unchanged
		// unless the leg went flat.
		if pos.SharesOwned == 0 {
			pos.AvgBuyPrice = decimal.Zero
		}

	case model.KindShort:
		totalProceeds := decimal.NewFromInt(pos.SharesShorted).Mul(pos.AvgShortPrice).
			Add(shares.Mul(trade.ExecutionPrice))
		pos.SharesShorted += trade.Shares
		pos.AvgShortPrice = totalProceeds.Div(decimal.NewFromInt(pos.SharesShorted))
		pos.TotalInvested = pos.TotalInvested.Add(trade.MarginUsed)
		pos.MarginUsed = pos.MarginUsed.Add(trade.MarginUsed)

	case model.KindCover:
		if trade.Shares > pos.SharesShorted {
			return pos, fmt.Errorf("%w: cover %d, shorted %d",
				ErrInsufficientShares, trade.Shares, pos.SharesShorted)
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(
			pos.AvgShortPrice.Sub(trade.ExecutionPrice).Mul(shares))
		pos.MarginUsed = pos.MarginUsed.Sub(releasedMargin(pos.MarginUsed, trade.Shares, openBefore))
		pos.SharesShorted -= trade.Shares
		if pos.SharesShorted == 0 {
			pos.AvgShortPrice = decimal.Zero
		}

	default:
		return pos, fmt.Errorf("%w: %q", ErrUnknownKind, trade.Kind)
	}

	pos.LastTradeAt = trade.ExecutedAt
	pos.UpdatedAt = trade.ExecutedAt
	return pos, nil
}

// releasedMargin frees committed margin pro rata to the share of open
// exposure being closed, so a position driven flat releases all of it.
func releasedMargin(used decimal.Decimal, closed, openBefore int64) decimal.Decimal {
	if openBefore == 0 {
		return decimal.Zero
	}
	if closed >= openBefore {
		return used
	}
	return used.Mul(decimal.NewFromInt(closed)).Div(decimal.NewFromInt(openBefore))
}

// NewPosition returns an empty position for the pair, created lazily on the
// first trade. Positions are never deleted, only driven back toward flat.
func NewPosition(accountID, movieID string) model.Position {
	return model.Position{
		AccountID:     accountID,
		MovieID:       movieID,
		AvgBuyPrice:   decimal.Zero,
		AvgShortPrice: decimal.Zero,
		RealizedPnL:   decimal.Zero,
		TotalInvested: decimal.Zero,
		MarginUsed:    decimal.Zero,
	}
}
