// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind is the direction of an order.
type TradeKind string

const (
	KindBuy   TradeKind = "BUY"
	KindSell  TradeKind = "SELL"
	KindShort TradeKind = "SHORT"
	KindCover TradeKind = "COVER"
)

// Valid reports whether k is one of the four supported kinds.
func (k TradeKind) Valid() bool {
	switch k {
	case KindBuy, KindSell, KindShort, KindCover:
		return true
	}
	return false
}

// Opening reports whether the kind adds exposure (BUY or SHORT).
func (k TradeKind) Opening() bool { return k == KindBuy || k == KindShort }

// Closing reports whether the kind reduces exposure (SELL or COVER).
func (k TradeKind) Closing() bool { return k == KindSell || k == KindCover }

// TradeStatus is the lifecycle state of a trade. A trade is created PENDING
// and transitions exactly once to a terminal state.
type TradeStatus string

const (
	StatusPending   TradeStatus = "PENDING"
	StatusExecuted  TradeStatus = "EXECUTED"
	StatusCancelled TradeStatus = "CANCELLED"
	StatusFailed    TradeStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s TradeStatus) Terminal() bool { return s != StatusPending }

// Trade is one order's lifecycle record. Once EXECUTED it is immutable except
// for the derived ProfitLoss fields, which are recomputed against the current
// quote whenever a caller asks for valuation.
type Trade struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	MovieID   string `json:"movie_id" db:"movie_id"`

	Kind     TradeKind       `json:"kind" db:"kind"`
	Status   TradeStatus     `json:"status" db:"status"`
	Shares   int64           `json:"shares" db:"shares"`
	Leverage decimal.Decimal `json:"leverage" db:"leverage"`

	QuotedPrice    decimal.Decimal `json:"quoted_price" db:"quoted_price"`
	TotalAmount    decimal.Decimal `json:"total_amount" db:"total_amount"` // shares × quoted price
	Slippage       decimal.Decimal `json:"slippage" db:"slippage"`         // signed, applied at execution
	ExecutionPrice decimal.Decimal `json:"execution_price" db:"execution_price"`

	MarginRequired decimal.Decimal `json:"margin_required" db:"margin_required"`
	MarginUsed     decimal.Decimal `json:"margin_used" db:"margin_used"`

	// FailureKind holds the error kind (e.g. "insufficient_margin") when
	// Status is FAILED, empty otherwise.
	FailureKind string `json:"failure_kind,omitempty" db:"failure_kind"`

	// IdempotencyKey is supplied by the client so a submission left PENDING
	// by a persistence failure can be retried without double execution.
	IdempotencyKey string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	// Derived running P&L, recomputed against the current quote on read.
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	ProfitLossPct decimal.Decimal `json:"profit_loss_pct"`

	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ExecutedAt time.Time `json:"executed_at,omitempty" db:"executed_at"`
}

// Execute transitions the trade to EXECUTED, the only non-failure exit from
// PENDING. executionPrice already includes slippage.
func (t *Trade) Execute(executionPrice, slippage decimal.Decimal, at time.Time) {
	t.ExecutionPrice = executionPrice
	t.Slippage = slippage
	t.Status = StatusExecuted
	t.ExecutedAt = at
}

// Fail transitions the trade to FAILED with the given error kind. Any
// provisional fill state is discarded: only EXECUTED trades carry an
// execution price and timestamp.
func (t *Trade) Fail(kind string) {
	t.Status = StatusFailed
	t.FailureKind = kind
	t.ExecutionPrice = decimal.Zero
	t.Slippage = decimal.Zero
	t.MarginUsed = decimal.Zero
	t.ExecutedAt = time.Time{}
}

// MarkToPrice fills the derived running P&L fields against the current price.
// Long kinds profit when price rises, short kinds when it falls.
func (t *Trade) MarkToPrice(current decimal.Decimal) {
	if t.Status != StatusExecuted {
		return
	}
	shares := decimal.NewFromInt(t.Shares)
	switch t.Kind {
	case KindBuy, KindCover:
		t.ProfitLoss = current.Sub(t.ExecutionPrice).Mul(shares)
	case KindSell, KindShort:
		t.ProfitLoss = t.ExecutionPrice.Sub(current).Mul(shares)
	}
	notional := t.ExecutionPrice.Mul(shares)
	if notional.IsPositive() {
		t.ProfitLossPct = t.ProfitLoss.Div(notional).Mul(decimal.NewFromInt(100))
	}
}

// Position is the accumulated effect of all executed trades for one
// (account, movie) pair. SharesOwned and SharesShorted are independently
// non-negative; average prices are zero while the corresponding leg is flat.
type Position struct {
	AccountID string `json:"account_id" db:"account_id"`
	MovieID   string `json:"movie_id" db:"movie_id"`

	SharesOwned   int64           `json:"shares_owned" db:"shares_owned"`
	SharesShorted int64           `json:"shares_shorted" db:"shares_shorted"`
	AvgBuyPrice   decimal.Decimal `json:"avg_buy_price" db:"avg_buy_price"`
	AvgShortPrice decimal.Decimal `json:"avg_short_price" db:"avg_short_price"`

	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	TotalInvested decimal.Decimal `json:"total_invested" db:"total_invested"`
	MarginUsed    decimal.Decimal `json:"margin_used" db:"margin_used"`

	// Version implements optimistic concurrency on the stored record.
	Version int64 `json:"-" db:"version"`

	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	LastTradeAt time.Time `json:"last_trade_at,omitempty" db:"last_trade_at"`

	// Derived mark-to-market fields, computed on read from the authoritative
	// fields above plus the current quote. Never persisted.
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalReturn   decimal.Decimal `json:"total_return"`
	Return24h     decimal.Decimal `json:"return_24h"`
	Return7d      decimal.Decimal `json:"return_7d"`
	Return30d     decimal.Decimal `json:"return_30d"`
}

// NetExposure returns owned minus shorted shares.
func (p *Position) NetExposure() int64 { return p.SharesOwned - p.SharesShorted }

// IsFlat reports whether both legs are zero.
func (p *Position) IsFlat() bool { return p.SharesOwned == 0 && p.SharesShorted == 0 }

// MarginStatus is the monitor's advisory assessment of one position.
type MarginStatus struct {
	AccountID string          `json:"account_id"`
	MovieID   string          `json:"movie_id"`
	Required  decimal.Decimal `json:"margin_required"`
	Used      decimal.Decimal `json:"margin_used"`
	Ratio     decimal.Decimal `json:"margin_ratio"` // (used − unrealized loss) / required
	Healthy   bool            `json:"healthy"`
}

// Quote is one observation of a movie's price. AsOf determines staleness.
type Quote struct {
	MovieID string          `json:"movie_id"`
	Price   decimal.Decimal `json:"price"`
	AsOf    time.Time       `json:"as_of"`
}

// OlderThan reports whether the quote's age exceeds maxAge at time now.
func (q Quote) OlderThan(maxAge time.Duration, now time.Time) bool {
	return now.Sub(q.AsOf) > maxAge
}

// Movie is read-only catalog metadata plus the externally supplied price.
// The trading core never writes the catalog; prices arrive via the feed.
type Movie struct {
	ID            string          `json:"id" db:"id"`
	Title         string          `json:"title" db:"title"`
	Symbol        string          `json:"symbol" db:"symbol"` // e.g. "PUSHPA", "RRR"
	Status        string          `json:"status" db:"status"`
	Genres        []string        `json:"genres" db:"genres"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	InitialPrice  decimal.Decimal `json:"initial_price" db:"initial_price"`
	HypeScore     decimal.Decimal `json:"hype_score" db:"hype_score"`
	Volume24h     decimal.Decimal `json:"volume_24h" db:"volume_24h"`
	TradingActive bool            `json:"trading_active" db:"trading_active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// AccountMargin is the account-level margin headroom consumed by the
// executor. MarginInUse aggregates MarginUsed across the account's positions.
type AccountMargin struct {
	AccountID   string          `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	MarginInUse decimal.Decimal `json:"margin_in_use"`
}

// Available returns the margin headroom left for new trades.
func (m AccountMargin) Available() decimal.Decimal {
	return m.Balance.Sub(m.MarginInUse)
}

// ValuationSnapshot is one point of the derived value time series used for
// windowed returns. It carries no independent truth about the position.
type ValuationSnapshot struct {
	AccountID string          `json:"account_id" db:"account_id"`
	MovieID   string          `json:"movie_id" db:"movie_id"`
	Value     decimal.Decimal `json:"value" db:"value"`
	At        time.Time       `json:"at" db:"at"`
}

// Portfolio aggregates all of an account's positions with P&L totals.
type Portfolio struct {
	AccountID   string          `json:"account_id"`
	Positions   []Position      `json:"positions"`
	TotalValue  decimal.Decimal `json:"total_value"`
	TotalPnL    decimal.Decimal `json:"total_pnl"` // realized + unrealized
	MarginInUse decimal.Decimal `json:"margin_in_use"`
	Balance     decimal.Decimal `json:"balance"`
}
