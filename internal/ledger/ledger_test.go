package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/ledger"
	"github.com/cinestox/trading-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func executed(kind model.TradeKind, shares int64, price, marginUsed decimal.Decimal) *model.Trade {
	return &model.Trade{
		ID:             "t1",
		AccountID:      "acct1",
		MovieID:        "movie1",
		Kind:           kind,
		Status:         model.StatusExecuted,
		Shares:         shares,
		ExecutionPrice: price,
		MarginUsed:     marginUsed,
		ExecutedAt:     time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func apply(t *testing.T, pos model.Position, trade *model.Trade) model.Position {
	t.Helper()
	next, err := ledger.Apply(pos, trade)
	if err != nil {
		t.Fatalf("apply %s: %v", trade.Kind, err)
	}
	return next
}

func TestApply_BuyWeightedAverage(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")

	pos = apply(t, pos, executed(model.KindBuy, 100, d(100), d(10000)))
	pos = apply(t, pos, executed(model.KindBuy, 100, d(200), d(20000)))

	if pos.SharesOwned != 200 {
		t.Fatalf("shares_owned = %d, want 200", pos.SharesOwned)
	}
	if !pos.AvgBuyPrice.Equal(d(150)) {
		t.Fatalf("avg_buy_price = %s, want 150", pos.AvgBuyPrice)
	}
	if !pos.TotalInvested.Equal(d(30000)) {
		t.Fatalf("total_invested = %s, want 30000", pos.TotalInvested)
	}
}

func TestApply_SellRealizesPnLKeepsAverage(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	pos = apply(t, pos, executed(model.KindBuy, 100, d(100), d(10000)))
	pos = apply(t, pos, executed(model.KindBuy, 100, d(200), d(20000)))

	// Sell 50 at 180 from average 150: realized = 50 × 30 = 1500.
	pos = apply(t, pos, executed(model.KindSell, 50, d(180), decimal.Zero))

	if !pos.RealizedPnL.Equal(d(1500)) {
		t.Fatalf("realized_pnl = %s, want 1500", pos.RealizedPnL)
	}
	if pos.SharesOwned != 150 {
		t.Fatalf("shares_owned = %d, want 150", pos.SharesOwned)
	}
	if !pos.AvgBuyPrice.Equal(d(150)) {
		t.Fatalf("avg_buy_price changed on partial sell: %s", pos.AvgBuyPrice)
	}
}

func TestApply_ShortCoverRealizesPnL(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	pos = apply(t, pos, executed(model.KindShort, 100, d(150), d(15000)))

	// Cover below the short entry price profits.
	pos = apply(t, pos, executed(model.KindCover, 40, d(120), decimal.Zero))

	if !pos.RealizedPnL.Equal(d(1200)) {
		t.Fatalf("realized_pnl = %s, want 1200", pos.RealizedPnL)
	}
	if pos.SharesShorted != 60 {
		t.Fatalf("shares_shorted = %d, want 60", pos.SharesShorted)
	}
	if !pos.AvgShortPrice.Equal(d(150)) {
		t.Fatalf("avg_short_price changed on partial cover: %s", pos.AvgShortPrice)
	}
}

func TestApply_FlatLegResetsAverage(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	pos = apply(t, pos, executed(model.KindBuy, 10, d(100), d(1000)))
	pos = apply(t, pos, executed(model.KindSell, 10, d(110), decimal.Zero))

	if pos.SharesOwned != 0 {
		t.Fatalf("shares_owned = %d, want 0", pos.SharesOwned)
	}
	if !pos.AvgBuyPrice.IsZero() {
		t.Fatalf("avg_buy_price = %s, want 0 when flat", pos.AvgBuyPrice)
	}
	if !pos.MarginUsed.IsZero() {
		t.Fatalf("margin_used = %s, want full release at flat", pos.MarginUsed)
	}
}

func TestApply_OversellRefusesWithoutMutation(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	pos = apply(t, pos, executed(model.KindBuy, 10, d(100), d(1000)))

	before := pos
	next, err := ledger.Apply(pos, executed(model.KindSell, 11, d(100), decimal.Zero))
	if !errors.Is(err, ledger.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}
	if next.SharesOwned != before.SharesOwned || !next.RealizedPnL.Equal(before.RealizedPnL) {
		t.Fatalf("position mutated on refused sell: %+v", next)
	}
}

func TestApply_CoverExceedsShorted(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	pos = apply(t, pos, executed(model.KindShort, 5, d(100), d(500)))

	_, err := ledger.Apply(pos, executed(model.KindCover, 6, d(90), decimal.Zero))
	if !errors.Is(err, ledger.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}
}

func TestApply_IndependentLegs(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	pos = apply(t, pos, executed(model.KindBuy, 10, d(100), d(1000)))
	pos = apply(t, pos, executed(model.KindShort, 4, d(120), d(480)))

	if pos.SharesOwned != 10 || pos.SharesShorted != 4 {
		t.Fatalf("legs = %d/%d, want 10/4", pos.SharesOwned, pos.SharesShorted)
	}
	if pos.NetExposure() != 6 {
		t.Fatalf("net exposure = %d, want 6", pos.NetExposure())
	}
}

func TestApply_PartialCloseReleasesMarginProRata(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	pos = apply(t, pos, executed(model.KindBuy, 100, d(100), d(2000)))

	// Closing half the open exposure releases half the committed margin.
	pos = apply(t, pos, executed(model.KindSell, 50, d(100), decimal.Zero))

	if !pos.MarginUsed.Equal(d(1000)) {
		t.Fatalf("margin_used = %s, want 1000", pos.MarginUsed)
	}
}

func TestApply_RejectsNonExecutedTrade(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	trade := executed(model.KindBuy, 1, d(100), d(100))
	trade.Status = model.StatusPending

	_, err := ledger.Apply(pos, trade)
	if !errors.Is(err, ledger.ErrNotExecuted) {
		t.Fatalf("err = %v, want ErrNotExecuted", err)
	}
}

func TestApply_UnknownKind(t *testing.T) {
	pos := ledger.NewPosition("acct1", "movie1")
	trade := executed("SPLIT", 1, d(100), decimal.Zero)

	_, err := ledger.Apply(pos, trade)
	if !errors.Is(err, ledger.ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}
