package valuation_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/store"
	"github.com/cinestox/trading-engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMarkToMarket_LongPosition(t *testing.T) {
	pos := &model.Position{
		AccountID:     "acct1",
		MovieID:       "movie1",
		SharesOwned:   100,
		AvgBuyPrice:   d(150),
		TotalInvested: d(15000),
	}

	m := valuation.MarkToMarket(pos, d(180))

	if !m.CurrentValue.Equal(d(18000)) {
		t.Fatalf("current_value = %s, want 18000", m.CurrentValue)
	}
	if !m.UnrealizedPnL.Equal(d(3000)) {
		t.Fatalf("unrealized_pnl = %s, want 3000", m.UnrealizedPnL)
	}
	if !m.TotalReturn.Equal(d(20)) {
		t.Fatalf("total_return = %s, want 20", m.TotalReturn)
	}
}

func TestMarkToMarket_ShortGainsWhenPriceFalls(t *testing.T) {
	pos := &model.Position{
		SharesShorted: 50,
		AvgShortPrice: d(200),
		TotalInvested: d(10000),
	}

	m := valuation.MarkToMarket(pos, d(150))

	if !m.UnrealizedPnL.Equal(d(2500)) {
		t.Fatalf("unrealized_pnl = %s, want 2500", m.UnrealizedPnL)
	}
	if !m.CurrentValue.Equal(d(-7500)) {
		t.Fatalf("current_value = %s, want -7500", m.CurrentValue)
	}
}

func TestMarkToMarket_Idempotent(t *testing.T) {
	pos := &model.Position{
		SharesOwned:   100,
		SharesShorted: 20,
		AvgBuyPrice:   d(150),
		AvgShortPrice: d(170),
		TotalInvested: d(18400),
	}

	first := valuation.MarkToMarket(pos, d(160))
	for i := 0; i < 5; i++ {
		again := valuation.MarkToMarket(pos, d(160))
		if !again.CurrentValue.Equal(first.CurrentValue) ||
			!again.UnrealizedPnL.Equal(first.UnrealizedPnL) ||
			!again.TotalReturn.Equal(first.TotalReturn) {
			t.Fatalf("mark %d diverged: %+v vs %+v", i, again, first)
		}
	}
	if pos.SharesOwned != 100 || !pos.AvgBuyPrice.Equal(d(150)) {
		t.Fatal("MarkToMarket mutated authoritative fields")
	}
}

func TestMarkToMarket_ZeroInvested(t *testing.T) {
	pos := &model.Position{SharesOwned: 10, AvgBuyPrice: d(100)}

	m := valuation.MarkToMarket(pos, d(120))

	if !m.TotalReturn.IsZero() {
		t.Fatalf("total_return = %s, want 0 when nothing invested", m.TotalReturn)
	}
}

func TestWindowedReturn(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	pos := &model.Position{AccountID: "acct1", MovieID: "movie1", SharesOwned: 10, AvgBuyPrice: d(100)}

	if err := ms.InsertValuation(ctx, &model.ValuationSnapshot{
		AccountID: "acct1", MovieID: "movie1", Value: d(1000), At: now.Add(-25 * time.Hour),
	}); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}

	ret, err := valuation.WindowedReturn(ctx, ms, pos, d(1200), valuation.Window24h, now)
	if err != nil {
		t.Fatalf("windowed return: %v", err)
	}
	if !ret.Equal(d(20)) {
		t.Fatalf("return_24h = %s, want 20", ret)
	}
}

func TestWindowedReturn_NoHistory(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	pos := &model.Position{AccountID: "acct1", MovieID: "movie1"}

	ret, err := valuation.WindowedReturn(ctx, ms, pos, d(1200), valuation.Window7d, time.Now())
	if err != nil {
		t.Fatalf("windowed return: %v", err)
	}
	if !ret.IsZero() {
		t.Fatalf("return = %s, want 0 without history", ret)
	}
}

func TestEnrich(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	pos := &model.Position{
		AccountID: "acct1", MovieID: "movie1",
		SharesOwned: 100, AvgBuyPrice: d(150), TotalInvested: d(15000),
	}
	if err := ms.InsertValuation(ctx, &model.ValuationSnapshot{
		AccountID: "acct1", MovieID: "movie1", Value: d(16000), At: now.Add(-2 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}

	if err := valuation.Enrich(ctx, ms, pos, d(180), now); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	if !pos.CurrentValue.Equal(d(18000)) {
		t.Fatalf("current_value = %s, want 18000", pos.CurrentValue)
	}
	if !pos.Return24h.Equal(d(12.5)) {
		t.Fatalf("return_24h = %s, want 12.5", pos.Return24h)
	}
	if !pos.Return30d.IsZero() {
		t.Fatalf("return_30d = %s, want 0 without history that far back", pos.Return30d)
	}
}
