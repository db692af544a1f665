package trading_test

import (
	"context"
	"testing"
	"time"

	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/quote"
	"github.com/cinestox/trading-engine/internal/store"
	"github.com/cinestox/trading-engine/internal/trading"
)

func TestSweep_AutoLiquidatesBreachedPosition(t *testing.T) {
	ms := store.NewMemoryStore()
	qs := quote.NewStaticSource()
	cfg := testConfig()
	cfg.AutoLiquidate = true
	svc := trading.NewService(ms, qs, cfg, 5*time.Minute, nil, nil)
	ctx := context.Background()

	seedMovie(t, ms, qs, "m1", 100)
	if _, err := svc.Submit(ctx, trading.SubmitRequest{
		AccountID: "acct1", MovieID: "m1", Kind: model.KindBuy, Shares: 100, Leverage: d(5),
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Crash the price far past the liquidation threshold.
	qs.Set(model.Quote{MovieID: "m1", Price: d(81), AsOf: time.Now()})
	svc.Sweep(ctx)

	pos, err := ms.GetPosition(ctx, "acct1", "m1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !pos.IsFlat() {
		t.Fatalf("position not liquidated: %d/%d", pos.SharesOwned, pos.SharesShorted)
	}
	// Forced close at 81 from average 100 realizes the loss.
	if !pos.RealizedPnL.Equal(d(-1900)) {
		t.Fatalf("realized_pnl = %s, want -1900", pos.RealizedPnL)
	}

	trades, err := ms.ListTradesByAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want buy + forced sell", len(trades))
	}
}

func TestSweep_HealthyPositionUntouched(t *testing.T) {
	ms := store.NewMemoryStore()
	qs := quote.NewStaticSource()
	cfg := testConfig()
	cfg.AutoLiquidate = true
	svc := trading.NewService(ms, qs, cfg, 5*time.Minute, nil, nil)
	ctx := context.Background()

	seedMovie(t, ms, qs, "m1", 100)
	if _, err := svc.Submit(ctx, trading.SubmitRequest{
		AccountID: "acct1", MovieID: "m1", Kind: model.KindBuy, Shares: 100, Leverage: d(5),
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	qs.Set(model.Quote{MovieID: "m1", Price: d(95), AsOf: time.Now()})
	svc.Sweep(ctx)

	pos, err := ms.GetPosition(ctx, "acct1", "m1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.SharesOwned != 100 {
		t.Fatalf("healthy position modified: %d shares", pos.SharesOwned)
	}
}

func TestSweep_AdvisoryOnlyByDefault(t *testing.T) {
	svc, ms, qs, _ := newTestEnv(t)
	ctx := context.Background()

	seedMovie(t, ms, qs, "m1", 100)
	if _, err := svc.Submit(ctx, trading.SubmitRequest{
		AccountID: "acct1", MovieID: "m1", Kind: model.KindBuy, Shares: 100, Leverage: d(5),
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	qs.Set(model.Quote{MovieID: "m1", Price: d(81), AsOf: time.Now()})
	svc.Sweep(ctx)

	pos, err := ms.GetPosition(ctx, "acct1", "m1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.SharesOwned != 100 {
		t.Fatalf("advisory sweep closed a position: %d shares", pos.SharesOwned)
	}
}
