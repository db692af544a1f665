package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seed(t *testing.T, ms *store.MemoryStore, id, symbol string, price float64) {
	t.Helper()
	err := ms.CreateMovie(context.Background(), &model.Movie{
		ID: id, Title: "Movie " + id, Symbol: symbol, Status: "ACTIVE",
		Genres: []string{"Action"}, CurrentPrice: d(price), HypeScore: d(price),
		TradingActive: true, UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed movie: %v", err)
	}
}

func executedTrade(id string) *model.Trade {
	return &model.Trade{
		ID: id, AccountID: "acct1", MovieID: "m1",
		Kind: model.KindBuy, Status: model.StatusExecuted,
		Shares: 10, ExecutionPrice: d(100),
		ExecutedAt: time.Now().UTC(),
	}
}

func TestCommitExecution_VersionCAS(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	pos := &model.Position{AccountID: "acct1", MovieID: "m1", SharesOwned: 10, Version: 0}
	if err := ms.CommitExecution(ctx, executedTrade("t1"), pos, nil); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if pos.Version != 1 {
		t.Fatalf("version = %d, want 1 after commit", pos.Version)
	}

	// A writer holding the old version must be rejected.
	stale := &model.Position{AccountID: "acct1", MovieID: "m1", SharesOwned: 20, Version: 0}
	err := ms.CommitExecution(ctx, executedTrade("t2"), stale, nil)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	// The store still holds the first write.
	got, err := ms.GetPosition(ctx, "acct1", "m1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if got.SharesOwned != 10 || got.Version != 1 {
		t.Fatalf("position = %d shares v%d, want 10 shares v1", got.SharesOwned, got.Version)
	}
}

func TestCommitExecution_NewPositionRequiresVersionZero(t *testing.T) {
	ms := store.NewMemoryStore()

	pos := &model.Position{AccountID: "acct1", MovieID: "m1", SharesOwned: 5, Version: 3}
	err := ms.CommitExecution(context.Background(), executedTrade("t1"), pos, nil)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict for phantom version", err)
	}
}

func TestGetTradeByIdempotencyKey(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	trade := executedTrade("t1")
	trade.IdempotencyKey = "order-1"
	if err := ms.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := ms.GetTradeByIdempotencyKey(ctx, "acct1", "order-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("got trade %s, want t1", got.ID)
	}

	// Keys are scoped per account.
	if _, err := ms.GetTradeByIdempotencyKey(ctx, "acct2", "order-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for other account", err)
	}
	if _, err := ms.GetTradeByIdempotencyKey(ctx, "acct1", "order-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for unknown key", err)
	}
}

func TestEnsureAccount_PreservesExistingBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.EnsureAccount(ctx, "acct1", d(10000)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// A second ensure with a different default must not reset the balance.
	if err := ms.EnsureAccount(ctx, "acct1", d(99999)); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}

	am, err := ms.GetAccountMargin(ctx, "acct1")
	if err != nil {
		t.Fatalf("get margin: %v", err)
	}
	if !am.Balance.Equal(d(10000)) {
		t.Fatalf("balance = %s, want 10000", am.Balance)
	}
}

func TestGetAccountMargin_SumsPositionMargin(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.EnsureAccount(ctx, "acct1", d(10000)); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for i, m := range []string{"m1", "m2"} {
		pos := &model.Position{
			AccountID: "acct1", MovieID: m,
			SharesOwned: 10, MarginUsed: d(float64(500 * (i + 1))),
		}
		if err := ms.CommitExecution(ctx, executedTrade("t"+m), pos, nil); err != nil {
			t.Fatalf("commit %s: %v", m, err)
		}
	}

	am, err := ms.GetAccountMargin(ctx, "acct1")
	if err != nil {
		t.Fatalf("get margin: %v", err)
	}
	if !am.MarginInUse.Equal(d(1500)) {
		t.Fatalf("margin_in_use = %s, want 1500", am.MarginInUse)
	}
	if !am.Available().Equal(d(8500)) {
		t.Fatalf("available = %s, want 8500", am.Available())
	}
}

func TestListMovies_FilterSortPage(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seed(t, ms, "m1", "AAA", 10)
	seed(t, ms, "m2", "BBB", 30)
	seed(t, ms, "m3", "CCC", 20)

	movies, total, err := ms.ListMovies(ctx, store.MovieFilter{
		Status: "ACTIVE", SortBy: "hype_score", Limit: 2,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(movies) != 2 || movies[0].ID != "m2" || movies[1].ID != "m3" {
		t.Fatalf("unexpected page order: %+v", movies)
	}

	movies, _, err = ms.ListMovies(ctx, store.MovieFilter{Search: "bbb", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(movies) != 1 || movies[0].ID != "m2" {
		t.Fatalf("search returned %+v, want m2", movies)
	}
}

func TestValuationAt_NearestBefore(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, v := range []float64{100, 110, 120} {
		err := ms.InsertValuation(ctx, &model.ValuationSnapshot{
			AccountID: "acct1", MovieID: "m1",
			Value: d(v), At: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	snap, err := ms.ValuationAt(ctx, "acct1", "m1", base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("valuation at: %v", err)
	}
	if snap == nil || !snap.Value.Equal(d(110)) {
		t.Fatalf("snapshot = %+v, want value 110", snap)
	}

	snap, err = ms.ValuationAt(ctx, "acct1", "m1", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("valuation at: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil before first snapshot, got %+v", snap)
	}
}
