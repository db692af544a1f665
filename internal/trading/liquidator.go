package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/metrics"
	"github.com/cinestox/trading-engine/internal/model"
)

// RunSweep periodically re-assesses margin health across all open positions
// until ctx is cancelled. Unhealthy positions trigger a margin call event;
// when auto-liquidation is enabled they are additionally closed in full
// through the normal trade path.
func (s *Service) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	slog.Info("liquidation sweep started", "interval", s.cfg.SweepInterval, "auto_liquidate", s.cfg.AutoLiquidate)
	for {
		select {
		case <-ctx.Done():
			slog.Info("liquidation sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all open positions. Exported so tests and admin
// tooling can trigger it on demand.
func (s *Service) Sweep(ctx context.Context) {
	positions, err := s.st.ListOpenPositions(ctx)
	if err != nil {
		slog.Error("liquidation sweep: list positions", "err", err)
		return
	}

	for i := range positions {
		pos := &positions[i]
		q, err := s.quotes.GetQuote(ctx, pos.MovieID)
		if err != nil {
			slog.Warn("liquidation sweep: no quote", "movie_id", pos.MovieID, "err", err)
			continue
		}
		status := s.monitor.Assess(pos, q.Price, s.effectiveLeverage(pos))
		if status.Healthy {
			continue
		}

		metrics.MarginCalls.Inc()
		slog.Warn("margin call",
			"account_id", pos.AccountID,
			"movie_id", pos.MovieID,
			"margin_ratio", status.Ratio,
			"margin_used", status.Used,
		)
		s.producer.PublishMarginCall(ctx, &status)
		if s.hub != nil {
			s.hub.Broadcast(WSMessage{
				Type:      "margin_call",
				AccountID: pos.AccountID,
				MovieID:   pos.MovieID,
				Ratio:     status.Ratio.String(),
			})
		}

		if s.cfg.AutoLiquidate {
			s.liquidate(ctx, pos, &status)
		}
	}
}

// liquidate force-closes both legs of a position through Submit, so the
// ledger, events and trade history see an ordinary closing trade. The
// idempotency key is derived from the position version: re-sweeping the same
// stale state cannot double-close.
func (s *Service) liquidate(ctx context.Context, pos *model.Position, status *model.MarginStatus) {
	legs := []struct {
		kind   model.TradeKind
		shares int64
	}{
		{model.KindSell, pos.SharesOwned},
		{model.KindCover, pos.SharesShorted},
	}
	for _, leg := range legs {
		if leg.shares == 0 {
			continue
		}
		trade, err := s.Submit(ctx, SubmitRequest{
			AccountID:      pos.AccountID,
			MovieID:        pos.MovieID,
			Kind:           leg.kind,
			Shares:         leg.shares,
			Leverage:       decimal.NewFromInt(1),
			IdempotencyKey: fmt.Sprintf("liq-%s-%s-%d-%s", pos.AccountID, pos.MovieID, pos.Version, leg.kind),
		})
		if err != nil {
			// Another writer may already have closed the leg.
			if errors.Is(err, ErrInsufficientPosition) || errors.Is(err, ErrConcurrentModification) {
				slog.Info("liquidation skipped, position changed",
					"account_id", pos.AccountID, "movie_id", pos.MovieID, "kind", leg.kind)
				continue
			}
			slog.Error("liquidation failed",
				"account_id", pos.AccountID, "movie_id", pos.MovieID, "kind", leg.kind, "err", err)
			continue
		}

		metrics.Liquidations.Inc()
		slog.Warn("position liquidated",
			"trade_id", trade.ID,
			"account_id", pos.AccountID,
			"movie_id", pos.MovieID,
			"kind", leg.kind,
			"shares", leg.shares,
		)
		s.producer.PublishLiquidation(ctx, trade, status)
		if s.hub != nil {
			s.hub.Broadcast(WSMessage{
				Type:      "liquidation",
				AccountID: pos.AccountID,
				MovieID:   pos.MovieID,
				Kind:      string(leg.kind),
				Shares:    leg.shares,
				Price:     trade.ExecutionPrice.String(),
			})
		}
	}
}
