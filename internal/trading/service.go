// Package trading implements the trade executor: order validation, margin
// checks, slippage, atomic position commits and the HTTP surface for trades,
// positions and portfolio views.
package trading

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/config"
	"github.com/cinestox/trading-engine/internal/events"
	"github.com/cinestox/trading-engine/internal/ledger"
	"github.com/cinestox/trading-engine/internal/margin"
	"github.com/cinestox/trading-engine/internal/metrics"
	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/quote"
	"github.com/cinestox/trading-engine/internal/store"
	"github.com/cinestox/trading-engine/internal/valuation"
)

// Service coordinates trade execution against the position ledger. All writes
// for one (account, movie) pair are serialized through a keyed mutex; the
// position version check in the store guards against writers outside this
// process.
type Service struct {
	st       store.Store
	quotes   quote.Source
	monitor  *margin.Monitor
	slippage SlippageModel
	cfg      config.TradingConfig
	maxAge   time.Duration
	hub      *WSHub
	producer *events.Producer
	locks    *keyedMutex

	// now is swapped out in tests for deterministic timestamps.
	now func() time.Time
}

// NewService wires a trade executor. hub and producer may be nil.
func NewService(st store.Store, quotes quote.Source, cfg config.TradingConfig, maxAge time.Duration, hub *WSHub, producer *events.Producer) *Service {
	return &Service{
		st:       st,
		quotes:   quotes,
		monitor:  margin.NewMonitor(cfg.MaxLeverage, cfg.LiquidationThreshold),
		slippage: LinearImpact{Bps: cfg.SlippageBps, Depth: cfg.SlippageDepth, MaxBps: cfg.MaxSlippageBps},
		cfg:      cfg,
		maxAge:   maxAge,
		hub:      hub,
		producer: producer,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// SubmitRequest is an order submission. Leverage defaults to 1 when omitted.
type SubmitRequest struct {
	AccountID      string          `json:"account_id"`
	MovieID        string          `json:"movie_id"`
	Kind           model.TradeKind `json:"trade_type"`
	Shares         int64           `json:"shares"`
	Leverage       decimal.Decimal `json:"leverage"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (s *Service) validate(req *SubmitRequest) error {
	if req.AccountID == "" || req.MovieID == "" {
		return errors.New("account_id and movie_id are required")
	}
	if !req.Kind.Valid() {
		return errors.New("trade_type must be one of BUY, SELL, SHORT, COVER")
	}
	if req.Shares <= 0 {
		return errors.New("shares must be positive")
	}
	if req.Leverage.IsZero() {
		req.Leverage = decimal.NewFromInt(1)
	}
	if !s.monitor.ValidLeverage(req.Leverage) {
		return errors.New("leverage out of range")
	}
	return nil
}

// Submit executes an order end to end and returns the terminal trade. A trade
// refused by the market (suspended movie, stale quote) or by the ledger
// (insufficient shares or margin) is returned FAILED alongside the error, so
// callers see both the failure kind and the recorded trade row. Only requests
// with malformed fields or an unknown movie are rejected before a trade
// record exists.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Trade, error) {
	if err := s.validate(&req); err != nil {
		return nil, errors.Join(ErrInvalidOrder, err)
	}

	// Idempotent replay: a terminal trade under the same key is returned
	// as-is; a PENDING one is adopted and driven to completion below.
	if req.IdempotencyKey != "" {
		prior, err := s.st.GetTradeByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if prior != nil {
			if prior.Status.Terminal() {
				return prior, nil
			}
			return s.resume(ctx, prior)
		}
	}

	mu := s.locks.get(req.AccountID + "|" + req.MovieID)
	mu.Lock()
	defer mu.Unlock()

	movie, err := s.st.GetMovie(ctx, req.MovieID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMovieNotFound
		}
		return nil, err
	}

	// The trade is recorded PENDING before the market checks so that
	// suspended-movie and stale-quote refusals leave a FAILED row with the
	// failure kind, same as ledger refusals.
	q, qerr := s.quotes.GetQuote(ctx, req.MovieID)
	quoted := movie.CurrentPrice
	if qerr == nil {
		quoted = q.Price
	}

	notional := quoted.Mul(decimal.NewFromInt(req.Shares))
	trade := &model.Trade{
		ID:             uuid.NewString(),
		AccountID:      req.AccountID,
		MovieID:        req.MovieID,
		Kind:           req.Kind,
		Status:         model.StatusPending,
		Shares:         req.Shares,
		Leverage:       req.Leverage,
		QuotedPrice:    quoted,
		TotalAmount:    notional,
		MarginRequired: s.monitor.RequiredMargin(notional, req.Leverage),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now(),
	}
	if err := s.st.InsertTrade(ctx, trade); err != nil {
		// Lost the race on the idempotency key between lookup and insert;
		// hand the submission to the trade that won.
		if errors.Is(err, store.ErrDuplicateTrade) && req.IdempotencyKey != "" {
			prior, perr := s.st.GetTradeByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
			if perr != nil {
				return nil, perr
			}
			if prior.Status.Terminal() {
				return prior, nil
			}
			return s.execute(ctx, prior)
		}
		return nil, err
	}

	if !movie.TradingActive {
		return s.failTrade(ctx, trade, errors.Join(ErrInvalidOrder, errors.New("trading is suspended for this movie")))
	}
	if qerr != nil {
		return s.failTrade(ctx, trade, errors.Join(ErrStaleQuote, qerr))
	}
	if q.OlderThan(s.maxAge, s.now()) {
		return s.failTrade(ctx, trade, ErrStaleQuote)
	}

	return s.execute(ctx, trade)
}

// resume re-drives a PENDING trade found under an idempotency key: the
// earlier attempt recorded intent but the commit never landed.
func (s *Service) resume(ctx context.Context, trade *model.Trade) (*model.Trade, error) {
	mu := s.locks.get(trade.AccountID + "|" + trade.MovieID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a concurrent retry may have finished it.
	fresh, err := s.st.GetTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Status.Terminal() {
		if fresh.Status == model.StatusExecuted {
			fresh.MarkToPrice(fresh.QuotedPrice)
		}
		return fresh, nil
	}

	// Trading may have been halted since the trade was recorded.
	movie, err := s.st.GetMovie(ctx, fresh.MovieID)
	if err != nil {
		return nil, err
	}
	if !movie.TradingActive {
		return s.failTrade(ctx, fresh, errors.Join(ErrInvalidOrder, errors.New("trading is suspended for this movie")))
	}
	return s.execute(ctx, fresh)
}

// execute drives a PENDING trade to a terminal state. Callers hold the
// (account, movie) lock. ErrPersistenceFailure leaves the trade PENDING for
// an idempotent retry; every other error marks it FAILED first.
func (s *Service) execute(ctx context.Context, trade *model.Trade) (*model.Trade, error) {
	start := s.now()

	pos, err := s.st.GetPosition(ctx, trade.AccountID, trade.MovieID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if pos == nil {
		p := ledger.NewPosition(trade.AccountID, trade.MovieID)
		pos = &p
	}

	if err := s.precheck(ctx, trade, pos); err != nil {
		return s.failTrade(ctx, trade, err)
	}

	execPrice, slip := s.slippage.Adjust(trade.Kind, trade.QuotedPrice, trade.Shares)
	trade.Execute(execPrice, slip, s.now())
	if trade.Kind.Opening() {
		trade.MarginUsed = trade.MarginRequired
	}

	committed, err := s.commitWithRetry(ctx, trade, *pos)
	if err != nil {
		switch {
		case errors.Is(err, ErrConcurrentModification),
			errors.Is(err, ErrInsufficientPosition),
			errors.Is(err, ErrInsufficientMargin):
			return s.failTrade(ctx, trade, err)
		}
		// Commit did not land; leave the trade PENDING so the client can
		// retry with the same idempotency key.
		metrics.TradesTotal.WithLabelValues(string(trade.Kind), "persistence_error").Inc()
		return nil, errors.Join(ErrPersistenceFailure, err)
	}

	metrics.TradesTotal.WithLabelValues(string(trade.Kind), string(model.StatusExecuted)).Inc()
	metrics.TradeLatency.WithLabelValues(string(trade.Kind)).Observe(s.now().Sub(start).Seconds())

	slog.Info("trade executed",
		"trade_id", trade.ID,
		"account_id", trade.AccountID,
		"movie_id", trade.MovieID,
		"kind", trade.Kind,
		"shares", trade.Shares,
		"price", trade.ExecutionPrice,
		"realized_pnl", committed.RealizedPnL,
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "trade_executed",
			AccountID: trade.AccountID,
			MovieID:   trade.MovieID,
			Kind:      string(trade.Kind),
			Shares:    trade.Shares,
			Price:     trade.ExecutionPrice.String(),
		})
	}
	s.producer.PublishTradeExecuted(ctx, trade)

	trade.MarkToPrice(trade.QuotedPrice)
	return trade, nil
}

// precheck validates position and margin sufficiency against current state.
// Re-run after every version-conflict reload, since the facts it checked may
// have changed underneath the commit.
func (s *Service) precheck(ctx context.Context, trade *model.Trade, pos *model.Position) error {
	if trade.Kind.Closing() {
		held := pos.SharesOwned
		if trade.Kind == model.KindCover {
			held = pos.SharesShorted
		}
		if trade.Shares > held {
			return ErrInsufficientPosition
		}
		return nil
	}

	if err := s.st.EnsureAccount(ctx, trade.AccountID, s.cfg.InitialBalance); err != nil {
		return err
	}
	am, err := s.st.GetAccountMargin(ctx, trade.AccountID)
	if err != nil {
		return err
	}
	if trade.MarginRequired.GreaterThan(am.Available()) {
		return ErrInsufficientMargin
	}
	return nil
}

// commitWithRetry applies the ledger transition and commits atomically,
// retrying version conflicts with a fresh read and re-check.
func (s *Service) commitWithRetry(ctx context.Context, trade *model.Trade, pos model.Position) (*model.Position, error) {
	for attempt := 0; attempt <= s.cfg.SaveRetries; attempt++ {
		next, err := ledger.Apply(pos, trade)
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientShares) {
				return nil, ErrInsufficientPosition
			}
			return nil, err
		}

		err = s.st.CommitExecution(ctx, trade, &next, s.snapshotFor(&next, trade))
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}

		metrics.VersionConflicts.Inc()
		fresh, lerr := s.st.GetPosition(ctx, trade.AccountID, trade.MovieID)
		if lerr != nil && !errors.Is(lerr, store.ErrNotFound) {
			return nil, lerr
		}
		if fresh == nil {
			p := ledger.NewPosition(trade.AccountID, trade.MovieID)
			fresh = &p
		}
		if perr := s.precheck(ctx, trade, fresh); perr != nil {
			return nil, perr
		}
		pos = *fresh
	}
	return nil, ErrConcurrentModification
}

func (s *Service) snapshotFor(pos *model.Position, trade *model.Trade) *model.ValuationSnapshot {
	mark := valuation.MarkToMarket(pos, trade.QuotedPrice)
	return &model.ValuationSnapshot{
		AccountID: pos.AccountID,
		MovieID:   pos.MovieID,
		Value:     mark.CurrentValue,
		At:        trade.ExecutedAt.UTC(),
	}
}

// failTrade marks the trade FAILED with the failure kind, then returns the
// trade with the original error so HTTP status mapping still applies.
func (s *Service) failTrade(ctx context.Context, trade *model.Trade, cause error) (*model.Trade, error) {
	trade.Fail(failureKind(cause))
	if err := s.st.UpdateTrade(ctx, trade); err != nil {
		slog.Error("failed to persist trade failure", "trade_id", trade.ID, "err", err)
	}
	metrics.TradesTotal.WithLabelValues(string(trade.Kind), string(model.StatusFailed)).Inc()
	slog.Warn("trade failed",
		"trade_id", trade.ID,
		"account_id", trade.AccountID,
		"movie_id", trade.MovieID,
		"kind", trade.Kind,
		"reason", trade.FailureKind,
	)
	s.producer.PublishTradeFailed(ctx, trade)
	return trade, cause
}

// Cancel transitions a PENDING trade to CANCELLED. Terminal trades cannot be
// cancelled.
func (s *Service) Cancel(ctx context.Context, accountID, tradeID string) (*model.Trade, error) {
	trade, err := s.st.GetTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	if trade.AccountID != accountID {
		return nil, ErrTradeNotFound
	}

	mu := s.locks.get(trade.AccountID + "|" + trade.MovieID)
	mu.Lock()
	defer mu.Unlock()

	trade, err = s.st.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != model.StatusPending {
		return nil, ErrNotCancellable
	}
	trade.Status = model.StatusCancelled
	if err := s.st.UpdateTrade(ctx, trade); err != nil {
		return nil, err
	}
	metrics.TradesTotal.WithLabelValues(string(trade.Kind), string(model.StatusCancelled)).Inc()
	slog.Info("trade cancelled", "trade_id", trade.ID, "account_id", accountID)
	return trade, nil
}

// PositionView returns a position enriched with mark-to-market and windowed
// return fields.
func (s *Service) PositionView(ctx context.Context, accountID, movieID string) (*model.Position, error) {
	pos, err := s.st.GetPosition(ctx, accountID, movieID)
	if err != nil {
		return nil, err
	}
	q, err := s.quotes.GetQuote(ctx, movieID)
	if err != nil {
		return nil, errors.Join(ErrStaleQuote, err)
	}
	if err := valuation.Enrich(ctx, s.st, pos, q.Price, s.now()); err != nil {
		return nil, err
	}
	return pos, nil
}

// MarginStatus assesses one position's margin health at the current quote.
// Effective leverage is reconstructed from notional over margin used.
func (s *Service) MarginStatus(ctx context.Context, accountID, movieID string) (*model.MarginStatus, error) {
	pos, err := s.st.GetPosition(ctx, accountID, movieID)
	if err != nil {
		return nil, err
	}
	q, err := s.quotes.GetQuote(ctx, movieID)
	if err != nil {
		return nil, errors.Join(ErrStaleQuote, err)
	}
	st := s.monitor.Assess(pos, q.Price, s.effectiveLeverage(pos))
	return &st, nil
}

func (s *Service) effectiveLeverage(pos *model.Position) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !pos.MarginUsed.IsPositive() {
		return one
	}
	lev := margin.NotionalAtRisk(pos).Div(pos.MarginUsed)
	if lev.LessThan(one) {
		return one
	}
	if lev.GreaterThan(s.cfg.MaxLeverage) {
		return s.cfg.MaxLeverage
	}
	return lev
}

// Portfolio aggregates an account's positions marked to the latest quotes.
func (s *Service) Portfolio(ctx context.Context, accountID string) (*model.Portfolio, error) {
	if err := s.st.EnsureAccount(ctx, accountID, s.cfg.InitialBalance); err != nil {
		return nil, err
	}
	am, err := s.st.GetAccountMargin(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.st.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	pf := &model.Portfolio{
		AccountID:   accountID,
		Balance:     am.Balance,
		MarginInUse: am.MarginInUse,
		TotalValue:  am.Balance,
		TotalPnL:    decimal.Zero,
		Positions:   make([]model.Position, 0, len(positions)),
	}
	for i := range positions {
		pos := &positions[i]
		pf.TotalPnL = pf.TotalPnL.Add(pos.RealizedPnL)
		if pos.IsFlat() {
			continue
		}
		q, err := s.quotes.GetQuote(ctx, pos.MovieID)
		if err != nil {
			return nil, errors.Join(ErrStaleQuote, err)
		}
		if err := valuation.Enrich(ctx, s.st, pos, q.Price, s.now()); err != nil {
			return nil, err
		}
		pf.TotalValue = pf.TotalValue.Add(pos.UnrealizedPnL)
		pf.TotalPnL = pf.TotalPnL.Add(pos.UnrealizedPnL)
		pf.Positions = append(pf.Positions, *pos)

		s.recordSnapshot(ctx, pos)
	}
	return pf, nil
}

// snapshotSpacing throttles read-path snapshot writes; the commit path
// records one per trade regardless.
const snapshotSpacing = time.Hour

// recordSnapshot appends a valuation point for windowed returns when the
// newest existing point is older than the spacing. Best effort.
func (s *Service) recordSnapshot(ctx context.Context, pos *model.Position) {
	now := s.now()
	last, err := s.st.ValuationAt(ctx, pos.AccountID, pos.MovieID, now)
	if err != nil {
		return
	}
	if last != nil && now.Sub(last.At) < snapshotSpacing {
		return
	}
	_ = s.st.InsertValuation(ctx, &model.ValuationSnapshot{
		AccountID: pos.AccountID,
		MovieID:   pos.MovieID,
		Value:     pos.CurrentValue,
		At:        now.UTC(),
	})
}

// ---- HTTP handlers ----

// Routes mounts the trading API onto a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/trades", s.handleSubmit)
	r.Get("/trades/{tradeID}", s.handleGetTrade)
	r.Delete("/trades/{tradeID}", s.handleCancel)
	r.Get("/accounts/{accountID}/trades", s.handleListTrades)
	r.Get("/positions/{accountID}", s.handleListPositions)
	r.Get("/positions/{accountID}/{movieID}", s.handleGetPosition)
	r.Get("/positions/{accountID}/{movieID}/margin", s.handleMarginStatus)
	r.Get("/portfolio/{accountID}", s.handlePortfolio)
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	trade, err := s.Submit(r.Context(), req)
	if err != nil {
		// Failed trades are recorded; include the row in the error payload.
		writeErrorTrade(w, statusForError(err), err, trade)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

func (s *Service) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.st.GetTrade(r.Context(), chi.URLParam(r, "tradeID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if trade.Status == model.StatusExecuted {
		if q, qerr := s.quotes.GetQuote(r.Context(), trade.MovieID); qerr == nil {
			trade.MarkToPrice(q.Price)
		}
	}
	writeJSON(w, http.StatusOK, trade)
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	trade, err := s.Cancel(r.Context(), accountID, chi.URLParam(r, "tradeID"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (s *Service) handleListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.st.ListTradesByAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades, "count": len(trades)})
}

func (s *Service) handleListPositions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	positions, err := s.st.ListPositions(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	open := make([]model.Position, 0, len(positions))
	for i := range positions {
		pos := &positions[i]
		if pos.IsFlat() {
			continue
		}
		if q, qerr := s.quotes.GetQuote(r.Context(), pos.MovieID); qerr == nil {
			_ = valuation.Enrich(r.Context(), s.st, pos, q.Price, s.now())
		}
		open = append(open, *pos)
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": open, "count": len(open)})
}

func (s *Service) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.PositionView(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "movieID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Service) handleMarginStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.MarginStatus(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "movieID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := s.Portfolio(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErrorTrade(w http.ResponseWriter, status int, err error, trade *model.Trade) {
	body := map[string]any{"error": err.Error()}
	if trade != nil {
		body["trade"] = trade
	}
	writeJSON(w, status, body)
}
