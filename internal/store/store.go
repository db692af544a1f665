// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict is returned by position writes when the stored
	// version no longer matches the one the caller read. A contention
	// signal, not a business failure — callers retry with a fresh read.
	ErrVersionConflict = errors.New("store: position version conflict")

	// ErrDuplicateTrade is returned when a trade id is inserted twice.
	ErrDuplicateTrade = errors.New("store: duplicate trade")
)

// MovieFilter narrows and orders catalog listings.
type MovieFilter struct {
	Status string
	Genre  string
	Search string // matches title or symbol, case-insensitive
	SortBy string // hype_score, current_price, volume_24h
	Asc    bool
	Limit  int
	Offset int
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Every call is assumed atomic.
type Store interface {
	// --- Catalog (read-mostly input to trading) ---

	// GetMovie retrieves a movie by id.
	GetMovie(ctx context.Context, id string) (*model.Movie, error)

	// GetMovieBySymbol retrieves a movie by its contract symbol.
	GetMovieBySymbol(ctx context.Context, symbol string) (*model.Movie, error)

	// ListMovies returns a filtered, ordered page plus the unpaged total.
	ListMovies(ctx context.Context, f MovieFilter) ([]model.Movie, int, error)

	// UpdateMoviePrice records an externally supplied price observation.
	UpdateMoviePrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error

	// --- Accounts ---

	// EnsureAccount creates the account with the given starting balance if
	// it does not exist yet. Existing balances are never touched.
	EnsureAccount(ctx context.Context, accountID string, balance decimal.Decimal) error

	// GetAccountMargin returns the account balance and the margin currently
	// committed across its positions.
	GetAccountMargin(ctx context.Context, accountID string) (model.AccountMargin, error)

	// --- Positions ---

	// GetPosition returns the position for (account, movie), or ErrNotFound.
	GetPosition(ctx context.Context, accountID, movieID string) (*model.Position, error)

	// ListPositions returns all positions for an account.
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// ListOpenPositions returns every position with open shares, for the
	// liquidation sweep.
	ListOpenPositions(ctx context.Context) ([]model.Position, error)

	// --- Trades ---

	// InsertTrade persists a new PENDING trade.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// UpdateTrade rewrites a trade record (terminal transitions only).
	UpdateTrade(ctx context.Context, t *model.Trade) error

	// GetTrade retrieves a trade by id.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// GetTradeByIdempotencyKey returns the account's trade carrying the
	// client-supplied key, or ErrNotFound.
	GetTradeByIdempotencyKey(ctx context.Context, accountID, key string) (*model.Trade, error)

	// ListTradesByAccount returns the account's trades, newest first.
	ListTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error)

	// --- Execution commit ---

	// CommitExecution atomically writes the EXECUTED trade, the updated
	// position, and a valuation snapshot. The position write checks the
	// version the caller read; on mismatch nothing is written and
	// ErrVersionConflict is returned. On success the stored version is
	// incremented and reflected in pos.
	CommitExecution(ctx context.Context, t *model.Trade, pos *model.Position, snap *model.ValuationSnapshot) error

	// --- Valuation history (derived time series) ---

	// InsertValuation appends a valuation snapshot.
	InsertValuation(ctx context.Context, s *model.ValuationSnapshot) error

	// ValuationAt returns the snapshot at or nearest before the given time,
	// or nil when none exists that early.
	ValuationAt(ctx context.Context, accountID, movieID string, at time.Time) (*model.ValuationSnapshot, error)
}
