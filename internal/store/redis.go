package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for movies and positions. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMovie(ctx context.Context, id string) (*model.Movie, error) {
	data, err := s.rdb.Get(ctx, movieKey(id)).Bytes()
	if err == nil {
		var m model.Movie
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMovie(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMovieBySymbol(ctx context.Context, symbol string) (*model.Movie, error) {
	// symbol→id mapping, then the cached movie itself.
	id, err := s.rdb.Get(ctx, symbolKey(symbol)).Result()
	if err == nil {
		return s.GetMovie(ctx, id)
	}

	m, err := s.primary.GetMovieBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.cacheMovie(ctx, m)
	s.rdb.Set(ctx, symbolKey(symbol), m.ID, s.ttl)
	return m, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, accountID, movieID string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionCacheKey(accountID, movieID)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, accountID, movieID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionCacheKey(accountID, movieID), data, s.ttl)
	}
	return p, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpdateMoviePrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error {
	if err := s.primary.UpdateMoviePrice(ctx, id, price, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, movieKey(id))
	return nil
}

func (s *CachedStore) CommitExecution(ctx context.Context, t *model.Trade, pos *model.Position, snap *model.ValuationSnapshot) error {
	if err := s.primary.CommitExecution(ctx, t, pos, snap); err != nil {
		return err
	}
	// Next read re-populates with the committed version.
	s.rdb.Del(ctx, positionCacheKey(pos.AccountID, pos.MovieID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMovies(ctx context.Context, f MovieFilter) ([]model.Movie, int, error) {
	return s.primary.ListMovies(ctx, f)
}

func (s *CachedStore) EnsureAccount(ctx context.Context, accountID string, balance decimal.Decimal) error {
	return s.primary.EnsureAccount(ctx, accountID, balance)
}

func (s *CachedStore) GetAccountMargin(ctx context.Context, accountID string) (model.AccountMargin, error) {
	return s.primary.GetAccountMargin(ctx, accountID)
}

func (s *CachedStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, accountID)
}

func (s *CachedStore) ListOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.primary.ListOpenPositions(ctx)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) UpdateTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.UpdateTrade(ctx, t)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) GetTradeByIdempotencyKey(ctx context.Context, accountID, key string) (*model.Trade, error) {
	return s.primary.GetTradeByIdempotencyKey(ctx, accountID, key)
}

func (s *CachedStore) ListTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.primary.ListTradesByAccount(ctx, accountID)
}

func (s *CachedStore) InsertValuation(ctx context.Context, snap *model.ValuationSnapshot) error {
	return s.primary.InsertValuation(ctx, snap)
}

func (s *CachedStore) ValuationAt(ctx context.Context, accountID, movieID string, at time.Time) (*model.ValuationSnapshot, error) {
	return s.primary.ValuationAt(ctx, accountID, movieID, at)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMovie(ctx context.Context, m *model.Movie) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, movieKey(m.ID), data, s.ttl)
	}
}

func movieKey(id string) string { return fmt.Sprintf("movie:%s", id) }
func symbolKey(s string) string { return fmt.Sprintf("symbol:%s", s) }

func positionCacheKey(accountID, movieID string) string {
	return fmt.Sprintf("position:%s:%s", accountID, movieID)
}
