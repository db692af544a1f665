package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/config"
	"github.com/cinestox/trading-engine/internal/metrics"
	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/store"
)

// CachedSource wraps a Source with a Redis TTL cache. Quotes keep their
// original AsOf timestamp through the cache, so staleness is judged against
// when the price was observed, not when it was cached.
//
// It also caches the slower-moving catalog signals with their own TTLs:
// 24h volume and hype score (used by the trending endpoints).
type CachedSource struct {
	src Source
	st  store.Store
	rdb *redis.Client
	cfg config.QuoteConfig
}

// NewCachedSource creates a Redis-cached quote source.
func NewCachedSource(src Source, st store.Store, rdb *redis.Client, cfg config.QuoteConfig) *CachedSource {
	return &CachedSource{src: src, st: st, rdb: rdb, cfg: cfg}
}

// Invalidate drops the cached quote for a movie. Price-feed writes call this
// so the next quote reflects the new observation instead of waiting out the
// TTL.
func (s *CachedSource) Invalidate(ctx context.Context, movieID string) {
	s.rdb.Del(ctx, priceKey(movieID))
}

func (s *CachedSource) GetQuote(ctx context.Context, movieID string) (model.Quote, error) {
	key := priceKey(movieID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var q model.Quote
		if json.Unmarshal(data, &q) == nil {
			metrics.QuoteCacheHits.Inc()
			return q, nil
		}
	}
	metrics.QuoteCacheMisses.Inc()

	q, err := s.src.GetQuote(ctx, movieID)
	if err != nil {
		return model.Quote{}, err
	}
	if data, err := json.Marshal(q); err == nil {
		s.rdb.Set(ctx, key, data, s.cfg.PriceTTL)
	}
	return q, nil
}

// Volume24h returns the movie's 24h trading volume through the volume cache.
func (s *CachedSource) Volume24h(ctx context.Context, movieID string) (decimal.Decimal, error) {
	return s.cachedDecimal(ctx, volumeKey(movieID), s.cfg.VolumeTTL, movieID,
		func(m *model.Movie) decimal.Decimal { return m.Volume24h })
}

// HypeScore returns the movie's hype score through the hype cache.
func (s *CachedSource) HypeScore(ctx context.Context, movieID string) (decimal.Decimal, error) {
	return s.cachedDecimal(ctx, hypeKey(movieID), s.cfg.HypeTTL, movieID,
		func(m *model.Movie) decimal.Decimal { return m.HypeScore })
}

func (s *CachedSource) cachedDecimal(ctx context.Context, key string, ttl time.Duration,
	movieID string, pick func(*model.Movie) decimal.Decimal) (decimal.Decimal, error) {

	if raw, err := s.rdb.Get(ctx, key).Result(); err == nil {
		if d, err := decimal.NewFromString(raw); err == nil {
			metrics.QuoteCacheHits.Inc()
			return d, nil
		}
	}
	metrics.QuoteCacheMisses.Inc()

	m, err := s.st.GetMovie(ctx, movieID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	d := pick(m)
	s.rdb.Set(ctx, key, d.String(), ttl)
	return d, nil
}

func priceKey(id string) string { return fmt.Sprintf("quote:price:%s", id) }
func volumeKey(id string) string { return fmt.Sprintf("quote:volume:%s", id) }
func hypeKey(id string) string { return fmt.Sprintf("quote:hype:%s", id) }
