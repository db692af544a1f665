// Package quote supplies current prices for movie instruments. Prices are
// discovered upstream of this service; here they are only read, cached, and
// bounded by staleness.
package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/store"
)

// ErrUnavailable is returned when no quote can be produced for a movie.
// A stale quote is handled by the executor, not here: the source reports
// what it has, with its timestamp.
var ErrUnavailable = errors.New("quote: unavailable")

// Source produces the current quote for a movie.
type Source interface {
	GetQuote(ctx context.Context, movieID string) (model.Quote, error)
}

// CatalogSource reads quotes from the catalog's stored price, stamped with
// the time the price was last updated by the feed.
type CatalogSource struct {
	store store.Store
}

// NewCatalogSource creates a source backed by the catalog store.
func NewCatalogSource(st store.Store) *CatalogSource {
	return &CatalogSource{store: st}
}

func (s *CatalogSource) GetQuote(ctx context.Context, movieID string) (model.Quote, error) {
	m, err := s.store.GetMovie(ctx, movieID)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return model.Quote{
		MovieID: m.ID,
		Price:   m.CurrentPrice,
		AsOf:    m.UpdatedAt,
	}, nil
}

// StaticSource serves fixed quotes. For tests and local development.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
}

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[string]model.Quote)}
}

// Set installs a quote for a movie.
func (s *StaticSource) Set(q model.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.MovieID] = q
}

func (s *StaticSource) GetQuote(_ context.Context, movieID string) (model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[movieID]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: no quote for %s", ErrUnavailable, movieID)
	}
	return q, nil
}
