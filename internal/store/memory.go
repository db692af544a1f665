package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). Version checks
// behave exactly like the PostgreSQL implementation so concurrency tests are
// meaningful.
type MemoryStore struct {
	mu        sync.RWMutex
	movies    map[string]*model.Movie
	accounts  map[string]decimal.Decimal // account id → balance
	positions map[string]*model.Position // account|movie → position
	trades    map[string]*model.Trade
	tradeLog  []string // insertion order of trade ids
	snapshots []model.ValuationSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		movies:    make(map[string]*model.Movie),
		accounts:  make(map[string]decimal.Decimal),
		positions: make(map[string]*model.Position),
		trades:    make(map[string]*model.Trade),
	}
}

func posKey(accountID, movieID string) string { return accountID + "|" + movieID }

// CreateMovie seeds a catalog entry. Test helper; the production catalog is
// populated outside this service.
func (s *MemoryStore) CreateMovie(_ context.Context, m *model.Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.movies {
		if existing.Symbol == m.Symbol {
			return fmt.Errorf("movie with symbol %s already exists", m.Symbol)
		}
	}
	cp := *m
	s.movies[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMovie(_ context.Context, id string) (*model.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.movies[id]
	if !ok {
		return nil, fmt.Errorf("movie %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMovieBySymbol(_ context.Context, symbol string) (*model.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.movies {
		if m.Symbol == symbol {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("movie symbol %s: %w", symbol, ErrNotFound)
}

func (s *MemoryStore) ListMovies(_ context.Context, f MovieFilter) ([]model.Movie, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var movies []model.Movie
	for _, m := range s.movies {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Genre != "" && !containsFold(m.Genres, f.Genre) {
			continue
		}
		if f.Search != "" {
			q := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(m.Title), q) &&
				!strings.Contains(strings.ToLower(m.Symbol), q) {
				continue
			}
		}
		movies = append(movies, *m)
	}

	sort.Slice(movies, func(i, j int) bool {
		var less bool
		switch f.SortBy {
		case "current_price":
			less = movies[i].CurrentPrice.LessThan(movies[j].CurrentPrice)
		case "volume_24h":
			less = movies[i].Volume24h.LessThan(movies[j].Volume24h)
		default:
			less = movies[i].HypeScore.LessThan(movies[j].HypeScore)
		}
		if f.Asc {
			return less
		}
		return !less
	})

	total := len(movies)
	if f.Offset > 0 {
		if f.Offset >= len(movies) {
			movies = nil
		} else {
			movies = movies[f.Offset:]
		}
	}
	if f.Limit > 0 && f.Limit < len(movies) {
		movies = movies[:f.Limit]
	}
	return movies, total, nil
}

func (s *MemoryStore) UpdateMoviePrice(_ context.Context, id string, price decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.movies[id]
	if !ok {
		return fmt.Errorf("movie %s: %w", id, ErrNotFound)
	}
	m.CurrentPrice = price
	m.UpdatedAt = at
	return nil
}

func (s *MemoryStore) EnsureAccount(_ context.Context, accountID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		s.accounts[accountID] = balance
	}
	return nil
}

func (s *MemoryStore) GetAccountMargin(_ context.Context, accountID string) (model.AccountMargin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.accounts[accountID]
	if !ok {
		return model.AccountMargin{}, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}

	inUse := decimal.Zero
	for _, p := range s.positions {
		if p.AccountID == accountID {
			inUse = inUse.Add(p.MarginUsed)
		}
	}
	return model.AccountMargin{AccountID: accountID, Balance: balance, MarginInUse: inUse}, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, accountID, movieID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(accountID, movieID)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", accountID, movieID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MovieID < out[j].MovieID })
	return out, nil
}

func (s *MemoryStore) ListOpenPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.SharesOwned > 0 || p.SharesShorted > 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[t.ID]; exists {
		return fmt.Errorf("trade %s: %w", t.ID, ErrDuplicateTrade)
	}
	if t.IdempotencyKey != "" {
		for _, prior := range s.trades {
			if prior.AccountID == t.AccountID && prior.IdempotencyKey == t.IdempotencyKey {
				return fmt.Errorf("idempotency key %s: %w", t.IdempotencyKey, ErrDuplicateTrade)
			}
		}
	}
	cp := *t
	s.trades[t.ID] = &cp
	s.tradeLog = append(s.tradeLog, t.ID)
	return nil
}

func (s *MemoryStore) UpdateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; !ok {
		return fmt.Errorf("trade %s: %w", t.ID, ErrNotFound)
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTradeByIdempotencyKey(_ context.Context, accountID, key string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.trades {
		if t.AccountID == accountID && t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
}

func (s *MemoryStore) ListTradesByAccount(_ context.Context, accountID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for i := len(s.tradeLog) - 1; i >= 0; i-- {
		if t := s.trades[s.tradeLog[i]]; t.AccountID == accountID {
			out = append(out, *t)
		}
	}
	return out, nil
}

// CommitExecution writes the trade, position, and snapshot under one lock,
// with the same version-check semantics as the PostgreSQL transaction.
func (s *MemoryStore) CommitExecution(_ context.Context, t *model.Trade, pos *model.Position, snap *model.ValuationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := posKey(pos.AccountID, pos.MovieID)
	existing, exists := s.positions[key]
	if exists {
		if existing.Version != pos.Version {
			return ErrVersionConflict
		}
	} else if pos.Version != 0 {
		return ErrVersionConflict
	}

	stored := *pos
	stored.Version = pos.Version + 1
	s.positions[key] = &stored
	pos.Version = stored.Version

	tc := *t
	s.trades[t.ID] = &tc
	if snap != nil {
		s.snapshots = append(s.snapshots, *snap)
	}
	return nil
}

func (s *MemoryStore) InsertValuation(_ context.Context, snap *model.ValuationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *MemoryStore) ValuationAt(_ context.Context, accountID, movieID string, at time.Time) (*model.ValuationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.ValuationSnapshot
	for i := range s.snapshots {
		snap := &s.snapshots[i]
		if snap.AccountID != accountID || snap.MovieID != movieID {
			continue
		}
		if snap.At.After(at) {
			continue
		}
		if best == nil || snap.At.After(best.At) {
			best = snap
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
