// Package catalog serves the movie endpoints: filtered listings, trending by
// hype score, and single-movie lookups by id or symbol. Prices and hype are
// discovered upstream; the only write here is recording the feed's price
// observations.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// QuoteCache is the slice of the quote cache the catalog consumes: cached
// activity signals for listings, and invalidation when the feed writes a new
// price. *quote.CachedSource satisfies it.
type QuoteCache interface {
	Volume24h(ctx context.Context, movieID string) (decimal.Decimal, error)
	HypeScore(ctx context.Context, movieID string) (decimal.Decimal, error)
	Invalidate(ctx context.Context, movieID string)
}

// Service exposes catalog reads. The quote cache is optional; without it the
// 24h volume and hype score come straight off the movie row.
type Service struct {
	st    store.Store
	cache QuoteCache
}

// NewService creates a catalog service. cache may be nil.
func NewService(st store.Store, cache QuoteCache) *Service {
	return &Service{st: st, cache: cache}
}

// Routes mounts the catalog API onto a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/movies", s.handleList)
	r.Get("/movies/trending", s.handleTrending)
	r.Get("/movies/{movieID}", s.handleGet)
	r.Get("/movies/symbol/{symbol}", s.handleGetBySymbol)
	r.Put("/movies/{movieID}/price", s.handleUpdatePrice)
}

// handleUpdatePrice records a price observation from the upstream feed.
func (s *Service) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Price.IsPositive() {
		writeError(w, http.StatusBadRequest, "price must be a positive number")
		return
	}

	id := chi.URLParam(r, "movieID")
	if err := s.st.UpdateMoviePrice(r.Context(), id, req.Price, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "movie not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Drop the cached quote so the executor fills at the new price rather
	// than the superseded one for the rest of its TTL.
	if s.cache != nil {
		s.cache.Invalidate(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "price": req.Price.String()})
}

// movieView is a movie with cache-served activity fields substituted in.
type movieView struct {
	model.Movie
	Volume24h decimal.Decimal `json:"volume_24h"`
	HypeScore decimal.Decimal `json:"hype_score"`
}

func (s *Service) view(r *http.Request, m model.Movie) movieView {
	v := movieView{Movie: m, Volume24h: m.Volume24h, HypeScore: m.HypeScore}
	if s.cache == nil {
		return v
	}
	if vol, err := s.cache.Volume24h(r.Context(), m.ID); err == nil {
		v.Volume24h = vol
	}
	if hype, err := s.cache.HypeScore(r.Context(), m.ID); err == nil {
		v.HypeScore = hype
	}
	return v
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.MovieFilter{
		Status: q.Get("status"),
		Genre:  q.Get("genre"),
		Search: q.Get("search"),
		SortBy: q.Get("sort_by"),
		Asc:    q.Get("order") == "asc",
		Limit:  intParam(q.Get("limit"), defaultPageSize),
		Offset: intParam(q.Get("offset"), 0),
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}

	movies, total, err := s.st.ListMovies(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]movieView, 0, len(movies))
	for _, m := range movies {
		views = append(views, s.view(r, m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"movies": views,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (s *Service) handleTrending(w http.ResponseWriter, r *http.Request) {
	f := store.MovieFilter{
		Status: "ACTIVE",
		SortBy: "hype_score",
		Limit:  intParam(r.URL.Query().Get("limit"), 10),
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	movies, _, err := s.st.ListMovies(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]movieView, 0, len(movies))
	for _, m := range movies {
		views = append(views, s.view(r, m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"movies": views})
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	movie, err := s.st.GetMovie(r.Context(), chi.URLParam(r, "movieID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "movie not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, s.view(r, *movie))
}

func (s *Service) handleGetBySymbol(w http.ResponseWriter, r *http.Request) {
	sym, err := NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	movie, err := s.st.GetMovieBySymbol(r.Context(), sym)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "movie not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, s.view(r, *movie))
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
