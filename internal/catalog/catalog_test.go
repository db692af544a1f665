package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cinestox/trading-engine/internal/catalog"
	"github.com/cinestox/trading-engine/internal/model"
	"github.com/cinestox/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := catalog.NewService(ms, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return ms, r
}

func seedMovie(t *testing.T, ms *store.MemoryStore, id, symbol, status string, hype float64) {
	t.Helper()
	err := ms.CreateMovie(context.Background(), &model.Movie{
		ID: id, Title: "Movie " + id, Symbol: symbol, Status: status,
		Genres: []string{"Action", "Drama"}, CurrentPrice: d(100),
		HypeScore: d(hype), TradingActive: status == "ACTIVE",
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed movie: %v", err)
	}
}

func get(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestListMovies(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMovie(t, ms, "m1", "AAA", "ACTIVE", 50)
	seedMovie(t, ms, "m2", "BBB", "ACTIVE", 90)
	seedMovie(t, ms, "m3", "CCC", "DELISTED", 10)

	w := get(t, router, "/api/v1/movies?status=ACTIVE&sort_by=hype_score")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Movies []model.Movie `json:"movies"`
		Total  int           `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
	if resp.Movies[0].ID != "m2" {
		t.Fatalf("first movie = %s, want m2 (highest hype)", resp.Movies[0].ID)
	}
}

func TestTrending_ExcludesDelisted(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMovie(t, ms, "m1", "AAA", "ACTIVE", 50)
	seedMovie(t, ms, "m2", "BBB", "DELISTED", 100)

	w := get(t, router, "/api/v1/movies/trending")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Movies []model.Movie `json:"movies"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Movies) != 1 || resp.Movies[0].ID != "m1" {
		t.Fatalf("trending = %+v, want only m1", resp.Movies)
	}
}

func TestGetMovie(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMovie(t, ms, "m1", "AAA", "ACTIVE", 50)

	if w := get(t, router, "/api/v1/movies/m1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := get(t, router, "/api/v1/movies/nope"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetMovieBySymbol(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMovie(t, ms, "m1", "PUSHPA", "ACTIVE", 50)

	// Lookup is case-insensitive via symbol normalization.
	w := get(t, router, "/api/v1/movies/symbol/pushpa")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var movie model.Movie
	if err := json.Unmarshal(w.Body.Bytes(), &movie); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if movie.ID != "m1" {
		t.Fatalf("movie = %s, want m1", movie.ID)
	}

	if w := get(t, router, "/api/v1/movies/symbol/no-such!sym"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed symbol, got %d", w.Code)
	}
}

func TestUpdatePrice(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMovie(t, ms, "m1", "AAA", "ACTIVE", 50)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/api/v1/movies/m1/price",
		strings.NewReader(`{"price":"142.50"}`))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	movie, err := ms.GetMovie(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get movie: %v", err)
	}
	if !movie.CurrentPrice.Equal(d(142.50)) {
		t.Fatalf("current_price = %s, want 142.50", movie.CurrentPrice)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("PUT", "/api/v1/movies/m1/price",
		strings.NewReader(`{"price":"-5"}`))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative price, got %d", w.Code)
	}
}

// fakeQuoteCache records invalidations; activity reads always miss so views
// fall back to the movie row.
type fakeQuoteCache struct {
	invalidated []string
}

func (f *fakeQuoteCache) Volume24h(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("cold")
}

func (f *fakeQuoteCache) HypeScore(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("cold")
}

func (f *fakeQuoteCache) Invalidate(_ context.Context, movieID string) {
	f.invalidated = append(f.invalidated, movieID)
}

func TestUpdatePrice_InvalidatesQuoteCache(t *testing.T) {
	ms := store.NewMemoryStore()
	fc := &fakeQuoteCache{}
	svc := catalog.NewService(ms, fc)
	router := chi.NewRouter()
	router.Route("/api/v1", svc.Routes)
	seedMovie(t, ms, "m1", "AAA", "ACTIVE", 50)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/api/v1/movies/m1/price",
		strings.NewReader(`{"price":"120"}`))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(fc.invalidated) != 1 || fc.invalidated[0] != "m1" {
		t.Fatalf("invalidated = %v, want [m1]", fc.invalidated)
	}

	// A rejected write leaves the cache alone.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("PUT", "/api/v1/movies/nope/price",
		strings.NewReader(`{"price":"120"}`))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if len(fc.invalidated) != 1 {
		t.Fatalf("cache invalidated on failed write: %v", fc.invalidated)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"PUSHPA", "PUSHPA", false},
		{" rrr ", "RRR", false},
		{"kgf2", "KGF2", false},
		{"A", "", true},            // too short
		{"2FAST", "", true},        // must start with a letter
		{"WAY-TOO-LONG", "", true}, // hyphen not allowed
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := catalog.NormalizeSymbol(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeSymbol(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("NormalizeSymbol(%q) = %q, %v, want %q", tc.in, got, err, tc.want)
		}
	}
}
