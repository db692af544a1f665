package trading

import (
	"errors"
	"net/http"
)

// Validation failures are terminal for the trade: it becomes FAILED with the
// error kind attached and no ledger mutation occurs. ErrConcurrentModification
// is retried internally before surfacing. ErrPersistenceFailure leaves the
// trade PENDING so the caller can resubmit with the same idempotency key.
var (
	ErrInvalidOrder           = errors.New("trading: invalid order")
	ErrInsufficientPosition   = errors.New("trading: insufficient position to close")
	ErrInsufficientMargin     = errors.New("trading: insufficient margin")
	ErrStaleQuote             = errors.New("trading: quote unavailable or stale")
	ErrConcurrentModification = errors.New("trading: concurrent position modification")
	ErrPersistenceFailure     = errors.New("trading: persistence failure, retry with same idempotency key")
	ErrMovieNotFound          = errors.New("trading: movie not found")
	ErrTradeNotFound          = errors.New("trading: trade not found")
	ErrNotCancellable         = errors.New("trading: only pending trades can be cancelled")
)

// Failure kinds recorded on FAILED trades and attached to events.
const (
	KindInvalidOrder           = "invalid_order"
	KindInsufficientPosition   = "insufficient_position"
	KindInsufficientMargin     = "insufficient_margin"
	KindStaleQuote             = "stale_quote"
	KindConcurrentModification = "concurrent_modification"
)

// failureKind maps a validation error to the kind stored on the trade.
func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return KindInvalidOrder
	case errors.Is(err, ErrInsufficientPosition):
		return KindInsufficientPosition
	case errors.Is(err, ErrInsufficientMargin):
		return KindInsufficientMargin
	case errors.Is(err, ErrStaleQuote):
		return KindStaleQuote
	case errors.Is(err, ErrConcurrentModification):
		return KindConcurrentModification
	}
	return "internal"
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, ErrMovieNotFound), errors.Is(err, ErrTradeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientPosition),
		errors.Is(err, ErrInsufficientMargin),
		errors.Is(err, ErrStaleQuote),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, ErrPersistenceFailure):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
