package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches ticker symbols like PUSHPA, RRR or KGF2: uppercase
// alphanumerics, starting with a letter, 2 to 12 characters.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,11}$`)

// ErrInvalidSymbol is returned for a malformed ticker symbol.
var ErrInvalidSymbol = errors.New("catalog: invalid symbol format")

// NormalizeSymbol upper-cases and validates a ticker symbol.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q (expected 2-12 uppercase alphanumerics)", ErrInvalidSymbol, s)
	}
	return sym, nil
}
