// Package domain holds the types shared by the exchange adapters, the store
// and the dca orchestrators.
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Pair is a spot market, From bought with To (BTC_USDT: From BTC, To USDT).
type Pair struct {
	From string
	To   string
}

// ParsePair parses BASE_QUOTE, case insensitive.
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(s), "_")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "_") {
		return Pair{}, errors.Errorf("invalid pair %q, expected BASE_QUOTE (e.g. BTC_USDT)", s)
	}
	return Pair{From: strings.ToUpper(base), To: strings.ToUpper(quote)}, nil
}

func (p Pair) String() string { return p.From + "_" + p.To }

// Symbol is the exchange ticker symbol, BTCUSDT.
func (p Pair) Symbol() string { return p.From + p.To }
