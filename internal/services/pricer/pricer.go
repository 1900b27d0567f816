// Package pricer reads top-of-book quotes from exchanges.
package pricer

import (
	"context"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

type Pricer interface {
	GetTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error)
}
