// Package signal decides whether a symbol is worth entering.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/pkg/indicators"
)

const (
	SourceAlways     = "always"
	SourceIndicators = "indicators"
)

// Always is an oracle that approves every entry.
type Always struct{}

func (Always) IsBuySignal(context.Context, domain.Pair) (bool, error) {
	return true, nil
}

// TrendFetcher returns the indicator trend of pair on interval.
type TrendFetcher interface {
	FetchTrend(ctx context.Context, pair domain.Pair, interval string) (indicators.Trend, error)
}

type cachedSignal struct {
	buy     bool
	expires time.Time
}

// IndicatorOracle approves an entry only when every configured interval is
// bullish. Verdicts are cached for the refresh interval.
type IndicatorOracle struct {
	l         *zap.Logger
	fetcher   TrendFetcher
	intervals []string
	rsiMax    decimal.Decimal
	refresh   time.Duration
	now       func() time.Time

	mu    sync.Mutex
	cache map[domain.Pair]cachedSignal
}

func NewIndicatorOracle(l *zap.Logger, fetcher TrendFetcher, intervals []string, rsiMax decimal.Decimal, refresh time.Duration) (*IndicatorOracle, error) {
	if len(intervals) == 0 {
		return nil, errors.New("at least one signal interval is required")
	}
	if !rsiMax.IsPositive() {
		return nil, errors.Errorf("rsi ceiling must be positive, got %s", rsiMax)
	}

	return &IndicatorOracle{
		l:         l,
		fetcher:   fetcher,
		intervals: intervals,
		rsiMax:    rsiMax,
		refresh:   refresh,
		now:       time.Now,
		cache:     make(map[domain.Pair]cachedSignal),
	}, nil
}

func (o *IndicatorOracle) IsBuySignal(ctx context.Context, pair domain.Pair) (bool, error) {
	o.mu.Lock()
	cached, ok := o.cache[pair]
	o.mu.Unlock()
	if ok && o.now().Before(cached.expires) {
		return cached.buy, nil
	}

	buy := true
	for _, interval := range o.intervals {
		trend, err := o.fetcher.FetchTrend(ctx, pair, interval)
		if err != nil {
			return false, errors.Wrapf(err, "failed to evaluate %s on %s", pair.String(), interval)
		}
		if !trend.Bullish(o.rsiMax) {
			o.l.Debug("interval not bullish",
				zap.String("pair", pair.String()),
				zap.String("interval", interval),
				zap.String("fast_ema", trend.FastEMA.StringFixed(4)),
				zap.String("slow_ema", trend.SlowEMA.StringFixed(4)),
				zap.String("macd", trend.MACD.StringFixed(4)),
				zap.String("rsi", trend.RSI.StringFixed(2)))
			buy = false
			break
		}
	}

	o.mu.Lock()
	o.cache[pair] = cachedSignal{buy: buy, expires: o.now().Add(o.refresh)}
	o.mu.Unlock()

	return buy, nil
}
