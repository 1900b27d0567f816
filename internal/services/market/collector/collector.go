// Package collector fetches candlestick data from exchanges and derives the
// indicator trend the entry signal is built on.
package collector

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/pkg/indicators"
)

// KlineProvider defines the interface for fetching kline (candlestick) data.
type KlineProvider interface {
	// GetKlines fetches historical klines ordered oldest first.
	// interval is in exchange-neutral form ("1m", "15m", "1h", "4h", "1d").
	GetKlines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error)
}

// TrendParams configures the indicator periods.
type TrendParams struct {
	Lookback   int
	FastEMA    int
	SlowEMA    int
	RSIPeriod  int
	MinCandles int
}

// DefaultTrendParams are the periods used when the config leaves them unset.
var DefaultTrendParams = TrendParams{
	Lookback:   100,
	FastEMA:    9,
	SlowEMA:    21,
	RSIPeriod:  14,
	MinCandles: 50,
}

// MarketDataCollector turns raw candles into indicator trends.
type MarketDataCollector struct {
	provider KlineProvider
	params   TrendParams
}

func NewMarketDataCollector(provider KlineProvider, params TrendParams) *MarketDataCollector {
	return &MarketDataCollector{
		provider: provider,
		params:   params,
	}
}

// FetchTrend fetches the candles of interval and returns the latest indicator values.
func (c *MarketDataCollector) FetchTrend(ctx context.Context, pair domain.Pair, interval string) (indicators.Trend, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	candles, err := c.provider.GetKlines(ctxWithTimeout, pair, interval, c.params.Lookback)
	if err != nil {
		return indicators.Trend{}, errors.Wrapf(err, "failed to fetch klines for timeframe %s", interval)
	}

	if len(candles) < c.params.MinCandles {
		return indicators.Trend{}, errors.Errorf(
			"insufficient kline data for timeframe %s: got %d, need at least %d",
			interval,
			len(candles),
			c.params.MinCandles,
		)
	}

	trend, err := indicators.LatestTrend(domain.Closes(candles), c.params.FastEMA, c.params.SlowEMA, c.params.RSIPeriod)
	if err != nil {
		return indicators.Trend{}, errors.Wrapf(err, "failed to calculate indicators for timeframe %s", interval)
	}

	return trend, nil
}
