package collector

import (
	"context"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const bybitMaxKlines = 1000

type bybitInterval struct {
	code   bybit.Interval
	length time.Duration
}

// bybitIntervals maps the binance style interval names used in config onto
// bybit kline codes.
var bybitIntervals = map[string]bybitInterval{
	"1m":  {"1", time.Minute},
	"3m":  {"3", 3 * time.Minute},
	"5m":  {"5", 5 * time.Minute},
	"15m": {"15", 15 * time.Minute},
	"30m": {"30", 30 * time.Minute},
	"1h":  {"60", time.Hour},
	"2h":  {"120", 2 * time.Hour},
	"4h":  {"240", 4 * time.Hour},
	"6h":  {"360", 6 * time.Hour},
	"12h": {"720", 12 * time.Hour},
	"1d":  {"D", 24 * time.Hour},
	"1w":  {"W", 7 * 24 * time.Hour},
}

// BybitKlineProvider reads spot candles from Bybit V5.
type BybitKlineProvider struct {
	client *bybit.Client
}

func NewBybitKlineProvider(client *bybit.Client) *BybitKlineProvider {
	return &BybitKlineProvider{client: client}
}

// GetKlines returns up to limit candles ordered oldest first.
func (p *BybitKlineProvider) GetKlines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error) {
	iv, ok := bybitIntervals[interval]
	if !ok {
		return nil, errors.Errorf("unsupported interval: %s", interval)
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	limit = min(limit, bybitMaxKlines)

	resp, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Interval: iv.code,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", pair)
	}
	if resp == nil || len(resp.Result.List) == 0 {
		return nil, errors.Errorf("no kline data returned from Bybit for %s", pair)
	}

	return bybitCandles(resp.Result.List, iv.length)
}

// bybitCandles converts a newest first kline page. Bybit reports only the
// start time, so the close time is derived from the interval length.
func bybitCandles(list []bybit.V5GetKlineItem, length time.Duration) ([]domain.MarketCandle, error) {
	candles := make([]domain.MarketCandle, len(list))
	for j, k := range list {
		i := len(list) - 1 - j
		start, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "candle %d", i)
		}
		c, err := rawCandle{
			openTime:  start,
			closeTime: start.Add(length - time.Millisecond),
			open:      k.Open,
			high:      k.High,
			low:       k.Low,
			close:     k.Close,
			volume:    k.Volume,
		}.parse()
		if err != nil {
			return nil, errors.Wrapf(err, "candle %d", i)
		}
		candles[i] = c
	}
	return candles, nil
}
