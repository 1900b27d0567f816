package collector

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const binanceMaxKlines = 1000

var binanceIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {},
}

// BinanceKlineProvider reads spot candles from Binance.
type BinanceKlineProvider struct {
	client *binance.Client
}

func NewBinanceKlineProvider(client *binance.Client) *BinanceKlineProvider {
	return &BinanceKlineProvider{client: client}
}

// GetKlines returns up to limit candles, oldest first as Binance lists them.
func (p *BinanceKlineProvider) GetKlines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error) {
	if _, ok := binanceIntervals[interval]; !ok {
		return nil, errors.Errorf("unsupported interval: %s", interval)
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	limit = min(limit, binanceMaxKlines)

	klines, err := p.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", pair)
	}

	candles := make([]domain.MarketCandle, 0, len(klines))
	for i, k := range klines {
		c, err := rawCandle{
			openTime:  time.UnixMilli(k.OpenTime),
			closeTime: time.UnixMilli(k.CloseTime),
			open:      k.Open,
			high:      k.High,
			low:       k.Low,
			close:     k.Close,
			volume:    k.Volume,
		}.parse()
		if err != nil {
			return nil, errors.Wrapf(err, "candle %d of %s", i, pair)
		}
		candles = append(candles, c)
	}

	return candles, nil
}
