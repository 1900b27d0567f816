package collector

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// rawCandle is a candle as exchanges return it, prices and volume as strings.
type rawCandle struct {
	openTime  time.Time
	closeTime time.Time
	open      string
	high      string
	low       string
	close     string
	volume    string
}

func (r rawCandle) parse() (domain.MarketCandle, error) {
	c := domain.MarketCandle{OpenTime: r.openTime, CloseTime: r.closeTime}
	fields := []struct {
		name   string
		raw    string
		target *decimal.Decimal
	}{
		{"open", r.open, &c.Open},
		{"high", r.high, &c.High},
		{"low", r.low, &c.Low},
		{"close", r.close, &c.Close},
		{"volume", r.volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.MarketCandle{}, errors.Wrapf(err, "failed to parse %s %q", f.name, f.raw)
		}
		*f.target = v
	}
	return c, nil
}

// parseTimestamp converts a millisecond timestamp string.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	msec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}
	return time.UnixMilli(msec), nil
}
