// Package indicators computes the trend indicators of a close series on top of
// cinar/indicator.
package indicators

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// macdSlow is the slow period of the default MACD (12, 26, 9).
const macdSlow = 26

// Trend is the latest value of each indicator the entry signal looks at.
type Trend struct {
	FastEMA decimal.Decimal
	SlowEMA decimal.Decimal
	MACD    decimal.Decimal
	RSI     decimal.Decimal
}

// Bullish reports an uptrend that is not yet overbought.
func (t Trend) Bullish(rsiMax decimal.Decimal) bool {
	return t.FastEMA.GreaterThan(t.SlowEMA) && t.MACD.IsPositive() && t.RSI.LessThan(rsiMax)
}

// LatestTrend runs the indicators over closes, oldest first, and returns
// their latest values.
func LatestTrend(closes []decimal.Decimal, fastPeriod, slowPeriod, rsiPeriod int) (Trend, error) {
	if fastPeriod <= 0 || rsiPeriod <= 0 || fastPeriod >= slowPeriod {
		return Trend{}, errors.Errorf("incorrect periods fast=%d slow=%d rsi=%d", fastPeriod, slowPeriod, rsiPeriod)
	}
	if need := max(slowPeriod, macdSlow, rsiPeriod+1); len(closes) < need {
		return Trend{}, errors.Errorf("not enough closes: need %d, got %d", need, len(closes))
	}

	series := make([]float64, len(closes))
	for i, c := range closes {
		series[i] = c.InexactFloat64()
	}

	var tr Trend
	outs := []struct {
		name   string
		target *decimal.Decimal
		values []float64
	}{
		{"fast EMA", &tr.FastEMA, ema(series, fastPeriod)},
		{"slow EMA", &tr.SlowEMA, ema(series, slowPeriod)},
		{"MACD", &tr.MACD, macd(series)},
		{"RSI", &tr.RSI, rsi(series, rsiPeriod)},
	}
	for _, o := range outs {
		if len(o.values) == 0 {
			return Trend{}, errors.Errorf("%s produced no values over %d closes", o.name, len(closes))
		}
		*o.target = decimal.NewFromFloat(o.values[len(o.values)-1])
	}

	return tr, nil
}

func ema(series []float64, period int) []float64 {
	return helper.ChanToSlice(trend.NewEmaWithPeriod[float64](period).Compute(helper.SliceToChan(series)))
}

func rsi(series []float64, period int) []float64 {
	return helper.ChanToSlice(momentum.NewRsiWithPeriod[float64](period).Compute(helper.SliceToChan(series)))
}

// macd returns the MACD line; the signal line is discarded.
func macd(series []float64) []float64 {
	line, signal := trend.NewMacd[float64]().Compute(helper.SliceToChan(series))
	go func() {
		for range signal {
		}
	}()
	return helper.ChanToSlice(line)
}
