package collector

import (
	"testing"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBybitCandles_OldestFirst(t *testing.T) {
	list := bybit.V5GetKlineList{
		{StartTime: "1700003600000", Open: "101", High: "103", Low: "100", Close: "102", Volume: "7"},
		{StartTime: "1700000000000", Open: "99", High: "101.5", Low: "98", Close: "101", Volume: "5.25"},
	}

	candles, err := bybitCandles(list, time.Hour)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	first := candles[0]
	require.Equal(t, time.UnixMilli(1700000000000), first.OpenTime)
	require.Equal(t, time.UnixMilli(1700003599999), first.CloseTime)
	require.True(t, first.Close.Equal(decimal.NewFromInt(101)))
	require.True(t, first.Volume.Equal(decimal.RequireFromString("5.25")))
	require.True(t, candles[1].Close.Equal(decimal.NewFromInt(102)))
}

func TestBybitCandles_Malformed(t *testing.T) {
	_, err := bybitCandles(bybit.V5GetKlineList{{StartTime: "", Open: "1", High: "1", Low: "1", Close: "1", Volume: "1"}}, time.Minute)
	require.ErrorContains(t, err, "empty timestamp")

	_, err = bybitCandles(bybit.V5GetKlineList{{StartTime: "1", Open: "1", High: "x", Low: "1", Close: "1", Volume: "1"}}, time.Minute)
	require.ErrorContains(t, err, "high")
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("1672531200000")
	require.NoError(t, err)
	require.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), ts.UTC())

	for _, bad := range []string{"", "abc", "12.5"} {
		_, err := parseTimestamp(bad)
		require.Error(t, err, bad)
	}
}

func TestIntervalTables(t *testing.T) {
	require.Equal(t, bybit.Interval("240"), bybitIntervals["4h"].code)
	require.Equal(t, bybit.Interval("D"), bybitIntervals["1d"].code)
	require.Equal(t, 15*time.Minute, bybitIntervals["15m"].length)

	for name := range bybitIntervals {
		_, ok := binanceIntervals[name]
		require.True(t, ok, "%s is not a binance interval", name)
	}
}
