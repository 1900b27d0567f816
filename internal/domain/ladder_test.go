package domain

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.True(t, d(expected).Equal(actual), append([]interface{}{"expected %s, got %s", expected, actual.String()}, msgAndArgs...)...)
}

var testPair = Pair{From: "BTC", To: "USDT"}

func scenarioParams() LadderParams {
	return LadderParams{
		PriceDeviation: d("1"),
		StepScale:      d("2"),
		VolumeScale:    d("2"),
		MaxRungs:       5,
		TargetProfit:   d("0.5"),
	}
}

var scenarioInfo = PairInfo{MinOrderQty: d("0.0001"), PriceDecimals: 4, VolumeDecimals: 8}

func TestBuildLadder_Scenario(t *testing.T) {
	ladder, err := BuildLadder(testPair, d("100"), d("1"), scenarioParams(), scenarioInfo)
	require.NoError(t, err)
	require.Len(t, ladder.Rungs, 5)

	r1 := ladder.Rungs[0]
	require.Equal(t, 1, r1.Number)
	requireDecimal(t, "1", r1.Deviation)
	requireDecimal(t, "99", r1.Price)
	requireDecimal(t, "1", r1.Quantity)
	requireDecimal(t, "2", r1.CumulativeQuantity)
	requireDecimal(t, "99.5", r1.AveragePrice)
	requireDecimal(t, "99.9975", r1.RequiredPrice)

	r2 := ladder.Rungs[1]
	requireDecimal(t, "3", r2.Deviation)
	requireDecimal(t, "97", r2.Price)
	requireDecimal(t, "2", r2.Quantity)
	requireDecimal(t, "4", r2.CumulativeQuantity)
	requireDecimal(t, "98.25", r2.AveragePrice)
	requireDecimal(t, "98.7412", r2.RequiredPrice)

	r3 := ladder.Rungs[2]
	requireDecimal(t, "7", r3.Deviation)
	requireDecimal(t, "93", r3.Price)
	requireDecimal(t, "4", r3.Quantity)
	requireDecimal(t, "8", r3.CumulativeQuantity)
}

func TestBuildLadder_Properties(t *testing.T) {
	tests := []struct {
		params LadderParams
		base   string
		qty    string
	}{
		{LadderParams{PriceDeviation: d("1"), StepScale: d("1"), VolumeScale: d("1"), MaxRungs: 10, TargetProfit: d("1")}, "100", "1"},
		{LadderParams{PriceDeviation: d("1.5"), StepScale: d("1.2"), VolumeScale: d("1.5"), MaxRungs: 8, TargetProfit: d("0.8")}, "27123.45", "0.0012"},
		{LadderParams{PriceDeviation: d("0.5"), StepScale: d("1.05"), VolumeScale: d("1.1"), MaxRungs: 25, TargetProfit: d("2")}, "1.2345", "150"},
		{LadderParams{PriceDeviation: d("2"), StepScale: d("1.5"), VolumeScale: d("2"), MaxRungs: 6, TargetProfit: d("1.25"), SafetyOrderSize: d("3")}, "350", "1.5"},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			ladder, err := BuildLadder(testPair, d(tt.base), d(tt.qty), tt.params, scenarioInfo)
			require.NoError(t, err)
			require.Len(t, ladder.Rungs, tt.params.MaxRungs)

			cost := d(tt.base).Mul(d(tt.qty))
			cum := d(tt.qty)
			for j, r := range ladder.Rungs {
				cost = cost.Add(r.Price.Mul(r.Quantity))
				cum = cum.Add(r.Quantity)

				require.True(t, cum.Equal(r.CumulativeQuantity), "cumulative quantity of rung %d", r.Number)
				require.True(t, cost.Div(cum).Equal(r.AveragePrice), "weighted average of rung %d", r.Number)
				require.True(t, r.AveragePrice.Mul(d("1").Add(tt.params.TargetProfit.Div(d("100")))).
					RoundFloor(scenarioInfo.PriceDecimals).Equal(r.RequiredPrice), "required price of rung %d", r.Number)

				if j == 0 {
					continue
				}
				prev := ladder.Rungs[j-1]
				require.True(t, prev.Deviation.LessThan(r.Deviation), "deviation must increase at rung %d", r.Number)
				require.True(t, prev.Price.GreaterThan(r.Price), "price must decrease at rung %d", r.Number)
				require.True(t, prev.CumulativeQuantity.LessThan(r.CumulativeQuantity), "cumulative quantity must increase at rung %d", r.Number)
			}
		})
	}
}

func TestBuildLadder_SafetyOrderSize(t *testing.T) {
	params := scenarioParams()
	params.SafetyOrderSize = d("0.5")

	ladder, err := BuildLadder(testPair, d("100"), d("1"), params, scenarioInfo)
	require.NoError(t, err)
	requireDecimal(t, "0.5", ladder.Rungs[0].Quantity)
	requireDecimal(t, "1", ladder.Rungs[1].Quantity)
	requireDecimal(t, "2", ladder.Rungs[2].Quantity)
}

func TestBuildLadder_InvalidParameters(t *testing.T) {
	valid := scenarioParams()

	tests := []struct {
		name   string
		mutate func(p *LadderParams)
		base   string
		qty    string
		info   PairInfo
	}{
		{name: "zero deviation", mutate: func(p *LadderParams) { p.PriceDeviation = d("0") }},
		{name: "step scale below one", mutate: func(p *LadderParams) { p.StepScale = d("0.9") }},
		{name: "volume scale below one", mutate: func(p *LadderParams) { p.VolumeScale = d("0.5") }},
		{name: "no rungs", mutate: func(p *LadderParams) { p.MaxRungs = 0 }},
		{name: "zero target profit", mutate: func(p *LadderParams) { p.TargetProfit = d("0") }},
		{name: "ladder below zero", mutate: func(p *LadderParams) { p.PriceDeviation = d("10"); p.MaxRungs = 4 }},
		{name: "zero base price", base: "0"},
		{name: "negative base quantity", qty: "-1"},
		{name: "prices collapse at precision", base: "1", mutate: func(p *LadderParams) { p.PriceDeviation = d("0.01"); p.StepScale = d("1") },
			info: PairInfo{PriceDecimals: 2, VolumeDecimals: 8}},
		{name: "quantity rounds to zero", qty: "0.4", info: PairInfo{PriceDecimals: 4, VolumeDecimals: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid
			if tt.mutate != nil {
				tt.mutate(&params)
			}
			base, qty, info := "100", "1", scenarioInfo
			if tt.base != "" {
				base = tt.base
			}
			if tt.qty != "" {
				qty = tt.qty
			}
			if tt.info != (PairInfo{}) {
				info = tt.info
			}

			_, err := BuildLadder(testPair, d(base), d(qty), params, info)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidParameter), "unexpected error: %v", err)
		})
	}
}

func TestLadder_SellTarget(t *testing.T) {
	ladder, err := BuildLadder(testPair, d("100"), d("1"), scenarioParams(), scenarioInfo)
	require.NoError(t, err)

	base, err := ladder.SellTarget(0)
	require.NoError(t, err)
	require.Equal(t, 0, base.RungNumber)
	requireDecimal(t, "1", base.Quantity)
	requireDecimal(t, "100.5", base.Price)
	requireDecimal(t, "0.5", base.Profit)

	first, err := ladder.SellTarget(1)
	require.NoError(t, err)
	require.Equal(t, 1, first.RungNumber)
	requireDecimal(t, "2", first.Quantity)
	requireDecimal(t, "99.9975", first.Price)

	_, err = ladder.SellTarget(6)
	require.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestLadder_SellTargetFor(t *testing.T) {
	ladder, err := BuildLadder(testPair, d("100"), d("1"), scenarioParams(), scenarioInfo)
	require.NoError(t, err)

	base, err := ladder.SellTargetFor(nil)
	require.NoError(t, err)
	requireDecimal(t, "100.5", base.Price)

	second, err := ladder.SellTargetFor([]int{2, 1})
	require.NoError(t, err)
	require.Equal(t, 2, second.RungNumber)
	requireDecimal(t, "4", second.Quantity)
	requireDecimal(t, "98.7412", second.Price)

	// rung 2 skipped, rungs 1 and 3 filled: 100*1 + 99*1 + 93*4 over 6
	gap, err := ladder.SellTargetFor([]int{1, 3})
	require.NoError(t, err)
	require.Equal(t, 3, gap.RungNumber)
	requireDecimal(t, "6", gap.Quantity)
	require.True(t, gap.Price.GreaterThanOrEqual(d("95.6424")) && gap.Price.LessThanOrEqual(d("95.6425")),
		"price %s", gap.Price)
	require.True(t, gap.Quantity.LessThan(ladder.Rungs[2].CumulativeQuantity))

	_, err = ladder.SellTargetFor([]int{1, 1})
	require.True(t, errors.Is(err, ErrInvariantViolation))

	_, err = ladder.SellTargetFor([]int{9})
	require.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestParsePair(t *testing.T) {
	p, err := ParsePair("btc_usdt")
	require.NoError(t, err)
	require.Equal(t, Pair{From: "BTC", To: "USDT"}, p)
	require.Equal(t, "BTC_USDT", p.String())
	require.Equal(t, "BTCUSDT", p.Symbol())

	for _, bad := range []string{"", "BTCUSDT", "BTC_", "_USDT", "A_B_C"} {
		_, err := ParsePair(bad)
		require.Error(t, err, bad)
	}
}

func TestIsFilled(t *testing.T) {
	trades := []Trade{
		{ID: "1", OrderID: "a", Price: d("10"), Quantity: d("0.5")},
		{ID: "2", OrderID: "a", Price: d("12"), Quantity: d("0.5")},
		{ID: "3", OrderID: "b", Price: d("11"), Quantity: d("0.2")},
	}

	require.True(t, IsFilled(trades, "a", d("1")))
	require.False(t, IsFilled(trades, "b", d("1")))
	require.False(t, IsFilled(trades, "c", d("1")))
	require.False(t, IsFilled(trades, "", d("0")))

	price, qty := AverageTradePrice(trades, "a")
	requireDecimal(t, "11", price)
	requireDecimal(t, "1", qty)
}
