package setup

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

func TestRenderLadder(t *testing.T) {
	params := domain.LadderParams{
		PriceDeviation: decimal.NewFromInt(1),
		StepScale:      decimal.NewFromInt(2),
		VolumeScale:    decimal.NewFromInt(2),
		MaxRungs:       3,
		TargetProfit:   decimal.RequireFromString("0.5"),
	}
	info := domain.PairInfo{MinOrderQty: decimal.RequireFromString("0.0001"), PriceDecimals: 4, VolumeDecimals: 8}
	pair := domain.Pair{From: "BTC", To: "USDT"}

	ladder, err := domain.BuildLadder(pair, decimal.NewFromInt(100), decimal.NewFromInt(1), params, info)
	require.NoError(t, err)

	out := RenderLadder(ladder)
	require.Contains(t, out, "BTC_USDT base order: 1 @ 100")
	require.Contains(t, out, "Sell at")
	for _, price := range []string{"99", "97", "93", "99.9975"} {
		require.Contains(t, out, price)
	}
}
