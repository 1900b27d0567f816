package positions

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

var pair = domain.Pair{From: "BTC", To: "USDT"}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "positions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func testLadder(t *testing.T, p domain.Pair) *domain.Ladder {
	t.Helper()

	params := domain.LadderParams{
		PriceDeviation: decimal.NewFromInt(1),
		StepScale:      decimal.NewFromInt(2),
		VolumeScale:    decimal.NewFromInt(2),
		MaxRungs:       5,
		TargetProfit:   decimal.RequireFromString("0.5"),
	}
	l, err := domain.BuildLadder(p, decimal.NewFromInt(100), decimal.NewFromInt(1), params,
		domain.PairInfo{PriceDecimals: 4, VolumeDecimals: 8})
	require.NoError(t, err)

	return l
}

func sellOrder(id string, rung int, qty, price string) *domain.SellOrder {
	return &domain.SellOrder{
		Pair:          pair,
		RungNumber:    rung,
		OrderID:       id,
		Quantity:      decimal.RequireFromString(qty),
		RequiredPrice: decimal.RequireFromString(price),
		Profit:        decimal.RequireFromString("0.5"),
	}
}

func TestStore_LadderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.Ladder(ctx, pair)
	require.NoError(t, err)
	require.Nil(t, missing)

	l := testLadder(t, pair)
	require.NoError(t, s.SaveLadder(ctx, l))

	loaded, err := s.Ladder(ctx, pair)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, l.BasePrice.Equal(loaded.BasePrice))
	require.True(t, l.BaseQuantity.Equal(loaded.BaseQuantity))
	require.True(t, l.TargetProfit.Equal(loaded.TargetProfit))
	require.Equal(t, l.PriceDecimals, loaded.PriceDecimals)
	require.Len(t, loaded.Rungs, len(l.Rungs))
	for i := range l.Rungs {
		require.Equal(t, l.Rungs[i].Number, loaded.Rungs[i].Number)
		require.True(t, l.Rungs[i].Price.Equal(loaded.Rungs[i].Price))
		require.True(t, l.Rungs[i].CumulativeQuantity.Equal(loaded.Rungs[i].CumulativeQuantity))
		require.True(t, l.Rungs[i].AveragePrice.Equal(loaded.Rungs[i].AveragePrice))
		require.True(t, l.Rungs[i].RequiredPrice.Equal(loaded.Rungs[i].RequiredPrice))
	}

	err = s.SaveLadder(ctx, l)
	require.True(t, errors.Is(err, domain.ErrInvariantViolation), "second ladder must be rejected, got %v", err)
}

func TestStore_BuyOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := testLadder(t, pair)
	require.NoError(t, s.SaveLadder(ctx, l))

	pending, err := s.PendingRungs(ctx, pair, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, 1, pending[0].Number)
	require.Equal(t, 2, pending[1].Number)

	for _, r := range pending {
		require.NoError(t, s.RecordBuyOrder(ctx, domain.BuyOrder{
			Pair: pair, RungNumber: r.Number, OrderID: "buy-" + string(rune('0'+r.Number)),
			Price: r.Price, Quantity: r.Quantity, RequiredPrice: r.RequiredPrice, Profit: r.Profit,
		}))
	}

	err = s.RecordBuyOrder(ctx, domain.BuyOrder{Pair: pair, RungNumber: 1, OrderID: "dup"})
	require.True(t, errors.Is(err, domain.ErrInvariantViolation), "placing a rung twice must fail, got %v", err)

	require.NoError(t, s.SkipRung(ctx, pair, 3))

	pending, err = s.PendingRungs(ctx, pair, -1)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, 4, pending[0].Number)

	unfilled, filled, err := s.CountBuyOrders(ctx, pair)
	require.NoError(t, err)
	require.Equal(t, 2, unfilled)
	require.Equal(t, 0, filled)

	changed, err := s.MarkBuyFilled(ctx, pair, "buy-1")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.MarkBuyFilled(ctx, pair, "buy-1")
	require.NoError(t, err)
	require.False(t, changed, "second mark must be a no-op")

	open, err := s.UnfilledBuyOrders(ctx, pair)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "buy-2", open[0].OrderID)
	require.Equal(t, 2, open[0].RungNumber)

	unfilled, filled, err = s.CountBuyOrders(ctx, pair)
	require.NoError(t, err)
	require.Equal(t, 1, unfilled)
	require.Equal(t, 1, filled)

	numbers, err := s.FilledRungs(ctx, pair)
	require.NoError(t, err)
	require.Equal(t, []int{1}, numbers)
}

func TestStore_RetireBuyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := testLadder(t, pair)
	require.NoError(t, s.SaveLadder(ctx, l))

	pending, err := s.PendingRungs(ctx, pair, 2)
	require.NoError(t, err)
	for i, r := range pending {
		require.NoError(t, s.RecordBuyOrder(ctx, domain.BuyOrder{
			Pair: pair, RungNumber: r.Number, OrderID: []string{"buy-1", "buy-2"}[i],
			Price: r.Price, Quantity: r.Quantity, RequiredPrice: r.RequiredPrice, Profit: r.Profit,
		}))
	}

	require.NoError(t, s.RetireBuyOrder(ctx, pair, "buy-1", false))
	require.NoError(t, s.RetireBuyOrder(ctx, pair, "buy-2", true))

	unfilled, filled, err := s.CountBuyOrders(ctx, pair)
	require.NoError(t, err)
	require.Zero(t, unfilled)
	require.Zero(t, filled)

	// rung 1 is placeable again, rung 2 is gone for good
	pending, err = s.PendingRungs(ctx, pair, -1)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, 1, pending[0].Number)
	require.Equal(t, 3, pending[1].Number)

	err = s.RetireBuyOrder(ctx, pair, "buy-1", false)
	require.True(t, errors.Is(err, domain.ErrInvariantViolation), "retiring twice must fail, got %v", err)
}

func TestStore_AtMostOneActiveSell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveLadder(ctx, testLadder(t, pair)))

	active, err := s.ActiveSell(ctx, pair)
	require.NoError(t, err)
	require.Nil(t, active)

	require.NoError(t, s.ReplaceActiveSell(ctx, pair, sellOrder("sell-0", 0, "1", "100.5")))
	require.NoError(t, s.ReplaceActiveSell(ctx, pair, sellOrder("sell-1", 1, "2", "99.9975")))
	require.NoError(t, s.ReplaceActiveSell(ctx, pair, sellOrder("sell-2", 2, "4", "98.7412")))

	active, err = s.ActiveSell(ctx, pair)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "sell-2", active.OrderID)
	require.Equal(t, 2, active.RungNumber)

	history, err := s.SellOrders(ctx, pair)
	require.NoError(t, err)
	require.Len(t, history, 3)
	activeCount := 0
	for _, o := range history {
		if o.Active() {
			activeCount++
		}
	}
	require.Equal(t, 1, activeCount)

	// the partial unique index rejects a second active row written behind the store's back
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO open_sell_orders (symbol_pair, safety_order_no, order_id, quantity, required_price, profit, cancelled, filled, created_at)
		 VALUES (?, 3, 'rogue', '8', '95', '1', 0, 0, 0)`, pair.String())
	require.Error(t, err)

	require.NoError(t, s.ReplaceActiveSell(ctx, pair, nil))
	active, err = s.ActiveSell(ctx, pair)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestStore_DeletePairAndOpenPairs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	eth := domain.Pair{From: "ETH", To: "USDT"}

	require.NoError(t, s.SaveLadder(ctx, testLadder(t, pair)))
	require.NoError(t, s.SaveLadder(ctx, testLadder(t, eth)))
	require.NoError(t, s.ReplaceActiveSell(ctx, pair, sellOrder("sell-0", 0, "1", "100.5")))

	pairs, err := s.OpenPairs(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.Pair{pair, eth}, pairs)

	summaries, err := s.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "sell-0", summaries[0].SellOrderID)

	require.NoError(t, s.DeletePair(ctx, pair))
	require.NoError(t, s.DeletePair(ctx, pair))

	pairs, err = s.OpenPairs(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.Pair{eth}, pairs)

	history, err := s.SellOrders(ctx, pair)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("postgres", "")
	require.Error(t, err)
}
