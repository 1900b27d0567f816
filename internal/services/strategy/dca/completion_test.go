package dca

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

func TestCompletionDetector_ClosesPosition(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	ladder := env.seed(t)
	env.recordBuy(t, ladder, 1, "buy-1")
	env.recordBuy(t, ladder, 2, "buy-2")
	env.recordBuy(t, ladder, 3, "buy-3")
	_, err := env.store.MarkBuyFilled(ctx, btc, "buy-1")
	require.NoError(t, err)
	target, err := ladder.SellTarget(1)
	require.NoError(t, err)
	require.NoError(t, env.store.ReplaceActiveSell(ctx, btc, &domain.SellOrder{
		Pair:          btc,
		RungNumber:    1,
		OrderID:       "sell-1",
		Quantity:      target.Quantity,
		RequiredPrice: target.Price,
		Profit:        target.Profit,
	}))

	trades := []domain.Trade{
		{ID: "t1", OrderID: "buy-1", Price: dec("99"), Quantity: dec("1")},
		{ID: "t2", OrderID: "sell-1", Price: dec("99.9975"), Quantity: dec("1.5")},
		{ID: "t3", OrderID: "sell-1", Price: dec("99.9975"), Quantity: dec("0.5")},
	}

	env.ex.On("CancelOrder", mock.Anything, btc, "buy-2").Return(true, nil).Once()
	env.ex.On("CancelOrder", mock.Anything, btc, "buy-3").Return(false, domain.ErrOrderNotFound).Once()

	closed, err := env.completion.Check(ctx, btc, trades)
	require.NoError(t, err)
	require.True(t, closed)

	stored, err := env.store.Ladder(ctx, btc)
	require.NoError(t, err)
	require.Nil(t, stored)
	open, err := env.store.OpenPairs(ctx)
	require.NoError(t, err)
	require.Empty(t, open)

	require.Len(t, env.journal.find(domain.EventOrderCancelled, domain.SideBuy), 1)
	closedEvents := env.journal.find(domain.EventPositionClosed, domain.SideSell)
	require.Len(t, closedEvents, 1)
	require.True(t, closedEvents[0].Profit.Equal(dec("0.995")), "profit %s", closedEvents[0].Profit)
	require.True(t, closedEvents[0].Quantity.Equal(dec("2")))
	require.Equal(t, 1, env.rec.count("closed"))
	require.True(t, env.rec.profit.Equal(dec("0.995")))

	// a second check on the same history finds nothing to close
	closed, err = env.completion.Check(ctx, btc, trades)
	require.NoError(t, err)
	require.False(t, closed)
	require.Equal(t, 1, env.rec.count("closed"))
}

func TestCompletionDetector_PartialSellKeepsPosition(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()
	env.seed(t)

	closed, err := env.completion.Check(ctx, btc, []domain.Trade{
		{ID: "t1", OrderID: "sell-0", Price: dec("100.5"), Quantity: dec("0.3")},
	})
	require.NoError(t, err)
	require.False(t, closed)
	require.NotNil(t, env.activeSell(t))
}

func TestCompletionDetector_CancelErrorKeepsPosition(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()
	ladder := env.seed(t)
	env.recordBuy(t, ladder, 1, "buy-1")

	env.ex.On("CancelOrder", mock.Anything, btc, "buy-1").Return(false, errors.New("timeout")).Once()

	closed, err := env.completion.Check(ctx, btc, []domain.Trade{
		{ID: "t1", OrderID: "sell-0", Price: dec("100.5"), Quantity: dec("1")},
	})
	require.Error(t, err)
	require.False(t, closed)

	stored, err := env.store.Ladder(ctx, btc)
	require.NoError(t, err)
	require.NotNil(t, stored, "position must survive so the next cycle retries")
}

func TestBuyOrchestrator_ProcessClosesThenReenters(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()
	env.seed(t)

	env.ex.On("TradeHistory", mock.Anything, btc).Return([]domain.Trade{
		{ID: "t1", OrderID: "sell-0", Price: dec("100.5"), Quantity: dec("1")},
	}, nil).Once()

	require.NoError(t, env.buy.Process(ctx, btc))

	stored, err := env.store.Ladder(ctx, btc)
	require.NoError(t, err)
	require.Nil(t, stored)

	// the symbol is flat again and waits for the next signal
	env.oracle.On("IsBuySignal", mock.Anything, btc).Return(false, nil).Once()
	require.NoError(t, env.buy.Process(ctx, btc))
}
