package dca

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// CompletionDetector closes a position once its take-profit sell has filled.
type CompletionDetector struct {
	l        *zap.Logger
	exchange Exchange
	store    PositionStore
	events   notifier
}

func NewCompletionDetector(l *zap.Logger, deps Deps) *CompletionDetector {
	return &CompletionDetector{
		l:        l,
		exchange: deps.Exchange,
		store:    deps.Store,
		events:   notifier{l: l, journal: deps.Journal, rec: deps.Metrics},
	}
}

// Check reports whether the position of pair was closed by this call. The
// remaining safety orders are cancelled and every stored row of the pair is
// removed. Calling it again for a closed pair returns false and does nothing.
func (c *CompletionDetector) Check(ctx context.Context, pair domain.Pair, trades []domain.Trade) (bool, error) {
	active, err := c.store.ActiveSell(ctx, pair)
	if err != nil {
		return false, err
	}
	if active == nil || !domain.IsFilled(trades, active.OrderID, active.Quantity) {
		return false, nil
	}

	l := c.l.With(zap.String("pair", pair.String()))

	buys, err := c.store.UnfilledBuyOrders(ctx, pair)
	if err != nil {
		return false, err
	}
	for _, b := range buys {
		if _, err := c.exchange.CancelOrder(ctx, pair, b.OrderID); err != nil {
			if !errors.Is(err, domain.ErrOrderNotFound) {
				return false, errors.Wrapf(err, "failed to cancel safety order %s", b.OrderID)
			}
			l.Warn("Safety order already gone on exchange", zap.String("order_id", b.OrderID))
			continue
		}
		c.events.emit(pair, domain.OrderEvent{
			Kind:       domain.EventOrderCancelled,
			Side:       domain.SideBuy,
			OrderID:    b.OrderID,
			RungNumber: b.RungNumber,
			Price:      b.Price,
			Quantity:   b.Quantity,
		})
	}

	if err := c.store.DeletePair(ctx, pair); err != nil {
		return false, err
	}

	price, qty := domain.AverageTradePrice(trades, active.OrderID)
	l.Info("Position closed",
		zap.String("order_id", active.OrderID),
		zap.Int("rung", active.RungNumber),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()),
		zap.String("profit", active.Profit.StringFixed(8)),
		zap.Stringer("state", domain.StateClosed))

	c.events.emit(pair, domain.OrderEvent{
		Kind:       domain.EventOrderFilled,
		Side:       domain.SideSell,
		OrderID:    active.OrderID,
		RungNumber: active.RungNumber,
		Price:      price,
		Quantity:   qty,
	})
	c.events.emit(pair, domain.OrderEvent{
		Kind:       domain.EventPositionClosed,
		Side:       domain.SideSell,
		OrderID:    active.OrderID,
		RungNumber: active.RungNumber,
		Price:      price,
		Quantity:   qty,
		Profit:     active.Profit,
	})

	return true, nil
}
