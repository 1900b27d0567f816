package dca

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// SellOrchestrator keeps exactly one take-profit sell per open position, sized
// to everything bought so far.
type SellOrchestrator struct {
	l        *zap.Logger
	exchange Exchange
	store    PositionStore
	pairs    *PairBook
	settings Settings
	events   notifier
	now      func() time.Time
}

func NewSellOrchestrator(l *zap.Logger, deps Deps, settings Settings) *SellOrchestrator {
	return &SellOrchestrator{
		l:        l,
		exchange: deps.Exchange,
		store:    deps.Store,
		pairs:    deps.Pairs,
		settings: settings,
		events:   notifier{l: l, journal: deps.Journal, rec: deps.Metrics},
		now:      time.Now,
	}
}

// PlaceInitial places the take-profit sell for a freshly bought base order.
func (s *SellOrchestrator) PlaceInitial(ctx context.Context, pair domain.Pair, entryPrice, qty decimal.Decimal) error {
	info, err := s.pairs.Get(pair)
	if err != nil {
		return err
	}

	tp := s.settings.Ladder.TargetProfit
	target := domain.SellTarget{
		Quantity: qty,
		Price:    domain.TakeProfitPrice(entryPrice, tp, info.PriceDecimals),
		Profit:   domain.ProfitPotential(entryPrice, qty, tp),
	}

	active, err := s.store.ActiveSell(ctx, pair)
	if err != nil {
		return err
	}

	return s.replace(ctx, pair, active, target)
}

// OnRungFilled marks the given safety orders filled and moves the take-profit
// sell to cover them.
func (s *SellOrchestrator) OnRungFilled(ctx context.Context, pair domain.Pair, buyOrderIDs ...string) error {
	for _, id := range buyOrderIDs {
		changed, err := s.store.MarkBuyFilled(ctx, pair, id)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		s.l.Info("Safety order filled",
			zap.String("pair", pair.String()),
			zap.String("order_id", id))
	}

	return s.Resync(ctx, pair)
}

// Resync brings the take-profit sell in line with the filled safety orders.
// It is a no-op when the active sell already covers them.
func (s *SellOrchestrator) Resync(ctx context.Context, pair domain.Pair) error {
	ladder, err := s.store.Ladder(ctx, pair)
	if err != nil {
		return err
	}
	if ladder == nil {
		return nil
	}

	filled, err := s.store.FilledRungs(ctx, pair)
	if err != nil {
		return err
	}
	target, err := ladder.SellTargetFor(filled)
	if err != nil {
		return err
	}

	active, err := s.store.ActiveSell(ctx, pair)
	if err != nil {
		return err
	}
	if active != nil && active.RungNumber == target.RungNumber && active.Quantity.Equal(target.Quantity) {
		return nil
	}

	return s.replace(ctx, pair, active, target)
}

// replace cancels active (if any) and places target in its place. The store
// never holds two active rows and the exchange never holds two live sells.
func (s *SellOrchestrator) replace(ctx context.Context, pair domain.Pair, active *domain.SellOrder, target domain.SellTarget) error {
	l := s.l.With(zap.String("pair", pair.String()))

	if active != nil {
		_, err := s.exchange.CancelOrder(ctx, pair, active.OrderID)
		switch {
		case err == nil:
			l.Info("Take-profit order cancelled",
				zap.String("order_id", active.OrderID),
				zap.Int("rung", active.RungNumber))
			s.events.emit(pair, domain.OrderEvent{
				Kind:       domain.EventOrderCancelled,
				Side:       domain.SideSell,
				OrderID:    active.OrderID,
				RungNumber: active.RungNumber,
				Price:      active.RequiredPrice,
				Quantity:   active.Quantity,
			})
		case errors.Is(err, domain.ErrOrderNotFound):
			trades, herr := s.exchange.TradeHistory(ctx, pair)
			if herr != nil {
				return errors.Wrap(herr, "failed to check whether the take-profit order filled")
			}
			if domain.IsFilled(trades, active.OrderID, active.Quantity) {
				l.Info("Take-profit order already filled, leaving it to completion",
					zap.String("order_id", active.OrderID))
				return nil
			}
			l.Warn("Take-profit order not found on exchange, replacing it",
				zap.String("order_id", active.OrderID))
		default:
			return errors.Wrapf(err, "failed to cancel take-profit order %s", active.OrderID)
		}
	}

	res, err := s.exchange.PlaceLimitOrder(ctx, domain.SideSell, pair, target.Quantity, target.Price)
	if err != nil {
		l.Error("Failed to place take-profit order",
			zap.String("qty", target.Quantity.String()),
			zap.String("price", target.Price.String()),
			zap.Error(err))
		s.events.emit(pair, domain.OrderEvent{
			Kind:       domain.EventOrderRejected,
			Side:       domain.SideSell,
			RungNumber: target.RungNumber,
			Price:      target.Price,
			Quantity:   target.Quantity,
			Reason:     rejectReason(err),
		})
		if active != nil {
			if serr := s.store.ReplaceActiveSell(ctx, pair, nil); serr != nil {
				return errors.Wrap(serr, "failed to retire cancelled take-profit order")
			}
		}
		return errors.Wrap(err, "failed to place take-profit order")
	}

	next := &domain.SellOrder{
		Pair:          pair,
		RungNumber:    target.RungNumber,
		OrderID:       res.ID,
		Quantity:      target.Quantity,
		RequiredPrice: target.Price,
		Profit:        target.Profit,
		CreatedAt:     s.now(),
	}
	if err := s.store.ReplaceActiveSell(ctx, pair, next); err != nil {
		if _, cerr := s.exchange.CancelOrder(ctx, pair, res.ID); cerr != nil {
			l.Error("Failed to cancel unrecorded take-profit order",
				zap.String("order_id", res.ID),
				zap.String("kind", "invariant"),
				zap.Error(cerr))
		}
		return errors.Wrap(err, "failed to record take-profit order")
	}

	l.Info("Take-profit order placed",
		zap.String("order_id", res.ID),
		zap.Int("rung", target.RungNumber),
		zap.String("qty", target.Quantity.String()),
		zap.String("price", target.Price.String()),
		zap.String("profit", target.Profit.StringFixed(8)))
	s.events.emit(pair, domain.OrderEvent{
		Kind:       domain.EventOrderPlaced,
		Side:       domain.SideSell,
		OrderID:    res.ID,
		RungNumber: target.RungNumber,
		Price:      target.Price,
		Quantity:   target.Quantity,
		Profit:     target.Profit,
	})

	return nil
}
