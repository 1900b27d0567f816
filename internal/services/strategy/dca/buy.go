package dca

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// BuyOrchestrator drives one symbol through a processing cycle: it opens a
// position on a signal, follows safety order fills and keeps the ladder topped
// up to the active order cap.
type BuyOrchestrator struct {
	l          *zap.Logger
	exchange   Exchange
	store      PositionStore
	oracle     Oracle
	entry      EntryFilter
	pairs      *PairBook
	settings   Settings
	sell       *SellOrchestrator
	completion *CompletionDetector
	events     notifier

	mu sync.Mutex
	// stranded holds base orders that filled before their ladder was stored.
	stranded map[domain.Pair]baseFill
}

// baseFill is an executed base order. ladder is nil when none could be built
// from the fill.
type baseFill struct {
	orderID string
	price   decimal.Decimal
	qty     decimal.Decimal
	ladder  *domain.Ladder
}

func NewBuyOrchestrator(l *zap.Logger, deps Deps, settings Settings, sell *SellOrchestrator,
	completion *CompletionDetector) *BuyOrchestrator {
	return &BuyOrchestrator{
		l:          l,
		exchange:   deps.Exchange,
		store:      deps.Store,
		oracle:     deps.Oracle,
		entry:      deps.Entry,
		pairs:      deps.Pairs,
		settings:   settings,
		sell:       sell,
		completion: completion,
		events:     notifier{l: l, journal: deps.Journal, rec: deps.Metrics},
		stranded:   make(map[domain.Pair]baseFill),
	}
}

// Process runs one cycle for pair.
func (b *BuyOrchestrator) Process(ctx context.Context, pair domain.Pair) error {
	ladder, err := b.store.Ladder(ctx, pair)
	if err != nil {
		return err
	}
	if ladder == nil {
		if fill, ok := b.strandedFill(pair); ok {
			return b.settle(ctx, pair, fill)
		}
		return b.enter(ctx, pair)
	}

	trades, err := b.exchange.TradeHistory(ctx, pair)
	if err != nil {
		return errors.Wrap(err, "failed to load trade history")
	}
	trades, open, err := b.backfill(ctx, pair, trades)
	if err != nil {
		return err
	}

	closed, err := b.completion.Check(ctx, pair, trades)
	if err != nil {
		return errors.Wrap(err, "failed to check position completion")
	}
	if closed {
		return nil
	}

	if err := b.dropLostSell(ctx, pair, trades, open); err != nil {
		return err
	}
	if err := b.reconcileFills(ctx, pair, trades, open); err != nil {
		return err
	}

	if err := b.sell.Resync(ctx, pair); err != nil {
		// a missing sell is retried next cycle, the ladder keeps working meanwhile
		b.l.Error("Failed to resync take-profit order", failureFields(pair, err)...)
	}

	return b.placeRungs(ctx, pair)
}

// failureFields tags invariant violations with kind=invariant.
func failureFields(pair domain.Pair, err error) []zap.Field {
	fields := []zap.Field{zap.String("pair", pair.String())}
	if errors.Is(err, domain.ErrInvariantViolation) {
		fields = append(fields, zap.String("kind", "invariant"))
	}
	return append(fields, zap.Error(err))
}

// enter opens a position: signal, market buy of the base order, ladder, take-profit.
func (b *BuyOrchestrator) enter(ctx context.Context, pair domain.Pair) error {
	l := b.l.With(zap.String("pair", pair.String()))

	if b.entry != nil && !b.entry.AllowsEntry(pair) {
		l.Debug("Pair left the watch list, not re-entering")
		return nil
	}

	ok, err := b.oracle.IsBuySignal(ctx, pair)
	if err != nil {
		return errors.Wrap(err, "failed to evaluate buy signal")
	}
	if !ok {
		l.Debug("No buy signal", zap.Stringer("state", domain.StateEvaluating))
		return nil
	}

	info, err := b.pairs.Get(pair)
	if err != nil {
		return err
	}

	qty := b.settings.BaseOrderSize.RoundFloor(info.VolumeDecimals)
	if qty.LessThan(info.MinOrderQty) {
		qty = info.MinOrderQty
	}

	if err := nap(ctx, b.settings.Nap); err != nil {
		return err
	}
	ticker, err := b.exchange.GetTicker(ctx, pair)
	if err != nil {
		return errors.Wrap(err, "failed to get ticker")
	}

	// refuse to buy what could not be laddered
	if _, err := domain.BuildLadder(pair, ticker.Ask, qty, b.settings.Ladder, info); err != nil {
		return errors.Wrap(err, "ladder would be invalid at the current price")
	}

	if err := nap(ctx, b.settings.Nap); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.Stringer("state", domain.StateEntering),
		zap.String("qty", qty.String()),
		zap.String("ask", ticker.Ask.String()),
	}
	l.Info("Opening position", append(fields, b.accountFields(ctx, pair, ticker.Ask)...)...)

	if err := nap(ctx, b.settings.Nap); err != nil {
		return err
	}
	res, err := b.exchange.PlaceMarketOrder(ctx, domain.SideBuy, pair, qty)
	if err != nil {
		b.events.emit(pair, domain.OrderEvent{
			Kind:     domain.EventOrderRejected,
			Side:     domain.SideBuy,
			Price:    ticker.Ask,
			Quantity: qty,
			Reason:   rejectReason(err),
		})
		return errors.Wrap(err, "failed to place base order")
	}

	price, filled := res.FilledPrice, res.FilledQuantity
	if !filled.IsPositive() {
		price, filled, err = b.lookupFill(ctx, pair, res.ID)
		if err != nil {
			return err
		}
	}
	if !filled.IsPositive() {
		l.Warn("Base order fill not reported, assuming the ask",
			zap.String("order_id", res.ID))
		price, filled = ticker.Ask, qty
	}
	filled = filled.RoundFloor(info.VolumeDecimals)

	fill := baseFill{orderID: res.ID, price: price, qty: filled}
	fill.ladder, err = domain.BuildLadder(pair, price, filled, b.settings.Ladder, info)
	if err != nil {
		l.Error("Base order filled but ladder cannot be built",
			zap.String("order_id", res.ID),
			zap.String("kind", "invariant"),
			zap.Error(err))
	}

	// from here on pair must not buy again until the ladder is stored
	b.mu.Lock()
	b.stranded[pair] = fill
	b.mu.Unlock()

	return b.settle(ctx, pair, fill)
}

// accountFields reports the free funds of pair and their value in the quote
// asset. A failed balance lookup only drops the fields.
func (b *BuyOrchestrator) accountFields(ctx context.Context, pair domain.Pair, price decimal.Decimal) []zap.Field {
	balances, err := b.exchange.Balances(ctx)
	if err != nil {
		b.l.Warn("Failed to load account balances",
			zap.String("pair", pair.String()),
			zap.Error(err))
		return nil
	}

	base, quote := balances[pair.From], balances[pair.To]
	return []zap.Field{
		zap.String("base_free", base.String()),
		zap.String("quote_free", quote.String()),
		zap.String("account_value", quote.Add(base.Mul(price)).StringFixed(8)),
	}
}

func (b *BuyOrchestrator) strandedFill(pair domain.Pair) (baseFill, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fill, ok := b.stranded[pair]
	return fill, ok
}

// settle stores the ladder of an executed base order and places its
// take-profit. A failed save is retried on the next cycle without buying again.
func (b *BuyOrchestrator) settle(ctx context.Context, pair domain.Pair, fill baseFill) error {
	l := b.l.With(zap.String("pair", pair.String()))

	if fill.ladder == nil {
		return errors.Wrapf(domain.ErrInvariantViolation,
			"base order %s filled %s @ %s without a ladder", fill.orderID, fill.qty, fill.price)
	}
	if err := b.store.SaveLadder(ctx, fill.ladder); err != nil {
		return errors.Wrapf(err, "failed to save ladder of base order %s", fill.orderID)
	}

	b.mu.Lock()
	delete(b.stranded, pair)
	b.mu.Unlock()

	l.Info("Base order filled",
		zap.String("order_id", fill.orderID),
		zap.String("price", fill.price.String()),
		zap.String("qty", fill.qty.String()),
		zap.Int("safety_orders", len(fill.ladder.Rungs)))
	b.events.emit(pair, domain.OrderEvent{
		Kind:     domain.EventOrderFilled,
		Side:     domain.SideBuy,
		OrderID:  fill.orderID,
		Price:    fill.price,
		Quantity: fill.qty,
	})
	b.events.emit(pair, domain.OrderEvent{
		Kind:     domain.EventPositionOpened,
		Side:     domain.SideBuy,
		OrderID:  fill.orderID,
		Price:    fill.price,
		Quantity: fill.qty,
	})

	if err := nap(ctx, b.settings.Nap); err != nil {
		return err
	}
	if err := b.sell.PlaceInitial(ctx, pair, fill.price, fill.qty); err != nil {
		// Resync retries on the next cycle
		l.Error("Failed to place initial take-profit order", zap.Error(err))
	}

	return nil
}

func (b *BuyOrchestrator) lookupFill(ctx context.Context, pair domain.Pair, orderID string) (price, qty decimal.Decimal, err error) {
	if err := nap(ctx, b.settings.Nap); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	trades, err := b.exchange.OrderTrades(ctx, pair, orderID)
	if err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrap(err, "failed to load base order fill")
	}
	price, qty = domain.AverageTradePrice(trades, orderID)
	return price, qty, nil
}

// backfill completes trades with the executions of tracked orders that have
// left the exchange's open orders without showing up in the trade history
// window. It returns the ids of the tracked orders still resting, or nil when
// every tracked order is already accounted for.
func (b *BuyOrchestrator) backfill(ctx context.Context, pair domain.Pair, trades []domain.Trade) ([]domain.Trade, map[string]bool, error) {
	buys, err := b.store.UnfilledBuyOrders(ctx, pair)
	if err != nil {
		return nil, nil, err
	}
	active, err := b.store.ActiveSell(ctx, pair)
	if err != nil {
		return nil, nil, err
	}

	var waiting []string
	for _, o := range buys {
		if !domain.IsFilled(trades, o.OrderID, o.Quantity) {
			waiting = append(waiting, o.OrderID)
		}
	}
	if active != nil && !domain.IsFilled(trades, active.OrderID, active.Quantity) {
		waiting = append(waiting, active.OrderID)
	}
	if len(waiting) == 0 {
		return trades, nil, nil
	}

	if err := nap(ctx, b.settings.Nap); err != nil {
		return nil, nil, err
	}
	orders, err := b.exchange.OpenOrders(ctx, pair)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list open orders")
	}
	open := make(map[string]bool, len(orders))
	for _, o := range orders {
		open[o.ID] = true
	}

	for _, id := range waiting {
		if open[id] {
			continue
		}
		if err := nap(ctx, b.settings.Nap); err != nil {
			return nil, nil, err
		}
		own, err := b.exchange.OrderTrades(ctx, pair, id)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to load trades of order %s", id)
		}

		merged := make([]domain.Trade, 0, len(trades)+len(own))
		for _, t := range trades {
			if t.OrderID != id {
				merged = append(merged, t)
			}
		}
		trades = append(merged, own...)
	}

	return trades, open, nil
}

// reconcileFills hands every safety order the trade history shows as filled
// to the sell orchestrator, lowest rung first. Unfilled orders that are no
// longer open on the exchange give their rung back.
func (b *BuyOrchestrator) reconcileFills(ctx context.Context, pair domain.Pair, trades []domain.Trade, open map[string]bool) error {
	buys, err := b.store.UnfilledBuyOrders(ctx, pair)
	if err != nil {
		return err
	}

	var (
		filled []string
		lost   []domain.BuyOrder
		events []domain.OrderEvent
	)
	for _, o := range buys {
		if !domain.IsFilled(trades, o.OrderID, o.Quantity) {
			if open != nil && !open[o.OrderID] {
				lost = append(lost, o)
			}
			continue
		}
		filled = append(filled, o.OrderID)

		price, qty := domain.AverageTradePrice(trades, o.OrderID)
		events = append(events, domain.OrderEvent{
			Kind:       domain.EventOrderFilled,
			Side:       domain.SideBuy,
			OrderID:    o.OrderID,
			RungNumber: o.RungNumber,
			Price:      price,
			Quantity:   qty,
		})
	}

	for _, o := range lost {
		if err := b.retire(ctx, pair, o, domain.TradedQuantity(trades, o.OrderID)); err != nil {
			return err
		}
	}

	if len(filled) == 0 {
		return nil
	}

	b.l.Info("Safety orders filled",
		zap.String("pair", pair.String()),
		zap.Stringer("state", domain.StateManaging),
		zap.Strings("order_ids", filled))

	err = b.sell.OnRungFilled(ctx, pair, filled...)
	for _, ev := range events {
		b.events.emit(pair, ev)
	}
	if err != nil {
		b.l.Error("Failed to move take-profit order after fills", failureFields(pair, err)...)
	}

	return nil
}

// retire forgets a safety order that was cancelled or expired on the exchange.
// An untouched order hands its rung back for placement. A partly filled one
// skips its rung since the ladder cannot account for a fraction of it.
func (b *BuyOrchestrator) retire(ctx context.Context, pair domain.Pair, o domain.BuyOrder, traded decimal.Decimal) error {
	l := b.l.With(
		zap.String("pair", pair.String()),
		zap.String("order_id", o.OrderID),
		zap.Int("rung", o.RungNumber))

	skip := traded.IsPositive()
	if skip {
		l.Error("Safety order closed on exchange partly filled, skipping its rung",
			zap.String("traded", traded.String()),
			zap.String("qty", o.Quantity.String()),
			zap.String("kind", "invariant"))
	} else {
		l.Warn("Safety order no longer on exchange, returning its rung")
	}

	if err := b.store.RetireBuyOrder(ctx, pair, o.OrderID, skip); err != nil {
		return errors.Wrapf(err, "failed to retire safety order %s", o.OrderID)
	}
	b.events.emit(pair, domain.OrderEvent{
		Kind:       domain.EventOrderCancelled,
		Side:       domain.SideBuy,
		OrderID:    o.OrderID,
		RungNumber: o.RungNumber,
		Price:      o.Price,
		Quantity:   o.Quantity,
		Reason:     "closed on exchange",
	})

	return nil
}

// dropLostSell forgets a take-profit sell that was cancelled on the exchange
// without trading, so Resync places a fresh one. It must run before anything
// replaces the sell since open is a snapshot.
func (b *BuyOrchestrator) dropLostSell(ctx context.Context, pair domain.Pair, trades []domain.Trade, open map[string]bool) error {
	if open == nil {
		return nil
	}
	active, err := b.store.ActiveSell(ctx, pair)
	if err != nil {
		return err
	}
	if active == nil || open[active.OrderID] {
		return nil
	}

	l := b.l.With(
		zap.String("pair", pair.String()),
		zap.String("order_id", active.OrderID))

	if traded := domain.TradedQuantity(trades, active.OrderID); traded.IsPositive() {
		l.Error("Take-profit order closed on exchange partly filled",
			zap.String("traded", traded.String()),
			zap.String("qty", active.Quantity.String()),
			zap.String("kind", "invariant"))
		return nil
	}

	l.Warn("Take-profit order no longer on exchange, replacing it")
	if err := b.store.ReplaceActiveSell(ctx, pair, nil); err != nil {
		return errors.Wrap(err, "failed to retire lost take-profit order")
	}
	b.events.emit(pair, domain.OrderEvent{
		Kind:       domain.EventOrderCancelled,
		Side:       domain.SideSell,
		OrderID:    active.OrderID,
		RungNumber: active.RungNumber,
		Price:      active.RequiredPrice,
		Quantity:   active.Quantity,
		Reason:     "closed on exchange",
	})

	return nil
}

// placeRungs places pending safety orders until the active cap is reached.
func (b *BuyOrchestrator) placeRungs(ctx context.Context, pair domain.Pair) error {
	l := b.l.With(zap.String("pair", pair.String()))

	unfilled, _, err := b.store.CountBuyOrders(ctx, pair)
	if err != nil {
		return err
	}

	for open := unfilled; open < b.settings.ActiveMax; {
		rungs, err := b.store.PendingRungs(ctx, pair, 1)
		if err != nil {
			return err
		}
		if len(rungs) == 0 {
			return nil
		}
		r := rungs[0]

		if err := nap(ctx, b.settings.Nap); err != nil {
			return err
		}
		res, err := b.exchange.PlaceLimitOrder(ctx, domain.SideBuy, pair, r.Quantity, r.Price)
		if err != nil {
			b.events.emit(pair, domain.OrderEvent{
				Kind:       domain.EventOrderRejected,
				Side:       domain.SideBuy,
				RungNumber: r.Number,
				Price:      r.Price,
				Quantity:   r.Quantity,
				Reason:     rejectReason(err),
			})

			switch {
			case errors.Is(err, domain.ErrInsufficientFunds):
				l.Warn("Not enough funds for safety order, deferring",
					zap.Int("rung", r.Number),
					zap.String("qty", r.Quantity.String()),
					zap.String("price", r.Price.String()))
				return nil
			case errors.Is(err, domain.ErrInvalidVolume):
				l.Warn("Safety order rejected for its volume, skipping rung",
					zap.Int("rung", r.Number),
					zap.String("qty", r.Quantity.String()),
					zap.Error(err))
				if err := b.store.SkipRung(ctx, pair, r.Number); err != nil {
					return err
				}
				continue
			default:
				return errors.Wrapf(err, "failed to place safety order %d", r.Number)
			}
		}

		err = b.store.RecordBuyOrder(ctx, domain.BuyOrder{
			Pair:          pair,
			RungNumber:    r.Number,
			OrderID:       res.ID,
			Price:         r.Price,
			Quantity:      r.Quantity,
			RequiredPrice: r.RequiredPrice,
			Profit:        r.Profit,
		})
		if err != nil {
			if _, cerr := b.exchange.CancelOrder(ctx, pair, res.ID); cerr != nil {
				l.Error("Failed to cancel unrecorded safety order",
					zap.String("order_id", res.ID),
					zap.String("kind", "invariant"),
					zap.Error(cerr))
			}
			return errors.Wrapf(err, "failed to record safety order %d", r.Number)
		}

		l.Info("Safety order placed",
			zap.Stringer("state", domain.StateLaddering),
			zap.String("order_id", res.ID),
			zap.Int("rung", r.Number),
			zap.String("qty", r.Quantity.String()),
			zap.String("price", r.Price.String()))
		b.events.emit(pair, domain.OrderEvent{
			Kind:       domain.EventOrderPlaced,
			Side:       domain.SideBuy,
			OrderID:    res.ID,
			RungNumber: r.Number,
			Price:      r.Price,
			Quantity:   r.Quantity,
			Profit:     r.Profit,
		})
		open++
	}

	return nil
}
