package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/storage/simstate"
)

const (
	defaultQuoteAsset = "USDT"
	// keep the persisted fill history bounded
	simulateTradesPerPair = 500
)

// MarketSource supplies quotes and symbol rules to the simulator.
type MarketSource interface {
	GetTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error)
	TradablePairs(ctx context.Context, pairs ...domain.Pair) (map[domain.Pair]domain.PairInfo, error)
}

// SimulateTrader is a paper spot exchange. Market orders fill at the live
// quote, limit orders rest until the quote crosses their price and then fill
// at the limit price.
type SimulateTrader struct {
	mu         sync.Mutex
	logger     *zap.Logger
	market     MarketSource
	wallet     map[string]decimal.Decimal
	orders     map[string]simstate.StoredOrder
	trades     []simstate.StoredTrade
	seq        int64
	stateStore *simstate.Store
	now        func() time.Time
}

// NewSimulateTrader creates a simulator funded with quoteBalance USDT, unless a
// persisted wallet is found in stateStore.
func NewSimulateTrader(logger *zap.Logger, market MarketSource, stateStore *simstate.Store, quoteBalance decimal.Decimal) (*SimulateTrader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if market == nil {
		return nil, errors.New("market source is required for SimulateTrader")
	}

	t := &SimulateTrader{
		logger:     logger,
		market:     market,
		wallet:     make(map[string]decimal.Decimal),
		orders:     make(map[string]simstate.StoredOrder),
		stateStore: stateStore,
		now:        time.Now,
	}

	restored, err := t.restoreState()
	if err != nil {
		return nil, errors.Wrap(err, "restore simulate state")
	}
	if !restored {
		t.wallet[defaultQuoteAsset] = quoteBalance
	}

	logger.Info("simulate init",
		zap.Int("open_orders", len(t.orders)),
		zap.Int("trades", len(t.trades)),
		zap.Bool("restored", restored))

	return t, nil
}

// Deposit credits asset, used to fund pairs quoted in something other than USDT.
func (t *SimulateTrader) Deposit(asset string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wallet[asset] = t.wallet[asset].Add(amount)
	t.persist()
}

func (t *SimulateTrader) GetTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	return t.market.GetTicker(ctx, pair)
}

func (t *SimulateTrader) PlaceMarketOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty decimal.Decimal) (domain.OrderResult, error) {
	if !qty.IsPositive() {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrInvalidVolume, "market %s quantity must be positive, got %s", side, qty)
	}

	ticker, err := t.market.GetTicker(ctx, pair)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to get price for simulated market order")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID("o")
	price := ticker.Ask
	if side == domain.SideSell {
		price = ticker.Bid
		if t.wallet[pair.From].LessThan(qty) {
			return domain.OrderResult{}, errors.Wrapf(domain.ErrInsufficientFunds,
				"have %s %s need %s", t.wallet[pair.From], pair.From, qty)
		}
		t.wallet[pair.From] = t.wallet[pair.From].Sub(qty)
		t.wallet[pair.To] = t.wallet[pair.To].Add(qty.Mul(price))
	} else {
		cost := qty.Mul(price)
		if t.wallet[pair.To].LessThan(cost) {
			return domain.OrderResult{}, errors.Wrapf(domain.ErrInsufficientFunds,
				"have %s %s need %s", t.wallet[pair.To], pair.To, cost)
		}
		t.wallet[pair.To] = t.wallet[pair.To].Sub(cost)
		t.wallet[pair.From] = t.wallet[pair.From].Add(qty)
	}

	t.recordTrade(id, pair, side, price, qty)
	t.persist()

	t.logger.Info("simulated market order filled",
		zap.String("id", id),
		zap.String("pair", pair.String()),
		zap.String("side", string(side)),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()))

	return domain.OrderResult{ID: id, FilledPrice: price, FilledQuantity: qty}, nil
}

func (t *SimulateTrader) PlaceLimitOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty, price decimal.Decimal) (domain.OrderResult, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrInvalidVolume, "limit %s needs positive quantity and price, got %s @ %s", side, qty, price)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	order := simstate.StoredOrder{
		ID:       t.nextID("o"),
		Pair:     pair.String(),
		Side:     string(side),
		Price:    price,
		Quantity: qty,
		Created:  t.now(),
	}

	asset := pair.To
	order.Reserved = qty.Mul(price)
	if side == domain.SideSell {
		asset = pair.From
		order.Reserved = qty
	}
	if t.wallet[asset].LessThan(order.Reserved) {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrInsufficientFunds,
			"have %s %s need %s", t.wallet[asset], asset, order.Reserved)
	}
	t.wallet[asset] = t.wallet[asset].Sub(order.Reserved)
	t.orders[order.ID] = order
	t.persist()

	t.logger.Info("simulated limit order placed",
		zap.String("id", order.ID),
		zap.String("pair", order.Pair),
		zap.String("side", order.Side),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()))

	return domain.OrderResult{ID: order.ID}, nil
}

func (t *SimulateTrader) CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error) {
	if err := t.match(ctx, pair); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	order, ok := t.orders[orderID]
	if !ok || order.Pair != pair.String() {
		return false, errors.Wrapf(domain.ErrOrderNotFound, "simulated order %s", orderID)
	}

	asset := pair.To
	if domain.Side(order.Side) == domain.SideSell {
		asset = pair.From
	}
	t.wallet[asset] = t.wallet[asset].Add(order.Reserved)
	delete(t.orders, orderID)
	t.persist()

	return true, nil
}

func (t *SimulateTrader) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	if err := t.match(ctx, pair); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var result []domain.Order
	for _, o := range t.sortedOrders() {
		if o.Pair != pair.String() {
			continue
		}
		result = append(result, domain.Order{
			ID:       o.ID,
			Side:     domain.Side(o.Side),
			Price:    o.Price,
			Quantity: o.Quantity,
		})
	}

	return result, nil
}

func (t *SimulateTrader) TradeHistory(ctx context.Context, pair domain.Pair) ([]domain.Trade, error) {
	if err := t.match(ctx, pair); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var result []domain.Trade
	for _, tr := range t.trades {
		if tr.Pair != pair.String() {
			continue
		}
		result = append(result, domain.Trade{
			ID:       tr.ID,
			OrderID:  tr.OrderID,
			Price:    tr.Price,
			Quantity: tr.Quantity,
			Time:     tr.Time,
		})
	}

	return result, nil
}

func (t *SimulateTrader) OrderTrades(ctx context.Context, pair domain.Pair, orderID string) ([]domain.Trade, error) {
	trades, err := t.TradeHistory(ctx, pair)
	if err != nil {
		return nil, err
	}

	var result []domain.Trade
	for _, tr := range trades {
		if tr.OrderID == orderID {
			result = append(result, tr)
		}
	}

	return result, nil
}

// Balances returns free funds. Amounts reserved by resting orders are excluded.
func (t *SimulateTrader) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	balances := make(map[string]decimal.Decimal, len(t.wallet))
	for asset, amount := range t.wallet {
		balances[asset] = amount
	}

	return balances, nil
}

func (t *SimulateTrader) TradablePairs(ctx context.Context, pairs ...domain.Pair) (map[domain.Pair]domain.PairInfo, error) {
	return t.market.TradablePairs(ctx, pairs...)
}

// match fills every resting order of pair the current quote crosses.
func (t *SimulateTrader) match(ctx context.Context, pair domain.Pair) error {
	t.mu.Lock()
	pending := false
	for _, o := range t.orders {
		if o.Pair == pair.String() {
			pending = true
			break
		}
	}
	t.mu.Unlock()
	if !pending {
		return nil
	}

	ticker, err := t.market.GetTicker(ctx, pair)
	if err != nil {
		return errors.Wrap(err, "failed to get price for simulated matching")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	filled := 0
	for _, o := range t.sortedOrders() {
		if o.Pair != pair.String() {
			continue
		}

		side := domain.Side(o.Side)
		switch {
		case side == domain.SideBuy && ticker.Ask.LessThanOrEqual(o.Price):
			t.wallet[pair.From] = t.wallet[pair.From].Add(o.Quantity)
		case side == domain.SideSell && ticker.Bid.GreaterThanOrEqual(o.Price):
			t.wallet[pair.To] = t.wallet[pair.To].Add(o.Quantity.Mul(o.Price))
		default:
			continue
		}

		delete(t.orders, o.ID)
		t.recordTrade(o.ID, pair, side, o.Price, o.Quantity)
		filled++

		t.logger.Info("simulated limit order filled",
			zap.String("id", o.ID),
			zap.String("pair", o.Pair),
			zap.String("side", o.Side),
			zap.String("qty", o.Quantity.String()),
			zap.String("price", o.Price.String()))
	}

	if filled > 0 {
		t.persist()
	}

	return nil
}

func (t *SimulateTrader) recordTrade(orderID string, pair domain.Pair, side domain.Side, price, qty decimal.Decimal) {
	t.trades = append(t.trades, simstate.StoredTrade{
		ID:       t.nextID("t"),
		OrderID:  orderID,
		Pair:     pair.String(),
		Side:     string(side),
		Price:    price,
		Quantity: qty,
		Time:     t.now(),
	})

	count := 0
	for _, tr := range t.trades {
		if tr.Pair == pair.String() {
			count++
		}
	}
	if count <= simulateTradesPerPair {
		return
	}

	// drop the oldest fill of this pair
	for i, tr := range t.trades {
		if tr.Pair == pair.String() {
			t.trades = append(t.trades[:i], t.trades[i+1:]...)
			return
		}
	}
}

func (t *SimulateTrader) sortedOrders() []simstate.StoredOrder {
	orders := make([]simstate.StoredOrder, 0, len(t.orders))
	for _, o := range t.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Created.Before(orders[j].Created) ||
			(orders[i].Created.Equal(orders[j].Created) && orders[i].ID < orders[j].ID)
	})

	return orders
}

func (t *SimulateTrader) nextID(prefix string) string {
	t.seq++
	return fmt.Sprintf("sim-%s%d", prefix, t.seq)
}

func (t *SimulateTrader) restoreState() (bool, error) {
	if t.stateStore == nil {
		return false, nil
	}
	state, err := t.stateStore.Load()
	if err != nil || state == nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for asset, amount := range state.Wallet {
		t.wallet[asset] = amount
	}
	for _, o := range state.Orders {
		t.orders[o.ID] = o
	}
	t.trades = state.Trades
	t.seq = state.LastSeq

	return true, nil
}

func (t *SimulateTrader) persist() {
	if t.stateStore == nil {
		return
	}

	state := simstate.State{
		Wallet:  make(map[string]decimal.Decimal, len(t.wallet)),
		Orders:  t.sortedOrders(),
		Trades:  t.trades,
		LastSeq: t.seq,
	}
	for asset, amount := range t.wallet {
		state.Wallet[asset] = amount
	}

	if err := t.stateStore.Save(state); err != nil {
		t.logger.Warn("failed to persist simulate state", zap.Error(err))
	}
}
