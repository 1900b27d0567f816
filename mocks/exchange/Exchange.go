package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// Exchange is a testify mock of the spot exchange the orchestrators trade on.
type Exchange struct {
	mock.Mock
}

func (_m *Exchange) GetTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	ret := _m.Called(ctx, pair)
	return ret.Get(0).(domain.Ticker), ret.Error(1)
}

func (_m *Exchange) PlaceMarketOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty decimal.Decimal) (domain.OrderResult, error) {
	ret := _m.Called(ctx, side, pair, qty)
	return ret.Get(0).(domain.OrderResult), ret.Error(1)
}

func (_m *Exchange) PlaceLimitOrder(ctx context.Context, side domain.Side, pair domain.Pair, qty, price decimal.Decimal) (domain.OrderResult, error) {
	ret := _m.Called(ctx, side, pair, qty, price)
	return ret.Get(0).(domain.OrderResult), ret.Error(1)
}

func (_m *Exchange) CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error) {
	ret := _m.Called(ctx, pair, orderID)
	return ret.Bool(0), ret.Error(1)
}

func (_m *Exchange) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.Order, error) {
	ret := _m.Called(ctx, pair)
	if fn, ok := ret.Get(0).(func() []domain.Order); ok {
		return fn(), ret.Error(1)
	}
	var orders []domain.Order
	if v := ret.Get(0); v != nil {
		orders = v.([]domain.Order)
	}
	return orders, ret.Error(1)
}

func (_m *Exchange) TradeHistory(ctx context.Context, pair domain.Pair) ([]domain.Trade, error) {
	ret := _m.Called(ctx, pair)
	if fn, ok := ret.Get(0).(func() []domain.Trade); ok {
		return fn(), ret.Error(1)
	}
	var trades []domain.Trade
	if v := ret.Get(0); v != nil {
		trades = v.([]domain.Trade)
	}
	return trades, ret.Error(1)
}

func (_m *Exchange) OrderTrades(ctx context.Context, pair domain.Pair, orderID string) ([]domain.Trade, error) {
	ret := _m.Called(ctx, pair, orderID)
	var trades []domain.Trade
	if v := ret.Get(0); v != nil {
		trades = v.([]domain.Trade)
	}
	return trades, ret.Error(1)
}

func (_m *Exchange) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	ret := _m.Called(ctx)
	var balances map[string]decimal.Decimal
	if v := ret.Get(0); v != nil {
		balances = v.(map[string]decimal.Decimal)
	}
	return balances, ret.Error(1)
}

func (_m *Exchange) TradablePairs(ctx context.Context, pairs ...domain.Pair) (map[domain.Pair]domain.PairInfo, error) {
	ret := _m.Called(ctx, pairs)
	var infos map[domain.Pair]domain.PairInfo
	if v := ret.Get(0); v != nil {
		infos = v.(map[domain.Pair]domain.PairInfo)
	}
	return infos, ret.Error(1)
}

// NewExchange creates a mock that asserts its expectations when the test ends.
func NewExchange(t interface {
	mock.TestingT
	Cleanup(func())
}) *Exchange {
	m := &Exchange{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
