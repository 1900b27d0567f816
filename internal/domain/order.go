package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// String returns the string representation.
func (s Side) String() string {
	return string(s)
}

// Ticker best bid and ask for a pair.
type Ticker struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// OrderResult is what the exchange reports right after accepting an order.
// FilledPrice and FilledQuantity are zero when the exchange does not report
// fills synchronously (limit orders, some market order APIs).
type OrderResult struct {
	ID             string
	FilledPrice    decimal.Decimal
	FilledQuantity decimal.Decimal
}

// Order is an open order on the exchange.
type Order struct {
	ID       string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Trade is a single execution from the account trade history.
type Trade struct {
	ID       string
	OrderID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Time     time.Time
}

// PairInfo trading rules of a pair.
type PairInfo struct {
	MinOrderQty    decimal.Decimal
	PriceDecimals  int32
	VolumeDecimals int32
}

// BuyOrder is a placed safety order tracked until it fills.
type BuyOrder struct {
	Pair          Pair
	RungNumber    int
	OrderID       string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	RequiredPrice decimal.Decimal
	Profit        decimal.Decimal
	Filled        bool
}

// SellOrder is a take-profit order. Rung 0 means it covers the base order only.
type SellOrder struct {
	Pair          Pair
	RungNumber    int
	OrderID       string
	Quantity      decimal.Decimal
	RequiredPrice decimal.Decimal
	Profit        decimal.Decimal
	Cancelled     bool
	Filled        bool
	CreatedAt     time.Time
}

// Active reports whether the order is still live on the exchange.
func (o SellOrder) Active() bool {
	return !o.Cancelled && !o.Filled
}

// TradedQuantity sums the executions that belong to orderID.
func TradedQuantity(trades []Trade, orderID string) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		if t.OrderID == orderID {
			total = total.Add(t.Quantity)
		}
	}
	return total
}

// AverageTradePrice returns the volume-weighted execution price of orderID.
func AverageTradePrice(trades []Trade, orderID string) (price, qty decimal.Decimal) {
	cost := decimal.Zero
	qty = decimal.Zero
	for _, t := range trades {
		if t.OrderID != orderID {
			continue
		}
		cost = cost.Add(t.Price.Mul(t.Quantity))
		qty = qty.Add(t.Quantity)
	}
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return cost.Div(qty), qty
}

// IsFilled reports whether the trade history covers the full order quantity.
func IsFilled(trades []Trade, orderID string, quantity decimal.Decimal) bool {
	if orderID == "" {
		return false
	}
	traded := TradedQuantity(trades, orderID)
	return traded.IsPositive() && traded.GreaterThanOrEqual(quantity)
}
