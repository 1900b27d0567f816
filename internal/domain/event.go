package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind classifies journal events.
type EventKind string

const (
	EventPositionOpened EventKind = "position_opened"
	EventOrderPlaced    EventKind = "order_placed"
	EventOrderFilled    EventKind = "order_filled"
	EventOrderCancelled EventKind = "order_cancelled"
	EventOrderRejected  EventKind = "order_rejected"
	EventPositionClosed EventKind = "position_closed"
)

// OrderEvent is an entry of the trade journal. Every order the bot places,
// cancels or sees filled produces one.
type OrderEvent struct {
	ID         string          `json:"id"`
	Time       time.Time       `json:"time"`
	Pair       string          `json:"pair"`
	Kind       EventKind       `json:"kind"`
	Side       Side            `json:"side,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	RungNumber int             `json:"rung"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Profit     decimal.Decimal `json:"profit"`
	Reason     string          `json:"reason,omitempty"`
}

// OrderEventRecord is an event together with its journal index.
type OrderEventRecord struct {
	Index uint64     `json:"index"`
	Event OrderEvent `json:"event"`
}
