package dca

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// Journal records order events for later inspection.
type Journal interface {
	Append(event domain.OrderEvent) error
}

// Recorder collects trading metrics.
type Recorder interface {
	OrderPlaced(pair domain.Pair, side domain.Side)
	OrderFilled(pair domain.Pair, side domain.Side)
	OrderCancelled(pair domain.Pair, side domain.Side)
	OrderRejected(pair domain.Pair, side domain.Side, reason string)
	PositionOpened(pair domain.Pair)
	PositionClosed(pair domain.Pair, profit decimal.Decimal)
}

// notifier fans order events out to the journal and metrics. Both are optional.
type notifier struct {
	l       *zap.Logger
	journal Journal
	rec     Recorder
}

func (n notifier) emit(pair domain.Pair, ev domain.OrderEvent) {
	ev.Pair = pair.String()

	if n.rec != nil {
		switch ev.Kind {
		case domain.EventOrderPlaced:
			n.rec.OrderPlaced(pair, ev.Side)
		case domain.EventOrderFilled:
			n.rec.OrderFilled(pair, ev.Side)
		case domain.EventOrderCancelled:
			n.rec.OrderCancelled(pair, ev.Side)
		case domain.EventOrderRejected:
			n.rec.OrderRejected(pair, ev.Side, ev.Reason)
		case domain.EventPositionOpened:
			n.rec.PositionOpened(pair)
		case domain.EventPositionClosed:
			n.rec.PositionClosed(pair, ev.Profit)
		}
	}

	if n.journal == nil {
		return
	}
	if err := n.journal.Append(ev); err != nil {
		n.l.Warn("Failed to journal order event",
			zap.String("pair", ev.Pair),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

// rejectReason names the exchange rejection for logs and metrics labels.
func rejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidVolume):
		return "invalid_volume"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
