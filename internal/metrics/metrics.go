// Package metrics exposes trading counters in the Prometheus format.
//
//   - dcabot_orders_total{pair,side,status}   orders placed, filled, cancelled
//   - dcabot_order_rejections_total{pair,side,reason}
//   - dcabot_positions_total{pair,event}      positions opened and closed
//   - dcabot_realized_profit_quote{pair}      profit of closed positions
//   - dcabot_symbol_errors_total{pair}        failed symbol cycles
//   - dcabot_cycle_seconds                    duration of a full cycle
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const namespace = "dcabot"

// Metrics implements the strategy recorder. A nil *Metrics records nothing.
type Metrics struct {
	orders       *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	positions    *prometheus.CounterVec
	profit       *prometheus.CounterVec
	symbolErrors *prometheus.CounterVec
	cycle        prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders by pair, side and status (placed, filled, cancelled).",
		}, []string{"pair", "side", "status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_rejections_total",
			Help:      "Orders the exchange refused, by reason.",
		}, []string{"pair", "side", "reason"}),
		positions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_total",
			Help:      "Positions opened and closed.",
		}, []string{"pair", "event"}),
		profit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realized_profit_quote",
			Help:      "Realized profit of closed positions in the quote asset.",
		}, []string{"pair"}),
		symbolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbol_errors_total",
			Help:      "Symbol cycles that ended with an error.",
		}, []string{"pair"}),
		cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Duration of a cycle over every watched symbol.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(m.orders, m.rejections, m.positions, m.profit, m.symbolErrors, m.cycle)

	return m
}

func (m *Metrics) OrderPlaced(pair domain.Pair, side domain.Side) {
	m.order(pair, side, "placed")
}

func (m *Metrics) OrderFilled(pair domain.Pair, side domain.Side) {
	m.order(pair, side, "filled")
}

func (m *Metrics) OrderCancelled(pair domain.Pair, side domain.Side) {
	m.order(pair, side, "cancelled")
}

func (m *Metrics) order(pair domain.Pair, side domain.Side, status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(pair.String(), side.String(), status).Inc()
}

func (m *Metrics) OrderRejected(pair domain.Pair, side domain.Side, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(pair.String(), side.String(), reason).Inc()
}

func (m *Metrics) PositionOpened(pair domain.Pair) {
	if m == nil {
		return
	}
	m.positions.WithLabelValues(pair.String(), "opened").Inc()
}

// PositionClosed counts the close and adds profit. Counters cannot go down,
// a negative profit is only counted as a close.
func (m *Metrics) PositionClosed(pair domain.Pair, profit decimal.Decimal) {
	if m == nil {
		return
	}
	m.positions.WithLabelValues(pair.String(), "closed").Inc()
	if profit.IsPositive() {
		m.profit.WithLabelValues(pair.String()).Add(profit.InexactFloat64())
	}
}

func (m *Metrics) SymbolError(pair domain.Pair) {
	if m == nil {
		return
	}
	m.symbolErrors.WithLabelValues(pair.String()).Inc()
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycle.Observe(d.Seconds())
}
