package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

var btc = domain.Pair{From: "BTC", To: "USDT"}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OrderPlaced(btc, domain.SideBuy)
	m.OrderPlaced(btc, domain.SideBuy)
	m.OrderFilled(btc, domain.SideBuy)
	m.OrderCancelled(btc, domain.SideSell)
	m.OrderRejected(btc, domain.SideBuy, "insufficient_funds")
	m.PositionOpened(btc)
	m.PositionClosed(btc, decimal.RequireFromString("0.995"))
	m.PositionClosed(btc, decimal.RequireFromString("-1"))
	m.SymbolError(btc)
	m.ObserveCycle(1500 * time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.orders.WithLabelValues("BTC_USDT", "buy", "placed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues("BTC_USDT", "buy", "filled")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues("BTC_USDT", "sell", "cancelled")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("BTC_USDT", "buy", "insufficient_funds")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.positions.WithLabelValues("BTC_USDT", "opened")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.positions.WithLabelValues("BTC_USDT", "closed")))
	require.InDelta(t, 0.995, testutil.ToFloat64(m.profit.WithLabelValues("BTC_USDT")), 1e-9)
	require.Equal(t, 1.0, testutil.ToFloat64(m.symbolErrors.WithLabelValues("BTC_USDT")))
	require.Equal(t, 1, testutil.CollectAndCount(m.cycle))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.OrderPlaced(btc, domain.SideBuy)
		m.OrderRejected(btc, domain.SideSell, "error")
		m.PositionClosed(btc, decimal.NewFromInt(1))
		m.SymbolError(btc)
		m.ObserveCycle(time.Second)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	require.Panics(t, func() { New(reg) })
}
