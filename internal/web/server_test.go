package web

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/storage/positions"
)

type stubPositions struct {
	summaries []positions.Summary
	err       error
}

func (s stubPositions) Summaries(context.Context) ([]positions.Summary, error) {
	return s.summaries, s.err
}

type stubJournal struct {
	mu      sync.Mutex
	records []domain.OrderEventRecord
}

func (j *stubJournal) add(kind domain.EventKind, orderID string) {
	j.addFor("BTC_USDT", kind, orderID)
}

func (j *stubJournal) addFor(pair string, kind domain.EventKind, orderID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, domain.OrderEventRecord{
		Index: uint64(len(j.records) + 1),
		Event: domain.OrderEvent{Pair: pair, Kind: kind, OrderID: orderID},
	})
}

func (j *stubJournal) EventsAfter(index uint64) ([]domain.OrderEventRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.OrderEventRecord
	for _, r := range j.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestServer_Positions(t *testing.T) {
	store := stubPositions{summaries: []positions.Summary{{
		Pair:         "BTC_USDT",
		BasePrice:    decimal.NewFromInt(100),
		BaseQuantity: decimal.NewFromInt(1),
		Rungs:        5,
		SellOrderID:  "sell-0",
	}}}
	srv := NewServer(zap.NewNop(), ":0", store, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []positions.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "sell-0", got[0].SellOrderID)
	require.True(t, got[0].BasePrice.Equal(decimal.NewFromInt(100)))

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"sell_order_id":"sell-0"`)
}

func TestServer_PositionsErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(zap.NewNop(), ":0", stubPositions{err: errors.New("locked")}, nil, nil).
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	NewServer(zap.NewNop(), ":0", nil, nil, nil).
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dcabot_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rec := httptest.NewRecorder()
	NewServer(zap.NewNop(), ":0", nil, nil, reg).
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "dcabot_test_total 1")
}

func TestServer_EventStream(t *testing.T) {
	journal := &stubJournal{}
	journal.add(domain.EventPositionOpened, "base-1")
	journal.add(domain.EventOrderPlaced, "sell-0")

	srv := NewServer(zap.NewNop(), ":0", nil, journal, nil)
	srv.poll = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Handler().ServeHTTP(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)
	journal.add(domain.EventOrderFilled, "buy-1")
	<-done

	body := rec.Body.String()
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.NotContains(t, body, "base-1", "events up to Last-Event-ID are not resent")
	require.Contains(t, body, "id: 2\nevent: order_placed\n")
	require.Contains(t, body, "id: 3\nevent: order_filled\n")
	require.NotContains(t, body, "no_data")
}

func TestServer_EventStreamEmpty(t *testing.T) {
	srv := NewServer(zap.NewNop(), ":0", nil, &stubJournal{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/stream", nil).WithContext(ctx))

	require.True(t, strings.HasPrefix(rec.Body.String(), "event: no_data\n"))
}

func TestServer_EventStreamPairFilter(t *testing.T) {
	journal := &stubJournal{}
	journal.addFor("BTC_USDT", domain.EventOrderPlaced, "btc-sell")
	journal.addFor("ETH_USDT", domain.EventOrderPlaced, "eth-sell")

	srv := NewServer(zap.NewNop(), ":0", nil, journal, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/stream?pair=eth_usdt", nil).WithContext(ctx))

	body := rec.Body.String()
	require.Contains(t, body, "id: 2\nevent: order_placed\n")
	require.NotContains(t, body, "btc-sell")
	require.NotContains(t, body, "no_data")
}

func TestParseLastEventID(t *testing.T) {
	srv := NewServer(zap.NewNop(), ":0", nil, nil, nil)

	require.Equal(t, uint64(7), srv.parseLastEventID(" 7 ", "3"))
	require.Equal(t, uint64(3), srv.parseLastEventID("", "3"))
	require.Equal(t, uint64(0), srv.parseLastEventID("x", ""))
	require.Equal(t, uint64(0), srv.parseLastEventID("", ""))
}
