package signal

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/pkg/indicators"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchTrend(ctx context.Context, pair domain.Pair, interval string) (indicators.Trend, error) {
	args := m.Called(ctx, pair, interval)
	return args.Get(0).(indicators.Trend), args.Error(1)
}

var (
	pair    = domain.Pair{From: "ETH", To: "USDT"}
	bullish = indicators.Trend{
		FastEMA: decimal.NewFromInt(101),
		SlowEMA: decimal.NewFromInt(100),
		MACD:    decimal.NewFromInt(1),
		RSI:     decimal.NewFromInt(55),
	}
	bearish = indicators.Trend{
		FastEMA: decimal.NewFromInt(99),
		SlowEMA: decimal.NewFromInt(100),
		MACD:    decimal.NewFromInt(-1),
		RSI:     decimal.NewFromInt(40),
	}
)

func TestAlways(t *testing.T) {
	buy, err := Always{}.IsBuySignal(context.Background(), pair)
	require.NoError(t, err)
	require.True(t, buy)
}

func TestIndicatorOracle_AllIntervalsMustAgree(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchTrend", mock.Anything, pair, "15m").Return(bullish, nil)
	fetcher.On("FetchTrend", mock.Anything, pair, "1h").Return(bearish, nil)

	oracle, err := NewIndicatorOracle(zap.NewNop(), fetcher, []string{"15m", "1h"}, decimal.NewFromInt(70), time.Minute)
	require.NoError(t, err)

	buy, err := oracle.IsBuySignal(context.Background(), pair)
	require.NoError(t, err)
	require.False(t, buy)
	fetcher.AssertExpectations(t)
}

func TestIndicatorOracle_CachesVerdict(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchTrend", mock.Anything, pair, "1h").Return(bullish, nil).Twice()

	oracle, err := NewIndicatorOracle(zap.NewNop(), fetcher, []string{"1h"}, decimal.NewFromInt(70), time.Minute)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oracle.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		buy, err := oracle.IsBuySignal(context.Background(), pair)
		require.NoError(t, err)
		require.True(t, buy)
	}
	fetcher.AssertNumberOfCalls(t, "FetchTrend", 1)

	now = now.Add(2 * time.Minute)
	buy, err := oracle.IsBuySignal(context.Background(), pair)
	require.NoError(t, err)
	require.True(t, buy)
	fetcher.AssertNumberOfCalls(t, "FetchTrend", 2)
}

func TestIndicatorOracle_FetchError(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchTrend", mock.Anything, pair, "1h").Return(indicators.Trend{}, errors.New("timeout"))

	oracle, err := NewIndicatorOracle(zap.NewNop(), fetcher, []string{"1h"}, decimal.NewFromInt(70), time.Minute)
	require.NoError(t, err)

	_, err = oracle.IsBuySignal(context.Background(), pair)
	require.Error(t, err)
}

func TestNewIndicatorOracle_Validation(t *testing.T) {
	_, err := NewIndicatorOracle(zap.NewNop(), &mockFetcher{}, nil, decimal.NewFromInt(70), time.Minute)
	require.Error(t, err)

	_, err = NewIndicatorOracle(zap.NewNop(), &mockFetcher{}, []string{"1h"}, decimal.Zero, time.Minute)
	require.Error(t, err)
}
