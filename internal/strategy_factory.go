package internal

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/config"
	"github.com/vadiminshakov/dcabot/internal/services/market/collector"
	"github.com/vadiminshakov/dcabot/internal/services/signal"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
)

// strategyFactory wires the entry oracle and the dca orchestrators.
type strategyFactory struct {
	logger *zap.Logger
}

func newStrategyFactory(logger *zap.Logger) *strategyFactory {
	return &strategyFactory{logger: logger}
}

// createOracle builds the entry signal named by conf.SignalSource.
func (f *strategyFactory) createOracle(conf config.Config, klines collector.KlineProvider) (dca.Oracle, error) {
	switch conf.SignalSource {
	case signal.SourceAlways:
		return signal.Always{}, nil
	case signal.SourceIndicators:
		marketDataCollector := collector.NewMarketDataCollector(klines, collector.DefaultTrendParams)
		oracle, err := signal.NewIndicatorOracle(
			f.logger.Named("signal"),
			marketDataCollector,
			conf.SignalIntervals,
			conf.SignalRSIMax,
			conf.SignalRefresh,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create indicator oracle")
		}
		return oracle, nil
	default:
		return nil, fmt.Errorf("unsupported signal source: %s", conf.SignalSource)
	}
}

// createBuyOrchestrator builds the three orchestrators sharing deps. The buy
// orchestrator drives the other two.
func (f *strategyFactory) createBuyOrchestrator(deps dca.Deps, settings dca.Settings) (*dca.BuyOrchestrator, error) {
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid dca settings")
	}
	if deps.Exchange == nil || deps.Store == nil || deps.Oracle == nil || deps.Pairs == nil {
		return nil, errors.New("exchange, store, oracle and pair book are required")
	}

	l := f.logger.Named("dca")
	sell := dca.NewSellOrchestrator(l.Named("sell"), deps, settings)
	completion := dca.NewCompletionDetector(l.Named("completion"), deps)

	return dca.NewBuyOrchestrator(l.Named("buy"), deps, settings, sell, completion), nil
}
