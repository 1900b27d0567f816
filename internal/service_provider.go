package internal

import (
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/internal/clients"
	"github.com/vadiminshakov/dcabot/internal/services/market/collector"
	"github.com/vadiminshakov/dcabot/internal/services/pricer"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
	"github.com/vadiminshakov/dcabot/internal/services/trader"
	"github.com/vadiminshakov/dcabot/internal/storage/simstate"
)

// serviceProvider builds the platform-specific services behind one client.
type serviceProvider interface {
	Exchange() (dca.Exchange, error)
	// Market reads public quotes and symbol rules without touching an account.
	Market() trader.MarketSource
	Pricer() pricer.Pricer
	KlineProvider() collector.KlineProvider
}

// simulateOptions configure the paper exchange.
type simulateOptions struct {
	stateDir     string
	quoteBalance decimal.Decimal
}

// newServiceProvider dispatches on the client type returned by clients.New.
func newServiceProvider(client any, logger *zap.Logger, sim simulateOptions) (serviceProvider, error) {
	switch c := client.(type) {
	case *binance.Client:
		return &binanceProvider{client: c}, nil
	case *bybit.Client:
		return &bybitProvider{client: c}, nil
	case *clients.SimulateClient:
		return &simulateProvider{client: c, logger: logger, opts: sim}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

type binanceProvider struct {
	client *binance.Client
}

func (p *binanceProvider) Exchange() (dca.Exchange, error) {
	return trader.NewBinanceTrader(p.client), nil
}
func (p *binanceProvider) Market() trader.MarketSource {
	return trader.NewBinanceTrader(p.client)
}
func (p *binanceProvider) Pricer() pricer.Pricer {
	return pricer.NewBinancePricer(p.client)
}
func (p *binanceProvider) KlineProvider() collector.KlineProvider {
	return collector.NewBinanceKlineProvider(p.client)
}

type bybitProvider struct {
	client *bybit.Client
}

func (p *bybitProvider) Exchange() (dca.Exchange, error) {
	return trader.NewBybitTrader(p.client), nil
}
func (p *bybitProvider) Market() trader.MarketSource {
	return trader.NewBybitTrader(p.client)
}
func (p *bybitProvider) Pricer() pricer.Pricer {
	return pricer.NewBybitPricer(p.client)
}
func (p *bybitProvider) KlineProvider() collector.KlineProvider {
	return collector.NewBybitKlineProvider(p.client)
}

// simulateProvider trades on paper against live Binance quotes.
type simulateProvider struct {
	client *clients.SimulateClient
	logger *zap.Logger
	opts   simulateOptions
}

func (p *simulateProvider) Exchange() (dca.Exchange, error) {
	store, err := simstate.NewStore(p.opts.stateDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open simulate state")
	}
	sim, err := trader.NewSimulateTrader(p.logger, p.Market(), store, p.opts.quoteBalance)
	if err != nil {
		return nil, err
	}
	return sim, nil
}
func (p *simulateProvider) Market() trader.MarketSource {
	return trader.NewBinanceTrader(p.client.Public())
}
func (p *simulateProvider) Pricer() pricer.Pricer {
	return pricer.NewBinancePricer(p.client.Public())
}
func (p *simulateProvider) KlineProvider() collector.KlineProvider {
	return collector.NewBinanceKlineProvider(p.client.Public())
}
