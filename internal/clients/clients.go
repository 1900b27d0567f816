// Package clients builds the exchange SDK clients for the configured platform.
package clients

import (
	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
)

const (
	Binance  = "binance"
	Bybit    = "bybit"
	Simulate = "simulate"
)

// SimulateClient carries an unauthenticated Binance client. The simulator only
// reads public quotes and symbol rules from it.
type SimulateClient struct {
	public *binance.Client
}

func NewSimulateClient() *SimulateClient {
	return &SimulateClient{public: binance.NewClient("", "")}
}

// Public returns the client used for market data.
func (c *SimulateClient) Public() *binance.Client {
	return c.public
}

// New returns *binance.Client, *bybit.Client or *SimulateClient for platform.
func New(platform, apiKey, apiSecret string) (any, error) {
	switch platform {
	case Binance:
		return binance.NewClient(apiKey, apiSecret), nil
	case Bybit:
		return bybit.NewClient().WithAuth(apiKey, apiSecret), nil
	case Simulate:
		return NewSimulateClient(), nil
	default:
		return nil, errors.Errorf("unsupported platform: %s", platform)
	}
}
