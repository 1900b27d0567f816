package pricer

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// BybitPricer reads the best bid and ask from the V5 spot tickers endpoint.
type BybitPricer struct {
	client *bybit.Client
}

func NewBybitPricer(client *bybit.Client) *BybitPricer {
	return &BybitPricer{client: client}
}

func (p *BybitPricer) GetTicker(_ context.Context, pair domain.Pair) (domain.Ticker, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	resp, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return domain.Ticker{}, errors.Wrapf(err, "failed to get bybit ticker for %s", pair)
	}
	if resp == nil || resp.Result.Spot == nil || len(resp.Result.Spot.List) == 0 {
		return domain.Ticker{}, errors.Errorf("bybit returned no spot ticker for %s", pair)
	}

	top := resp.Result.Spot.List[0]
	ticker, err := parseTicker(top.Bid1Price, top.Ask1Price)
	return ticker, errors.Wrapf(err, "bybit ticker for %s", pair)
}
