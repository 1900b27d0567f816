package pricer

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

// BinancePricer reads the book ticker. It works with an unauthenticated client,
// which is how the simulated exchange gets real market quotes.
type BinancePricer struct {
	client *binance.Client
}

func NewBinancePricer(client *binance.Client) *BinancePricer {
	return &BinancePricer{client: client}
}

func (p *BinancePricer) GetTicker(ctx context.Context, pair domain.Pair) (domain.Ticker, error) {
	tickers, err := p.client.NewListBookTickersService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return domain.Ticker{}, errors.Wrapf(err, "failed to get binance book ticker for %s", pair)
	}
	if len(tickers) == 0 {
		return domain.Ticker{}, errors.Errorf("binance returned no book ticker for %s", pair)
	}

	ticker, err := parseTicker(tickers[0].BidPrice, tickers[0].AskPrice)
	return ticker, errors.Wrapf(err, "binance ticker for %s", pair)
}

func parseTicker(bidRaw, askRaw string) (domain.Ticker, error) {
	bid, err := decimal.NewFromString(bidRaw)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "failed to parse bid price")
	}
	ask, err := decimal.NewFromString(askRaw)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "failed to parse ask price")
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		return domain.Ticker{}, errors.Errorf("non-positive quote bid=%s ask=%s", bidRaw, askRaw)
	}

	return domain.Ticker{Bid: bid, Ask: ask}, nil
}
