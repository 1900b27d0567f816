package internal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/dcabot/config"
	"github.com/vadiminshakov/dcabot/internal/domain"
)

// PreviewLadder builds the ladder the bot would place for pair. A zero price
// is replaced by the current ask. Only public market data is read.
func PreviewLadder(ctx context.Context, l *zap.Logger, conf config.Config, client any, pair domain.Pair,
	price decimal.Decimal) (*domain.Ladder, error) {
	provider, err := newServiceProvider(client, l, simulateOptions{})
	if err != nil {
		return nil, err
	}

	infos, err := provider.Market().TradablePairs(ctx, pair)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pair info")
	}
	info, ok := infos[pair]
	if !ok {
		return nil, errors.Errorf("%s is not tradable on %s", pair, conf.Platform)
	}

	if !price.IsPositive() {
		ticker, err := provider.Pricer().GetTicker(ctx, pair)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get price")
		}
		price = ticker.Ask
	}

	qty := decimal.Max(conf.BaseOrderSize.RoundFloor(info.VolumeDecimals), info.MinOrderQty)

	return domain.BuildLadder(pair, price, qty, conf.Ladder, info)
}
