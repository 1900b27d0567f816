package internal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/dcabot/config"
	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/metrics"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
	"github.com/vadiminshakov/dcabot/internal/storage/locks"
	"github.com/vadiminshakov/dcabot/pkg/retrier"
)

// Locker serializes the processing of one symbol.
type Locker interface {
	Lock(ctx context.Context, key string) (locks.Unlock, error)
}

// PositionStore is the store the bot persists positions in.
type PositionStore interface {
	dca.PositionStore
	dca.OpenPairsLister
}

// Resources are the long-lived stores opened by the caller. Journal, Metrics
// and Locker are optional.
type Resources struct {
	Store   PositionStore
	Journal dca.Journal
	Metrics *metrics.Metrics
	Locker  Locker
}

type symbolProcessor interface {
	Process(ctx context.Context, pair domain.Pair) error
}

// TradingBot runs the dca cycle over every watched symbol.
type TradingBot struct {
	l         *zap.Logger
	conf      config.Config
	exchange  dca.Exchange
	watch     *dca.WatchSet
	book      *dca.PairBook
	processor symbolProcessor
	locker    Locker
	metrics   *metrics.Metrics
	retrier   *retrier.Retrier
}

// NewTradingBot wires the platform services for client (see clients.New) and
// the dca orchestrators.
func NewTradingBot(l *zap.Logger, conf config.Config, client any, res Resources) (*TradingBot, error) {
	if res.Store == nil {
		return nil, errors.New("position store is required")
	}

	provider, err := newServiceProvider(client, l.Named("exchange"), simulateOptions{
		stateDir:     conf.SimulateStateDir,
		quoteBalance: conf.SimulateQuoteBalance,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service provider")
	}
	exchange, err := provider.Exchange()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create exchange")
	}

	factory := newStrategyFactory(l)
	oracle, err := factory.createOracle(conf, provider.KlineProvider())
	if err != nil {
		return nil, err
	}

	watch := dca.NewWatchSet(res.Store, conf.WatchList, conf.WatchListRefresh)
	book := dca.NewPairBook(nil)

	deps := dca.Deps{
		Exchange: exchange,
		Store:    res.Store,
		Oracle:   oracle,
		Pairs:    book,
		Journal:  res.Journal,
		Entry:    watch,
	}
	if res.Metrics != nil {
		deps.Metrics = res.Metrics
	}

	buy, err := factory.createBuyOrchestrator(deps, conf.Settings())
	if err != nil {
		return nil, err
	}

	return newTradingBot(l, conf, exchange, buy, watch, book, res.Locker, res.Metrics), nil
}

func newTradingBot(l *zap.Logger, conf config.Config, exchange dca.Exchange, processor symbolProcessor,
	watch *dca.WatchSet, book *dca.PairBook, locker Locker, m *metrics.Metrics) *TradingBot {
	if locker == nil {
		locker = locks.NewLocal()
	}
	if conf.Workers < 1 {
		conf.Workers = 1
	}
	r := retrier.New(
		retrier.WithRetryIf(domain.IsTransient),
		retrier.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			l.Warn("Exchange call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	return &TradingBot{
		l:         l,
		conf:      conf,
		exchange:  exchange,
		watch:     watch,
		book:      book,
		processor: processor,
		locker:    locker,
		metrics:   m,
		retrier:   r,
	}
}

// Run loads pair rules and then cycles until ctx is cancelled. Failing to load
// the rules of the watched pairs is fatal.
func (b *TradingBot) Run(ctx context.Context) error {
	pairs, _, err := b.watch.Pairs(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list watched pairs")
	}
	if err := b.loadPairInfos(ctx, pairs); err != nil {
		return err
	}

	b.l.Info("Starting trading loop",
		zap.Int("pairs", len(pairs)),
		zap.Int("workers", b.conf.Workers),
		zap.Duration("poll_interval", b.conf.PollInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.l.Info("Context done, stopping trading loop")
			return ctx.Err()
		case <-timer.C:
			b.cycle(ctx)
			timer.Reset(b.conf.PollInterval)
		}
	}
}

// cycle processes every watched symbol once.
func (b *TradingBot) cycle(ctx context.Context) {
	start := time.Now()
	defer func() { b.metrics.ObserveCycle(time.Since(start)) }()

	pairs, changed, err := b.watch.Pairs(ctx)
	if err != nil {
		b.l.Error("Failed to refresh watched pairs", zap.Error(err))
		if len(pairs) == 0 {
			return
		}
	}
	if changed {
		if err := b.loadPairInfos(ctx, b.book.Missing(pairs)); err != nil {
			// symbols without rules fail on their own below
			b.l.Error("Failed to load pair info", zap.Error(err))
		}
	}

	if b.conf.Workers == 1 {
		for _, pair := range pairs {
			if ctx.Err() != nil {
				return
			}
			b.processSymbol(ctx, pair)
		}
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(b.conf.Workers)
	for _, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			b.processSymbol(ctx, pair)
			return nil
		})
	}
	_ = g.Wait()
}

// processSymbol runs one symbol under its lock. Once the lock is held the
// symbol finishes even if ctx is cancelled.
func (b *TradingBot) processSymbol(ctx context.Context, pair domain.Pair) {
	l := b.l.With(zap.String("pair", pair.String()))

	lockCtx, cancel := context.WithTimeout(ctx, b.conf.PollInterval)
	unlock, err := b.locker.Lock(lockCtx, pair.String())
	cancel()
	if err != nil {
		l.Warn("Skipping symbol, lock not acquired", zap.Error(err))
		return
	}
	defer unlock()

	if err := b.processor.Process(context.WithoutCancel(ctx), pair); err != nil {
		b.metrics.SymbolError(pair)
		if errors.Is(err, domain.ErrInvariantViolation) {
			l.Error("Symbol cycle failed", zap.String("kind", "invariant"), zap.Error(err))
			return
		}
		l.Error("Symbol cycle failed", zap.Error(err))
	}
}

func (b *TradingBot) loadPairInfos(ctx context.Context, pairs []domain.Pair) error {
	missing := b.book.Missing(pairs)
	if len(missing) == 0 {
		return nil
	}

	infos, err := retrier.DoWithData(b.retrier, ctx, func(ctx context.Context) (map[domain.Pair]domain.PairInfo, error) {
		return b.exchange.TradablePairs(ctx, missing...)
	})
	if err != nil {
		return errors.Wrap(err, "failed to load pair info")
	}
	b.book.Set(infos)

	if still := b.book.Missing(missing); len(still) > 0 {
		return errors.Errorf("pairs not tradable on the exchange: %v", still)
	}
	for pair, info := range infos {
		b.l.Info("Loaded pair info",
			zap.String("pair", pair.String()),
			zap.String("min_qty", info.MinOrderQty.String()),
			zap.Int32("price_decimals", info.PriceDecimals),
			zap.Int32("volume_decimals", info.VolumeDecimals))
	}
	return nil
}
