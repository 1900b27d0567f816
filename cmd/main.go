// Command dcabot runs the safety order (DCA) trading bot on Binance, Bybit or
// a paper exchange.
//
// Usage:
//
//	dcabot [run] --config config.yaml
//	dcabot [run] --pairs BTC_USDT,ETH_USDT --base-order-size 0.001
//	dcabot preview --config config.yaml [--pair BTC_USDT] [--price 100]
//	dcabot setup
//
// Environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	Optional: DATABASE_DSN, REDIS_ADDR
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/dcabot/config"
	"github.com/vadiminshakov/dcabot/internal"
	"github.com/vadiminshakov/dcabot/internal/clients"
	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/metrics"
	"github.com/vadiminshakov/dcabot/internal/setup"
	"github.com/vadiminshakov/dcabot/internal/storage/journal"
	"github.com/vadiminshakov/dcabot/internal/storage/locks"
	"github.com/vadiminshakov/dcabot/internal/storage/positions"
	"github.com/vadiminshakov/dcabot/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		return runBot(args)
	case "preview":
		return preview(args)
	case "setup":
		return setup.RunTUI()
	default:
		return fmt.Errorf("unknown command %q, expected run, preview or setup", cmd)
	}
}

func runBot(args []string) error {
	cfg, err := config.Get(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := positions.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return errors.Wrap(err, "failed to open position store")
	}
	defer store.Close()

	wal, err := journal.NewWALStore(cfg.JournalDir)
	if err != nil {
		return errors.Wrap(err, "failed to open journal")
	}
	defer wal.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var locker internal.Locker = locks.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrapf(err, "failed to reach redis at %s", cfg.RedisAddr)
		}
		locker = locks.NewRedis(logger.Named("locks"), rdb, cfg.LockTTL)
	}

	client, err := clients.New(cfg.Platform, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return err
	}

	bot, err := internal.NewTradingBot(logger, cfg, client, internal.Resources{
		Store:   store,
		Journal: wal,
		Metrics: metrics.New(reg),
		Locker:  locker,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create trading bot")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.MetricsAddr != "" {
		srv := web.NewServer(logger.Named("web"), cfg.MetricsAddr, store, wal, reg)
		g.Go(func() error {
			if len(cfg.TLSDomains) > 0 {
				return srv.StartWithAutoTLS(gctx, cfg.TLSDomains, cfg.TLSCacheDir)
			}
			return srv.Start(gctx)
		})
	}

	logger.Info("dcabot started",
		zap.String("platform", cfg.Platform),
		zap.Int("watch_list", len(cfg.WatchList)),
		zap.String("signal", cfg.SignalSource))

	return g.Wait()
}

// preview prints the ladder for the configured parameters without placing orders.
func preview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to yaml config")
	pairFlag := fs.String("pair", "", "pair to preview, defaults to the first watched pair")
	priceFlag := fs.String("price", "", "entry price, defaults to the current ask")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("--config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Settings().Validate(); err != nil {
		return err
	}

	var pair domain.Pair
	switch {
	case *pairFlag != "":
		if pair, err = domain.ParsePair(*pairFlag); err != nil {
			return err
		}
	case len(cfg.WatchList) > 0:
		pair = cfg.WatchList[0]
	default:
		return errors.New("--pair is required when the watch list is empty")
	}

	price := decimal.Zero
	if *priceFlag != "" {
		if price, err = decimal.NewFromString(*priceFlag); err != nil {
			return errors.Wrap(err, "incorrect --price")
		}
	}

	// market data is public, no keys needed
	client, err := clients.New(cfg.Platform, "", "")
	if err != nil {
		return err
	}

	ladder, err := internal.PreviewLadder(context.Background(), zap.NewNop(), cfg, client, pair, price)
	if err != nil {
		return err
	}

	fmt.Println(setup.RenderLadder(ladder))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "incorrect log_level %q", level)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	return zcfg.Build()
}
