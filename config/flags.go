package config

import (
	"flag"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// fromFlags parses the run command line. When --config is given the other
// flags are ignored and only the path is returned.
func fromFlags(args []string) (tmp ConfigTmp, path string, _ error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to yaml config")
	platform := fs.String("platform", PlatformSimulate, "exchange: binance, bybit or simulate")
	pairs := fs.String("pairs", "BTC_USDT", "comma separated watch list, example: BTC_USDT,ETH_USDT")
	baseOrder := fs.String("base-order-size", "", "base order quantity in the base asset, example: 0.001")
	safetyOrder := fs.String("safety-order-size", "", "first safety order quantity, defaults to the base order")
	targetProfit := fs.String("target-profit", defaultTargetProfit, "take profit percent")
	deviation := fs.String("price-deviation", defaultPriceDeviation, "percent below entry of the first safety order")
	stepScale := fs.String("step-scale", defaultStepScale, "growth of the gap between safety orders")
	volumeScale := fs.String("volume-scale", defaultVolumeScale, "growth of the safety order quantity")
	maxOrders := fs.String("safety-orders-max", "", "safety orders in the ladder")
	activeOrders := fs.String("safety-orders-active-max", "", "safety orders resting on the exchange at once")
	poll := fs.Duration("poll-interval", defaultPollInterval, "pause between cycles")
	nap := fs.Duration("nap", defaultNap, "pause between exchange calls")
	workers := fs.Int("workers", 1, "symbols processed in parallel")
	logLevel := fs.String("log-level", defaultLogLevel, "debug, info, warn or error")
	metricsAddr := fs.String("metrics-addr", "", "status server address, example: :9090")

	if err := fs.Parse(args); err != nil {
		return ConfigTmp{}, "", errors.Wrap(err, "parse flags")
	}
	if *configPath != "" {
		return ConfigTmp{}, *configPath, nil
	}
	if *baseOrder == "" {
		return ConfigTmp{}, "", errors.New("either --config or --base-order-size must be provided")
	}

	var watch []string
	for _, p := range strings.Split(*pairs, ",") {
		if p = strings.TrimSpace(p); p != "" {
			watch = append(watch, p)
		}
	}

	return ConfigTmp{
		Platform:         *platform,
		WatchList:        watch,
		BaseOrderSize:    *baseOrder,
		SafetyOrderSize:  *safetyOrder,
		TargetProfit:     *targetProfit,
		PriceDeviation:   *deviation,
		StepScale:        *stepScale,
		VolumeScale:      *volumeScale,
		SafetyOrdersMax:  *maxOrders,
		SafetyOrdersOpen: *activeOrders,
		PollInterval:     *poll,
		Nap:              *nap,
		Workers:          *workers,
		LogLevel:         *logLevel,
		MetricsAddr:      *metricsAddr,
		WatchListRefresh: time.Hour,
	}, "", nil
}
