// Package config loads the bot configuration from a yaml file or command line
// flags, with secrets and connection strings taken from the environment.
package config

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/services/signal"
	"github.com/vadiminshakov/dcabot/internal/services/strategy/dca"
	"github.com/vadiminshakov/dcabot/internal/storage/journal"
	"github.com/vadiminshakov/dcabot/internal/storage/positions"
	"github.com/vadiminshakov/dcabot/internal/storage/simstate"
)

const (
	PlatformBinance  = "binance"
	PlatformBybit    = "bybit"
	PlatformSimulate = "simulate"
)

const (
	defaultTargetProfit     = "0.5"
	defaultVolumeScale      = "2"
	defaultStepScale        = "2"
	defaultPriceDeviation   = "1"
	defaultSafetyOrdersMax  = 5
	defaultSafetyOrdersOpen = 2
	defaultPollInterval     = time.Minute
	defaultNap              = time.Second
	defaultWatchListRefresh = time.Hour
	defaultSignalRefresh    = 5 * time.Minute
	defaultSignalRSIMax     = "70"
	defaultDSN              = "./wal/positions.db"
	defaultLogLevel         = "info"
	defaultQuoteBalance     = "1000"
	defaultLockTTL          = 5 * time.Minute
)

// Config is the validated bot configuration.
type Config struct {
	Platform  string
	APIKey    string
	APISecret string

	WatchList        []domain.Pair
	WatchListRefresh time.Duration

	SignalSource    string
	SignalIntervals []string
	SignalRefresh   time.Duration
	SignalRSIMax    decimal.Decimal

	Ladder        domain.LadderParams
	BaseOrderSize decimal.Decimal
	ActiveMax     int

	PollInterval time.Duration
	Nap          time.Duration
	Workers      int

	DBDriver   string
	DBDSN      string
	JournalDir string
	RedisAddr  string
	LockTTL    time.Duration

	MetricsAddr string
	TLSDomains  []string
	TLSCacheDir string

	LogLevel             string
	SimulateQuoteBalance decimal.Decimal
	SimulateStateDir     string
}

// ConfigTmp is the yaml representation of Config. Numbers are kept as strings
// so decimals are parsed without float rounding.
type ConfigTmp struct {
	Platform         string        `yaml:"platform"`
	WatchList        []string      `yaml:"watch_list"`
	WatchListRefresh time.Duration `yaml:"watch_list_refresh,omitempty"`
	SignalSource     string        `yaml:"signal_source,omitempty"`
	SignalIntervals  []string      `yaml:"signal_intervals,omitempty"`
	SignalRefresh    time.Duration `yaml:"signal_refresh_interval,omitempty"`
	SignalRSIMax     string        `yaml:"signal_rsi_max,omitempty"`
	TargetProfit     string        `yaml:"target_profit_percent,omitempty"`
	BaseOrderSize    string        `yaml:"base_order_size"`
	SafetyOrderSize  string        `yaml:"safety_order_size,omitempty"`
	SafetyOrdersMax  string        `yaml:"safety_orders_max,omitempty"`
	SafetyOrdersOpen string        `yaml:"safety_orders_active_max,omitempty"`
	VolumeScale      string        `yaml:"safety_order_volume_scale,omitempty"`
	StepScale        string        `yaml:"safety_order_step_scale,omitempty"`
	PriceDeviation   string        `yaml:"safety_order_price_deviation,omitempty"`
	PollInterval     time.Duration `yaml:"poll_interval,omitempty"`
	Nap              time.Duration `yaml:"nap,omitempty"`
	Workers          int           `yaml:"workers,omitempty"`
	DBDriver         string        `yaml:"db_driver,omitempty"`
	DBDSN            string        `yaml:"db_dsn,omitempty"`
	JournalDir       string        `yaml:"journal_dir,omitempty"`
	RedisAddr        string        `yaml:"redis_addr,omitempty"`
	LockTTL          time.Duration `yaml:"lock_ttl,omitempty"`
	MetricsAddr      string        `yaml:"metrics_addr,omitempty"`
	TLSDomains       []string      `yaml:"tls_domains,omitempty"`
	TLSCacheDir      string        `yaml:"tls_cache_dir,omitempty"`
	LogLevel         string        `yaml:"log_level,omitempty"`
	SimulateQuoteBal string        `yaml:"simulate_quote_balance,omitempty"`
	SimulateStateDir string        `yaml:"simulate_state_dir,omitempty"`
}

// Get reads the configuration for the run command: the yaml file named by
// --config, or the command line flags when it is absent. Secrets come from the
// environment, optionally seeded from a .env file.
func Get(args []string) (Config, error) {
	tmp, path, err := fromFlags(args)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if path != "" {
		cfg, err = Load(path)
	} else {
		cfg, err = tmp.Parse()
	}
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Load parses the yaml file at path and fills in defaults. It does not read
// the environment.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, errors.Wrapf(err, "decode config %s", path)
	}

	return tmp.Parse()
}

// Parse applies defaults and converts the raw values.
func (c ConfigTmp) Parse() (Config, error) {
	cfg := Config{
		Platform:         strings.ToLower(strings.TrimSpace(c.Platform)),
		WatchListRefresh: orDuration(c.WatchListRefresh, defaultWatchListRefresh),
		SignalSource:     orString(c.SignalSource, signal.SourceAlways),
		SignalIntervals:  c.SignalIntervals,
		SignalRefresh:    orDuration(c.SignalRefresh, defaultSignalRefresh),
		PollInterval:     orDuration(c.PollInterval, defaultPollInterval),
		Nap:              orDuration(c.Nap, defaultNap),
		Workers:          c.Workers,
		DBDriver:         orString(c.DBDriver, positions.DriverSQLite),
		DBDSN:            orString(c.DBDSN, defaultDSN),
		JournalDir:       orString(c.JournalDir, journal.DefaultDir),
		RedisAddr:        c.RedisAddr,
		LockTTL:          orDuration(c.LockTTL, defaultLockTTL),
		MetricsAddr:      c.MetricsAddr,
		TLSDomains:       c.TLSDomains,
		TLSCacheDir:      c.TLSCacheDir,
		LogLevel:         orString(c.LogLevel, defaultLogLevel),
		SimulateStateDir: orString(c.SimulateStateDir, simstate.DefaultDir),
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if len(cfg.SignalIntervals) == 0 {
		cfg.SignalIntervals = []string{"1h"}
	}

	for _, raw := range c.WatchList {
		pair, err := domain.ParsePair(raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect 'watch_list' entry %q", raw)
		}
		cfg.WatchList = append(cfg.WatchList, pair)
	}

	var err error
	decimals := []struct {
		key    string
		raw    string
		def    string
		target *decimal.Decimal
	}{
		{"target_profit_percent", c.TargetProfit, defaultTargetProfit, &cfg.Ladder.TargetProfit},
		{"safety_order_volume_scale", c.VolumeScale, defaultVolumeScale, &cfg.Ladder.VolumeScale},
		{"safety_order_step_scale", c.StepScale, defaultStepScale, &cfg.Ladder.StepScale},
		{"safety_order_price_deviation", c.PriceDeviation, defaultPriceDeviation, &cfg.Ladder.PriceDeviation},
		{"safety_order_size", c.SafetyOrderSize, "0", &cfg.Ladder.SafetyOrderSize},
		{"base_order_size", c.BaseOrderSize, "0", &cfg.BaseOrderSize},
		{"signal_rsi_max", c.SignalRSIMax, defaultSignalRSIMax, &cfg.SignalRSIMax},
		{"simulate_quote_balance", c.SimulateQuoteBal, defaultQuoteBalance, &cfg.SimulateQuoteBalance},
	}
	for _, d := range decimals {
		if *d.target, err = parseDecimal(d.key, d.raw, d.def); err != nil {
			return Config{}, err
		}
	}

	if cfg.Ladder.MaxRungs, err = parseInt("safety_orders_max", c.SafetyOrdersMax, defaultSafetyOrdersMax); err != nil {
		return Config{}, err
	}
	if cfg.ActiveMax, err = parseInt("safety_orders_active_max", c.SafetyOrdersOpen, defaultSafetyOrdersOpen); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnv reads API keys for the platform and lets DATABASE_DSN and
// REDIS_ADDR override the file.
func (c *Config) applyEnv() {
	switch c.Platform {
	case PlatformBinance:
		c.APIKey, c.APISecret = os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET")
	case PlatformBybit:
		c.APIKey, c.APISecret = os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET")
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.DBDSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
}

// Validate checks everything the bot needs before it touches an exchange.
func (c Config) Validate() error {
	switch c.Platform {
	case PlatformBinance, PlatformBybit:
		if c.APIKey == "" || c.APISecret == "" {
			return errors.Errorf("%s_API_KEY and %s_API_SECRET environment variables must be set",
				strings.ToUpper(c.Platform), strings.ToUpper(c.Platform))
		}
	case PlatformSimulate:
		if !c.SimulateQuoteBalance.IsPositive() {
			return errors.New("simulate_quote_balance must be positive")
		}
	default:
		return errors.Errorf("unsupported platform: %q", c.Platform)
	}

	if len(c.WatchList) == 0 {
		return errors.New("watch_list must contain at least one pair")
	}
	if err := c.Settings().Validate(); err != nil {
		return err
	}
	if c.ActiveMax > c.Ladder.MaxRungs {
		return errors.Errorf("safety_orders_active_max %d exceeds safety_orders_max %d", c.ActiveMax, c.Ladder.MaxRungs)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be >= 1, got %d", c.Workers)
	}

	switch c.SignalSource {
	case signal.SourceAlways:
	case signal.SourceIndicators:
		if !c.SignalRSIMax.IsPositive() {
			return errors.New("signal_rsi_max must be positive")
		}
	default:
		return errors.Errorf("unsupported signal_source: %q", c.SignalSource)
	}

	switch c.DBDriver {
	case positions.DriverSQLite, positions.DriverMySQL:
	default:
		return errors.Errorf("unsupported db_driver: %q", c.DBDriver)
	}

	return nil
}

// Settings returns the strategy parameters shared by every symbol.
func (c Config) Settings() dca.Settings {
	return dca.Settings{
		Ladder:        c.Ladder,
		BaseOrderSize: c.BaseOrderSize,
		ActiveMax:     c.ActiveMax,
		Nap:           c.Nap,
	}
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

func parseDecimal(key, raw, def string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		raw = def
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "incorrect '%s' param (must be a decimal)", key)
	}
	return d, nil
}

func parseInt(key, raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(err, "incorrect '%s' param (must be an integer)", key)
	}
	return n, nil
}

func orString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
