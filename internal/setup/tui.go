package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/dcabot/config"
	"github.com/vadiminshakov/dcabot/internal/domain"
	"github.com/vadiminshakov/dcabot/internal/services/signal"
)

// GeneratedConfig is the file the wizard writes.
const GeneratedConfig = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers collects the wizard input before it becomes a config file.
type answers struct {
	platform     string
	watchList    string
	signal       string
	baseOrder    string
	safetyOrder  string
	maxOrders    string
	activeOrders string
	deviation    string
	stepScale    string
	volumeScale  string
	targetProfit string
	pollInterval string
}

func defaultAnswers() answers {
	return answers{
		platform:     config.PlatformSimulate,
		watchList:    "BTC_USDT",
		signal:       signal.SourceAlways,
		maxOrders:    "5",
		activeOrders: "2",
		deviation:    "1",
		stepScale:    "2",
		volumeScale:  "2",
		targetProfit: "0.5",
		pollInterval: "1m",
	}
}

// RunTUI launches the terminal configuration wizard and writes config.gen.yaml.
func RunTUI() error {
	a := defaultAnswers()
	var confirm bool

	step := func(title string, fields ...huh.Field) error {
		fmt.Print("\033[H\033[2J")
		fmt.Println(headerStyle.Render("DCABOT CONFIG WIZARD"))
		fmt.Println(stepStyle.Render(title))
		return huh.NewForm(huh.NewGroup(fields...)).Run()
	}

	err := step("STEP 1: PLATFORM",
		huh.NewSelect[string]().
			Title("Select Exchange Platform").
			Options(
				huh.NewOption("Binance", config.PlatformBinance),
				huh.NewOption("Bybit", config.PlatformBybit),
				huh.NewOption("Simulation", config.PlatformSimulate),
			).
			Value(&a.platform),
	)
	if err != nil {
		return err
	}

	err = step("STEP 2: ASSETS",
		huh.NewInput().
			Title("Watch List").
			Description("Comma separated pairs (e.g. BTC_USDT,ETH_USDT)").
			Value(&a.watchList).
			Validate(validateWatchList),
		huh.NewSelect[string]().
			Title("Entry Signal").
			Options(
				huh.NewOption("Always enter", signal.SourceAlways),
				huh.NewOption("Trend indicators (EMA, RSI)", signal.SourceIndicators),
			).
			Value(&a.signal),
	)
	if err != nil {
		return err
	}

	err = step("STEP 3: LADDER",
		huh.NewInput().
			Title("Base Order Size").
			Description("Quantity in the base asset (e.g. 0.001)").
			Value(&a.baseOrder).
			Validate(validatePositive),
		huh.NewInput().
			Title("Safety Order Size").
			Description("Leave empty to reuse the base order size").
			Value(&a.safetyOrder),
		huh.NewInput().
			Title("Max Safety Orders").
			Value(&a.maxOrders).
			Validate(validatePositive),
		huh.NewInput().
			Title("Active Safety Orders").
			Description("Safety orders resting on the exchange at once").
			Value(&a.activeOrders).
			Validate(validatePositive),
		huh.NewInput().
			Title("Price Deviation %").
			Description("Drop below entry for the first safety order").
			Value(&a.deviation).
			Validate(validatePositive),
		huh.NewInput().
			Title("Step Scale").
			Value(&a.stepScale).
			Validate(validatePositive),
		huh.NewInput().
			Title("Volume Scale").
			Value(&a.volumeScale).
			Validate(validatePositive),
		huh.NewInput().
			Title("Take Profit %").
			Value(&a.targetProfit).
			Validate(validatePositive),
	)
	if err != nil {
		return err
	}

	err = step("STEP 4: TIMING",
		huh.NewInput().
			Title("Poll Interval").
			Description("Duration string (e.g. 30s, 1m, 5m)").
			Value(&a.pollInterval).
			Validate(func(s string) error {
				_, err := time.ParseDuration(s)
				return err
			}),
	)
	if err != nil {
		return err
	}

	tmp, err := a.configTmp()
	if err != nil {
		return err
	}
	cfg, err := tmp.Parse()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DCABOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))
	summary := fmt.Sprintf(
		"Platform: %s\nWatch list: %s\nSignal: %s\nBase order: %s\nSafety orders: %d (%d active)\nInterval: %s\n",
		cfg.Platform, a.watchList, cfg.SignalSource, cfg.BaseOrderSize, cfg.Ladder.MaxRungs, cfg.ActiveMax, cfg.PollInterval,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := writeConfig(GeneratedConfig, tmp); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s\nRun: dcabot run --config %s", GeneratedConfig, GeneratedConfig)))
	return nil
}

func (a answers) configTmp() (config.ConfigTmp, error) {
	poll, err := time.ParseDuration(a.pollInterval)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "poll interval")
	}

	var pairs []string
	for _, p := range strings.Split(a.watchList, ",") {
		if p = strings.TrimSpace(p); p != "" {
			pairs = append(pairs, strings.ToUpper(p))
		}
	}

	return config.ConfigTmp{
		Platform:         a.platform,
		WatchList:        pairs,
		SignalSource:     a.signal,
		BaseOrderSize:    a.baseOrder,
		SafetyOrderSize:  a.safetyOrder,
		SafetyOrdersMax:  a.maxOrders,
		SafetyOrdersOpen: a.activeOrders,
		PriceDeviation:   a.deviation,
		StepScale:        a.stepScale,
		VolumeScale:      a.volumeScale,
		TargetProfit:     a.targetProfit,
		PollInterval:     poll,
	}, nil
}

func writeConfig(path string, tmp config.ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

func validateWatchList(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("watch list cannot be empty")
	}
	for _, p := range strings.Split(s, ",") {
		if _, err := domain.ParsePair(p); err != nil {
			return err
		}
	}
	return nil
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a valid number")
	}
	if !d.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}
