package domain

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// LadderParams strategy parameters of the safety order ladder. Percent values
// are given in percent, not fractions (1 means 1%).
type LadderParams struct {
	PriceDeviation decimal.Decimal
	StepScale      decimal.Decimal
	VolumeScale    decimal.Decimal
	MaxRungs       int
	TargetProfit   decimal.Decimal
	// SafetyOrderSize is the quantity of the first safety order. Zero means
	// the first safety order repeats the base order quantity.
	SafetyOrderSize decimal.Decimal
}

// Validate checks that the parameters produce a ladder with positive prices.
func (p LadderParams) Validate() error {
	if !p.PriceDeviation.IsPositive() {
		return errors.Wrapf(ErrInvalidParameter, "price deviation must be positive, got %s", p.PriceDeviation)
	}
	if p.StepScale.LessThan(one) {
		return errors.Wrapf(ErrInvalidParameter, "step scale must be >= 1, got %s", p.StepScale)
	}
	if p.VolumeScale.LessThan(one) {
		return errors.Wrapf(ErrInvalidParameter, "volume scale must be >= 1, got %s", p.VolumeScale)
	}
	if p.MaxRungs < 1 {
		return errors.Wrapf(ErrInvalidParameter, "max safety orders must be >= 1, got %d", p.MaxRungs)
	}
	if !p.TargetProfit.IsPositive() {
		return errors.Wrapf(ErrInvalidParameter, "target profit must be positive, got %s", p.TargetProfit)
	}
	if p.SafetyOrderSize.IsNegative() {
		return errors.Wrapf(ErrInvalidParameter, "safety order size must not be negative, got %s", p.SafetyOrderSize)
	}

	devs := p.Deviations()
	if last := devs[len(devs)-1]; last.GreaterThanOrEqual(hundred) {
		return errors.Wrapf(ErrInvalidParameter,
			"safety order %d deviates %s%% from the base price, prices would not be positive", len(devs), last)
	}

	return nil
}

// Deviations returns the cumulative deviation of every rung. Each gap between
// two rungs is the previous gap multiplied by the step scale.
func (p LadderParams) Deviations() []decimal.Decimal {
	if p.MaxRungs < 1 {
		return nil
	}

	devs := make([]decimal.Decimal, p.MaxRungs)
	dev := p.PriceDeviation
	step := p.PriceDeviation.Mul(p.StepScale)
	devs[0] = dev
	for i := 1; i < p.MaxRungs; i++ {
		dev = dev.Add(step)
		step = step.Mul(p.StepScale)
		devs[i] = dev
	}

	return devs
}

// Rung is a single safety order of the ladder. Cumulative values include the base order.
type Rung struct {
	Number             int             `json:"number"`
	Deviation          decimal.Decimal `json:"deviation"`
	Price              decimal.Decimal `json:"price"`
	Quantity           decimal.Decimal `json:"quantity"`
	CumulativeQuantity decimal.Decimal `json:"cumulative_quantity"`
	AveragePrice       decimal.Decimal `json:"average_price"`
	RequiredPrice      decimal.Decimal `json:"required_price"`
	RequiredChange     decimal.Decimal `json:"required_change"`
	Profit             decimal.Decimal `json:"profit"`
}

// Ladder is computed once when a position is entered and never changes afterwards.
type Ladder struct {
	Pair          Pair            `json:"pair"`
	BasePrice     decimal.Decimal `json:"base_price"`
	BaseQuantity  decimal.Decimal `json:"base_quantity"`
	TargetProfit  decimal.Decimal `json:"target_profit"`
	PriceDecimals int32           `json:"price_decimals"`
	CreatedAt     time.Time       `json:"created_at"`
	Rungs         []Rung          `json:"rungs"`
}

// BuildLadder computes the safety order ladder below basePrice.
func BuildLadder(pair Pair, basePrice, baseQty decimal.Decimal, params LadderParams, info PairInfo) (*Ladder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !basePrice.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidParameter, "base price must be positive, got %s", basePrice)
	}
	if !baseQty.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidParameter, "base quantity must be positive, got %s", baseQty)
	}

	volume := params.SafetyOrderSize
	if volume.IsZero() {
		volume = baseQty
	}

	cost := basePrice.Mul(baseQty)
	cumulative := baseQty
	prevPrice := basePrice

	devs := params.Deviations()
	rungs := make([]Rung, 0, len(devs))
	for i, dev := range devs {
		if i > 0 {
			volume = volume.Mul(params.VolumeScale)
		}

		price := basePrice.Mul(one.Sub(dev.Div(hundred))).RoundFloor(info.PriceDecimals)
		if !price.IsPositive() {
			return nil, errors.Wrapf(ErrInvalidParameter, "safety order %d price %s is not positive", i+1, price)
		}
		if !price.LessThan(prevPrice) {
			return nil, errors.Wrapf(ErrInvalidParameter,
				"safety order %d price %s does not decrease at %d price decimals", i+1, price, info.PriceDecimals)
		}

		qty := volume.RoundFloor(info.VolumeDecimals)
		if !qty.IsPositive() {
			return nil, errors.Wrapf(ErrInvalidParameter,
				"safety order %d quantity rounds to zero at %d volume decimals", i+1, info.VolumeDecimals)
		}

		cost = cost.Add(price.Mul(qty))
		cumulative = cumulative.Add(qty)
		avg := cost.Div(cumulative)
		required := TakeProfitPrice(avg, params.TargetProfit, info.PriceDecimals)

		rungs = append(rungs, Rung{
			Number:             i + 1,
			Deviation:          dev,
			Price:              price,
			Quantity:           qty,
			CumulativeQuantity: cumulative,
			AveragePrice:       avg,
			RequiredPrice:      required,
			RequiredChange:     required.Div(price).Sub(one).Mul(hundred).Round(4),
			Profit:             ProfitPotential(avg, cumulative, params.TargetProfit),
		})
		prevPrice = price
	}

	return &Ladder{
		Pair:          pair,
		BasePrice:     basePrice,
		BaseQuantity:  baseQty,
		TargetProfit:  params.TargetProfit,
		PriceDecimals: info.PriceDecimals,
		CreatedAt:     time.Now().UTC(),
		Rungs:         rungs,
	}, nil
}

// TakeProfitPrice is the limit sell price that realises targetProfit percent over avg,
// rounded down to the pair price precision.
func TakeProfitPrice(avg, targetProfit decimal.Decimal, priceDecimals int32) decimal.Decimal {
	return avg.Mul(one.Add(targetProfit.Div(hundred))).RoundFloor(priceDecimals)
}

// ProfitPotential is the quote profit of selling qty bought at avg with targetProfit percent.
func ProfitPotential(avg, qty, targetProfit decimal.Decimal) decimal.Decimal {
	return avg.Mul(qty).Mul(targetProfit).Div(hundred)
}

// SellTarget describes the take-profit order covering the base order and the first
// RungNumber safety orders.
type SellTarget struct {
	RungNumber int
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Profit     decimal.Decimal
}

// SellTarget returns the take-profit order for a position in which the first
// filledRungs safety orders are filled.
func (l *Ladder) SellTarget(filledRungs int) (SellTarget, error) {
	if filledRungs < 0 || filledRungs > len(l.Rungs) {
		return SellTarget{}, errors.Wrapf(ErrInvariantViolation,
			"%d filled safety orders for a ladder of %d", filledRungs, len(l.Rungs))
	}

	if filledRungs == 0 {
		return SellTarget{
			Quantity: l.BaseQuantity,
			Price:    TakeProfitPrice(l.BasePrice, l.TargetProfit, l.PriceDecimals),
			Profit:   ProfitPotential(l.BasePrice, l.BaseQuantity, l.TargetProfit),
		}, nil
	}

	r := l.Rungs[filledRungs-1]
	return SellTarget{
		RungNumber: r.Number,
		Quantity:   r.CumulativeQuantity,
		Price:      r.RequiredPrice,
		Profit:     r.Profit,
	}, nil
}

// SellTargetFor returns the take-profit order for the filled safety orders
// numbered in filled. Contiguous fills from rung 1 map onto the precomputed
// rung. When a skipped rung leaves a gap the target is recomputed from the
// rungs that actually filled so the sell never exceeds the bought quantity.
func (l *Ladder) SellTargetFor(filled []int) (SellTarget, error) {
	numbers := append([]int(nil), filled...)
	sort.Ints(numbers)

	contiguous := true
	for i, n := range numbers {
		if _, ok := l.Rung(n); !ok {
			return SellTarget{}, errors.Wrapf(ErrInvariantViolation, "safety order %d is not on the ladder", n)
		}
		if i > 0 && numbers[i-1] == n {
			return SellTarget{}, errors.Wrapf(ErrInvariantViolation, "safety order %d filled twice", n)
		}
		if n != i+1 {
			contiguous = false
		}
	}
	if contiguous {
		return l.SellTarget(len(numbers))
	}

	cost := l.BasePrice.Mul(l.BaseQuantity)
	qty := l.BaseQuantity
	for _, n := range numbers {
		r, _ := l.Rung(n)
		cost = cost.Add(r.Price.Mul(r.Quantity))
		qty = qty.Add(r.Quantity)
	}
	avg := cost.Div(qty)

	return SellTarget{
		RungNumber: numbers[len(numbers)-1],
		Quantity:   qty,
		Price:      TakeProfitPrice(avg, l.TargetProfit, l.PriceDecimals),
		Profit:     ProfitPotential(avg, qty, l.TargetProfit),
	}, nil
}

// Rung returns the rung with the given 1-based number.
func (l *Ladder) Rung(number int) (Rung, bool) {
	if number < 1 || number > len(l.Rungs) {
		return Rung{}, false
	}
	return l.Rungs[number-1], true
}
