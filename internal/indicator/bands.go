package indicator

import (
	"fmt"
	"strconv"

	"taengine/internal/filter"
	"taengine/internal/numeric"
	"taengine/internal/rolling"
	"taengine/internal/series"
	"taengine/internal/signal"
)

// ── Bollinger Bands ─────────────────────────────────────────────────

// BollingerConfig configures the bands and the fast/slow EMA pair used for
// the crossover half of the signal.
type BollingerConfig struct {
	Period     int
	Width      float64 // standard deviations
	FastPeriod int
	SlowPeriod int
	Policy     rolling.Policy
}

func DefaultBollingerConfig() BollingerConfig {
	return BollingerConfig{Period: 20, Width: 2, FastPeriod: 9, SlowPeriod: 21}
}

func (c BollingerConfig) Validate() error {
	if err := validatePeriod("Bollinger", "period", c.Period); err != nil {
		return err
	}
	if err := validatePeriod("Bollinger", "fast period", c.FastPeriod); err != nil {
		return err
	}
	if err := validatePeriod("Bollinger", "slow period", c.SlowPeriod); err != nil {
		return err
	}
	if !(c.Width > 0) || !numeric.IsFinite(c.Width) {
		return fmt.Errorf("%w: Bollinger width must be positive, got %v", ErrInvalidConfig, c.Width)
	}
	if err := (rolling.WindowSpec{Length: c.Period, Policy: c.Policy}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// BollingerBands places bands Width population standard deviations around
// a rolling mean.
type BollingerBands struct{ cfg BollingerConfig }

func NewBollingerBands(cfg BollingerConfig) (*BollingerBands, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BollingerBands{cfg: cfg}, nil
}

func (b *BollingerBands) Name() string { return "BB_" + strconv.Itoa(b.cfg.Period) }

func (b *BollingerBands) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	x := in.Series.Values
	n := len(x)
	win := rolling.WindowSpec{Length: b.cfg.Period, Policy: b.cfg.Policy}
	middle, err := rolling.Average(x, win)
	if err != nil {
		return nil, err
	}
	sd, err := rolling.StdDevPopulation(x, win)
	if err != nil {
		return nil, err
	}
	upper := make([]float64, n)
	lower := make([]float64, n)
	width := make([]float64, n)
	for i := range x {
		upper[i] = middle[i] + b.cfg.Width*sd[i]
		lower[i] = middle[i] - b.cfg.Width*sd[i]
		width[i] = numeric.SafeDiv(upper[i]-lower[i], middle[i])
	}

	fastF, err := filter.NewEMA(b.cfg.FastPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	slowF, err := filter.NewEMA(b.cfg.SlowPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	fast := filter.Apply(fastF, x)
	slow := filter.Apply(slowF, x)

	sigs := make([]signal.Signal, n)
	for i := range sigs {
		sigs[i] = signal.BollingerBands(signal.BandsInput{
			Price:    x[i],
			Upper:    upper[i],
			Middle:   middle[i],
			Lower:    lower[i],
			Fast:     fast[i],
			Slow:     slow[i],
			PrevFast: prev(fast, i),
			PrevSlow: prev(slow, i),
		})
	}

	return series.NewAggregator(n).
		Add("middle", middle).
		Add("upper", upper).
		Add("lower", lower).
		Add("bandwidth", width).
		SetPrimary("middle").
		SetSignals(sigs).
		Build()
}

// ── Donchian channel ────────────────────────────────────────────────

// Donchian tracks the highest high and lowest low of the Period bars before
// the current one. The current bar is excluded so a close beyond the channel
// is a breakout; the first bar uses its own range.
type Donchian struct{ cfg PeriodConfig }

func NewDonchian(cfg PeriodConfig) (*Donchian, error) {
	if err := cfg.validate("Donchian"); err != nil {
		return nil, err
	}
	return &Donchian{cfg: cfg}, nil
}

func (d *Donchian) Name() string { return "DONCHIAN_" + strconv.Itoa(d.cfg.Period) }

func (d *Donchian) Evaluate(in Input) (*series.Result, error) {
	if err := in.requireBars(); err != nil {
		return nil, err
	}
	win := rolling.Partial(d.cfg.Period)
	hh, err := rolling.Max(in.Bars.High(), win)
	if err != nil {
		return nil, err
	}
	ll, err := rolling.Min(in.Bars.Low(), win)
	if err != nil {
		return nil, err
	}
	x := in.Series.Values
	n := len(x)
	upper := make([]float64, n)
	lower := make([]float64, n)
	middle := make([]float64, n)
	sigs := make([]signal.Signal, n)
	for i := range x {
		if i == 0 {
			upper[i], lower[i] = in.Bars.High()[0], in.Bars.Low()[0]
		} else {
			upper[i], lower[i] = hh[i-1], ll[i-1]
		}
		middle[i] = (upper[i] + lower[i]) / 2
		sigs[i] = signal.Condition(x[i] > upper[i], x[i] < lower[i])
	}

	return series.NewAggregator(n).
		Add("upper", upper).
		Add("middle", middle).
		Add("lower", lower).
		SetPrimary("middle").
		SetSignals(sigs).
		Build()
}
