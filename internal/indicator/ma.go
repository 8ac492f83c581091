package indicator

import (
	"fmt"
	"math"
	"strconv"

	"taengine/internal/filter"
	"taengine/internal/numeric"
	"taengine/internal/rolling"
	"taengine/internal/series"
	"taengine/internal/signal"
)

// ── SMA ─────────────────────────────────────────────────────────────

// SMAConfig configures a simple moving average.
type SMAConfig struct {
	Period int
	Policy rolling.Policy
}

func DefaultSMAConfig() SMAConfig { return SMAConfig{Period: 20, Policy: rolling.PartialWindow} }

func (c SMAConfig) Validate() error {
	if err := validatePeriod("SMA", "period", c.Period); err != nil {
		return err
	}
	if err := (rolling.WindowSpec{Length: c.Period, Policy: c.Policy}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SMA is the arithmetic mean over a trailing window.
type SMA struct{ cfg SMAConfig }

func NewSMA(cfg SMAConfig) (*SMA, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SMA{cfg: cfg}, nil
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.cfg.Period) }

func (s *SMA) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	avg, err := rolling.Average(in.Series.Values, rolling.WindowSpec{Length: s.cfg.Period, Policy: s.cfg.Policy})
	if err != nil {
		return nil, err
	}
	return trendResult("sma", avg)
}

// ── EMA / SMMA ──────────────────────────────────────────────────────

// PeriodConfig is shared by the single-period filters.
type PeriodConfig struct {
	Period int
}

func (c PeriodConfig) validate(kind string) error { return validatePeriod(kind, "period", c.Period) }

// EMA is the exponential moving average (alpha = 2/(period+1)), seeded with
// the first input.
type EMA struct {
	cfg PeriodConfig
	f   filter.EMA
}

func NewEMA(cfg PeriodConfig) (*EMA, error) {
	if err := cfg.validate("EMA"); err != nil {
		return nil, err
	}
	f, err := filter.NewEMA(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &EMA{cfg: cfg, f: f}, nil
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.cfg.Period) }

func (e *EMA) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return trendResult("ema", filter.Apply(e.f, in.Series.Values))
}

// SMMA is Wilder's smoothed moving average (alpha = 1/period).
type SMMA struct {
	cfg PeriodConfig
	f   filter.Wilder
}

func NewSMMA(cfg PeriodConfig) (*SMMA, error) {
	if err := cfg.validate("SMMA"); err != nil {
		return nil, err
	}
	f, err := filter.NewWilder(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &SMMA{cfg: cfg, f: f}, nil
}

func (s *SMMA) Name() string { return "SMMA_" + strconv.Itoa(s.cfg.Period) }

func (s *SMMA) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return trendResult("smma", filter.Apply(s.f, in.Series.Values))
}

// ── DEMA / TEMA ─────────────────────────────────────────────────────

// DEMA is the double exponential moving average over an EMA cascade.
type DEMA struct{ cfg PeriodConfig }

func NewDEMA(cfg PeriodConfig) (*DEMA, error) {
	if err := cfg.validate("DEMA"); err != nil {
		return nil, err
	}
	return &DEMA{cfg: cfg}, nil
}

func (d *DEMA) Name() string { return "DEMA_" + strconv.Itoa(d.cfg.Period) }

func (d *DEMA) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	out, err := filter.DEMA(d.cfg.Period, in.Series.Values)
	if err != nil {
		return nil, err
	}
	return trendResult("dema", out)
}

// TEMA is the triple exponential moving average.
type TEMA struct{ cfg PeriodConfig }

func NewTEMA(cfg PeriodConfig) (*TEMA, error) {
	if err := cfg.validate("TEMA"); err != nil {
		return nil, err
	}
	return &TEMA{cfg: cfg}, nil
}

func (t *TEMA) Name() string { return "TEMA_" + strconv.Itoa(t.cfg.Period) }

func (t *TEMA) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	out, err := filter.TEMA(t.cfg.Period, in.Series.Values)
	if err != nil {
		return nil, err
	}
	return trendResult("tema", out)
}

// ── KAMA ────────────────────────────────────────────────────────────

// KAMAConfig configures Kaufman's adaptive moving average.
type KAMAConfig struct {
	Period     int // efficiency-ratio lookback
	FastPeriod int
	SlowPeriod int
}

func DefaultKAMAConfig() KAMAConfig { return KAMAConfig{Period: 10, FastPeriod: 2, SlowPeriod: 30} }

func (c KAMAConfig) Validate() error {
	for _, p := range []struct {
		name string
		v    int
	}{{"period", c.Period}, {"fast period", c.FastPeriod}, {"slow period", c.SlowPeriod}} {
		if err := validatePeriod("KAMA", p.name, p.v); err != nil {
			return err
		}
	}
	if c.FastPeriod >= c.SlowPeriod {
		return fmt.Errorf("%w: KAMA fast period %d must be below slow period %d", ErrInvalidConfig, c.FastPeriod, c.SlowPeriod)
	}
	return nil
}

// KAMA adapts its smoothing factor to the efficiency ratio: net change over
// the lookback divided by the sum of absolute bar-to-bar changes.
type KAMA struct{ cfg KAMAConfig }

func NewKAMA(cfg KAMAConfig) (*KAMA, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &KAMA{cfg: cfg}, nil
}

func (k *KAMA) Name() string { return "KAMA_" + strconv.Itoa(k.cfg.Period) }

func (k *KAMA) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	x := in.Series.Values
	n := len(x)

	absDelta := make([]float64, n)
	for i := 1; i < n; i++ {
		absDelta[i] = math.Abs(x[i] - x[i-1])
	}
	volatility, err := rolling.Sum(absDelta, rolling.Partial(k.cfg.Period))
	if err != nil {
		return nil, err
	}
	er := make([]float64, n)
	for i := range x {
		back := i - k.cfg.Period
		if back < 0 {
			back = 0
		}
		er[i] = numeric.SafeDiv(math.Abs(x[i]-x[back]), volatility[i])
	}
	alphas, err := filter.KAMAAlphas(er, k.cfg.FastPeriod, k.cfg.SlowPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	kama := filter.Apply(filter.Adaptive{Alphas: alphas}, x)

	return series.NewAggregator(n).
		Add("kama", kama).
		Add("efficiency_ratio", er).
		SetPrimary("kama").
		SetSignals(signal.Series(kama, false)).
		Build()
}

// ── Ehlers filters ──────────────────────────────────────────────────

// SuperSmoother wraps the two-pole Butterworth low-pass filter.
type SuperSmoother struct {
	cfg PeriodConfig
	f   filter.SuperSmoother
}

func NewSuperSmoother(cfg PeriodConfig) (*SuperSmoother, error) {
	f, err := filter.NewSuperSmoother(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &SuperSmoother{cfg: cfg, f: f}, nil
}

func (s *SuperSmoother) Name() string { return "SUPERSMOOTHER_" + strconv.Itoa(s.cfg.Period) }

func (s *SuperSmoother) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return trendResult("supersmoother", filter.Apply(s.f, in.Series.Values))
}

// HighPass isolates the cyclic component of the input. It starts at zero,
// so the first bar is always Neutral.
type HighPass struct {
	cfg PeriodConfig
	f   filter.HighPass
}

func NewHighPass(cfg PeriodConfig) (*HighPass, error) {
	f, err := filter.NewHighPass(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &HighPass{cfg: cfg, f: f}, nil
}

func (h *HighPass) Name() string { return "HIGHPASS_" + strconv.Itoa(h.cfg.Period) }

func (h *HighPass) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return trendResult("highpass", filter.Apply(h.f, in.Series.Values))
}
