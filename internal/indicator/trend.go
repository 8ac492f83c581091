package indicator

import (
	"fmt"
	"strconv"

	"taengine/internal/filter"
	"taengine/internal/model"
	"taengine/internal/numeric"
	"taengine/internal/rolling"
	"taengine/internal/series"
	"taengine/internal/signal"
)

// ── Elder ray ───────────────────────────────────────────────────────

// ElderRay measures bull power (high - EMA) and bear power (low - EMA).
type ElderRay struct {
	cfg PeriodConfig
	f   filter.EMA
}

func NewElderRay(cfg PeriodConfig) (*ElderRay, error) {
	if err := cfg.validate("ElderRay"); err != nil {
		return nil, err
	}
	f, err := filter.NewEMA(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &ElderRay{cfg: cfg, f: f}, nil
}

func (e *ElderRay) Name() string { return "ELDERRAY_" + strconv.Itoa(e.cfg.Period) }

func (e *ElderRay) Evaluate(in Input) (*series.Result, error) {
	if err := in.requireBars(); err != nil {
		return nil, err
	}
	ema := filter.Apply(e.f, in.Series.Values)
	high, low := in.Bars.High(), in.Bars.Low()
	n := in.Len()
	bull := make([]float64, n)
	bear := make([]float64, n)
	sigs := make([]signal.Signal, n)
	for i := range ema {
		bull[i] = high[i] - ema[i]
		bear[i] = low[i] - ema[i]
		sigs[i] = signal.BullishBearish(bull[i], prev(bull, i), bear[i], prev(bear, i))
	}

	return series.NewAggregator(n).
		Add("bull", bull).
		Add("bear", bear).
		Add("ema", ema).
		SetPrimary("bull").
		SetSignals(sigs).
		Build()
}

// ── Relative strength ───────────────────────────────────────────────

// RelativeStrengthConfig configures the price ratio against a benchmark.
type RelativeStrengthConfig struct {
	Period   int
	Selector model.InputSelector // benchmark price view
}

func DefaultRelativeStrengthConfig() RelativeStrengthConfig {
	return RelativeStrengthConfig{Period: 14, Selector: model.Close}
}

func (c RelativeStrengthConfig) Validate() error {
	if err := validatePeriod("RelativeStrength", "period", c.Period); err != nil {
		return err
	}
	if !c.Selector.Valid() {
		return fmt.Errorf("%w: RelativeStrength selector %v", ErrInvalidConfig, c.Selector)
	}
	return nil
}

// RelativeStrength divides the input by the benchmark bar by bar and
// compares the ratio with its own moving average. A ratio sitting exactly on
// its average counts as Buy.
type RelativeStrength struct{ cfg RelativeStrengthConfig }

func NewRelativeStrength(cfg RelativeStrengthConfig) (*RelativeStrength, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RelativeStrength{cfg: cfg}, nil
}

func (r *RelativeStrength) Name() string { return "RS_" + strconv.Itoa(r.cfg.Period) }

func (r *RelativeStrength) Evaluate(in Input) (*series.Result, error) {
	if err := in.requireBars(); err != nil {
		return nil, err
	}
	if in.Benchmark == nil {
		return nil, ErrMissingBenchmark
	}
	if err := model.CheckAligned(in.Bars, in.Benchmark); err != nil {
		return nil, fmt.Errorf("benchmark: %w", err)
	}
	x := in.Series.Values
	bench := in.Benchmark.Select(r.cfg.Selector)
	n := len(x)
	ratio := make([]float64, n)
	for i := range ratio {
		ratio[i] = numeric.SafeDiv(x[i], bench[i])
	}
	avg, err := rolling.Average(ratio, rolling.Partial(r.cfg.Period))
	if err != nil {
		return nil, err
	}
	spread := make([]float64, n)
	sigs := make([]signal.Signal, n)
	for i := range ratio {
		spread[i] = ratio[i] - avg[i]
		sigs[i] = signal.Compare(spread[i], prev(spread, i), true)
	}

	return series.NewAggregator(n).
		Add("ratio", ratio).
		Add("ratio_sma", avg).
		Add("spread", spread).
		SetPrimary("ratio").
		SetSignals(sigs).
		Build()
}
