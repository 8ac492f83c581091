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

// directionSignals classifies the input's bar-to-bar change, muted while
// metric sits below threshold.
func directionSignals(x, metric []float64, threshold float64) []signal.Signal {
	dx := signal.Deltas(x)
	out := make([]signal.Signal, len(x))
	for i := range x {
		out[i] = signal.Volatility(dx[i], prev(dx, i), metric[i], threshold)
	}
	return out
}

func validateThreshold(kind string, v float64) error {
	if v < 0 || !numeric.IsFinite(v) {
		return fmt.Errorf("%w: %s threshold must be a non-negative number, got %v", ErrInvalidConfig, kind, v)
	}
	return nil
}

// ── ATR ─────────────────────────────────────────────────────────────

// ATRConfig configures the average true range. Threshold applies to NATR
// (ATR as a percentage of close).
type ATRConfig struct {
	Period    int
	Threshold float64
}

func DefaultATRConfig() ATRConfig { return ATRConfig{Period: 14, Threshold: 0.5} }

func (c ATRConfig) Validate() error {
	if err := validatePeriod("ATR", "period", c.Period); err != nil {
		return err
	}
	return validateThreshold("ATR", c.Threshold)
}

// ATR is Wilder-smoothed true range. The first bar's true range is its
// high-low span.
type ATR struct{ cfg ATRConfig }

func NewATR(cfg ATRConfig) (*ATR, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ATR{cfg: cfg}, nil
}

func (a *ATR) Name() string { return "ATR_" + strconv.Itoa(a.cfg.Period) }

func (a *ATR) Evaluate(in Input) (*series.Result, error) {
	if err := in.requireBars(); err != nil {
		return nil, err
	}
	high, low, closes := in.Bars.High(), in.Bars.Low(), in.Bars.Close()
	n := in.Len()
	tr := make([]float64, n)
	for i := range tr {
		tr[i] = high[i] - low[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Max(math.Abs(high[i]-closes[i-1]), math.Abs(low[i]-closes[i-1])))
		}
	}
	wilder, err := filter.NewWilder(a.cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	atr := filter.Apply(wilder, tr)
	natr := make([]float64, n)
	for i := range natr {
		natr[i] = 100 * numeric.SafeDiv(atr[i], closes[i])
	}

	return series.NewAggregator(n).
		Add("atr", atr).
		Add("natr", natr).
		Add("true_range", tr).
		SetPrimary("atr").
		SetSignals(directionSignals(in.Series.Values, natr, a.cfg.Threshold)).
		Build()
}

// ── Historical volatility ───────────────────────────────────────────

// HistoricalVolatilityConfig configures the close-to-close volatility
// estimate. Annualization scales the per-bar deviation (252 for daily bars).
type HistoricalVolatilityConfig struct {
	Period        int
	Annualization float64
	Threshold     float64
}

func DefaultHistoricalVolatilityConfig() HistoricalVolatilityConfig {
	return HistoricalVolatilityConfig{Period: 20, Annualization: 252, Threshold: 0.1}
}

func (c HistoricalVolatilityConfig) Validate() error {
	if err := validatePeriod("HV", "period", c.Period); err != nil {
		return err
	}
	if !(c.Annualization > 0) || !numeric.IsFinite(c.Annualization) {
		return fmt.Errorf("%w: HV annualization must be positive, got %v", ErrInvalidConfig, c.Annualization)
	}
	return validateThreshold("HV", c.Threshold)
}

// HistoricalVolatility is the rolling population deviation of log returns.
// A non-positive price ratio contributes a zero return.
type HistoricalVolatility struct{ cfg HistoricalVolatilityConfig }

func NewHistoricalVolatility(cfg HistoricalVolatilityConfig) (*HistoricalVolatility, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HistoricalVolatility{cfg: cfg}, nil
}

func (h *HistoricalVolatility) Name() string { return "HV_" + strconv.Itoa(h.cfg.Period) }

func (h *HistoricalVolatility) Evaluate(in Input) (*series.Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	x := in.Series.Values
	n := len(x)
	returns := make([]float64, n)
	for i := 1; i < n; i++ {
		returns[i] = numeric.SafeLog(numeric.SafeDiv(x[i], x[i-1]))
	}
	sd, err := rolling.StdDevPopulation(returns, rolling.Partial(h.cfg.Period))
	if err != nil {
		return nil, err
	}
	scale := math.Sqrt(h.cfg.Annualization)
	hv := make([]float64, n)
	for i := range hv {
		hv[i] = sd[i] * scale
	}

	return series.NewAggregator(n).
		Add("hv", hv).
		Add("log_return", returns).
		SetPrimary("hv").
		SetSignals(directionSignals(x, hv, h.cfg.Threshold)).
		Build()
}
