// Package indicator is the formula catalog evaluated on top of the rolling,
// filter and signal substrates.
//
// An indicator is configured once (its config is validated at construction)
// and then evaluated over an explicit Input. Evaluation is a pure batch
// pass: every output has one value per bar and bar i never depends on bars
// after i.
package indicator

import (
	"errors"
	"fmt"

	"taengine/internal/model"
	"taengine/internal/series"
	"taengine/internal/signal"
)

var (
	// ErrInvalidConfig wraps every config validation failure.
	ErrInvalidConfig = errors.New("indicator: invalid config")

	// ErrUnknownType is returned by New and Parse for unregistered types.
	ErrUnknownType = errors.New("indicator: unknown type")

	// ErrMissingBars is returned when a formula that reads OHLC fields is
	// evaluated without the bar series.
	ErrMissingBars = errors.New("indicator: bar series required")

	// ErrMissingBenchmark is returned by multi-series formulas evaluated
	// without a benchmark.
	ErrMissingBenchmark = errors.New("indicator: benchmark series required")
)

// Indicator is a configured formula.
type Indicator interface {
	// Name returns the indicator name (e.g. "SMA_20", "MACD_12_26_9").
	Name() string

	// Evaluate computes every output and the per-bar signals for in.
	Evaluate(in Input) (*series.Result, error)
}

// Input is everything one evaluation reads. Series is the primary input:
// a price view or the primary output of an upstream indicator. Bars carries
// the OHLCV context for formulas that need high/low; Benchmark is only read
// by relative formulas.
type Input struct {
	Series    series.Computed
	Bars      *model.BarSeries
	Benchmark *model.BarSeries
}

// Len returns the number of bars being evaluated.
func (in Input) Len() int { return len(in.Series.Values) }

func (in Input) validate() error {
	if in.Bars != nil && in.Bars.Len() != in.Len() {
		return fmt.Errorf("%w: input %q has %d values, bars have %d",
			model.ErrLengthMismatch, in.Series.Name, in.Len(), in.Bars.Len())
	}
	return nil
}

func (in Input) requireBars() error {
	if in.Bars == nil {
		return ErrMissingBars
	}
	return in.validate()
}

// PriceInput builds the Input for evaluating directly on a price view.
func PriceInput(bars *model.BarSeries, sel model.InputSelector) Input {
	if !sel.Valid() {
		sel = model.Close
	}
	return Input{
		Series: series.Computed{Name: sel.String(), Values: bars.Select(sel)},
		Bars:   bars,
	}
}

// Run evaluates a single indicator on the selected price view of bars.
func Run(ind Indicator, bars *model.BarSeries, sel model.InputSelector) (*series.Result, error) {
	if bars == nil {
		return nil, ErrMissingBars
	}
	res, err := ind.Evaluate(PriceInput(bars, sel))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ind.Name(), err)
	}
	return res, nil
}

func validatePeriod(kind, field string, p int) error {
	if p < 1 {
		return fmt.Errorf("%w: %s %s must be >= 1, got %d", ErrInvalidConfig, kind, field, p)
	}
	return nil
}

// trendResult is the single-output result used by the moving averages: the
// signal is the sign of the line's bar-to-bar change.
func trendResult(key string, values []float64) (*series.Result, error) {
	return series.NewAggregator(len(values)).
		Add(key, values).
		SetPrimary(key).
		SetSignals(signal.Series(values, false)).
		Build()
}

// prev returns xs[i-1], or xs[i] at the first bar.
func prev(xs []float64, i int) float64 {
	if i == 0 {
		return xs[0]
	}
	return xs[i-1]
}
