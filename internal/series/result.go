// Package series bundles the named per-bar outputs and signals of one
// indicator evaluation.
package series

import (
	"errors"
	"fmt"

	"taengine/internal/numeric"
	"taengine/internal/signal"
)

var (
	// ErrLengthMismatch means an output or signal array does not have one
	// element per input bar. It always indicates a bug in the formula.
	ErrLengthMismatch = errors.New("series: length mismatch")

	// ErrNoPrimary is returned when the primary output was never added.
	ErrNoPrimary = errors.New("series: primary output missing")

	// ErrDuplicateOutput is returned when two outputs share a name.
	ErrDuplicateOutput = errors.New("series: duplicate output")
)

// Computed is one named, fully materialized value series.
type Computed struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Result is the outcome of one indicator evaluation over N bars. Every
// output and the signal array have exactly N elements.
type Result struct {
	Outputs []Computed
	Signals []signal.Signal
	Primary string

	index map[string]int
}

// Len returns N.
func (r *Result) Len() int { return len(r.Signals) }

// Output returns the values of the named output.
func (r *Result) Output(name string) ([]float64, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.Outputs[i].Values, true
}

// PrimaryValues returns the primary output.
func (r *Result) PrimaryValues() []float64 {
	v, _ := r.Output(r.Primary)
	return v
}

// PrimarySeries returns the primary output as a Computed, which is what a
// downstream graph node receives.
func (r *Result) PrimarySeries() Computed {
	return Computed{Name: r.Primary, Values: r.PrimaryValues()}
}

// Names lists output names in insertion order.
func (r *Result) Names() []string {
	names := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		names[i] = o.Name
	}
	return names
}

// Last returns every output's final value. It is empty for a zero-length
// result.
func (r *Result) Last() map[string]float64 {
	out := make(map[string]float64, len(r.Outputs))
	if r.Len() == 0 {
		return out
	}
	for _, o := range r.Outputs {
		out[o.Name] = o.Values[len(o.Values)-1]
	}
	return out
}

// LastSignal returns the final bar's signal, Neutral when empty.
func (r *Result) LastSignal() signal.Signal {
	if r.Len() == 0 {
		return signal.Neutral
	}
	return r.Signals[r.Len()-1]
}

// SignalCounts tallies the signal array.
func (r *Result) SignalCounts() map[signal.Signal]int {
	counts := map[signal.Signal]int{signal.Neutral: 0, signal.Buy: 0, signal.Sell: 0}
	for _, s := range r.Signals {
		counts[s]++
	}
	return counts
}

// Frame is the state of every output at one bar.
type Frame struct {
	Index  int                `json:"index"`
	Values map[string]float64 `json:"values"`
	Signal signal.Signal      `json:"signal"`
}

// At returns the frame for bar i. It panics when i is out of range.
func (r *Result) At(i int) Frame {
	f := Frame{Index: i, Values: make(map[string]float64, len(r.Outputs)), Signal: r.Signals[i]}
	for _, o := range r.Outputs {
		f.Values[o.Name] = o.Values[i]
	}
	return f
}

// ── Aggregator ──────────────────────────────────────────────────────

// Aggregator assembles a Result and checks the length invariant once. The
// first error is kept and reported by Build; later calls are no-ops.
type Aggregator struct {
	n       int
	outputs []Computed
	index   map[string]int
	signals []signal.Signal
	primary string
	err     error
}

// NewAggregator starts a result for n bars.
func NewAggregator(n int) *Aggregator {
	return &Aggregator{n: n, index: make(map[string]int)}
}

// Add appends a named output. Values are copied and non-finite entries are
// replaced by 0.
func (a *Aggregator) Add(name string, values []float64) *Aggregator {
	if a.err != nil {
		return a
	}
	if len(values) != a.n {
		a.err = fmt.Errorf("%w: output %q has %d values, want %d", ErrLengthMismatch, name, len(values), a.n)
		return a
	}
	if _, dup := a.index[name]; dup {
		a.err = fmt.Errorf("%w: %q", ErrDuplicateOutput, name)
		return a
	}
	cp := make([]float64, len(values))
	for i, v := range values {
		cp[i] = numeric.Finite(v)
	}
	a.index[name] = len(a.outputs)
	a.outputs = append(a.outputs, Computed{Name: name, Values: cp})
	return a
}

// SetPrimary names the output downstream consumers chain on.
func (a *Aggregator) SetPrimary(name string) *Aggregator {
	a.primary = name
	return a
}

// SetSignals attaches the per-bar signals. Without it every bar is Neutral.
func (a *Aggregator) SetSignals(s []signal.Signal) *Aggregator {
	if a.err != nil {
		return a
	}
	if len(s) != a.n {
		a.err = fmt.Errorf("%w: %d signals, want %d", ErrLengthMismatch, len(s), a.n)
		return a
	}
	a.signals = append([]signal.Signal(nil), s...)
	return a
}

// Build validates and returns the Result.
func (a *Aggregator) Build() (*Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	if _, ok := a.index[a.primary]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoPrimary, a.primary)
	}
	sigs := a.signals
	if sigs == nil {
		sigs = make([]signal.Signal, a.n)
	}
	return &Result{
		Outputs: a.outputs,
		Signals: sigs,
		Primary: a.primary,
		index:   a.index,
	}, nil
}
