package rolling

import (
	"math"

	"taengine/internal/numeric"
)

// Stat selects a window aggregate.
type Stat func(w *Window) float64

var (
	StatMax    Stat = (*Window).Max
	StatMin    Stat = (*Window).Min
	StatSum    Stat = (*Window).Sum
	StatMean   Stat = (*Window).Mean
	StatStdDev Stat = (*Window).StdDev
)

// Apply streams values through a fresh window and records stat after every
// sample. The output has len(values) elements.
func Apply(values []float64, spec WindowSpec, stat Stat) ([]float64, error) {
	w, err := NewWindow(spec)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		w.Push(v)
		out[i] = stat(w)
	}
	return out, nil
}

// Max returns the rolling maximum.
func Max(values []float64, spec WindowSpec) ([]float64, error) {
	return Apply(values, spec, StatMax)
}

// Min returns the rolling minimum.
func Min(values []float64, spec WindowSpec) ([]float64, error) {
	return Apply(values, spec, StatMin)
}

// Sum returns the rolling sum.
func Sum(values []float64, spec WindowSpec) ([]float64, error) {
	return Apply(values, spec, StatSum)
}

// Average returns the rolling arithmetic mean.
func Average(values []float64, spec WindowSpec) ([]float64, error) {
	return Apply(values, spec, StatMean)
}

// StdDevPopulation returns the rolling population standard deviation.
func StdDevPopulation(values []float64, spec WindowSpec) ([]float64, error) {
	return Apply(values, spec, StatStdDev)
}

// ── Point queries ───────────────────────────────────────────────────
//
// The *At functions rescan the window ending at i. They cost O(Length) per
// call and serve ad-hoc lookups and as a reference for the streaming window.
// Like slice indexing, they panic on an invalid spec or an out-of-range i.

// window returns the in-range samples ending at i and the number of zero
// samples that stand in for missing history.
func window(values []float64, spec WindowSpec, i int) ([]float64, int) {
	if err := spec.Validate(); err != nil {
		panic(err)
	}
	if i < 0 || i >= len(values) {
		panic("rolling: index out of range")
	}
	from := i - spec.Length + 1
	zeros := 0
	if from < 0 {
		if spec.Policy == ZeroFillBeforeWindow {
			zeros = -from
		}
		from = 0
	}
	return values[from : i+1], zeros
}

// MaxAt returns the window maximum at index i.
func MaxAt(values []float64, spec WindowSpec, i int) float64 {
	xs, zeros := window(values, spec, i)
	m := math.Inf(-1)
	if zeros > 0 {
		m = 0
	}
	for _, v := range xs {
		m = math.Max(m, numeric.Finite(v))
	}
	return m
}

// MinAt returns the window minimum at index i.
func MinAt(values []float64, spec WindowSpec, i int) float64 {
	xs, zeros := window(values, spec, i)
	m := math.Inf(1)
	if zeros > 0 {
		m = 0
	}
	for _, v := range xs {
		m = math.Min(m, numeric.Finite(v))
	}
	return m
}

// SumAt returns the window sum at index i.
func SumAt(values []float64, spec WindowSpec, i int) float64 {
	xs, _ := window(values, spec, i)
	var s float64
	for _, v := range xs {
		s += numeric.Finite(v)
	}
	return s
}

// AverageAt returns the window mean at index i.
func AverageAt(values []float64, spec WindowSpec, i int) float64 {
	xs, zeros := window(values, spec, i)
	return numeric.SafeDiv(SumAt(values, spec, i), float64(len(xs)+zeros))
}

// StdDevAt returns the window population standard deviation at index i.
func StdDevAt(values []float64, spec WindowSpec, i int) float64 {
	xs, zeros := window(values, spec, i)
	n := float64(len(xs) + zeros)
	mean := AverageAt(values, spec, i)
	ss := float64(zeros) * mean * mean
	for _, v := range xs {
		d := numeric.Finite(v) - mean
		ss += d * d
	}
	return numeric.SafeSqrt(numeric.SafeDiv(ss, n))
}
