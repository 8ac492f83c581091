// Package rolling computes causal sliding-window statistics.
//
// Output index i only ever reads input indices in [i-Length+1, i]. The window
// keeps monotonic deques for max/min, a Kahan-compensated running sum and a
// Welford accumulator for the population variance, so a full pass over N
// samples costs O(N) regardless of the window length.
package rolling

import (
	"errors"
	"fmt"

	"taengine/internal/numeric"
	"taengine/internal/ringbuf"
)

// ErrInvalidLength is returned for window lengths below 1.
var ErrInvalidLength = errors.New("rolling: window length must be >= 1")

// Policy decides what a window reports before Length samples have arrived.
type Policy int

const (
	// PartialWindow aggregates over the i+1 samples available so far.
	PartialWindow Policy = iota
	// ZeroFillBeforeWindow counts missing history as zero-valued samples, so
	// the divisor of averages is always Length.
	ZeroFillBeforeWindow
)

func (p Policy) String() string {
	switch p {
	case PartialWindow:
		return "partial"
	case ZeroFillBeforeWindow:
		return "zero_fill"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names printed by String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "partial", "":
		return PartialWindow, nil
	case "zero_fill", "zerofill":
		return ZeroFillBeforeWindow, nil
	}
	return PartialWindow, fmt.Errorf("rolling: unknown policy %q", s)
}

// WindowSpec describes a trailing window.
type WindowSpec struct {
	Length int
	Policy Policy
}

// Partial is shorthand for a PartialWindow spec.
func Partial(length int) WindowSpec { return WindowSpec{Length: length, Policy: PartialWindow} }

// ZeroFill is shorthand for a ZeroFillBeforeWindow spec.
func ZeroFill(length int) WindowSpec {
	return WindowSpec{Length: length, Policy: ZeroFillBeforeWindow}
}

// Validate checks the window once at construction time.
func (s WindowSpec) Validate() error {
	if s.Length < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidLength, s.Length)
	}
	if s.Policy != PartialWindow && s.Policy != ZeroFillBeforeWindow {
		return fmt.Errorf("rolling: unknown policy %d", int(s.Policy))
	}
	return nil
}

type entry struct {
	idx int
	v   float64
}

// Window is a streaming trailing window. Push a sample, then read the stats
// for the bar just pushed. A Window belongs to one evaluation.
type Window struct {
	spec    WindowSpec
	samples *ringbuf.Ring[float64]
	maxq    *ringbuf.Ring[entry]
	minq    *ringbuf.Ring[entry]
	next    int // index assigned to the next pushed sample

	sum, comp float64 // Kahan running sum and its compensation
	mean, m2  float64 // Welford accumulators
}

// NewWindow allocates a window for spec.
func NewWindow(spec WindowSpec) (*Window, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	w := &Window{
		spec:    spec,
		samples: ringbuf.New[float64](spec.Length),
		maxq:    ringbuf.New[entry](spec.Length),
		minq:    ringbuf.New[entry](spec.Length),
	}
	w.Reset()
	return w, nil
}

// Reset clears the window back to its initial state.
func (w *Window) Reset() {
	w.samples.Reset()
	w.maxq.Reset()
	w.minq.Reset()
	w.next = 0
	w.sum, w.comp, w.mean, w.m2 = 0, 0, 0, 0
	if w.spec.Policy == ZeroFillBeforeWindow {
		// Missing history sits at indices -(Length-1)..-1.
		w.next = -(w.spec.Length - 1)
		for w.next < 0 {
			w.Push(0)
		}
	}
}

// Spec returns the window's spec.
func (w *Window) Spec() WindowSpec { return w.spec }

// Push appends the next sample and evicts the one leaving the window.
func (w *Window) Push(v float64) {
	v = numeric.Finite(v)
	idx := w.next
	w.next++

	if w.samples.Len() == w.spec.Length {
		old, _ := w.samples.PopFront()
		w.kahanAdd(-old)
		w.welfordRemove(old)
	}
	w.samples.PushBack(v)
	w.kahanAdd(v)
	w.welfordAdd(v)

	oldest := idx - w.spec.Length
	for e, ok := w.maxq.Front(); ok && e.idx <= oldest; e, ok = w.maxq.Front() {
		w.maxq.PopFront()
	}
	for e, ok := w.minq.Front(); ok && e.idx <= oldest; e, ok = w.minq.Front() {
		w.minq.PopFront()
	}
	for e, ok := w.maxq.Back(); ok && e.v <= v; e, ok = w.maxq.Back() {
		w.maxq.PopBack()
	}
	for e, ok := w.minq.Back(); ok && e.v >= v; e, ok = w.minq.Back() {
		w.minq.PopBack()
	}
	w.maxq.PushBack(entry{idx: idx, v: v})
	w.minq.PushBack(entry{idx: idx, v: v})
}

func (w *Window) kahanAdd(v float64) {
	y := v - w.comp
	t := w.sum + y
	w.comp = (t - w.sum) - y
	w.sum = t
}

func (w *Window) welfordAdd(v float64) {
	n := float64(w.samples.Len())
	d := v - w.mean
	w.mean += d / n
	w.m2 += d * (v - w.mean)
}

// welfordRemove runs after the sample has left the ring.
func (w *Window) welfordRemove(v float64) {
	n := w.samples.Len()
	if n == 0 {
		w.mean, w.m2 = 0, 0
		return
	}
	d := v - w.mean
	w.mean -= d / float64(n)
	w.m2 -= d * (v - w.mean)
}

// Count returns the number of samples currently aggregated, zero fill
// included.
func (w *Window) Count() int { return w.samples.Len() }

// Max returns the largest sample in the window.
func (w *Window) Max() float64 {
	e, _ := w.maxq.Front()
	return e.v
}

// Min returns the smallest sample in the window.
func (w *Window) Min() float64 {
	e, _ := w.minq.Front()
	return e.v
}

// Sum returns the compensated window sum.
func (w *Window) Sum() float64 { return w.sum }

// Mean returns Sum/Count. Under ZeroFillBeforeWindow Count is always Length.
func (w *Window) Mean() float64 {
	return numeric.SafeDiv(w.sum, float64(w.samples.Len()))
}

// Variance returns the population variance, never negative.
func (w *Window) Variance() float64 {
	n := w.samples.Len()
	if n < 2 {
		return 0
	}
	v := w.m2 / float64(n)
	if v < 0 {
		return 0
	}
	return numeric.Finite(v)
}

// StdDev returns the population standard deviation.
func (w *Window) StdDev() float64 { return numeric.SafeSqrt(w.Variance()) }
