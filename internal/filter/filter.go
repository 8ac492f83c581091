// Package filter implements recursive (IIR) smoothers as pure step functions.
//
// Every filter exposes Step(in, State) (out, State): the caller owns the
// state, so one filter value can drive any number of independent runs and a
// re-run over the same input is bit-identical. Each family fixes how its
// first output is seeded.
package filter

import (
	"errors"
	"fmt"
	"math"

	"taengine/internal/numeric"
)

// ErrInvalidParam is returned for out-of-range periods or smoothing factors.
var ErrInvalidParam = errors.New("filter: invalid parameter")

// State is the recursive memory of one filter run.
//
// Out[0] and In[0] hold the previous output and input, Out[1] and In[1] the
// ones before that. Steps counts processed samples; Seed records the first
// input the run saw.
type State struct {
	Seed  float64
	Out   [2]float64
	In    [2]float64
	Steps int
}

func (st State) push(in, out float64) State {
	st.In[1], st.In[0] = st.In[0], in
	st.Out[1], st.Out[0] = st.Out[0], out
	st.Steps++
	return st
}

// Filter is the pure per-sample contract shared by every family.
type Filter interface {
	Step(in float64, st State) (float64, State)
}

// Apply runs f over values from a zero State and returns one output per input.
func Apply(f Filter, values []float64) []float64 {
	out := make([]float64, len(values))
	var st State
	for i, v := range values {
		out[i], st = f.Step(v, st)
	}
	return out
}

// ── First order ─────────────────────────────────────────────────────

// firstOrder is out = prev + alpha*(in-prev), seeded with the first input.
func firstOrder(alpha, in float64, st State) (float64, State) {
	in = numeric.Finite(in)
	if st.Steps == 0 {
		st.Seed = in
		return in, st.push(in, in)
	}
	prev := st.Out[0]
	out := numeric.Finite(prev + alpha*(in-prev))
	return out, st.push(in, out)
}

// EMA is the exponential moving average.
type EMA struct {
	Alpha float64
}

// NewEMA uses the conventional alpha = 2/(period+1).
func NewEMA(period int) (EMA, error) {
	if period < 1 {
		return EMA{}, fmt.Errorf("%w: EMA period %d", ErrInvalidParam, period)
	}
	return EMA{Alpha: 2 / float64(period+1)}, nil
}

// NewEMAAlpha builds an EMA from an explicit smoothing factor in (0, 1].
func NewEMAAlpha(alpha float64) (EMA, error) {
	if !(alpha > 0 && alpha <= 1) {
		return EMA{}, fmt.Errorf("%w: EMA alpha %v", ErrInvalidParam, alpha)
	}
	return EMA{Alpha: alpha}, nil
}

func (f EMA) Step(in float64, st State) (float64, State) { return firstOrder(f.Alpha, in, st) }

// Wilder is Wilder's smoothing (SMMA / RMA), alpha = 1/period.
type Wilder struct {
	Alpha float64
}

func NewWilder(period int) (Wilder, error) {
	if period < 1 {
		return Wilder{}, fmt.Errorf("%w: Wilder period %d", ErrInvalidParam, period)
	}
	return Wilder{Alpha: 1 / float64(period)}, nil
}

func (f Wilder) Step(in float64, st State) (float64, State) { return firstOrder(f.Alpha, in, st) }

// Adaptive is a first-order filter whose smoothing factor changes per bar.
// Alphas[i] applies to the i-th sample of a run; samples past the end of
// Alphas hold the previous output. Factors are clamped to [0, 1].
type Adaptive struct {
	Alphas []float64
}

func (f Adaptive) Step(in float64, st State) (float64, State) {
	alpha := 0.0
	if st.Steps < len(f.Alphas) {
		alpha = numeric.Clamp(numeric.Finite(f.Alphas[st.Steps]), 0, 1)
	}
	return firstOrder(alpha, in, st)
}

// KAMAAlphas turns an efficiency-ratio series into Kaufman's adaptive
// factors: ((er*(fast-slow))+slow)^2 with fast=2/(fastPeriod+1) and
// slow=2/(slowPeriod+1).
func KAMAAlphas(er []float64, fastPeriod, slowPeriod int) ([]float64, error) {
	if fastPeriod < 1 || slowPeriod < 1 || fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("%w: KAMA fast=%d slow=%d", ErrInvalidParam, fastPeriod, slowPeriod)
	}
	fast := 2 / float64(fastPeriod+1)
	slow := 2 / float64(slowPeriod+1)
	out := make([]float64, len(er))
	for i, e := range er {
		sc := numeric.Clamp(numeric.Finite(e), 0, 1)*(fast-slow) + slow
		out[i] = sc * sc
	}
	return out, nil
}

// ── Cascades ────────────────────────────────────────────────────────

// Cascade chains identical first-order stages; stage k smooths the output of
// stage k-1 and keeps its own State.
type Cascade struct {
	Stage Filter
	Depth int
}

func NewCascade(stage Filter, depth int) (Cascade, error) {
	if stage == nil || depth < 1 {
		return Cascade{}, fmt.Errorf("%w: cascade depth %d", ErrInvalidParam, depth)
	}
	return Cascade{Stage: stage, Depth: depth}, nil
}

// Step advances every stage by one sample. states must have Depth entries;
// it is updated in place and returned. The result is the per-stage outputs.
func (c Cascade) Step(in float64, states []State) ([]float64, []State) {
	outs := make([]float64, c.Depth)
	x := in
	for k := 0; k < c.Depth; k++ {
		x, states[k] = c.Stage.Step(x, states[k])
		outs[k] = x
	}
	return outs, states
}

// Stages runs the cascade over values. stages[k][i] is the output of stage
// k+1 at bar i.
func (c Cascade) Stages(values []float64) [][]float64 {
	stages := make([][]float64, c.Depth)
	for k := range stages {
		stages[k] = make([]float64, len(values))
	}
	states := make([]State, c.Depth)
	var outs []float64
	for i, v := range values {
		outs, states = c.Step(v, states)
		for k, o := range outs {
			stages[k][i] = o
		}
	}
	return stages
}

// DEMA returns 2*E1 - E2 over a two-stage EMA cascade.
func DEMA(period int, values []float64) ([]float64, error) {
	st, err := cascadeStages(period, 2, values)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 2*st[0][i] - st[1][i]
	}
	return out, nil
}

// TEMA returns 3*E1 - 3*E2 + E3 over a three-stage EMA cascade.
func TEMA(period int, values []float64) ([]float64, error) {
	st, err := cascadeStages(period, 3, values)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 3*st[0][i] - 3*st[1][i] + st[2][i]
	}
	return out, nil
}

func cascadeStages(period, depth int, values []float64) ([][]float64, error) {
	ema, err := NewEMA(period)
	if err != nil {
		return nil, err
	}
	c, err := NewCascade(ema, depth)
	if err != nil {
		return nil, err
	}
	return c.Stages(values), nil
}

// ── Second order (Ehlers) ───────────────────────────────────────────

// SuperSmoother is Ehlers' two-pole Butterworth low-pass filter. The first
// output equals the first input and the recursion starts from a history
// filled with it.
type SuperSmoother struct {
	c1, c2, c3 float64
}

func NewSuperSmoother(period int) (SuperSmoother, error) {
	if period < 2 {
		return SuperSmoother{}, fmt.Errorf("%w: SuperSmoother period %d", ErrInvalidParam, period)
	}
	a1 := math.Exp(-math.Sqrt2 * math.Pi / float64(period))
	b1 := 2 * a1 * math.Cos(math.Sqrt2*math.Pi/float64(period))
	c2 := b1
	c3 := -a1 * a1
	return SuperSmoother{c1: 1 - c2 - c3, c2: c2, c3: c3}, nil
}

func (f SuperSmoother) Step(in float64, st State) (float64, State) {
	in = numeric.Finite(in)
	if st.Steps == 0 {
		st.Seed = in
		st.In = [2]float64{in, in}
		st.Out = [2]float64{in, in}
		st.Steps = 1
		return in, st
	}
	out := f.c1*(in+st.In[0])/2 + f.c2*st.Out[0] + f.c3*st.Out[1]
	out = numeric.Finite(out)
	return out, st.push(in, out)
}

// HighPass is Ehlers' two-pole high-pass filter. It is seeded at zero: the
// first output is 0 and the input history is filled with the first input.
type HighPass struct {
	k0, k1, k2 float64
}

func NewHighPass(period int) (HighPass, error) {
	if period < 2 {
		return HighPass{}, fmt.Errorf("%w: HighPass period %d", ErrInvalidParam, period)
	}
	w := 0.707 * 2 * math.Pi / float64(period)
	alpha := (math.Cos(w) + math.Sin(w) - 1) / math.Cos(w)
	return HighPass{
		k0: (1 - alpha/2) * (1 - alpha/2),
		k1: 2 * (1 - alpha),
		k2: (1 - alpha) * (1 - alpha),
	}, nil
}

func (f HighPass) Step(in float64, st State) (float64, State) {
	in = numeric.Finite(in)
	if st.Steps == 0 {
		st.Seed = in
		st.In = [2]float64{in, in}
		st.Out = [2]float64{}
		st.Steps = 1
		return 0, st
	}
	out := f.k0*(in-2*st.In[0]+st.In[1]) + f.k1*st.Out[0] - f.k2*st.Out[1]
	out = numeric.Finite(out)
	return out, st.push(in, out)
}
