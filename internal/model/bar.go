// Package model holds the bar-series input boundary of the engine.
//
// A BarSeries is struct-of-arrays: every field slice has exactly Len()
// elements and index i is the only notion of time. Construction rejects
// misaligned or non-finite input so per-bar computation never has to.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrLengthMismatch is returned when field arrays (or two series that must
	// be compared bar by bar) do not share the same length.
	ErrLengthMismatch = errors.New("model: series length mismatch")

	// ErrNonFinite is returned when an input price or volume is NaN or ±Inf.
	ErrNonFinite = errors.New("model: non-finite value")
)

// Bar is one OHLCV time step.
type Bar struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// BarSeries is an aligned, immutable sequence of bars.
type BarSeries struct {
	open, high, low, close, volume []float64

	// Optional bar timestamps (nil or same length as the fields). The engine
	// never reads them; loaders carry them through for output.
	times []time.Time

	// Derived price views, computed once at construction.
	views [numSelectors][]float64
}

// NewBarSeries builds a series from raw field arrays. volume may be nil, in
// which case it is treated as all zeros. The slices are copied.
func NewBarSeries(open, high, low, close, volume []float64) (*BarSeries, error) {
	n := len(close)
	if len(open) != n || len(high) != n || len(low) != n {
		return nil, fmt.Errorf("%w: open=%d high=%d low=%d close=%d",
			ErrLengthMismatch, len(open), len(high), len(low), n)
	}
	if volume == nil {
		volume = make([]float64, n)
	} else if len(volume) != n {
		return nil, fmt.Errorf("%w: volume=%d close=%d", ErrLengthMismatch, len(volume), n)
	}

	bs := &BarSeries{
		open:   make([]float64, n),
		high:   make([]float64, n),
		low:    make([]float64, n),
		close:  make([]float64, n),
		volume: make([]float64, n),
	}
	fields := []struct {
		name string
		src  []float64
		dst  []float64
	}{
		{"open", open, bs.open},
		{"high", high, bs.high},
		{"low", low, bs.low},
		{"close", close, bs.close},
		{"volume", volume, bs.volume},
	}
	for _, f := range fields {
		for i, v := range f.src {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: %s[%d]=%v", ErrNonFinite, f.name, i, v)
			}
			f.dst[i] = v
		}
	}
	bs.computeViews()
	return bs, nil
}

// FromBars builds a series from a slice of bars.
func FromBars(bars []Bar) (*BarSeries, error) {
	n := len(bars)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range bars {
		open[i], high[i], low[i], closes[i], volume[i] = b.Open, b.High, b.Low, b.Close, b.Volume
	}
	return NewBarSeries(open, high, low, closes, volume)
}

// WithTimes returns a copy of the series carrying bar timestamps.
func (s *BarSeries) WithTimes(times []time.Time) (*BarSeries, error) {
	if len(times) != s.Len() {
		return nil, fmt.Errorf("%w: times=%d bars=%d", ErrLengthMismatch, len(times), s.Len())
	}
	cp := *s
	cp.times = make([]time.Time, len(times))
	copy(cp.times, times)
	return &cp, nil
}

func (s *BarSeries) computeViews() {
	n := len(s.close)
	median := make([]float64, n)
	typical := make([]float64, n)
	weighted := make([]float64, n)
	full := make([]float64, n)
	for i := 0; i < n; i++ {
		o, h, l, c := s.open[i], s.high[i], s.low[i], s.close[i]
		median[i] = (h + l) / 2
		typical[i] = (h + l + c) / 3
		weighted[i] = (h + l + 2*c) / 4
		full[i] = (o + h + l + c) / 4
	}
	s.views[Close] = s.close
	s.views[Open] = s.open
	s.views[High] = s.high
	s.views[Low] = s.low
	s.views[MedianPrice] = median
	s.views[TypicalPrice] = typical
	s.views[WeightedClose] = weighted
	s.views[FullTypicalPrice] = full
}

// Len returns the number of bars N.
func (s *BarSeries) Len() int { return len(s.close) }

// Select returns the read-only view for the given selector. Callers must not
// modify the returned slice. An unknown selector falls back to Close.
func (s *BarSeries) Select(sel InputSelector) []float64 {
	if !sel.Valid() {
		return s.views[Close]
	}
	return s.views[sel]
}

// Open returns the read-only open prices.
func (s *BarSeries) Open() []float64 { return s.open }

// High returns the read-only high prices.
func (s *BarSeries) High() []float64 { return s.high }

// Low returns the read-only low prices.
func (s *BarSeries) Low() []float64 { return s.low }

// Close returns the read-only close prices.
func (s *BarSeries) Close() []float64 { return s.close }

// Volume returns the read-only volumes.
func (s *BarSeries) Volume() []float64 { return s.volume }

// Times returns the bar timestamps, or nil if none were attached.
func (s *BarSeries) Times() []time.Time { return s.times }

// Bar returns the i-th bar.
func (s *BarSeries) Bar(i int) Bar {
	return Bar{Open: s.open[i], High: s.high[i], Low: s.low[i], Close: s.close[i], Volume: s.volume[i]}
}

// Bars returns the series as a slice of bars.
func (s *BarSeries) Bars() []Bar {
	out := make([]Bar, s.Len())
	for i := range out {
		out[i] = s.Bar(i)
	}
	return out
}

// Slice returns the bars in [from, to) as a new series. Because every
// computation is causal, evaluating a prefix s.Slice(0, k) reproduces the
// first k outputs of evaluating s.
func (s *BarSeries) Slice(from, to int) (*BarSeries, error) {
	if from < 0 || to > s.Len() || from > to {
		return nil, fmt.Errorf("model: slice [%d:%d] out of range for %d bars", from, to, s.Len())
	}
	out, err := NewBarSeries(s.open[from:to], s.high[from:to], s.low[from:to], s.close[from:to], s.volume[from:to])
	if err != nil {
		return nil, err
	}
	if s.times != nil {
		return out.WithTimes(s.times[from:to])
	}
	return out, nil
}

// CheckAligned verifies that two series can be compared bar by bar.
func CheckAligned(a, b *BarSeries) error {
	if a == nil || b == nil {
		return fmt.Errorf("%w: nil series", ErrLengthMismatch)
	}
	if a.Len() != b.Len() {
		return fmt.Errorf("%w: %d vs %d bars", ErrLengthMismatch, a.Len(), b.Len())
	}
	return nil
}

// MarshalJSON encodes the series as an array of bars.
func (s *BarSeries) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Bars())
}

// UnmarshalJSON decodes an array of bars, applying the construction checks.
func (s *BarSeries) UnmarshalJSON(data []byte) error {
	var bars []Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return err
	}
	built, err := FromBars(bars)
	if err != nil {
		return err
	}
	*s = *built
	return nil
}
