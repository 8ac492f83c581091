// Package resample merges timestamped bars into coarser timeframe buckets.
// A bucket starts at ts - ts%tf (Unix seconds, UTC); its bar opens with the
// first bar's open, closes with the last bar's close, spans the extreme high
// and low and sums volume.
package resample

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"taengine/internal/model"
)

var (
	ErrNoTimes   = errors.New("resample: bars carry no timestamps")
	ErrTimeframe = errors.New("resample: timeframe must be a positive whole number of seconds")
	ErrUnordered = errors.New("resample: bar times must be strictly increasing")
)

// bucket is the forming bar of one timeframe bucket.
type bucket struct {
	start int64
	bar   model.Bar
}

func (b *bucket) merge(bar model.Bar) {
	if bar.High > b.bar.High {
		b.bar.High = bar.High
	}
	if bar.Low < b.bar.Low {
		b.bar.Low = bar.Low
	}
	b.bar.Close = bar.Close
	b.bar.Volume += bar.Volume
}

// Bars resamples s to tf. The last bucket is emitted even when it may still
// be forming. A tf equal to the input spacing returns an equivalent series.
func Bars(s *model.BarSeries, tf time.Duration) (*model.BarSeries, error) {
	if tf < time.Second || tf%time.Second != 0 {
		return nil, fmt.Errorf("%w: %s", ErrTimeframe, tf)
	}
	times := s.Times()
	if times == nil {
		if s.Len() == 0 {
			return s, nil
		}
		return nil, ErrNoTimes
	}
	tf64 := int64(tf / time.Second)

	var (
		bars   []model.Bar
		starts []time.Time
		cur    *bucket
	)
	emit := func() {
		bars = append(bars, cur.bar)
		starts = append(starts, time.Unix(cur.start, 0).UTC())
	}
	for i, t := range times {
		if i > 0 && !t.After(times[i-1]) {
			return nil, fmt.Errorf("%w: bar %d at %s follows %s", ErrUnordered, i, t.Format(time.RFC3339), times[i-1].Format(time.RFC3339))
		}
		ts := t.Unix()
		start := ts - mod(ts, tf64)
		bar := s.Bar(i)
		if cur != nil && start == cur.start {
			cur.merge(bar)
			continue
		}
		if cur != nil {
			emit()
		}
		cur = &bucket{start: start, bar: bar}
	}
	if cur != nil {
		emit()
	}

	out, err := model.FromBars(bars)
	if err != nil {
		return nil, err
	}
	return out.WithTimes(starts)
}

// ParseTimeframe accepts a Go duration ("5m", "1h") or plain seconds ("300").
func ParseTimeframe(s string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs <= 0 || secs > math.MaxInt64/int64(time.Second) {
			return 0, fmt.Errorf("%w: %q", ErrTimeframe, s)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < time.Second || d%time.Second != 0 {
		return 0, fmt.Errorf("%w: %q", ErrTimeframe, s)
	}
	return d, nil
}

// mod is the floor modulus, so pre-1970 timestamps align like later ones.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
