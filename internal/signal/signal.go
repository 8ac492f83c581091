// Package signal classifies per-bar indicator values into Buy, Sell or
// Neutral. Every classifier is a pure function of its arguments.
package signal

import (
	"fmt"
	"strings"
)

// Signal is a three-way per-bar classification. The zero value is Neutral.
type Signal int8

const (
	Neutral Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Neutral:
		return "NEUTRAL"
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Signal(%d)", int8(s))
	}
}

// Parse reads the text form produced by String (case-insensitive).
func Parse(s string) (Signal, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NEUTRAL", "":
		return Neutral, nil
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return Neutral, fmt.Errorf("signal: unknown signal %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Signal) MarshalText() ([]byte, error) {
	if s < Neutral || s > Sell {
		return nil, fmt.Errorf("signal: invalid value %d", int8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signal) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Compare classifies the sign of delta. A zero delta is Buy when bullishBias
// is set and Neutral otherwise. prevDelta does not affect the result; it is
// kept so every classifier receives the same per-bar context.
func Compare(delta, prevDelta float64, bullishBias bool) Signal {
	switch {
	case delta > 0:
		return Buy
	case delta < 0:
		return Sell
	case bullishBias:
		return Buy
	default:
		return Neutral
	}
}

// RSI classifies an oscillator bounded by overbought/oversold levels. A fall
// back below overbought with both deltas negative is Sell; a rise back above
// oversold with both deltas positive is Buy. Anything else falls through to
// Compare(deltaFast, deltaSlow, false).
func RSI(deltaFast, deltaSlow, value, prevValue, overbought, oversold float64) Signal {
	switch {
	case prevValue >= overbought && value < overbought && deltaFast < 0 && deltaSlow < 0:
		return Sell
	case prevValue <= oversold && value > oversold && deltaFast > 0 && deltaSlow > 0:
		return Buy
	default:
		return Compare(deltaFast, deltaSlow, false)
	}
}

// BullishBearish is Buy when both powers rise, Sell when both fall.
func BullishBearish(bull, prevBull, bear, prevBear float64) Signal {
	switch {
	case bull > prevBull && bear > prevBear:
		return Buy
	case bull < prevBull && bear < prevBear:
		return Sell
	default:
		return Neutral
	}
}

// Volatility suppresses direction while metric is below threshold.
func Volatility(delta, prevDelta, metric, threshold float64) Signal {
	if metric < threshold {
		return Neutral
	}
	return Compare(delta, prevDelta, false)
}

// Condition resolves two boolean conditions; buy wins when both hold.
func Condition(buy, sell bool) Signal {
	switch {
	case buy:
		return Buy
	case sell:
		return Sell
	default:
		return Neutral
	}
}

// BandsInput is the per-bar context of a band indicator.
type BandsInput struct {
	Price                float64
	Upper, Middle, Lower float64
	Fast, Slow           float64
	PrevFast, PrevSlow   float64
}

// BollingerBands is Buy when price breaks the lower band, or sits below the
// middle band while the fast average crosses above the slow one. Sell
// mirrors it on the upper side.
func BollingerBands(in BandsInput) Signal {
	crossUp := in.PrevFast <= in.PrevSlow && in.Fast > in.Slow
	crossDown := in.PrevFast >= in.PrevSlow && in.Fast < in.Slow
	buy := in.Price < in.Lower || (in.Price < in.Middle && crossUp)
	sell := in.Price > in.Upper || (in.Price > in.Middle && crossDown)
	return Condition(buy, sell)
}

// Deltas returns first differences with delta[0] = 0.
func Deltas(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		out[i] = values[i] - values[i-1]
	}
	return out
}

// Series applies Compare to the first differences of values.
func Series(values []float64, bullishBias bool) []Signal {
	d := Deltas(values)
	out := make([]Signal, len(values))
	for i := range d {
		prev := 0.0
		if i > 0 {
			prev = d[i-1]
		}
		out[i] = Compare(d[i], prev, bullishBias)
	}
	return out
}
