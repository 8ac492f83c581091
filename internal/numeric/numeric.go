// Package numeric holds the fallback policy for numeric degeneracies.
//
// Division by zero, logarithms of non-positive values and non-finite
// intermediates never propagate: each site substitutes 0. Downstream signal
// thresholds are tuned against that substitution, so it must not change.
package numeric

import (
	"math"

	"golang.org/x/exp/constraints"
)

// SafeDiv returns num/den, or 0 when den is zero or the quotient is not finite.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return Finite(num / den)
}

// SafeLog returns ln(x), or 0 for x <= 0.
func SafeLog(x float64) float64 {
	if x <= 0 || math.IsNaN(x) {
		return 0
	}
	return Finite(math.Log(x))
}

// SafeSqrt returns sqrt(x), or 0 for negative or non-finite x.
func SafeSqrt(x float64) float64 {
	if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return math.Sqrt(x)
}

// Finite maps NaN and ±Inf to 0.
func Finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Clamp restricts v to [lo, hi]. A degenerate range returns lo.
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if lo >= hi {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// KeepLast returns the last n elements of s (or s itself when shorter).
func KeepLast[T any](s []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// Copy returns a defensive copy of src (nil stays nil).
func Copy(src []float64) []float64 {
	if src == nil {
		return nil
	}
	dst := make([]float64, len(src))
	copy(dst, src)
	return dst
}
