// Package mathx holds the numeric guards shared by every simulation stage.
// Stage outputs pass through these before they are written back to state.
package mathx

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Finite replaces NaN and ±Inf with fallback.
func Finite(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// NonNeg floors v at zero, treating non-finite values as zero.
func NonNeg(v float64) float64 {
	v = Finite(v, 0)
	if v < 0 {
		return 0
	}
	return v
}

// SafeDiv returns a/b, or fallback when b is zero or the result is not finite.
func SafeDiv(a, b, fallback float64) float64 {
	if b == 0 {
		return fallback
	}
	return Finite(a/b, fallback)
}

// Approach moves cur toward target by the fraction rate.
func Approach(cur, target, rate float64) float64 {
	return cur + (target-cur)*rate
}

// Logistic is the standard sigmoid.
func Logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Logit is the inverse of Logistic. p is clamped away from 0 and 1.
func Logit(p float64) float64 {
	p = Clamp(p, 1e-6, 1-1e-6)
	return math.Log(p / (1 - p))
}
