// Package entropy provides the random source injected into every stochastic
// subsystem (battle variance, AI decisions, market shocks).
// Seeded sources replay exactly. The crypto source is for runs that must
// not be replayable from a save.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	mrand "math/rand/v2"
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// Seeded is a deterministic PCG-backed source.
type Seeded struct {
	r *mrand.Rand
}

// NewSeeded creates a deterministic source from seed.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{r: mrand.New(mrand.NewPCG(seedWord(seed, "a"), seedWord(seed, "b")))}
}

// ForDay derives the source for one simulated day. A tick replays identically
// regardless of how much randomness earlier ticks consumed.
func ForDay(seed int64, day int) *Seeded {
	return &Seeded{r: mrand.New(mrand.NewPCG(seedWord(seed, fmt.Sprintf("day:%d", day)), seedWord(seed, "tick")))}
}

// Float64 returns a value in [0, 1).
func (s *Seeded) Float64() float64 {
	return s.r.Float64()
}

func seedWord(seed int64, salt string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("%d:%s", seed, salt)))
	return h.Sum64()
}

// Crypto draws from crypto/rand.
type Crypto struct{}

// Float64 returns a value in [0, 1).
func (Crypto) Float64() float64 {
	return cryptoRandFloat()
}

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

// Fixed always returns the same value. Useful for pinning variance in tests.
type Fixed float64

// Float64 returns the fixed value.
func (f Fixed) Float64() float64 { return float64(f) }

// Range returns a uniform value in [lo, hi).
func Range(src Source, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}

// Chance reports whether an event with probability p fires.
func Chance(src Source, p float64) bool {
	if p <= 0 {
		return false
	}
	return src.Float64() < p
}

// Pick returns an index in [0, n). n must be positive.
func Pick(src Source, n int) int {
	i := int(src.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}
