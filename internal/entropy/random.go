// Package entropy provides the random sources shared by the director and its hosts.
// Sessions run on a seeded source so a given seed replays the same allocation
// decisions; crypto/rand backs the unseeded fallback.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// Source is the randomness the director consumes. Implementations need not be
// safe for concurrent use; the director is single-threaded.
type Source interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Intn returns a value in [0, n). n <= 0 yields 0.
	Intn(n int) int
}

// Seeded is a deterministic Source.
type Seeded struct {
	rng *mrand.Rand
}

// NewSeeded creates a deterministic source. Components derive their own stream
// by offsetting the session seed (seed+100 for the director, seed+400 for the arena).
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewSource(seed))}
}

func (s *Seeded) Float64() float64 { return s.rng.Float64() }

func (s *Seeded) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return s.rng.Intn(n)
}

type cryptoSource struct{}

// Crypto returns a non-deterministic source backed by crypto/rand.
func Crypto() Source { return cryptoSource{} }

func (cryptoSource) Float64() float64 { return cryptoRandFloat() }

func (cryptoSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	i := int(cryptoRandFloat() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
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

// Range returns a float in [lo, hi). A reversed or empty range returns lo.
func Range(src Source, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + src.Float64()*(hi-lo)
}

// IntRange returns an int in [lo, hi], both ends inclusive.
func IntRange(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.Intn(hi-lo+1)
}
