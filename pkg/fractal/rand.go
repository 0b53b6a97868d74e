package fractal

import "math/rand/v2"

// Source supplies uniform random values in [0, 1) for randomized early
// termination. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// NewSource returns a deterministic PCG-backed source for the given seed.
func NewSource(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0))
}
