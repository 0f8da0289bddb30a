// Package schedule provides the random-without-replacement variable
// schedule used to build subproblems.
package schedule

import (
	"errors"
	"math/rand"
	"sync"
)

// ErrExhausted is returned by Pickup when every index has been drawn since
// the last Reset.
var ErrExhausted = errors.New("random pickup schedule exhausted")

// RandomPickup draws variable indices uniformly at random without
// replacement. An index is not eligible again until Reset. All methods are
// safe for concurrent use.
type RandomPickup struct {
	mu        sync.Mutex
	dim       int
	remaining []int
	rng       *rand.Rand
}

// NewRandomPickup creates a schedule over [0, dim). The schedule starts
// full.
func NewRandomPickup(dim int, seed int64) *RandomPickup {
	rp := &RandomPickup{
		dim: dim,
		rng: rand.New(rand.NewSource(seed)),
	}
	rp.Reset()
	return rp
}

// Reset makes every index eligible again.
func (rp *RandomPickup) Reset() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.remaining = rp.remaining[:0]
	for i := 0; i < rp.dim; i++ {
		rp.remaining = append(rp.remaining, i)
	}
}

// Pickup removes and returns one eligible index.
func (rp *RandomPickup) Pickup() (int, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	n := len(rp.remaining)
	if n == 0 {
		return -1, ErrExhausted
	}
	j := rp.rng.Intn(n)
	idx := rp.remaining[j]
	rp.remaining[j] = rp.remaining[n-1]
	rp.remaining = rp.remaining[:n-1]
	return idx, nil
}

// Remaining returns the number of eligible indices.
func (rp *RandomPickup) Remaining() int {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return len(rp.remaining)
}

// Dimension returns the size of the full index set.
func (rp *RandomPickup) Dimension() int { return rp.dim }
