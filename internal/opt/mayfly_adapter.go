package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinMayflyPopulation is the smallest population mayfly v0.1.0 accepts.
const MinMayflyPopulation = 20

// MayflyAdapter runs the mayfly algorithm in the unit hypercube and maps
// positions back to the caller's box, so bounds may differ per dimension.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	rng      *rand.Rand
}

// NewMayfly creates a mayfly optimizer. Successive Run calls draw from one
// seeded generator so repeated searches explore different populations.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	if popSize < MinMayflyPopulation {
		popSize = MinMayflyPopulation
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error) {
	if len(lower) != len(upper) {
		return nil, 0, fmt.Errorf("bounds length mismatch: lower %d, upper %d", len(lower), len(upper))
	}
	dim := len(lower)
	if dim == 0 {
		return nil, 0, fmt.Errorf("cannot optimize a zero-dimension problem")
	}

	scale := func(u []float64) []float64 {
		x := make([]float64, dim)
		for i := range u {
			x[i] = lower[i] + u[i]*(upper[i]-lower[i])
		}
		return x
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(u []float64) float64 { return eval(scale(u)) }
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.rng.Int63()))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	return scale(result.GlobalBest.Position), result.GlobalBest.Cost, nil
}
