// Package opt wraps population-based global optimizers used as the search
// step of a MADS pass.
package opt

// Optimizer minimizes a scalar function inside a box.
type Optimizer interface {
	// Run minimizes eval over [lower, upper] and returns the best position
	// and its value. lower and upper must have the same length, which is the
	// dimension of the problem.
	Run(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error)
}
