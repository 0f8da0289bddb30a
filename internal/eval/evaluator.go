// Package eval dispatches points to the blackbox and tracks evaluation
// budgets for every main thread of a run.
package eval

import (
	"context"
	"math"
)

// Evaluator computes the objective value f and the constraint values g of a
// point. A constraint is satisfied when g_j <= 0.
type Evaluator interface {
	Eval(ctx context.Context, x []float64) (f float64, g []float64, err error)
}

// Func adapts a plain function to the Evaluator interface.
type Func func(x []float64) (float64, []float64)

func (fn Func) Eval(_ context.Context, x []float64) (float64, []float64, error) {
	f, g := fn(x)
	return f, g, nil
}

// Violation returns the constraint violation h = sum(max(0, g_j)^2).
func Violation(g []float64) float64 {
	h := 0.0
	for _, v := range g {
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		if v > 0 {
			h += v * v
		}
	}
	return h
}
