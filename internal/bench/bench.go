// Package bench provides analytic blackboxes for exercising the optimizer.
package bench

import (
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/psdmads/internal/eval"
)

// Problem is a benchmark blackbox with its default search box.
type Problem struct {
	Name  string
	Lower float64
	Upper float64
	// Optimum is the known optimal objective value, NaN when unknown.
	Optimum float64
	Func    eval.Func
}

// Bounds returns per-dimension bounds for dim variables.
func (p Problem) Bounds(dim int) (lower, upper []float64) {
	lower = make([]float64, dim)
	upper = make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = p.Lower
		upper[i] = p.Upper
	}
	return lower, upper
}

type factory func(dim int) Problem

var registry = map[string]factory{
	"sphere": func(dim int) Problem {
		return Problem{Name: "sphere", Lower: -5.12, Upper: 5.12, Optimum: 0, Func: Sphere}
	},
	"rosenbrock": func(dim int) Problem {
		return Problem{Name: "rosenbrock", Lower: -5, Upper: 10, Optimum: 0, Func: Rosenbrock}
	},
	"styblinski-tang": func(dim int) Problem {
		return Problem{Name: "styblinski-tang", Lower: -5, Upper: 5, Optimum: -39.16616570377142 * float64(dim), Func: StyblinskiTang}
	},
	"ackley": func(dim int) Problem {
		return Problem{Name: "ackley", Lower: -32.768, Upper: 32.768, Optimum: 0, Func: Ackley}
	},
	"constrained-sphere": func(dim int) Problem {
		return Problem{Name: "constrained-sphere", Lower: -5, Upper: 5, Optimum: float64(dim), Func: ConstrainedSphere}
	},
}

// Names lists the registered problems in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named problem for dim variables.
func Lookup(name string, dim int) (Problem, error) {
	f, ok := registry[name]
	if !ok {
		return Problem{}, fmt.Errorf("unknown problem %q (available: %v)", name, Names())
	}
	if dim < 1 {
		return Problem{}, fmt.Errorf("invalid dimension %d", dim)
	}
	return f(dim), nil
}

func Sphere(x []float64) (float64, []float64) {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return s, nil
}

func Rosenbrock(x []float64) (float64, []float64) {
	s := 0.0
	for i := 0; i+1 < len(x); i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		s += 100*a*a + b*b
	}
	return s, nil
}

func StyblinskiTang(x []float64) (float64, []float64) {
	s := 0.0
	for _, v := range x {
		v2 := v * v
		s += v2*v2 - 16*v2 + 5*v
	}
	return s / 2, nil
}

func Ackley(x []float64) (float64, []float64) {
	n := float64(len(x))
	sq, cs := 0.0, 0.0
	for _, v := range x {
		sq += v * v
		cs += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E, nil
}

// ConstrainedSphere minimizes the sphere subject to sum(x) >= n. The
// optimum is x = (1, ..., 1).
func ConstrainedSphere(x []float64) (float64, []float64) {
	f, _ := Sphere(x)
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return f, []float64{float64(len(x)) - sum}
}
