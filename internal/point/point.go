// Package point holds the coordinate types shared by every layer of the
// optimizer: evaluated points, fixed-variable subproblems and point
// files.
package point

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Point is a position in variable space together with its objective value F
// and constraint violation H. H == 0 means feasible. An unevaluated point has
// F and H set to +Inf.
type Point struct {
	X []float64
	F float64
	H float64
}

// New returns an unevaluated point holding a copy of x.
func New(x []float64) Point {
	return Point{X: append([]float64{}, x...), F: math.Inf(1), H: math.Inf(1)}
}

// NewEvaluated returns a point holding a copy of x with the given values.
func NewEvaluated(x []float64, f, h float64) Point {
	return Point{X: append([]float64{}, x...), F: f, H: h}
}

func (p Point) Len() int { return len(p.X) }

func (p Point) Evaluated() bool { return !math.IsInf(p.F, 1) || !math.IsInf(p.H, 1) }

func (p Point) Feasible() bool { return p.H == 0 }

// Clone returns a deep copy of p.
func (p Point) Clone() Point {
	return Point{X: append([]float64{}, p.X...), F: p.F, H: p.H}
}

// SamePosition reports whether p and q have identical coordinates.
func (p Point) SamePosition(q Point) bool {
	return len(p.X) == len(q.X) && floats.Equal(p.X, q.X)
}

// Dominates reports whether p dominates q in the (H, F) sense: no worse in
// both and strictly better in at least one.
func (p Point) Dominates(q Point) bool {
	if p.H > q.H || p.F > q.F {
		return false
	}
	return p.H < q.H || p.F < q.F
}

// Distance returns the euclidean distance between p and q.
func Distance(p, q Point) float64 {
	return floats.Distance(p.X, q.X, 2)
}

// Clones copies a slice of points.
func Clones(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = p.Clone()
	}
	return out
}
