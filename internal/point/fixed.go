package point

import "fmt"

// FixedVariables describes a subproblem: each slot is either fixed to a value
// or free. A worker owns its FixedVariables for the duration of one round.
type FixedVariables struct {
	values []float64
	fixed  []bool
}

// AllFree returns a FixedVariables of dimension n with every variable free. This is
// the full problem.
func AllFree(n int) FixedVariables {
	return FixedVariables{values: make([]float64, n), fixed: make([]bool, n)}
}

// FixedAt returns a FixedVariables with every variable pinned to x.
func FixedAt(x []float64) FixedVariables {
	fv := FixedVariables{values: append([]float64{}, x...), fixed: make([]bool, len(x))}
	for i := range fv.fixed {
		fv.fixed[i] = true
	}
	return fv
}

func (fv FixedVariables) Dimension() int { return len(fv.fixed) }

// Free releases variable i.
func (fv FixedVariables) Free(i int) {
	fv.fixed[i] = false
}

func (fv FixedVariables) IsFixed(i int) bool { return fv.fixed[i] }

// Value returns the pinned value of variable i and whether it is fixed.
func (fv FixedVariables) Value(i int) (float64, bool) {
	return fv.values[i], fv.fixed[i]
}

// FreeIndices returns the indices of the free variables in increasing order.
func (fv FixedVariables) FreeIndices() []int {
	idx := make([]int, 0, len(fv.fixed))
	for i, f := range fv.fixed {
		if !f {
			idx = append(idx, i)
		}
	}
	return idx
}

func (fv FixedVariables) NumFree() int {
	n := 0
	for _, f := range fv.fixed {
		if !f {
			n++
		}
	}
	return n
}

// ToSub extracts the free coordinates of a full-dimension vector.
func (fv FixedVariables) ToSub(x []float64) []float64 {
	if len(x) != len(fv.fixed) {
		panic(fmt.Sprintf("point of dimension %d does not match subproblem dimension %d", len(x), len(fv.fixed)))
	}
	sub := make([]float64, 0, len(x))
	for i, f := range fv.fixed {
		if !f {
			sub = append(sub, x[i])
		}
	}
	return sub
}

// ToFull re-inserts the fixed values around the reduced coordinates sub.
func (fv FixedVariables) ToFull(sub []float64) []float64 {
	full := make([]float64, len(fv.fixed))
	j := 0
	for i, f := range fv.fixed {
		if f {
			full[i] = fv.values[i]
			continue
		}
		if j >= len(sub) {
			panic(fmt.Sprintf("reduced point of dimension %d too short for %d free variables", len(sub), fv.NumFree()))
		}
		full[i] = sub[j]
		j++
	}
	if j != len(sub) {
		panic(fmt.Sprintf("reduced point of dimension %d does not match %d free variables", len(sub), j))
	}
	return full
}

// PointToSub converts a full point into reduced coordinates.
func (fv FixedVariables) PointToSub(p Point) Point {
	return Point{X: fv.ToSub(p.X), F: p.F, H: p.H}
}

// ConvertToFull maps reduced points back to full dimension, keeping their
// values.
func (fv FixedVariables) ConvertToFull(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{X: fv.ToFull(p.X), F: p.F, H: p.H}
	}
	return out
}

// Clone returns an independent copy of fv.
func (fv FixedVariables) Clone() FixedVariables {
	return FixedVariables{
		values: append([]float64{}, fv.values...),
		fixed:  append([]bool{}, fv.fixed...),
	}
}
