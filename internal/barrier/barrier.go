// Package barrier implements the progressive barrier archive holding the
// incumbent solutions of a run.
package barrier

import (
	"math"
	"sort"

	"github.com/cwbudde/psdmads/internal/eval"
	"github.com/cwbudde/psdmads/internal/point"
)

// SuccessType classifies the outcome of merging points into a barrier.
// Values are ordered so that the larger one is the better outcome.
type SuccessType int

const (
	NotEvaluated SuccessType = iota
	Unsuccessful
	PartialSuccess
	FullSuccess
)

func (s SuccessType) String() string {
	switch s {
	case Unsuccessful:
		return "unsuccessful"
	case PartialSuccess:
		return "partial_success"
	case FullSuccess:
		return "full_success"
	default:
		return "not_evaluated"
	}
}

// Barrier keeps the feasible points sharing the best objective value and the
// non-dominated infeasible points with h <= HMax. It is not safe for
// concurrent use; the coordinator serializes access.
type Barrier struct {
	hMax       float64
	feasible   []point.Point
	infeasible []point.Point
}

// New creates a barrier and merges the given points into it. A hMax <= 0
// means no infeasible points are kept.
func New(hMax float64, points ...point.Point) *Barrier {
	b := &Barrier{hMax: hMax}
	b.UpdateWithPoints(points, eval.Blackbox, eval.Standard)
	return b
}

func (b *Barrier) HMax() float64 { return b.hMax }

func (b *Barrier) Len() int { return len(b.feasible) + len(b.infeasible) }

// AllPoints returns copies of every point, best first: feasible points, then
// infeasible points by increasing h.
func (b *Barrier) AllPoints() []point.Point {
	all := make([]point.Point, 0, b.Len())
	all = append(all, point.Clones(b.feasible)...)
	all = append(all, point.Clones(b.infeasible)...)
	return all
}

// Best returns the best point and false when the barrier is empty.
func (b *Barrier) Best() (point.Point, bool) {
	if len(b.feasible) > 0 {
		return b.feasible[0].Clone(), true
	}
	if len(b.infeasible) > 0 {
		return b.infeasible[0].Clone(), true
	}
	return point.Point{}, false
}

func (b *Barrier) Feasible() []point.Point { return point.Clones(b.feasible) }

func (b *Barrier) Infeasible() []point.Point { return point.Clones(b.infeasible) }

// UpdateWithPoints merges points into the barrier and returns the best
// success obtained. Unevaluated points and points already present are
// ignored, so merging the same batch twice leaves the archive unchanged.
func (b *Barrier) UpdateWithPoints(points []point.Point, et eval.Type, ct eval.ComputeType) SuccessType {
	success := Unsuccessful
	if len(points) == 0 {
		return NotEvaluated
	}
	for _, p := range points {
		if !p.Evaluated() || math.IsNaN(p.F) || math.IsNaN(p.H) {
			continue
		}
		var s SuccessType
		if p.Feasible() {
			s = b.addFeasible(p.Clone())
		} else {
			s = b.addInfeasible(p.Clone(), ct)
		}
		if s > success {
			success = s
		}
	}
	return success
}

func (b *Barrier) addFeasible(p point.Point) SuccessType {
	if len(b.feasible) == 0 || p.F < b.feasible[0].F {
		b.feasible = []point.Point{p}
		return FullSuccess
	}
	if p.F == b.feasible[0].F && !contains(b.feasible, p) {
		b.feasible = append(b.feasible, p)
	}
	return Unsuccessful
}

func (b *Barrier) addInfeasible(p point.Point, ct eval.ComputeType) SuccessType {
	if math.IsInf(p.H, 1) || p.H > b.hMax || contains(b.infeasible, p) {
		return Unsuccessful
	}
	for _, q := range b.infeasible {
		if q.Dominates(p) || (q.H == p.H && q.F == p.F) {
			return Unsuccessful
		}
	}

	var success SuccessType
	switch {
	case len(b.infeasible) == 0 && len(b.feasible) == 0:
		success = FullSuccess
	case len(b.infeasible) == 0:
		success = PartialSuccess
	case ct == eval.PhaseOne && p.H < b.infeasible[0].H:
		success = FullSuccess
	case p.Dominates(b.infeasible[0]):
		success = FullSuccess
	case p.H < b.infeasible[0].H:
		success = PartialSuccess
	default:
		success = Unsuccessful
	}

	kept := b.infeasible[:0]
	for _, q := range b.infeasible {
		if !p.Dominates(q) {
			kept = append(kept, q)
		}
	}
	b.infeasible = append(kept, p)
	sort.SliceStable(b.infeasible, func(i, j int) bool {
		if b.infeasible[i].H != b.infeasible[j].H {
			return b.infeasible[i].H < b.infeasible[j].H
		}
		return b.infeasible[i].F < b.infeasible[j].F
	})
	return success
}

func contains(points []point.Point, p point.Point) bool {
	for _, q := range points {
		if q.SamePosition(p) {
			return true
		}
	}
	return false
}
