package mads

import (
	"context"
	"math"

	"github.com/cwbudde/psdmads/internal/mesh"
	"github.com/cwbudde/psdmads/internal/opt"
	"github.com/cwbudde/psdmads/internal/point"
)

// DefaultPenalty weighs the constraint violation in the scalar objective
// handed to a search optimizer.
const DefaultPenalty = 1e6

// SearchInput describes the neighbourhood a search step may explore. All
// coordinates are reduced to the free variables of the pass.
type SearchInput struct {
	Center   point.Point
	Mesh     *mesh.Mesh
	Lower    []float64
	Upper    []float64
	Evaluate func([]point.Point, func(point.Point) bool) ([]point.Point, error)
}

// Searcher proposes trial points ahead of the poll.
type Searcher interface {
	Search(ctx context.Context, in SearchInput) ([]point.Point, error)
}

// SearchFunc adapts a function to the Searcher interface.
type SearchFunc func(ctx context.Context, in SearchInput) ([]point.Point, error)

func (f SearchFunc) Search(ctx context.Context, in SearchInput) ([]point.Point, error) {
	return f(ctx, in)
}

// OptimizerSearch runs a generic optimizer on the frame around the center.
// Every objective call goes through the evaluation control so budget and
// cache apply; the best position found is returned projected on the mesh.
type OptimizerSearch struct {
	Optimizer opt.Optimizer
	Penalty   float64
}

// NewOptimizerSearch wraps o as a search step.
func NewOptimizerSearch(o opt.Optimizer) *OptimizerSearch {
	return &OptimizerSearch{Optimizer: o, Penalty: DefaultPenalty}
}

func (s *OptimizerSearch) Search(ctx context.Context, in SearchInput) ([]point.Point, error) {
	n := in.Center.Len()
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := 0; i < n; i++ {
		d := in.Mesh.FrameSize(i)
		lower[i] = math.Max(in.Lower[i], in.Center.X[i]-d)
		upper[i] = math.Min(in.Upper[i], in.Center.X[i]+d)
	}

	objective := func(x []float64) float64 {
		if ctx.Err() != nil {
			return math.Inf(1)
		}
		res, err := in.Evaluate([]point.Point{point.New(x)}, nil)
		if err != nil || len(res) == 0 || !res[0].Evaluated() {
			return math.Inf(1)
		}
		return res[0].F + s.Penalty*res[0].H
	}

	best, _, err := s.Optimizer.Run(objective, lower, upper)
	if err != nil {
		return nil, err
	}
	x := in.Mesh.Project(best, in.Center.X)
	clamp(x, in.Lower, in.Upper)
	p := point.New(x)
	if p.SamePosition(in.Center) {
		return nil, nil
	}
	return []point.Point{p}, nil
}
