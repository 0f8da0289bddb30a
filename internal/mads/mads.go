// Package mads runs single MADS passes over a (sub)problem on behalf of the
// PSD coordinator.
package mads

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/psdmads/internal/barrier"
	"github.com/cwbudde/psdmads/internal/eval"
	"github.com/cwbudde/psdmads/internal/mesh"
	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/stop"
)

// Subproblem is everything a pass needs. The mesh is a snapshot owned by the
// pass; Center and Fixed are in full dimension.
type Subproblem struct {
	Thread      int
	K           int
	Fixed       point.FixedVariables
	Center      point.Point
	Mesh        *mesh.Mesh
	Lower       []float64
	Upper       []float64
	HMax        float64
	SuccessType barrier.SuccessType
}

// Result of one pass. Points are the pass's barrier in reduced coordinates.
type Result struct {
	Success    bool
	Points     []point.Point
	NbEval     int
	Iterations int
}

// Optimizer runs exactly one MADS optimization on a subproblem. No
// improvement is reported through Result.Success, not as an error.
type Optimizer interface {
	Optimize(ctx context.Context, sp Subproblem) (Result, error)
}

// Option configures a Mads.
type Option func(*Mads)

// WithSearch installs a search step run before the first poll of a pass.
func WithSearch(s Searcher) Option {
	return func(m *Mads) { m.search = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Mads) { m.logger = l }
}

// WithSeed seeds the poll direction generator.
func WithSeed(seed int64) Option {
	return func(m *Mads) { m.seed = seed }
}

// Mads is the reference Optimizer: a compass poll on the mesh with local
// enlarge/refine, bounded by MaxIterations per pass. It is safe for
// concurrent use; every pass keeps its own state.
type Mads struct {
	evc           *eval.Control
	maxIterations int
	search        Searcher
	seed          int64
	logger        *slog.Logger
}

// New creates a Mads running at most maxIterations poll iterations per pass.
func New(evc *eval.Control, maxIterations int, opts ...Option) *Mads {
	if maxIterations <= 0 {
		maxIterations = 1
	}
	m := &Mads{
		evc:           evc,
		maxIterations: maxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mads) Optimize(ctx context.Context, sp Subproblem) (Result, error) {
	free := sp.Fixed.FreeIndices()
	if len(free) == 0 {
		return Result{}, nil
	}

	lower := subBounds(sp.Lower, free, math.Inf(-1))
	upper := subBounds(sp.Upper, free, math.Inf(1))
	local := sp.Mesh.Sub(free)
	pass := barrier.New(sp.HMax, sp.Fixed.PointToSub(sp.Center))
	rng := rand.New(rand.NewSource(m.seed + int64(sp.Thread)*7919 + int64(sp.K)*104729))

	mt, ok := m.evc.MainThread(sp.Thread)
	if !ok {
		return Result{}, errors.New("pass started on an unregistered main thread")
	}
	startEval := m.evc.NbEvalThread(sp.Thread)
	reasons := stop.NewReasons()

	evaluate := func(candidates []point.Point, improves func(point.Point) bool) ([]point.Point, error) {
		full := sp.Fixed.ConvertToFull(candidates)
		res, err := m.evc.Evaluate(ctx, sp.Thread, full, improves)
		sub := make([]point.Point, len(res))
		for i, p := range res {
			sub[i] = sp.Fixed.PointToSub(p)
		}
		return sub, err
	}

	success := false
	result := Result{}
	for it := 0; it < m.maxIterations; it++ {
		result.Iterations = it + 1
		center, _ := pass.Best()
		improves := func(p point.Point) bool { return improvesOn(p, center) }

		var candidates []point.Point
		if it == 0 && m.search != nil {
			found, err := m.search.Search(ctx, SearchInput{
				Center:   center,
				Mesh:     local,
				Lower:    lower,
				Upper:    upper,
				Evaluate: evaluate,
			})
			if err != nil {
				m.logger.Warn("Search step failed", "thread", sp.Thread, "k", sp.K, "error", err)
			}
			candidates = found
		}
		candidates = append(candidates, pollPoints(center, local, lower, upper, rng)...)

		evaluated, err := evaluate(candidates, improves)
		st := pass.UpdateWithPoints(evaluated, m.evc.EvalType(), m.evc.ComputeType())
		if st >= barrier.PartialSuccess {
			success = true
		}
		if err != nil {
			if errors.Is(err, eval.ErrStopWaiting) {
				break
			}
			return m.finish(result, pass, success, sp.Thread, startEval), err
		}

		switch st {
		case barrier.FullSuccess:
			local.Enlarge()
		case barrier.PartialSuccess:
		default:
			local.Refine()
			local.CheckForStopping(reasons)
		}
		if reasons.Checked() || m.evc.BudgetExhausted() {
			break
		}
		if limit := mt.Params.MaxEvalPerPass; limit > 0 && m.evc.NbEvalThread(sp.Thread)-startEval >= limit {
			break
		}
	}

	return m.finish(result, pass, success, sp.Thread, startEval), nil
}

func (m *Mads) finish(result Result, pass *barrier.Barrier, success bool, thread, startEval int) Result {
	result.Success = success
	result.Points = pass.AllPoints()
	result.NbEval = m.evc.NbEvalThread(thread) - startEval
	return result
}

// improvesOn reports whether p would be accepted as a better frame center
// than c.
func improvesOn(p, c point.Point) bool {
	if p.Feasible() {
		return !c.Feasible() || p.F < c.F
	}
	return !c.Feasible() && p.Dominates(c)
}

func subBounds(bounds []float64, free []int, def float64) []float64 {
	out := make([]float64, len(free))
	for j, i := range free {
		if i < len(bounds) {
			out[j] = bounds[i]
		} else {
			out[j] = def
		}
	}
	return out
}

// pollPoints generates the 2n compass directions in random order, scaled by
// the frame size, projected on the mesh and clamped into the bounds. Points
// falling back on the center are dropped.
func pollPoints(center point.Point, m *mesh.Mesh, lower, upper []float64, rng *rand.Rand) []point.Point {
	n := center.Len()
	perm := rng.Perm(n)
	points := make([]point.Point, 0, 2*n)
	for _, sign := range []float64{1, -1} {
		for _, i := range perm {
			x := append([]float64{}, center.X...)
			x[i] += sign * m.FrameSize(i)
			x = m.Project(x, center.X)
			clamp(x, lower, upper)
			p := point.New(x)
			if p.SamePosition(center) {
				continue
			}
			points = append(points, p)
		}
	}
	return points
}

func clamp(x, lower, upper []float64) {
	for i := range x {
		x[i] = math.Max(lower[i], math.Min(upper[i], x[i]))
	}
}
