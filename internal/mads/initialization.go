package mads

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/psdmads/internal/barrier"
	"github.com/cwbudde/psdmads/internal/eval"
	"github.com/cwbudde/psdmads/internal/mesh"
	"github.com/cwbudde/psdmads/internal/point"
)

// ErrNoInitialPoint is returned when no starting point could be evaluated
// within the barrier threshold.
var ErrNoInitialPoint = errors.New("no valid initial point")

// Initialization evaluates the starting points and builds the first barrier
// and mesh.
type Initialization struct {
	Control      *eval.Control
	Thread       int
	X0           []point.Point
	Lower        []float64
	Upper        []float64
	HMax         float64
	InitialFrame []float64
	MinMeshSize  float64
	MinFrameSize float64
}

// Run evaluates X0 (no opportunism) and returns the resulting barrier and
// mesh. Points already evaluated, e.g. restored from a checkpoint, are
// merged as is.
func (in *Initialization) Run(ctx context.Context) (*barrier.Barrier, *mesh.Mesh, error) {
	if len(in.X0) == 0 {
		return nil, nil, fmt.Errorf("%w: empty x0", ErrNoInitialPoint)
	}
	n := in.X0[0].Len()
	for _, p := range in.X0 {
		if p.Len() != n {
			return nil, nil, fmt.Errorf("%w: x0 points of different dimensions", ErrNoInitialPoint)
		}
	}

	var done, pending []point.Point
	for _, p := range in.X0 {
		if p.Evaluated() {
			done = append(done, p.Clone())
		} else {
			pending = append(pending, p.Clone())
		}
	}
	if len(pending) > 0 {
		res, err := in.Control.Evaluate(ctx, in.Thread, pending, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("evaluate x0: %w", err)
		}
		done = append(done, res...)
	}

	b := barrier.New(in.HMax)
	b.UpdateWithPoints(done, in.Control.EvalType(), in.Control.ComputeType())
	if b.Len() == 0 {
		return nil, nil, ErrNoInitialPoint
	}

	frame := in.InitialFrame
	if len(frame) != n {
		frame = InitialFrameSizes(in.X0[0].X, in.Lower, in.Upper)
	}
	m := mesh.New(frame)
	m.MinMeshSize = in.MinMeshSize
	m.MinFrameSize = in.MinFrameSize
	return b, m, nil
}

// InitialFrameSizes picks a tenth of the bound range per dimension, or a
// tenth of |x0| when a bound is missing, or 1.
func InitialFrameSizes(x0, lower, upper []float64) []float64 {
	frame := make([]float64, len(x0))
	for i := range frame {
		switch {
		case i < len(lower) && i < len(upper) && !math.IsInf(lower[i], 0) && !math.IsInf(upper[i], 0) && upper[i] > lower[i]:
			frame[i] = (upper[i] - lower[i]) / 10
		case x0[i] != 0:
			frame[i] = math.Abs(x0[i]) / 10
		default:
			frame[i] = 1
		}
	}
	return frame
}
