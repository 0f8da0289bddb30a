package psd

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwbudde/psdmads/internal/barrier"
	"github.com/cwbudde/psdmads/internal/mads"
	"github.com/cwbudde/psdmads/internal/mesh"
	"github.com/cwbudde/psdmads/internal/point"
)

// MegaIteration is one worker's round: a single MADS pass on its
// subproblem. Every input is a snapshot taken under the coordinator lock so
// Run does not touch shared state.
type MegaIteration struct {
	K           int
	Thread      int
	Role        Role
	HMax        float64
	Mesh        *mesh.Mesh
	SuccessType barrier.SuccessType
	Center      point.Point
	Fixed       point.FixedVariables
	Lower       []float64
	Upper       []float64

	optimizer mads.Optimizer
	logger    *slog.Logger
	result    mads.Result
	started   time.Time
}

func (mi *MegaIteration) Start() {
	mi.started = time.Now()
	mi.logger.Debug("Mega iteration started",
		"k", mi.K,
		"thread", mi.Thread,
		"role", mi.Role.String(),
		"nb_free", mi.Fixed.NumFree(),
	)
}

// Run executes exactly one optimization pass and reports whether it
// improved or found new acceptable points.
func (mi *MegaIteration) Run(ctx context.Context) (bool, error) {
	res, err := mi.optimizer.Optimize(ctx, mads.Subproblem{
		Thread:      mi.Thread,
		K:           mi.K,
		Fixed:       mi.Fixed,
		Center:      mi.Center,
		Mesh:        mi.Mesh,
		Lower:       mi.Lower,
		Upper:       mi.Upper,
		HMax:        mi.HMax,
		SuccessType: mi.SuccessType,
	})
	mi.result = res
	return res.Success, err
}

func (mi *MegaIteration) End() {
	mi.logger.Debug("Mega iteration ended",
		"k", mi.K,
		"thread", mi.Thread,
		"success", mi.result.Success,
		"nb_eval", mi.result.NbEval,
		"duration", time.Since(mi.started),
	)
}

// Points returns the pass's points in reduced coordinates.
func (mi *MegaIteration) Points() []point.Point { return mi.result.Points }

func (mi *MegaIteration) Result() mads.Result { return mi.result }
