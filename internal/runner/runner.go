// Package runner assembles a PSD-MADS coordinator for a benchmark problem
// from run parameters. It is shared by the CLI and the job server.
package runner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/uber-go/tally/v4"

	"github.com/cwbudde/psdmads/internal/bench"
	"github.com/cwbudde/psdmads/internal/config"
	"github.com/cwbudde/psdmads/internal/eval"
	"github.com/cwbudde/psdmads/internal/mads"
	"github.com/cwbudde/psdmads/internal/opt"
	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/psd"
	"github.com/cwbudde/psdmads/internal/store"
)

// Options tune Prepare.
type Options struct {
	Logger *slog.Logger
	// Checkpoint, when set, restarts the run from a saved state.
	Checkpoint *store.Checkpoint
	// Scope, when set, receives the coordinator metrics tagged with the
	// problem name. See NewScope.
	Scope tally.Scope
	// Coordinator options appended after the ones Prepare derives.
	Coordinator []psd.Option
}

// Run is a prepared, not yet started, optimization.
type Run struct {
	// Params after bound defaults. MaxBBEval is the budget of the whole
	// run, resumed segments included.
	Params      config.Params
	Problem     bench.Problem
	Control     *eval.Control
	Coordinator *psd.Coordinator

	// EvalOffset is the number of evaluations spent before the checkpoint
	// the run resumed from.
	EvalOffset int
}

// Resolve fills the bounds left unset from the problem's default box and
// validates the result.
func Resolve(params config.Params) (config.Params, bench.Problem, error) {
	problem, err := bench.Lookup(params.Problem, params.Dimension)
	if err != nil {
		return params, bench.Problem{}, err
	}
	lower, upper := problem.Bounds(params.Dimension)
	if len(params.LowerBound) == 0 {
		params.LowerBound = lower
	}
	if len(params.UpperBound) == 0 {
		params.UpperBound = upper
	}
	if err := params.Validate(); err != nil {
		return params, problem, fmt.Errorf("invalid parameters: %w", err)
	}
	return params, problem, nil
}

// Prepare builds the evaluation control, the MADS optimizer and the
// coordinator for params.
func Prepare(params config.Params, opts Options) (*Run, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	params, problem, err := Resolve(params)
	if err != nil {
		return nil, err
	}

	run := &Run{Params: params, Problem: problem}
	segment := params

	coordOpts := []psd.Option{psd.WithLogger(logger)}
	if opts.Scope != nil {
		coordOpts = append(coordOpts, psd.WithScope(opts.Scope.Tagged(map[string]string{"problem": params.Problem})))
	}
	if cp := opts.Checkpoint; cp != nil {
		start, err := resume(&segment, cp)
		if err != nil {
			return nil, err
		}
		run.EvalOffset = cp.NbEval
		coordOpts = append(coordOpts, start)
		logger.Info("Resuming from checkpoint", "run_id", cp.RunID, "iteration", cp.Iteration, "nb_eval", cp.NbEval)
	}
	coordOpts = append(coordOpts, opts.Coordinator...)

	evc, err := eval.NewControl(segment.EvalGlobalParams(), problem.Func, segment.EvalControlParams(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation control: %w", err)
	}

	madsOpts := []mads.Option{mads.WithSeed(segment.Seed), mads.WithLogger(logger)}
	if segment.SearchMayflyIters > 0 {
		search := mads.NewOptimizerSearch(opt.NewMayfly(segment.SearchMayflyIters, segment.SearchMayflyPop, segment.Seed))
		madsOpts = append(madsOpts, mads.WithSearch(search))
	}
	optimizer := mads.New(evc, segment.PassMaxIterations, madsOpts...)

	coord, err := psd.New(segment, evc, optimizer, coordOpts...)
	if err != nil {
		return nil, err
	}

	run.Control = evc
	run.Coordinator = coord
	return run, nil
}

// resume checks cp against params and charges the evaluations it already
// spent to the budget.
func resume(params *config.Params, cp *store.Checkpoint) (psd.Option, error) {
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}
	if err := cp.IsCompatible(*params); err != nil {
		return nil, err
	}
	if params.MaxBBEval > 0 {
		remaining := params.MaxBBEval - cp.NbEval
		if remaining < 1 {
			return nil, fmt.Errorf("evaluation budget %d already spent by checkpoint (%d evaluations)", params.MaxBBEval, cp.NbEval)
		}
		params.MaxBBEval = remaining
	}
	return psd.WithStart(cp.Iteration, cp.Points, cp.InitialFrameSizes, cp.FrameSizes), nil
}

// NbEval returns the evaluations of the whole run for a count reported by
// the coordinator.
func (r *Run) NbEval(n int) int { return r.EvalOffset + n }

// Checkpoint converts a coordinator snapshot into a storable checkpoint.
func (r *Run) Checkpoint(runID string, snap psd.Snapshot) *store.Checkpoint {
	reasons := make([]string, len(snap.Reasons))
	for i, reason := range snap.Reasons {
		reasons[i] = string(reason)
	}
	return store.NewCheckpoint(runID, snap.K, r.NbEval(snap.NbEval), snap.Points, snap.FrameSizes, snap.InitialFrameSizes, reasons, r.Params)
}

// SaveCheckpoint snapshots the coordinator and stores the checkpoint and the
// best point of the run.
func (r *Run) SaveCheckpoint(s *store.FSStore, runID string) (*store.Checkpoint, error) {
	return r.SaveSnapshot(s, runID, r.Coordinator.Snapshot())
}

// SaveSnapshot stores snap as the checkpoint of runID, along with its best
// point.
func (r *Run) SaveSnapshot(s *store.FSStore, runID string, snap psd.Snapshot) (*store.Checkpoint, error) {
	cp := r.Checkpoint(runID, snap)
	if len(cp.Points) == 0 {
		return nil, fmt.Errorf("run %s has no evaluated point yet", runID)
	}
	if err := s.SaveCheckpoint(runID, cp); err != nil {
		return nil, err
	}
	best, _ := cp.Best()
	if err := s.SaveBest(runID, best); err != nil {
		return cp, err
	}
	return cp, nil
}

// TraceEntry converts a round event into a trace line.
func (r *Run) TraceEntry(ev psd.RoundEvent) store.TraceEntry {
	return store.TraceEntry{
		Iteration:   ev.K,
		Thread:      ev.Thread,
		Role:        ev.Role.String(),
		NbFree:      ev.NbFree,
		Success:     ev.Success,
		MeshUpdated: ev.MeshUpdated,
		BestF:       point.Float(ev.Best.F),
		BestH:       point.Float(ev.Best.H),
		NbEval:      r.NbEval(ev.NbEval),
		FrameSizes:  ev.FrameSizes,
		Timestamp:   time.Now(),
		X:           ev.Best.X,
	}
}
