// Package psd coordinates Parallel Space Decomposition of MADS: one
// pollster optimizing the full problem and subproblem workers optimizing
// random subsets of the variables, all sharing a barrier and a mesh.
package psd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cwbudde/psdmads/internal/barrier"
	"github.com/cwbudde/psdmads/internal/config"
	"github.com/cwbudde/psdmads/internal/eval"
	"github.com/cwbudde/psdmads/internal/mads"
	"github.com/cwbudde/psdmads/internal/mesh"
	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/schedule"
	"github.com/cwbudde/psdmads/internal/stop"
	"github.com/cwbudde/psdmads/internal/termination"
)

// ErrBlockEvalUnsupported is returned by New when the evaluation control is
// configured to send blocks of more than one point to the blackbox.
var ErrBlockEvalUnsupported = errors.New("psd-mads does not support bb_max_block_size > 1")

// RoundEvent describes a finished worker round.
type RoundEvent struct {
	K           int
	Thread      int
	Role        Role
	NbFree      int
	Success     bool
	MeshUpdated bool
	Best        point.Point
	FrameSizes  []float64
	NbEval      int
	Duration    time.Duration
}

// Snapshot is a consistent copy of the shared state, used for checkpoints.
type Snapshot struct {
	K                 int
	NbEval            int
	Points            []point.Point
	FrameSizes        []float64
	InitialFrameSizes []float64
	Reasons           []stop.Reason
}

// Result of a run.
type Result struct {
	Best        point.Point
	Points      []point.Point
	Iterations  int
	NbEval      int
	MeshUpdates int
	FrameSizes  []float64
	Reasons     []stop.Reason
	Duration    time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithScope reports coordinator metrics on s.
func WithScope(s tally.Scope) Option {
	return func(c *Coordinator) { c.scope = s }
}

// WithObserver calls fn after every worker round, outside the lock.
func WithObserver(fn func(RoundEvent)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

// WithHotRestart installs the hook called on user interrupt.
func WithHotRestart(fn func(Snapshot) error) Option {
	return func(c *Coordinator) { c.hotRestart = fn }
}

// WithStart resumes a run at iteration k from already evaluated points and
// mesh frame sizes.
func WithStart(k int, points []point.Point, initialFrame, frame []float64) Option {
	return func(c *Coordinator) {
		c.k = k
		c.startPoints = point.Clones(points)
		c.initialFrame = append([]float64{}, initialFrame...)
		c.startFrame = append([]float64{}, frame...)
	}
}

// Coordinator runs PSD-MADS. Create one with New and call Run once.
type Coordinator struct {
	params    config.Params
	policy    Policy
	evc       *eval.Control
	optimizer mads.Optimizer
	term      *termination.Termination
	reasons   *stop.Reasons

	logger     *slog.Logger
	scope      tally.Scope
	observer   func(RoundEvent)
	hotRestart func(Snapshot) error
	progress   rate.Sometimes

	startPoints  []point.Point
	initialFrame []float64
	startFrame   []float64

	// mu guards everything below up to the channels.
	mu                 sync.Mutex
	schedule           *schedule.RandomPickup
	barrier            *barrier.Barrier
	mesh               *mesh.Mesh
	k                  int
	successType        barrier.SuccessType
	lastMadsSuccessful bool
	refBest            point.Point
	meshUpdates        int
	resetCh            chan struct{}

	ready       chan struct{}
	done        chan struct{}
	interrupted *atomic.Bool
}

// New validates the evaluation setup and registers main threads
// 1..NbSubproblem-1 on evc, each with its own copy of thread 0's parameters.
func New(params config.Params, evc *eval.Control, optimizer mads.Optimizer, opts ...Option) (*Coordinator, error) {
	if evc.GlobalParams().BBMaxBlockSize > 1 {
		return nil, ErrBlockEvalUnsupported
	}
	if params.Dimension < 1 {
		return nil, fmt.Errorf("invalid dimension %d", params.Dimension)
	}
	if params.NbSubproblem < 1 {
		return nil, fmt.Errorf("invalid number of main threads %d", params.NbSubproblem)
	}
	if params.NbVarInSubproblem < 1 || params.NbVarInSubproblem > params.Dimension {
		return nil, fmt.Errorf("invalid number of variables in subproblem %d for dimension %d", params.NbVarInSubproblem, params.Dimension)
	}
	mt0, ok := evc.MainThread(0)
	if !ok {
		return nil, errors.New("main thread 0 is not registered")
	}

	c := &Coordinator{
		params:      params,
		policy:      PolicyFromParams(params),
		evc:         evc,
		optimizer:   optimizer,
		reasons:     mt0.Reasons,
		logger:      slog.Default(),
		scope:       tally.NoopScope,
		progress:    rate.Sometimes{Interval: 2 * time.Second},
		resetCh:     make(chan struct{}),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		interrupted: atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(c)
	}

	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c.schedule = schedule.NewRandomPickup(params.Dimension, seed)

	if params.NbSubproblem == 1 && !c.policy.Original {
		c.logger.Info("No subproblem worker, updating the mesh after every pollster round")
		c.policy.Original = true
	}

	for id := 1; id < params.NbSubproblem; id++ {
		if err := evc.AddMainThread(id, stop.NewReasons(), nil, mt0.Params.Clone()); err != nil {
			return nil, fmt.Errorf("register main thread %d: %w", id, err)
		}
	}

	c.term = termination.New(evc, c.reasons, params.MaxIterations)
	c.term.Logger = c.logger
	if params.StagnationPatience > 0 {
		c.term.Stagnation = termination.NewStagnation(termination.StagnationConfig{
			Patience:  params.StagnationPatience,
			Threshold: params.StagnationThreshold,
		})
	}

	c.schedule.Reset()
	return c, nil
}

// Interrupt requests a user interrupt. The pollster handles it at its next
// round.
func (c *Coordinator) Interrupt() {
	c.interrupted.Store(true)
}

// Snapshot returns a copy of the shared state. Before initialization it
// only carries the iteration counter and stop reasons.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	s := Snapshot{
		K:       c.k,
		NbEval:  c.evc.NbEval(),
		Reasons: c.reasons.List(),
	}
	if c.barrier != nil {
		s.Points = c.barrier.AllPoints()
	}
	if c.mesh != nil {
		s.FrameSizes = c.mesh.FrameSizes()
		s.InitialFrameSizes = c.mesh.InitialFrameSizes()
	}
	return s
}

// Run spawns the pollster and the subproblem workers and blocks until the
// run terminates. Cancelling ctx stops the run with stop.Canceled and no
// error. A failing pass aborts every worker and its error is returned.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	c.term.Start()

	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < c.params.NbSubproblem; id++ {
		w := worker{id: id, role: roleOf(id)}
		g.Go(func() error {
			if w.role == RolePollster {
				return c.poll(gctx, w)
			}
			return c.work(gctx, w)
		})
	}
	err := g.Wait()

	if ctx.Err() != nil {
		c.reasons.Set(stop.Canceled)
	}

	c.mu.Lock()
	k := c.k
	res := &Result{
		Iterations:  k,
		NbEval:      c.evc.NbEval(),
		MeshUpdates: c.meshUpdates,
		Duration:    time.Since(started),
	}
	if c.barrier != nil {
		res.Points = c.barrier.AllPoints()
		res.Best, _ = c.barrier.Best()
	}
	if c.mesh != nil {
		res.FrameSizes = c.mesh.FrameSizes()
	}
	c.mu.Unlock()

	if err == nil {
		c.term.Run(k)
	}
	c.term.End()
	res.Reasons = c.reasons.List()
	return res, err
}

// poll is the pollster loop: initialization, then full-dimension rounds,
// mesh decisions and iteration advance.
func (c *Coordinator) poll(ctx context.Context, w worker) error {
	defer func() {
		c.evc.SetStopWaiting(true)
		close(c.done)
	}()

	if err := c.initialize(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.reasons.Set(stop.InitializationError)
		return err
	}
	close(c.ready)

	for !c.terminate(ctx) {
		if c.interrupted.Swap(false) {
			c.onUserInterrupt()
			continue
		}
		if err := c.round(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// work is the subproblem worker loop.
func (c *Coordinator) work(ctx context.Context, w worker) error {
	select {
	case <-c.ready:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return nil
	}

	for !c.terminate(ctx) {
		if err := c.round(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) initialize(ctx context.Context) error {
	x0 := c.startPoints
	if len(x0) == 0 {
		x0 = []point.Point{point.New(c.params.StartingPoint())}
	}
	frame := c.initialFrame
	if len(frame) == 0 {
		frame = c.params.InitialFrameSize
	}
	in := &mads.Initialization{
		Control:      c.evc,
		Thread:       0,
		X0:           x0,
		Lower:        c.params.Lower(),
		Upper:        c.params.Upper(),
		HMax:         float64(c.params.HMax),
		InitialFrame: frame,
		MinMeshSize:  c.params.MinMeshSize,
		MinFrameSize: c.params.MinFrameSize,
	}
	b, m, err := in.Run(ctx)
	if err != nil {
		return fmt.Errorf("initialization: %w", err)
	}
	if len(c.startFrame) > 0 {
		if err := m.SetFrameSizes(c.startFrame); err != nil {
			return fmt.Errorf("initialization: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.barrier = b
	c.mesh = m
	c.refBest, _ = b.Best()
	c.logger.Info("PSD-MADS initialized",
		"dimension", c.params.Dimension,
		"main_threads", c.params.NbSubproblem,
		"nb_var_in_subproblem", c.params.NbVarInSubproblem,
		"best_f", c.refBest.F,
		"best_h", c.refBest.H,
		"k", c.k,
	)
	return nil
}

// terminate is checked by every worker at the top of each round.
func (c *Coordinator) terminate(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
	}
	c.mu.Lock()
	k := c.k
	c.mu.Unlock()
	return c.term.Terminate(k)
}

func (c *Coordinator) onUserInterrupt() {
	snap := c.Snapshot()
	c.logger.Info("User interrupt", "k", snap.K, "nb_eval", snap.NbEval)
	if c.hotRestart != nil {
		if err := c.hotRestart(snap); err != nil {
			c.logger.Error("Hot restart hook failed", "error", err)
		}
	}
	if !c.params.HotRestartOnUserInterrupt {
		c.reasons.Set(stop.UserInterrupt)
	}
}

// round runs one worker round. Shared state is read and merged under the
// lock; the pass itself runs outside it.
func (c *Coordinator) round(ctx context.Context, w worker) error {
	scope := c.scope.Tagged(map[string]string{"role": w.role.String()})

	c.mu.Lock()
	best, _ := c.barrier.Best()
	mi := &MegaIteration{
		K:           c.k,
		Thread:      w.id,
		Role:        w.role,
		HMax:        c.barrier.HMax(),
		Mesh:        c.mesh.Clone(),
		SuccessType: c.successType,
		Center:      best.Clone(),
		Lower:       c.params.Lower(),
		Upper:       c.params.Upper(),
		optimizer:   c.optimizer,
		logger:      c.logger,
	}
	if w.role == RolePollster {
		mi.Fixed = point.AllFree(c.params.Dimension)
	} else {
		fixed, drawn := generateSubproblem(c.schedule, best.X, c.params.NbVarInSubproblem)
		if drawn == 0 {
			resetCh := c.resetCh
			c.mu.Unlock()
			select {
			case <-resetCh:
			case <-c.done:
			case <-ctx.Done():
			}
			return nil
		}
		mi.Fixed = fixed
	}
	c.mu.Unlock()

	started := time.Now()
	mi.Start()
	success, err := mi.Run(ctx)
	mi.End()
	elapsed := time.Since(started)
	scope.Timer("pass").Record(elapsed)

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, eval.ErrStopWaiting) {
			return nil
		}
		return fmt.Errorf("thread %d pass at k=%d: %w", w.id, mi.K, err)
	}

	c.mu.Lock()
	if success {
		c.mergeLocked(mi.Fixed.ConvertToFull(mi.Points()))
		if w.role == RoleSubproblem {
			c.lastMadsSuccessful = true
		}
		scope.Counter("successes").Inc(1)
	}
	meshUpdated := false
	if w.role == RolePollster {
		if ShouldUpdateMesh(c.policy, c.schedule.Remaining(), c.params.Dimension, c.lastMadsSuccessful) {
			c.updateMeshLocked()
			meshUpdated = true
		}
		c.k++
	}
	ev := RoundEvent{
		K:           mi.K,
		Thread:      w.id,
		Role:        w.role,
		NbFree:      mi.Fixed.NumFree(),
		Success:     success,
		MeshUpdated: meshUpdated,
		FrameSizes:  c.mesh.FrameSizes(),
		NbEval:      c.evc.NbEval(),
		Duration:    elapsed,
	}
	ev.Best, _ = c.barrier.Best()
	k := c.k
	c.mu.Unlock()

	scope.Counter("rounds").Inc(1)
	if w.role == RolePollster {
		c.scope.Gauge("iteration").Update(float64(k))
		if ev.Best.Feasible() {
			c.scope.Gauge("best_f").Update(ev.Best.F)
			c.term.Observe(ev.Best.F)
		} else {
			c.term.Observe(ev.Best.F + ev.Best.H)
		}
		c.progress.Do(func() {
			c.logger.Info("PSD-MADS progress",
				"k", k,
				"best_f", ev.Best.F,
				"best_h", ev.Best.H,
				"nb_eval", ev.NbEval,
			)
		})
	}
	if c.observer != nil {
		c.observer(ev)
	}
	return nil
}

// mergeLocked merges full-dimension points into the barrier. With
// FrameCenterUseCache the best cached point is merged as well.
func (c *Coordinator) mergeLocked(points []point.Point) {
	st := c.barrier.UpdateWithPoints(points, c.evc.EvalType(), c.evc.ComputeType())
	if c.params.FrameCenterUseCache {
		if cached, ok := c.evc.Cache().Best(); ok {
			if cst := c.barrier.UpdateWithPoints([]point.Point{cached}, c.evc.EvalType(), c.evc.ComputeType()); cst > st {
				st = cst
			}
		}
	}
	if st > barrier.NotEvaluated {
		c.successType = st
	}
}

// updateMeshLocked resets the schedule, clears the subproblem success flag,
// enlarges or refines the mesh and checks the mesh stopping criteria.
func (c *Coordinator) updateMeshLocked() {
	c.schedule.Reset()
	close(c.resetCh)
	c.resetCh = make(chan struct{})
	c.lastMadsSuccessful = false

	st, ref := mads.Update(c.mesh, c.barrier, c.refBest)
	c.refBest = ref
	c.successType = st
	c.meshUpdates++
	c.scope.Counter("mesh_updates").Inc(1)

	if c.mesh.CheckForStopping(c.reasons) {
		c.logger.Info("Mesh stopping criterion reached", "k", c.k, "reasons", c.reasons.String())
	}
}
