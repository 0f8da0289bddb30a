package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/stop"
)

// ErrStopWaiting is returned by Evaluate once SetStopWaiting(true) has been
// called: the run is over and no more points are evaluated.
var ErrStopWaiting = errors.New("evaluation control stopped waiting for evaluations")

// GlobalParams are shared by every main thread.
type GlobalParams struct {
	// MaxBBEval bounds the number of blackbox evaluations. Zero means no
	// limit.
	MaxBBEval int
	// BBMaxBlockSize is the number of points sent to the blackbox at once.
	BBMaxBlockSize int
	// CacheSize bounds the evaluation cache.
	CacheSize int
}

// ControlParams are owned by one main thread. Each thread works on its own
// copy.
type ControlParams struct {
	// Opportunistic stops evaluating a batch at the first improving point.
	Opportunistic bool
	// UseCache looks points up in the shared cache before evaluating.
	UseCache bool
	// MaxEvalPerPass bounds the evaluations of one MADS pass. Zero means
	// no limit.
	MaxEvalPerPass int
}

// Clone returns an independent copy of p.
func (p *ControlParams) Clone() *ControlParams {
	c := *p
	return &c
}

// CheckAndComply normalizes out-of-range values.
func (p *ControlParams) CheckAndComply() {
	if p.MaxEvalPerPass < 0 {
		p.MaxEvalPerPass = 0
	}
}

// MainThread is a registered evaluation context.
type MainThread struct {
	ID        int
	Reasons   *stop.Reasons
	Evaluator Evaluator
	Params    *ControlParams
	nbEval    *atomic.Int64
}

// Control owns the blackbox, the shared cache and the evaluation budget. It
// is safe for concurrent use by every main thread.
type Control struct {
	global GlobalParams
	cache  *Cache
	logger *slog.Logger

	mu      sync.RWMutex
	threads map[int]*MainThread

	nbEval      *atomic.Int64
	nbCacheHits *atomic.Int64
	stopWaiting *atomic.Bool
	evalType    Type
	computeType *atomic.Int32
}

// NewControl creates an evaluation control with main thread 0 registered.
func NewControl(global GlobalParams, ev Evaluator, params *ControlParams, logger *slog.Logger) (*Control, error) {
	if ev == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := NewCache(global.CacheSize)
	if err != nil {
		return nil, err
	}
	c := &Control{
		global:      global,
		cache:       cache,
		logger:      logger,
		threads:     map[int]*MainThread{},
		nbEval:      atomic.NewInt64(0),
		nbCacheHits: atomic.NewInt64(0),
		stopWaiting: atomic.NewBool(false),
		evalType:    Blackbox,
		computeType: atomic.NewInt32(int32(Standard)),
	}
	if err := c.AddMainThread(0, stop.NewReasons(), ev, params); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Control) GlobalParams() GlobalParams { return c.global }

// AddMainThread registers a main thread with its own stop reasons, evaluator
// and parameters. A nil evaluator shares the one of main thread 0.
func (c *Control) AddMainThread(id int, reasons *stop.Reasons, ev Evaluator, params *ControlParams) error {
	if params == nil {
		params = &ControlParams{}
	}
	if reasons == nil {
		reasons = stop.NewReasons()
	}
	params.CheckAndComply()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.threads[id]; exists {
		return fmt.Errorf("main thread %d already registered", id)
	}
	if ev == nil {
		t0, ok := c.threads[0]
		if !ok {
			return fmt.Errorf("main thread %d has no evaluator", id)
		}
		ev = t0.Evaluator
	}
	c.threads[id] = &MainThread{
		ID:        id,
		Reasons:   reasons,
		Evaluator: ev,
		Params:    params,
		nbEval:    atomic.NewInt64(0),
	}
	c.logger.Debug("Main thread registered", "thread", id)
	return nil
}

// MainThreads returns the registered thread ids in increasing order.
func (c *Control) MainThreads() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int, 0, len(c.threads))
	for id := range c.threads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MainThread returns the registration of thread id.
func (c *Control) MainThread(id int) (*MainThread, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mt, ok := c.threads[id]
	return mt, ok
}

func (c *Control) EvalType() Type { return c.evalType }

func (c *Control) ComputeType() ComputeType { return ComputeType(c.computeType.Load()) }

func (c *Control) SetComputeType(ct ComputeType) { c.computeType.Store(int32(ct)) }

// SetStopWaiting makes pending and future Evaluate calls return
// ErrStopWaiting.
func (c *Control) SetStopWaiting(v bool) { c.stopWaiting.Store(v) }

func (c *Control) StopWaiting() bool { return c.stopWaiting.Load() }

func (c *Control) Cache() *Cache { return c.cache }

// NbEval returns the number of blackbox evaluations, cache hits excluded.
func (c *Control) NbEval() int { return int(c.nbEval.Load()) }

func (c *Control) NbCacheHits() int { return int(c.nbCacheHits.Load()) }

// NbEvalThread returns the blackbox evaluations done for thread id.
func (c *Control) NbEvalThread(id int) int {
	mt, ok := c.MainThread(id)
	if !ok {
		return 0
	}
	return int(mt.nbEval.Load())
}

// BudgetExhausted reports whether MaxBBEval has been reached.
func (c *Control) BudgetExhausted() bool {
	return c.global.MaxBBEval > 0 && c.NbEval() >= c.global.MaxBBEval
}

func (c *Control) reserve() bool {
	n := c.nbEval.Inc()
	if c.global.MaxBBEval > 0 && n > int64(c.global.MaxBBEval) {
		c.nbEval.Dec()
		return false
	}
	return true
}

// Evaluate evaluates points in order on behalf of main thread id and returns
// the evaluated ones. When the thread is opportunistic, evaluation stops at
// the first point for which improves returns true. A failed blackbox call
// leaves the point unevaluated and is logged. Context cancellation and
// ErrStopWaiting are returned together with the points evaluated so far.
func (c *Control) Evaluate(ctx context.Context, id int, points []point.Point, improves func(point.Point) bool) ([]point.Point, error) {
	mt, ok := c.MainThread(id)
	if !ok {
		return nil, fmt.Errorf("main thread %d is not registered", id)
	}

	results := make([]point.Point, 0, len(points))
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if c.StopWaiting() {
			return results, ErrStopWaiting
		}

		if mt.Params.UseCache {
			if cached, ok := c.cache.Get(p.X); ok {
				c.nbCacheHits.Inc()
				results = append(results, cached)
				if mt.Params.Opportunistic && improves != nil && improves(cached) {
					return results, nil
				}
				continue
			}
		}

		if !c.reserve() {
			mt.Reasons.Set(stop.MaxBBEval)
			return results, nil
		}
		mt.nbEval.Inc()

		evaluated := point.New(p.X)
		f, g, err := mt.Evaluator.Eval(ctx, p.X)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			c.logger.Warn("Blackbox evaluation failed", "thread", id, "error", err)
			continue
		}
		if math.IsNaN(f) {
			f = math.Inf(1)
		}
		evaluated.F = f
		evaluated.H = Violation(g)

		c.cache.Add(evaluated)
		results = append(results, evaluated)

		if mt.Params.Opportunistic && improves != nil && improves(evaluated) {
			return results, nil
		}
	}
	return results, nil
}
