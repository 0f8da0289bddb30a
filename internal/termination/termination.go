// Package termination decides when a PSD-MADS run stops and finalizes its
// stop reason.
package termination

import (
	"log/slog"
	"time"

	"github.com/cwbudde/psdmads/internal/eval"
	"github.com/cwbudde/psdmads/internal/stop"
)

// Termination owns the run's stop reasons. Terminate is called by every
// worker at the top of each round, so it only reads shared counters.
type Termination struct {
	Control       *eval.Control
	Reasons       *stop.Reasons
	MaxIterations int
	Stagnation    *Stagnation
	Logger        *slog.Logger

	started time.Time
	lastK   int
}

// New creates a Termination bound to an evaluation control.
func New(evc *eval.Control, reasons *stop.Reasons, maxIterations int) *Termination {
	if reasons == nil {
		reasons = stop.NewReasons()
	}
	return &Termination{
		Control:       evc,
		Reasons:       reasons,
		MaxIterations: maxIterations,
		Logger:        slog.Default(),
	}
}

// Terminate reports whether the run must stop before iteration k. Stop
// reasons raised by any main thread are collected into Reasons.
func (t *Termination) Terminate(k int) bool {
	if t.Control != nil {
		for _, id := range t.Control.MainThreads() {
			if mt, ok := t.Control.MainThread(id); ok && mt.Reasons != t.Reasons {
				for _, r := range mt.Reasons.List() {
					t.Reasons.Set(r)
				}
			}
		}
		if t.Control.BudgetExhausted() {
			t.Reasons.Set(stop.MaxBBEval)
		}
	}
	if t.MaxIterations > 0 && k >= t.MaxIterations {
		t.Reasons.Set(stop.MaxIterations)
	}
	return t.Reasons.Checked()
}

// Observe feeds the round's best objective to the stagnation tracker. It
// must be called by one worker only.
func (t *Termination) Observe(f float64) {
	if t.Stagnation != nil && t.Stagnation.Update(f) {
		t.logger().Info("Stagnation detected - stopping early",
			"stale_count", t.Stagnation.StaleCount(),
			"best_f", t.Stagnation.Best(),
		)
		t.Reasons.Set(stop.Stagnation)
	}
}

func (t *Termination) Start() {
	t.started = time.Now()
}

// Run finalizes the stop reason for iteration k: when nothing raised a
// reason the run completed. It reports whether a reason other than
// Completed was raised.
func (t *Termination) Run(k int) bool {
	t.lastK = k
	if t.Terminate(k) {
		return true
	}
	t.Reasons.Set(stop.Completed)
	return false
}

func (t *Termination) End() {
	t.logger().Info("Run terminated",
		"reasons", t.Reasons.String(),
		"iterations", t.lastK,
		"nb_eval", t.nbEval(),
		"duration", time.Since(t.started),
	)
}

func (t *Termination) nbEval() int {
	if t.Control == nil {
		return 0
	}
	return t.Control.NbEval()
}

func (t *Termination) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
