package store

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/psdmads/internal/config"
	"github.com/cwbudde/psdmads/internal/point"
)

// Checkpoint is a saved PSD-MADS state that a run can be hot restarted
// from.
//
// SAVED STATE:
//   - Points: the barrier (best feasible and non-dominated infeasible
//     points), already evaluated
//   - FrameSizes / InitialFrameSizes: the shared mesh
//   - Iteration and NbEval: the iteration counter k and evaluations spent
//   - Config: run parameters, checked for compatibility on resume
//
// REINITIALIZED ON RESUME:
//   - the random pickup schedule (reset as after a mesh update)
//   - the evaluation cache
//   - per-thread stop reasons
type Checkpoint struct {
	RunID string `json:"runId"`

	// Points is the barrier, best point first.
	Points []point.Point `json:"points"`

	FrameSizes        []float64 `json:"frameSizes"`
	InitialFrameSizes []float64 `json:"initialFrameSizes"`

	Iteration int `json:"iteration"`
	NbEval    int `json:"nbEval"`

	// Reasons are the stop reasons raised when the checkpoint was taken.
	Reasons []string `json:"reasons,omitempty"`

	Timestamp time.Time     `json:"timestamp"`
	Config    config.Params `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the barrier
// points. Used for listing.
type CheckpointInfo struct {
	RunID     string      `json:"runId"`
	BestF     point.Float `json:"bestF"`
	BestH     point.Float `json:"bestH"`
	Iteration int         `json:"iteration"`
	NbEval    int         `json:"nbEval"`
	Timestamp time.Time   `json:"timestamp"`
	Problem   string      `json:"problem"`
	Dimension int         `json:"dimension"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(runID string, iteration, nbEval int, points []point.Point, frame, initialFrame []float64, reasons []string, cfg config.Params) *Checkpoint {
	return &Checkpoint{
		RunID:             runID,
		Points:            point.Clones(points),
		FrameSizes:        append([]float64{}, frame...),
		InitialFrameSizes: append([]float64{}, initialFrame...),
		Iteration:         iteration,
		NbEval:            nbEval,
		Reasons:           reasons,
		Timestamp:         time.Now(),
		Config:            cfg,
	}
}

// Best returns the best point of the checkpoint.
func (c *Checkpoint) Best() (point.Point, bool) {
	if len(c.Points) == 0 {
		return point.Point{}, false
	}
	return c.Points[0], true
}

// ToInfo converts a full Checkpoint to CheckpointInfo.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	info := CheckpointInfo{
		RunID:     c.RunID,
		Iteration: c.Iteration,
		NbEval:    c.NbEval,
		Timestamp: c.Timestamp,
		Problem:   c.Config.Problem,
		Dimension: c.Config.Dimension,
	}
	if best, ok := c.Best(); ok {
		info.BestF = point.Float(best.F)
		info.BestH = point.Float(best.H)
	}
	return info
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if c.Config.Dimension <= 0 {
		return &ValidationError{Field: "Config.Dimension", Reason: "must be positive"}
	}
	if c.Config.Problem == "" {
		return &ValidationError{Field: "Config.Problem", Reason: "cannot be empty"}
	}
	if len(c.Points) == 0 {
		return &ValidationError{Field: "Points", Reason: "cannot be empty"}
	}
	for i, p := range c.Points {
		if p.Len() != c.Config.Dimension {
			return &ValidationError{
				Field:  fmt.Sprintf("Points[%d]", i),
				Reason: fmt.Sprintf("dimension mismatch: expected %d, got %d", c.Config.Dimension, p.Len()),
			}
		}
		if !p.Evaluated() {
			return &ValidationError{Field: fmt.Sprintf("Points[%d]", i), Reason: "is not evaluated"}
		}
	}
	if len(c.FrameSizes) != c.Config.Dimension {
		return &ValidationError{Field: "FrameSizes", Reason: fmt.Sprintf("length must be %d", c.Config.Dimension)}
	}
	if len(c.InitialFrameSizes) != c.Config.Dimension {
		return &ValidationError{Field: "InitialFrameSizes", Reason: fmt.Sprintf("length must be %d", c.Config.Dimension)}
	}
	for i := range c.FrameSizes {
		if c.FrameSizes[i] <= 0 || c.InitialFrameSizes[i] <= 0 {
			return &ValidationError{Field: "FrameSizes", Reason: "must be positive"}
		}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.NbEval < 0 {
		return &ValidationError{Field: "NbEval", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given
// parameters: same problem, dimension and bounds.
func (c *Checkpoint) IsCompatible(cfg config.Params) error {
	if c.Config.Problem != cfg.Problem {
		return &CompatibilityError{
			Field:    "Problem",
			Expected: c.Config.Problem,
			Actual:   cfg.Problem,
		}
	}
	if c.Config.Dimension != cfg.Dimension {
		return &CompatibilityError{
			Field:    "Dimension",
			Expected: fmt.Sprintf("%d", c.Config.Dimension),
			Actual:   fmt.Sprintf("%d", cfg.Dimension),
		}
	}
	if !sameBounds(c.Config.Lower(), cfg.Lower()) {
		return &CompatibilityError{
			Field:    "LowerBound",
			Expected: fmt.Sprint(c.Config.LowerBound),
			Actual:   fmt.Sprint(cfg.LowerBound),
		}
	}
	if !sameBounds(c.Config.Upper(), cfg.Upper()) {
		return &CompatibilityError{
			Field:    "UpperBound",
			Expected: fmt.Sprint(c.Config.UpperBound),
			Actual:   fmt.Sprint(cfg.UpperBound),
		}
	}
	return nil
}

func sameBounds(a, b []float64) bool {
	return len(a) == len(b) && floats.Equal(a, b)
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
