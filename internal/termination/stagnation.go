package termination

import (
	"log/slog"
	"math"
)

// StagnationConfig defines when a run is considered stalled.
type StagnationConfig struct {
	// Patience is the number of pollster rounds without significant
	// improvement before stopping. Zero disables detection.
	Patience int

	// Threshold is the minimum relative improvement that counts as
	// progress. Relative improvement = (last - f) / max(|last|, 1).
	Threshold float64
}

// Stagnation tracks the best objective over rounds.
type Stagnation struct {
	config          StagnationConfig
	history         []float64
	best            float64
	lastSignificant float64
	staleCount      int
}

func NewStagnation(config StagnationConfig) *Stagnation {
	return &Stagnation{
		config:          config,
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the best objective of a round and reports whether the run
// has stalled.
func (s *Stagnation) Update(f float64) bool {
	if s.config.Patience <= 0 {
		return false
	}

	s.history = append(s.history, f)
	if f < s.best {
		s.best = f
	}

	if math.IsInf(s.lastSignificant, 1) {
		if !math.IsInf(f, 1) {
			s.lastSignificant = f
			s.staleCount = 0
			return false
		}
	} else {
		improvement := (s.lastSignificant - f) / math.Max(math.Abs(s.lastSignificant), 1)
		if improvement >= s.config.Threshold {
			s.lastSignificant = f
			s.staleCount = 0
			return false
		}
	}

	s.staleCount++
	slog.Debug("No significant improvement",
		"f", f,
		"last_significant", s.lastSignificant,
		"stale_count", s.staleCount,
		"patience", s.config.Patience,
	)
	return s.staleCount >= s.config.Patience
}

func (s *Stagnation) Best() float64 { return s.best }

// History returns a copy of every recorded value.
func (s *Stagnation) History() []float64 { return append([]float64{}, s.history...) }

func (s *Stagnation) StaleCount() int { return s.staleCount }

// Reset clears the tracker's state.
func (s *Stagnation) Reset() {
	s.history = nil
	s.best = math.Inf(1)
	s.lastSignificant = math.Inf(1)
	s.staleCount = 0
}
