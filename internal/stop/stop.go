// Package stop records why an optimization run ended.
package stop

import (
	"strings"
	"sync"
)

// Reason identifies a stopping condition.
type Reason string

const (
	MaxIterations       Reason = "max_iterations"
	MaxBBEval           Reason = "max_bb_eval"
	MinMeshSize         Reason = "min_mesh_size"
	MinFrameSize        Reason = "min_frame_size"
	Stagnation          Reason = "stagnation"
	UserInterrupt       Reason = "user_interrupt"
	Canceled            Reason = "context_canceled"
	InitializationError Reason = "initialization_failed"
	Completed           Reason = "completed"
)

// Reasons is a concurrency-safe set of stop reasons in the order they were
// raised.
type Reasons struct {
	mu      sync.Mutex
	reasons []Reason
}

func NewReasons() *Reasons { return &Reasons{} }

// Set records r. Setting the same reason twice is a no-op.
func (s *Reasons) Set(r Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reasons {
		if existing == r {
			return
		}
	}
	s.reasons = append(s.reasons, r)
}

// Checked reports whether any stop reason has been raised.
func (s *Reasons) Checked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons) > 0
}

func (s *Reasons) Has(r Reason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reasons {
		if existing == r {
			return true
		}
	}
	return false
}

// List returns a copy of the raised reasons.
func (s *Reasons) List() []Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reason{}, s.reasons...)
}

func (s *Reasons) String() string {
	list := s.List()
	if len(list) == 0 {
		return "none"
	}
	parts := make([]string, len(list))
	for i, r := range list {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
