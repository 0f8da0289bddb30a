package psd

import (
	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/schedule"
)

// generateSubproblem fixes every variable at center and frees up to count
// indices drawn from s. It returns the number of freed variables, which is
// smaller than count when the schedule runs out. The caller holds the
// coordinator lock.
func generateSubproblem(s *schedule.RandomPickup, center []float64, count int) (point.FixedVariables, int) {
	fixed := point.FixedAt(center)
	drawn := 0
	for drawn < count {
		i, err := s.Pickup()
		if err != nil {
			break
		}
		fixed.Free(i)
		drawn++
	}
	return fixed, drawn
}
