package psd

import "github.com/cwbudde/psdmads/internal/config"

// Policy decides when the pollster updates the shared mesh.
type Policy struct {
	// Original updates the mesh after every pollster round.
	Original bool
	// IterOpportunistic updates the mesh as soon as a subproblem pass
	// succeeded since the last update.
	IterOpportunistic bool
	// Coverage is the percentage of variables that must have been drawn by
	// subproblems since the last update.
	Coverage float64
}

// PolicyFromParams extracts the mesh update policy of a run.
func PolicyFromParams(p config.Params) Policy {
	return Policy{
		Original:          p.Original,
		IterOpportunistic: p.IterOpportunistic,
		Coverage:          p.SubproblemPercentCover,
	}
}

// ShouldUpdateMesh reports whether the pollster must update the mesh given
// the number of indices still in the schedule. The coverage comparison
// remaining < (1-c/100)*dimension is strict and evaluated as
// remaining*100 < (100-c)*dimension so that the boundary does not depend on
// rounding: remaining == (1-c/100)*dimension does not update.
//
// An exhausted schedule (remaining == 0) always updates, even when the
// coverage test alone would not (coverage 100). Without it subproblem
// workers would wait forever for a schedule reset.
func ShouldUpdateMesh(p Policy, remaining, dimension int, lastSuccessful bool) bool {
	if p.Original {
		return true
	}
	if p.IterOpportunistic && lastSuccessful {
		return true
	}
	if float64(remaining)*100 < (100-p.Coverage)*float64(dimension) {
		return true
	}
	return remaining == 0
}
