package mads

import (
	"github.com/cwbudde/psdmads/internal/barrier"
	"github.com/cwbudde/psdmads/internal/mesh"
	"github.com/cwbudde/psdmads/internal/point"
)

// Update compares the barrier's best point with ref, the best point at the
// previous update. On full success the mesh is enlarged, on failure it is
// refined, a partial success keeps it. The success type and the new
// reference are returned.
func Update(m *mesh.Mesh, b *barrier.Barrier, ref point.Point) (barrier.SuccessType, point.Point) {
	best, ok := b.Best()
	if !ok {
		m.Refine()
		return barrier.Unsuccessful, ref
	}

	st := barrier.Unsuccessful
	switch {
	case !ref.Evaluated():
		st = barrier.FullSuccess
	case improvesOn(best, ref):
		st = barrier.FullSuccess
	case !best.Feasible() && best.H < ref.H:
		st = barrier.PartialSuccess
	}

	switch st {
	case barrier.FullSuccess:
		m.Enlarge()
	case barrier.Unsuccessful:
		m.Refine()
	}
	return st, best
}
