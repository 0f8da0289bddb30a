// Package mesh implements the discretization shared by the pollster and the
// subproblem workers.
package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/psdmads/internal/stop"
)

// Mesh holds one frame size per dimension. The mesh size of dimension i is
// min(frame_i, frame_i^2 / initial_i) so it shrinks faster than the frame
// once refined below the initial frame.
//
// A Mesh is not safe for concurrent use. Workers take a Clone while holding
// the coordinator lock.
type Mesh struct {
	initial []float64
	frame   []float64

	// MinMeshSize stops the run once every mesh size is below it. Zero
	// disables the check.
	MinMeshSize float64
	// MinFrameSize stops the run once every frame size is below it. Zero
	// disables the check.
	MinFrameSize float64
}

// New creates a mesh with the given initial frame sizes.
func New(initialFrame []float64) *Mesh {
	for i, v := range initialFrame {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			panic(fmt.Sprintf("invalid initial frame size %v for dimension %d", v, i))
		}
	}
	return &Mesh{
		initial: append([]float64{}, initialFrame...),
		frame:   append([]float64{}, initialFrame...),
	}
}

func (m *Mesh) Dimension() int { return len(m.frame) }

func (m *Mesh) FrameSize(i int) float64 { return m.frame[i] }

func (m *Mesh) MeshSize(i int) float64 {
	return math.Min(m.frame[i], m.frame[i]*m.frame[i]/m.initial[i])
}

// FrameSizes returns a copy of the frame sizes.
func (m *Mesh) FrameSizes() []float64 { return append([]float64{}, m.frame...) }

// InitialFrameSizes returns a copy of the initial frame sizes.
func (m *Mesh) InitialFrameSizes() []float64 { return append([]float64{}, m.initial...) }

// SetFrameSizes replaces the current frame sizes, used when restoring a
// checkpoint.
func (m *Mesh) SetFrameSizes(frame []float64) error {
	if len(frame) != len(m.frame) {
		return fmt.Errorf("frame size length %d does not match mesh dimension %d", len(frame), len(m.frame))
	}
	copy(m.frame, frame)
	return nil
}

// Enlarge doubles every frame size, never beyond the initial one. It
// reports whether any frame changed.
func (m *Mesh) Enlarge() bool {
	changed := false
	for i := range m.frame {
		next := math.Min(2*m.frame[i], m.initial[i])
		if next != m.frame[i] {
			m.frame[i] = next
			changed = true
		}
	}
	return changed
}

// Refine halves every frame size.
func (m *Mesh) Refine() {
	floats.Scale(0.5, m.frame)
}

// Clone returns an independent copy of m.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		initial:      append([]float64{}, m.initial...),
		frame:        append([]float64{}, m.frame...),
		MinMeshSize:  m.MinMeshSize,
		MinFrameSize: m.MinFrameSize,
	}
}

// Sub returns a mesh restricted to the given dimensions.
func (m *Mesh) Sub(indices []int) *Mesh {
	sub := &Mesh{
		initial:      make([]float64, len(indices)),
		frame:        make([]float64, len(indices)),
		MinMeshSize:  m.MinMeshSize,
		MinFrameSize: m.MinFrameSize,
	}
	for j, i := range indices {
		sub.initial[j] = m.initial[i]
		sub.frame[j] = m.frame[i]
	}
	return sub
}

// Project rounds x to the nearest mesh point around center.
func (m *Mesh) Project(x, center []float64) []float64 {
	if len(x) != len(m.frame) || len(center) != len(m.frame) {
		panic(fmt.Sprintf("point len %d / center len %d incompatible with mesh dimension %d", len(x), len(center), len(m.frame)))
	}
	out := make([]float64, len(x))
	for i := range x {
		delta := m.MeshSize(i)
		out[i] = center[i] + math.Round((x[i]-center[i])/delta)*delta
	}
	return out
}

// CheckForStopping raises MinMeshSize or MinFrameSize on reasons when every
// dimension is below the corresponding threshold. It reports whether a stop
// reason was raised.
func (m *Mesh) CheckForStopping(reasons *stop.Reasons) bool {
	stopped := false
	if m.MinMeshSize > 0 && m.allBelow(m.MeshSize, m.MinMeshSize) {
		reasons.Set(stop.MinMeshSize)
		stopped = true
	}
	if m.MinFrameSize > 0 && m.allBelow(m.FrameSize, m.MinFrameSize) {
		reasons.Set(stop.MinFrameSize)
		stopped = true
	}
	return stopped
}

func (m *Mesh) allBelow(size func(int) float64, limit float64) bool {
	for i := range m.frame {
		if size(i) >= limit {
			return false
		}
	}
	return len(m.frame) > 0
}
