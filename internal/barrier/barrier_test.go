package barrier

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/psdmads/internal/eval"
	"github.com/cwbudde/psdmads/internal/point"
)

func merge(b *Barrier, points ...point.Point) SuccessType {
	return b.UpdateWithPoints(points, eval.Blackbox, eval.Standard)
}

func TestBestIsIndexZero(t *testing.T) {
	b := New(10,
		point.NewEvaluated([]float64{0}, 5, 2),
		point.NewEvaluated([]float64{1}, 3, 0),
		point.NewEvaluated([]float64{2}, 1, 1),
	)

	best, ok := b.Best()
	require.True(t, ok)
	assert.Equal(t, []float64{1}, best.X)
	assert.Equal(t, best.X, b.AllPoints()[0].X)
}

func TestFeasibleImprovementIsFullSuccess(t *testing.T) {
	b := New(0, point.NewEvaluated([]float64{0, 0}, 10, 0))

	assert.Equal(t, FullSuccess, merge(b, point.NewEvaluated([]float64{1, 0}, 9, 0)))
	assert.Equal(t, Unsuccessful, merge(b, point.NewEvaluated([]float64{2, 0}, 11, 0)))

	best, _ := b.Best()
	assert.Equal(t, 9.0, best.F)
	assert.Len(t, b.Feasible(), 1)
}

func TestInfeasibleKeepsNonDominated(t *testing.T) {
	b := New(100)

	assert.Equal(t, FullSuccess, merge(b, point.NewEvaluated([]float64{0}, 5, 5)))
	assert.Equal(t, PartialSuccess, merge(b, point.NewEvaluated([]float64{1}, 8, 1)))
	assert.Equal(t, FullSuccess, merge(b, point.NewEvaluated([]float64{2}, 4, 0.5)))

	inf := b.Infeasible()
	require.Len(t, inf, 1, "the last point dominates both others")
	assert.Equal(t, []float64{2}, inf[0].X)
}

func TestInfeasibleAboveHMaxRejected(t *testing.T) {
	b := New(1)
	assert.Equal(t, Unsuccessful, merge(b, point.NewEvaluated([]float64{0}, 0, 2)))
	assert.Equal(t, 0, b.Len())
}

func TestUnevaluatedPointsIgnored(t *testing.T) {
	b := New(1)
	merge(b, point.New([]float64{1}))
	assert.Equal(t, 0, b.Len())
}

func TestMergeIsIdempotent(t *testing.T) {
	batch := []point.Point{
		point.NewEvaluated([]float64{0, 1}, 3, 0),
		point.NewEvaluated([]float64{1, 1}, 3, 0),
		point.NewEvaluated([]float64{2, 1}, 2, 4),
		point.NewEvaluated([]float64{3, 1}, 7, 1),
	}

	once := New(10)
	once.UpdateWithPoints(batch, eval.Blackbox, eval.Standard)

	twice := New(10)
	twice.UpdateWithPoints(batch, eval.Blackbox, eval.Standard)
	s := twice.UpdateWithPoints(batch, eval.Blackbox, eval.Standard)

	assert.Equal(t, Unsuccessful, s)
	if diff := cmp.Diff(once.AllPoints(), twice.AllPoints()); diff != "" {
		t.Errorf("archive changed on re-merge (-once +twice):\n%s", diff)
	}
}

func TestPhaseOneRanksOnH(t *testing.T) {
	b := New(100, point.NewEvaluated([]float64{0}, 1, 5))

	s := b.UpdateWithPoints([]point.Point{point.NewEvaluated([]float64{1}, 50, 4)}, eval.Blackbox, eval.PhaseOne)
	assert.Equal(t, FullSuccess, s)
}

func TestAllPointsReturnsCopies(t *testing.T) {
	b := New(0, point.NewEvaluated([]float64{1, 2}, 0, 0))
	pts := b.AllPoints()
	pts[0].X[0] = 99

	best, _ := b.Best()
	assert.Equal(t, 1.0, best.X[0])
}
