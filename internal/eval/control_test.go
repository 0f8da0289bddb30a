package eval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/stop"
)

func sphere(x []float64) (float64, []float64) {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return s, nil
}

func newControl(t *testing.T, global GlobalParams, params *ControlParams) *Control {
	t.Helper()
	c, err := NewControl(global, Func(sphere), params, nil)
	require.NoError(t, err)
	return c
}

func pts(xs ...float64) []point.Point {
	out := make([]point.Point, len(xs))
	for i, x := range xs {
		out[i] = point.New([]float64{x})
	}
	return out
}

func TestEvaluateComputesValues(t *testing.T) {
	c := newControl(t, GlobalParams{}, &ControlParams{})

	got, err := c.Evaluate(context.Background(), 0, pts(1, 2, 3), nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 4.0, got[1].F)
	assert.True(t, got[1].Feasible())
	assert.Equal(t, 3, c.NbEval())
}

func TestEvaluateRespectsBudget(t *testing.T) {
	c := newControl(t, GlobalParams{MaxBBEval: 2}, &ControlParams{})

	got, err := c.Evaluate(context.Background(), 0, pts(1, 2, 3), nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, c.BudgetExhausted())

	mt, _ := c.MainThread(0)
	assert.True(t, mt.Reasons.Has(stop.MaxBBEval))
}

func TestEvaluateOpportunistic(t *testing.T) {
	c := newControl(t, GlobalParams{}, &ControlParams{Opportunistic: true})

	got, err := c.Evaluate(context.Background(), 0, pts(3, 1, 0.5), func(p point.Point) bool { return p.F < 2 })
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestEvaluateUsesCache(t *testing.T) {
	c := newControl(t, GlobalParams{}, &ControlParams{UseCache: true})
	ctx := context.Background()

	_, err := c.Evaluate(ctx, 0, pts(1, 2), nil)
	require.NoError(t, err)
	got, err := c.Evaluate(ctx, 0, pts(2), nil)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, 4.0, got[0].F)
	assert.Equal(t, 2, c.NbEval())
	assert.Equal(t, 1, c.NbCacheHits())

	best, ok := c.Cache().Best()
	require.True(t, ok)
	assert.Equal(t, 1.0, best.F)
}

func TestStopWaiting(t *testing.T) {
	c := newControl(t, GlobalParams{}, &ControlParams{})
	c.SetStopWaiting(true)

	got, err := c.Evaluate(context.Background(), 0, pts(1), nil)
	assert.True(t, errors.Is(err, ErrStopWaiting))
	assert.Empty(t, got)
}

func TestAddMainThread(t *testing.T) {
	c := newControl(t, GlobalParams{}, &ControlParams{})
	params := &ControlParams{MaxEvalPerPass: -3}

	require.NoError(t, c.AddMainThread(1, nil, Func(sphere), params))
	assert.Error(t, c.AddMainThread(1, nil, Func(sphere), params))
	assert.Equal(t, []int{0, 1}, c.MainThreads())
	assert.Equal(t, 0, params.MaxEvalPerPass)
}

func TestConcurrentEvaluationsShareBudget(t *testing.T) {
	c := newControl(t, GlobalParams{MaxBBEval: 50}, &ControlParams{})
	for id := 1; id < 4; id++ {
		require.NoError(t, c.AddMainThread(id, nil, Func(sphere), &ControlParams{}))
	}

	var wg sync.WaitGroup
	for id := 0; id < 4; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			batch := make([]point.Point, 30)
			for i := range batch {
				batch[i] = point.New([]float64{float64(id*100 + i)})
			}
			_, err := c.Evaluate(context.Background(), id, batch, nil)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 50, c.NbEval())
}

func TestViolation(t *testing.T) {
	assert.Equal(t, 0.0, Violation([]float64{-1, 0}))
	assert.Equal(t, 5.0, Violation([]float64{1, 2, -3}))
}
