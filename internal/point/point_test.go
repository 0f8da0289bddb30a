package point

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCopiesCoordinates(t *testing.T) {
	x := []float64{1, 2, 3}
	p := New(x)
	x[0] = 42

	assert.Equal(t, 1.0, p.X[0])
	assert.True(t, math.IsInf(p.F, 1))
	assert.False(t, p.Evaluated())
}

func TestDominates(t *testing.T) {
	tests := []struct {
		name string
		p, q Point
		want bool
	}{
		{"better f same h", NewEvaluated(nil, 1, 0), NewEvaluated(nil, 2, 0), true},
		{"better h same f", NewEvaluated(nil, 1, 0.5), NewEvaluated(nil, 1, 1), true},
		{"equal", NewEvaluated(nil, 1, 1), NewEvaluated(nil, 1, 1), false},
		{"trade off", NewEvaluated(nil, 0, 2), NewEvaluated(nil, 1, 1), false},
		{"worse", NewEvaluated(nil, 3, 1), NewEvaluated(nil, 1, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Dominates(tt.q))
		})
	}
}

func TestFixedVariablesRoundTrip(t *testing.T) {
	x := []float64{10, 11, 12, 13, 14}
	fv := FixedAt(x)
	fv.Free(1)
	fv.Free(3)

	require.Equal(t, 2, fv.NumFree())
	assert.Equal(t, []int{1, 3}, fv.FreeIndices())

	sub := fv.ToSub([]float64{0, 1, 2, 3, 4})
	assert.Equal(t, []float64{1, 3}, sub)

	full := fv.ToFull([]float64{-1, -3})
	if diff := cmp.Diff([]float64{10, -1, 12, -3, 14}, full); diff != "" {
		t.Errorf("ToFull mismatch (-want +got):\n%s", diff)
	}
}

func TestAllFreeIsIdentity(t *testing.T) {
	fv := AllFree(3)
	assert.Equal(t, 3, fv.NumFree())
	assert.Equal(t, []float64{4, 5, 6}, fv.ToFull([]float64{4, 5, 6}))
}

func TestConvertToFullKeepsValues(t *testing.T) {
	fv := FixedAt([]float64{1, 2, 3})
	fv.Free(2)

	got := fv.ConvertToFull([]Point{NewEvaluated([]float64{9}, 0.5, 0)})
	require.Len(t, got, 1)
	assert.Equal(t, []float64{1, 2, 9}, got[0].X)
	assert.Equal(t, 0.5, got[0].F)
	assert.True(t, got[0].Feasible())
}

func TestToFullPanicsOnWrongLength(t *testing.T) {
	fv := FixedAt([]float64{1, 2, 3})
	fv.Free(0)
	assert.Panics(t, func() { fv.ToFull([]float64{1, 2}) })
}

func TestReadPoints(t *testing.T) {
	in := "# initial points\n1 2 3\n4 5\n6\n"
	points, err := ReadPoints(strings.NewReader(in), 3)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, []float64{1, 2, 3}, points[0].X)
	assert.Equal(t, []float64{4, 5, 6}, points[1].X)
}

func TestReadPointsErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want error
	}{
		{"zero dimension", "1 2", 0, ErrInvalidShape},
		{"bad token", "1 x", 2, ErrParse},
		{"incomplete", "1 2 3", 2, ErrParse},
		{"empty", "", 2, ErrInvalidShape},
		{"comments only", "# nothing here\n\n", 2, ErrInvalidShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPoints(strings.NewReader(tt.in), tt.n)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestWriteThenReadPoints(t *testing.T) {
	var buf bytes.Buffer
	in := []Point{New([]float64{0.5, -1}), New([]float64{1e-9, 3})}
	require.NoError(t, WritePoints(&buf, in))

	out, err := ReadPoints(&buf, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[1].X, out[1].X)
}

func TestPointJSONKeepsInfinity(t *testing.T) {
	p := New([]float64{1, 2})

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":[1,2],"f":"+Inf","h":"+Inf"}`, string(data))

	var got Point
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.SamePosition(p))
	assert.False(t, got.Evaluated())

	require.NoError(t, json.Unmarshal([]byte(`{"x":[0],"f":1.5,"h":0}`), &got))
	assert.Equal(t, 1.5, got.F)
	assert.True(t, got.Feasible())

	var f Float
	assert.ErrorIs(t, json.Unmarshal([]byte(`"abc"`), &f), ErrParse)
}
