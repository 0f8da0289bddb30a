package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	assert.Equal(t, 2, p.NbVarInSubproblem)
	assert.Equal(t, 70.0, p.SubproblemPercentCover)
	assert.True(t, p.IterOpportunistic)
	assert.False(t, p.Original)
	assert.True(t, math.IsInf(float64(p.HMax), 1))
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	data := `
problem: rosenbrock
dimension: 4
x0: [1, 2, 3, 4]
lower_bound: [-5, -5, -5, -5]
upper_bound: [5, 5, 5, 5]
psd_mads_nb_subproblem: 3
psd_mads_nb_var_in_subproblem: 2
psd_mads_original: true
max_bb_eval: 500
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rosenbrock", p.Problem)
	assert.Equal(t, 4, p.Dimension)
	assert.Equal(t, []float64{1, 2, 3, 4}, p.X0)
	assert.Equal(t, 3, p.NbSubproblem)
	assert.True(t, p.Original)
	assert.Equal(t, 500, p.MaxBBEval)
	assert.Equal(t, 10, p.PassMaxIterations)
	require.NoError(t, p.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dimenson: 3\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateAggregatesErrors(t *testing.T) {
	p := Default()
	p.Dimension = 3
	p.NbVarInSubproblem = 5
	p.BBMaxBlockSize = 0
	p.X0 = []float64{1}
	p.LowerBound = []float64{1, 1, 1}
	p.UpperBound = []float64{0, 2, 2}

	err := p.Validate()
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	assert.Len(t, merr.Errors, 4)
}

func TestValidateRejectsNonFiniteFrameSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dimension: 3\ninitial_frame_size: [.nan, .inf, 0.5]\n"), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	require.True(t, math.IsNaN(p.InitialFrameSize[0]))

	err = p.Validate()
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	assert.Len(t, merr.Errors, 2)
	assert.Contains(t, err.Error(), "initial_frame_size[0]")
	assert.Contains(t, err.Error(), "initial_frame_size[1]")
}

func TestStartingPoint(t *testing.T) {
	p := Default()
	p.Dimension = 2
	p.LowerBound = []float64{0, math.Inf(-1)}
	p.UpperBound = []float64{4, 1}
	assert.Equal(t, []float64{2, 0}, p.StartingPoint())

	p.X0 = []float64{1, 1}
	assert.Equal(t, []float64{1, 1}, p.StartingPoint())
}

func TestEvalParams(t *testing.T) {
	p := Default()
	p.MaxEvalPerPass = -3
	c := p.EvalControlParams()
	assert.Zero(t, c.MaxEvalPerPass)
	assert.True(t, c.Opportunistic)
	assert.Equal(t, p.MaxBBEval, p.EvalGlobalParams().MaxBBEval)
}
