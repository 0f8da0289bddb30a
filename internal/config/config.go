// Package config holds the parameters of a PSD-MADS run.
package config

import (
	"fmt"
	"math"
	"os"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"github.com/cwbudde/psdmads/internal/eval"
	"github.com/cwbudde/psdmads/internal/point"
)

// Params configures a run. YAML keys follow the NOMAD parameter names.
type Params struct {
	Problem    string    `yaml:"problem" json:"problem"`
	Dimension  int       `yaml:"dimension" json:"dimension"`
	X0         []float64 `yaml:"x0" json:"x0,omitempty"`
	LowerBound []float64 `yaml:"lower_bound" json:"lower_bound,omitempty"`
	UpperBound []float64 `yaml:"upper_bound" json:"upper_bound,omitempty"`

	NbSubproblem           int     `yaml:"psd_mads_nb_subproblem" json:"psd_mads_nb_subproblem"`
	NbVarInSubproblem      int     `yaml:"psd_mads_nb_var_in_subproblem" json:"psd_mads_nb_var_in_subproblem"`
	Original               bool    `yaml:"psd_mads_original" json:"psd_mads_original"`
	IterOpportunistic      bool    `yaml:"psd_mads_iter_opportunistic" json:"psd_mads_iter_opportunistic"`
	SubproblemPercentCover float64 `yaml:"psd_mads_subproblem_percent_coverage" json:"psd_mads_subproblem_percent_coverage"`

	FrameCenterUseCache bool `yaml:"frame_center_use_cache" json:"frame_center_use_cache"`
	BBMaxBlockSize      int  `yaml:"bb_max_block_size" json:"bb_max_block_size"`
	MaxBBEval           int  `yaml:"max_bb_eval" json:"max_bb_eval"`
	MaxIterations       int  `yaml:"max_iterations" json:"max_iterations"`
	CacheSize           int  `yaml:"cache_size" json:"cache_size"`

	MinMeshSize       float64     `yaml:"min_mesh_size" json:"min_mesh_size"`
	MinFrameSize      float64     `yaml:"min_frame_size" json:"min_frame_size"`
	InitialFrameSize  []float64   `yaml:"initial_frame_size" json:"initial_frame_size,omitempty"`
	PassMaxIterations int         `yaml:"pass_max_iterations" json:"pass_max_iterations"`
	MaxEvalPerPass    int         `yaml:"max_eval_per_pass" json:"max_eval_per_pass"`
	HMax              point.Float `yaml:"h_max" json:"h_max"`

	HotRestartOnUserInterrupt bool  `yaml:"hot_restart_on_user_interrupt" json:"hot_restart_on_user_interrupt"`
	Seed                      int64 `yaml:"seed" json:"seed"`

	StagnationPatience  int     `yaml:"stagnation_patience" json:"stagnation_patience"`
	StagnationThreshold float64 `yaml:"stagnation_threshold" json:"stagnation_threshold"`

	SearchMayflyIters int `yaml:"search_mayfly_iters" json:"search_mayfly_iters"`
	SearchMayflyPop   int `yaml:"search_mayfly_pop" json:"search_mayfly_pop"`
}

// Default returns the parameters used when a file or flag does not set them.
func Default() Params {
	return Params{
		Problem:                "sphere",
		Dimension:              10,
		NbSubproblem:           runtime.NumCPU(),
		NbVarInSubproblem:      2,
		IterOpportunistic:      true,
		SubproblemPercentCover: 70,
		FrameCenterUseCache:    false,
		BBMaxBlockSize:         1,
		MaxBBEval:              10000,
		CacheSize:              eval.DefaultCacheSize,
		MinMeshSize:            1e-9,
		PassMaxIterations:      10,
		HMax:                   point.Float(math.Inf(1)),
		StagnationThreshold:    1e-6,
		SearchMayflyPop:        20,
	}
}

// Load reads a YAML parameter file on top of Default.
func Load(path string) (Params, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read parameters: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse parameters %s: %w", path, err)
	}
	return p, nil
}

// Validate reports every invalid parameter at once.
func (p Params) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if p.Dimension < 1 {
		add("dimension must be positive, got %d", p.Dimension)
	}
	if p.NbSubproblem < 1 {
		add("psd_mads_nb_subproblem must be at least 1, got %d", p.NbSubproblem)
	}
	if p.NbVarInSubproblem < 1 || (p.Dimension > 0 && p.NbVarInSubproblem > p.Dimension) {
		add("psd_mads_nb_var_in_subproblem must be in [1, %d], got %d", p.Dimension, p.NbVarInSubproblem)
	}
	if p.SubproblemPercentCover < 0 || p.SubproblemPercentCover > 100 {
		add("psd_mads_subproblem_percent_coverage must be in [0, 100], got %v", p.SubproblemPercentCover)
	}
	if p.BBMaxBlockSize < 1 {
		add("bb_max_block_size must be at least 1, got %d", p.BBMaxBlockSize)
	}
	if p.MaxBBEval < 0 {
		add("max_bb_eval cannot be negative, got %d", p.MaxBBEval)
	}
	if p.MaxIterations < 0 {
		add("max_iterations cannot be negative, got %d", p.MaxIterations)
	}
	if p.PassMaxIterations < 1 {
		add("pass_max_iterations must be at least 1, got %d", p.PassMaxIterations)
	}
	if p.HMax < 0 || math.IsNaN(float64(p.HMax)) {
		add("h_max must be non-negative, got %v", p.HMax)
	}
	if p.MinMeshSize < 0 || p.MinFrameSize < 0 {
		add("min_mesh_size and min_frame_size cannot be negative")
	}
	if p.StagnationPatience < 0 {
		add("stagnation_patience cannot be negative, got %d", p.StagnationPatience)
	}
	if p.SearchMayflyIters < 0 {
		add("search_mayfly_iters cannot be negative, got %d", p.SearchMayflyIters)
	}

	checkLen := func(name string, v []float64) {
		if len(v) != 0 && len(v) != p.Dimension {
			add("%s has %d values, dimension is %d", name, len(v), p.Dimension)
		}
	}
	checkLen("x0", p.X0)
	checkLen("lower_bound", p.LowerBound)
	checkLen("upper_bound", p.UpperBound)
	checkLen("initial_frame_size", p.InitialFrameSize)

	if len(p.LowerBound) == p.Dimension && len(p.UpperBound) == p.Dimension {
		for i := range p.LowerBound {
			if p.LowerBound[i] > p.UpperBound[i] {
				add("lower_bound[%d]=%v exceeds upper_bound[%d]=%v", i, p.LowerBound[i], i, p.UpperBound[i])
			}
		}
	}
	for i, v := range p.InitialFrameSize {
		if !(v > 0) || math.IsInf(v, 0) {
			add("initial_frame_size[%d] must be positive and finite, got %v", i, v)
		}
	}

	return errs.ErrorOrNil()
}

// Lower returns the lower bounds, -Inf where unset.
func (p Params) Lower() []float64 { return fill(p.LowerBound, p.Dimension, math.Inf(-1)) }

// Upper returns the upper bounds, +Inf where unset.
func (p Params) Upper() []float64 { return fill(p.UpperBound, p.Dimension, math.Inf(1)) }

// StartingPoint returns x0, or the box center, or the origin.
func (p Params) StartingPoint() []float64 {
	if len(p.X0) == p.Dimension {
		return append([]float64{}, p.X0...)
	}
	x := make([]float64, p.Dimension)
	lower, upper := p.Lower(), p.Upper()
	for i := range x {
		if !math.IsInf(lower[i], 0) && !math.IsInf(upper[i], 0) {
			x[i] = (lower[i] + upper[i]) / 2
		}
	}
	return x
}

// EvalGlobalParams returns the parameters shared by every main thread.
func (p Params) EvalGlobalParams() eval.GlobalParams {
	return eval.GlobalParams{
		MaxBBEval:      p.MaxBBEval,
		BBMaxBlockSize: p.BBMaxBlockSize,
		CacheSize:      p.CacheSize,
	}
}

// EvalControlParams returns the parameters of main thread 0. Other threads
// receive a clone.
func (p Params) EvalControlParams() *eval.ControlParams {
	c := &eval.ControlParams{
		Opportunistic:  true,
		UseCache:       true,
		MaxEvalPerPass: p.MaxEvalPerPass,
	}
	c.CheckAndComply()
	return c
}

func fill(v []float64, n int, def float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i < len(v) {
			out[i] = v[i]
		} else {
			out[i] = def
		}
	}
	return out
}
