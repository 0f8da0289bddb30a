package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/psdmads/internal/config"
	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/psd"
	"github.com/cwbudde/psdmads/internal/runner"
	"github.com/cwbudde/psdmads/internal/store"
)

// sessionFlags configure persistence of a run and are shared by run and
// resume.
type sessionFlags struct {
	dataDir            string
	checkpointInterval time.Duration
	trace              bool
	metricsAddr        string
}

// paramFlags override file parameters when set on the command line.
type paramFlags struct {
	problem            string
	dimension          int
	threads            int
	vars               int
	coverage           float64
	original           bool
	iterOpportunistic  bool
	frameCenterCache   bool
	maxEval            int
	maxIter            int
	seed               int64
	minMeshSize        float64
	passIters          int
	hotRestart         bool
	stagnationPatience int
	searchIters        int
	searchPop          int
}

var (
	session    sessionFlags
	overrides  paramFlags
	configPath string
	x0File     string
	runID      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a PSD-MADS optimization",
	Long: `Runs PSD-MADS on a benchmark problem. Parameters come from --config
(YAML, NOMAD parameter names) and are overridden by flags.

The first interrupt (Ctrl+C) writes a checkpoint and stops the run, or keeps
it going when hot restart is enabled. A second interrupt aborts.`,
	Args: cobra.NoArgs,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML parameter file")
	runCmd.Flags().StringVar(&x0File, "x0-file", "", "File of starting points, one point per line")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run ID (default: random UUID)")
	addSessionFlags(runCmd.Flags())
	addParamFlags(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
}

func addSessionFlags(fs *pflag.FlagSet) {
	fs.StringVar(&session.dataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	fs.DurationVar(&session.checkpointInterval, "checkpoint-interval", 0, "Period between checkpoints (0 = only on interrupt and at the end)")
	fs.BoolVar(&session.trace, "trace", true, "Write a JSONL trace of every round")
	fs.StringVar(&session.metricsAddr, "metrics-addr", "", "Serve coordinator metrics on this address while running (e.g. :9090)")
}

func addParamFlags(fs *pflag.FlagSet) {
	fs.StringVar(&overrides.problem, "problem", "sphere", "Benchmark problem")
	fs.IntVar(&overrides.dimension, "dimension", 10, "Number of variables")
	fs.IntVar(&overrides.threads, "threads", 0, "Main threads: pollster plus subproblem workers (psd_mads_nb_subproblem)")
	fs.IntVar(&overrides.vars, "vars", 2, "Variables per subproblem (psd_mads_nb_var_in_subproblem)")
	fs.Float64Var(&overrides.coverage, "coverage", 70, "Percent of variables covered before a mesh update")
	fs.BoolVar(&overrides.original, "original", false, "Update the mesh after every pollster round")
	fs.BoolVar(&overrides.iterOpportunistic, "iter-opportunistic", true, "Update the mesh early after a subproblem success")
	fs.BoolVar(&overrides.frameCenterCache, "frame-center-use-cache", false, "Merge the best cached point into the barrier")
	fs.IntVar(&overrides.maxEval, "max-eval", 0, "Blackbox evaluation budget (max_bb_eval)")
	fs.IntVar(&overrides.maxIter, "max-iter", 0, "Maximum iterations")
	fs.Int64Var(&overrides.seed, "seed", 0, "Random seed (0 = time based)")
	fs.Float64Var(&overrides.minMeshSize, "min-mesh-size", 0, "Stop when every mesh size is below this value")
	fs.IntVar(&overrides.passIters, "pass-iters", 0, "Maximum iterations of one MADS pass")
	fs.BoolVar(&overrides.hotRestart, "hot-restart", false, "Keep running after a user interrupt")
	fs.IntVar(&overrides.stagnationPatience, "stagnation-patience", 0, "Stop after N pollster rounds without improvement")
	fs.IntVar(&overrides.searchIters, "search-iters", 0, "Mayfly iterations of the search step (0 = no search)")
	fs.IntVar(&overrides.searchPop, "search-pop", 0, "Mayfly population of the search step")
}

// applyParamFlags copies the flags set on the command line into params.
func applyParamFlags(fs *pflag.FlagSet, params *config.Params) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("problem", func() { params.Problem = overrides.problem })
	set("dimension", func() { params.Dimension = overrides.dimension })
	set("threads", func() { params.NbSubproblem = overrides.threads })
	set("vars", func() { params.NbVarInSubproblem = overrides.vars })
	set("coverage", func() { params.SubproblemPercentCover = overrides.coverage })
	set("original", func() { params.Original = overrides.original })
	set("iter-opportunistic", func() { params.IterOpportunistic = overrides.iterOpportunistic })
	set("frame-center-use-cache", func() { params.FrameCenterUseCache = overrides.frameCenterCache })
	set("max-eval", func() { params.MaxBBEval = overrides.maxEval })
	set("max-iter", func() { params.MaxIterations = overrides.maxIter })
	set("seed", func() { params.Seed = overrides.seed })
	set("min-mesh-size", func() { params.MinMeshSize = overrides.minMeshSize })
	set("pass-iters", func() { params.PassMaxIterations = overrides.passIters })
	set("hot-restart", func() { params.HotRestartOnUserInterrupt = overrides.hotRestart })
	set("stagnation-patience", func() { params.StagnationPatience = overrides.stagnationPatience })
	set("search-iters", func() { params.SearchMayflyIters = overrides.searchIters })
	set("search-pop", func() { params.SearchMayflyPop = overrides.searchPop })
}

// loadParams reads the parameter file, if any, and applies flag overrides.
func loadParams(fs *pflag.FlagSet, path string) (config.Params, error) {
	params := config.Default()
	if path != "" {
		p, err := config.Load(path)
		if err != nil {
			return params, err
		}
		params = p
	}
	applyParamFlags(fs, &params)
	return params, nil
}

// loadStartPoints reads starting points of dimension n from path.
func loadStartPoints(path string, n int) ([]point.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open starting points: %w", err)
	}
	defer f.Close()

	points, err := point.ReadPoints(f, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read starting points %s: %w", path, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no starting point in %s", path)
	}
	return points, nil
}

func runOptimization(cmd *cobra.Command, args []string) error {
	params, err := loadParams(cmd.Flags(), configPath)
	if err != nil {
		return err
	}

	var start []point.Point
	if x0File != "" {
		start, err = loadStartPoints(x0File, params.Dimension)
		if err != nil {
			return err
		}
		params.X0 = append([]float64{}, start[0].X...)
	}

	id := runID
	if id == "" {
		id = uuid.New().String()
	}

	_, err = execute(cmd.Context(), cmd.OutOrStdout(), params, id, nil, start, session)
	return err
}

// execute runs one PSD-MADS session, fresh or resumed from cp, persisting
// checkpoints and the trace under flags.dataDir.
func execute(ctx context.Context, out io.Writer, params config.Params, id string, cp *store.Checkpoint, start []point.Point, flags sessionFlags) (*psd.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := slog.Default().With("run_id", id)

	fsStore, err := store.NewFSStore(flags.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	var trace *store.TraceWriter
	if flags.trace {
		trace, err = store.NewTraceWriter(fsStore.BaseDir(), id, cp != nil)
		if err != nil {
			return nil, err
		}
		defer trace.Close()
	}

	var run *runner.Run
	coordOpts := []psd.Option{
		psd.WithHotRestart(func(snap psd.Snapshot) error {
			saved, err := run.SaveSnapshot(fsStore, id, snap)
			if err != nil {
				return err
			}
			log.Info("Checkpoint saved", "iteration", saved.Iteration, "dir", fsStore.RunDir(id))
			return nil
		}),
	}
	if trace != nil {
		coordOpts = append(coordOpts, psd.WithObserver(func(ev psd.RoundEvent) {
			if err := trace.Write(run.TraceEntry(ev)); err != nil {
				log.Warn("Failed to write trace entry", "error", err)
			}
		}))
	}
	if len(start) > 0 {
		coordOpts = append(coordOpts, psd.WithStart(0, start, nil, nil))
	}

	reg := prometheus.NewRegistry()
	scope, scopeCloser := runner.NewScope(reg, runner.ScopeInterval, log)
	defer scopeCloser.Close()

	run, err = runner.Prepare(params, runner.Options{
		Logger:      log,
		Checkpoint:  cp,
		Scope:       scope,
		Coordinator: coordOpts,
	})
	if err != nil {
		return nil, err
	}

	if flags.metricsAddr != "" {
		stopMetrics := serveMetrics(flags.metricsAddr, reg, log)
		defer stopMetrics()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go handleSignals(ctx, sigCh, run.Coordinator.Interrupt, cancel, log)

	done := make(chan struct{})
	monitorStopped := make(chan struct{})
	go func() {
		defer close(monitorStopped)
		if flags.checkpointInterval > 0 {
			monitorCheckpoints(run, fsStore, id, flags.checkpointInterval, done, log)
		}
	}()

	log.Info("Starting run",
		"problem", run.Params.Problem,
		"dimension", run.Params.Dimension,
		"main_threads", run.Params.NbSubproblem,
		"data_dir", fsStore.BaseDir(),
	)
	res, runErr := run.Coordinator.Run(ctx)
	close(done)
	<-monitorStopped

	if trace != nil {
		if err := trace.Flush(); err != nil {
			log.Warn("Failed to flush trace", "error", err)
		}
	}
	if res != nil && len(res.Points) > 0 {
		if _, err := run.SaveCheckpoint(fsStore, id); err != nil {
			log.Error("Failed to save final checkpoint", "error", err)
		}
	}
	if runErr != nil {
		return res, runErr
	}

	printSummary(out, id, run, res, fsStore)
	return res, nil
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	log.Info("Serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// handleSignals turns the first signal into a user interrupt and the second
// into cancellation.
func handleSignals(ctx context.Context, sigCh <-chan os.Signal, interrupt, cancel func(), log *slog.Logger) {
	select {
	case <-sigCh:
		log.Warn("Interrupt received, saving checkpoint (interrupt again to abort)")
		interrupt()
	case <-ctx.Done():
		return
	}
	select {
	case <-sigCh:
		log.Warn("Second interrupt received, aborting")
		cancel()
	case <-ctx.Done():
	}
}

func monitorCheckpoints(run *runner.Run, fsStore *store.FSStore, id string, interval time.Duration, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cp, err := run.SaveCheckpoint(fsStore, id)
			if err != nil {
				log.Debug("Skipping checkpoint", "error", err)
				continue
			}
			log.Info("Checkpoint saved", "iteration", cp.Iteration, "nb_eval", cp.NbEval)
		}
	}
}

func printSummary(out io.Writer, id string, run *runner.Run, res *psd.Result, fsStore *store.FSStore) {
	reasons := make([]string, len(res.Reasons))
	for i, r := range res.Reasons {
		reasons[i] = string(r)
	}

	fmt.Fprintf(out, "Run %s finished (%s)\n", id, strings.Join(reasons, ", "))
	fmt.Fprintf(out, "  Iterations:   %d\n", res.Iterations)
	fmt.Fprintf(out, "  Evaluations:  %d\n", run.NbEval(res.NbEval))
	fmt.Fprintf(out, "  Mesh updates: %d\n", res.MeshUpdates)
	fmt.Fprintf(out, "  Elapsed:      %s\n", res.Duration.Round(time.Millisecond))
	if res.Best.Len() == 0 {
		fmt.Fprintln(out, "  No point evaluated")
		return
	}
	fmt.Fprintf(out, "  Best f:       %g\n", res.Best.F)
	fmt.Fprintf(out, "  Best h:       %g\n", res.Best.H)
	fmt.Fprintf(out, "  Best x:       %v\n", res.Best.X)
	fmt.Fprintf(out, "  Checkpoint:   %s\n", fsStore.RunDir(id))
}
