package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cwbudde/psdmads/internal/store"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	metrics := newTestMetrics()
	job := jm.CreateJob(testJobConfig())

	if err := runJob(context.Background(), jm, nil, metrics, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.Best == nil {
		t.Fatal("Best point should be set")
	}
	if len(updated.Best.X) != 4 {
		t.Errorf("Expected best point of dimension 4, got %d", len(updated.Best.X))
	}
	if updated.Best.F >= 18 {
		t.Errorf("Best objective should improve on x0 (18), got %v", updated.Best.F)
	}
	if updated.NbEval == 0 || updated.NbEval > 300 {
		t.Errorf("NbEval out of range: %d", updated.NbEval)
	}
	if len(updated.Reasons) == 0 {
		t.Error("Stop reasons should be recorded")
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	if got := testutil.ToFloat64(metrics.jobsTotal.WithLabelValues(string(StateCompleted))); got != 1 {
		t.Errorf("Expected 1 completed job metric, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.jobsRunning); got != 0 {
		t.Errorf("Expected no running jobs, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.evaluations); got == 0 {
		t.Error("Evaluations metric should be set")
	}
}

func TestRunJob_CoordinatorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig())

	if err := runJob(context.Background(), jm, nil, metrics, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}
	if err := metrics.Close(); err != nil {
		t.Fatalf("Failed to close metrics: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "psdmads_coordinator_") {
			found[mf.GetName()] = true
		}
	}
	for _, prefix := range []string{"psdmads_coordinator_rounds", "psdmads_coordinator_iteration", "psdmads_coordinator_pass"} {
		ok := false
		for name := range found {
			if strings.HasPrefix(name, prefix) {
				ok = true
			}
		}
		if !ok {
			t.Errorf("Expected a %s metric, got %v", prefix, found)
		}
	}
}

func TestRunJob_UnknownProblem(t *testing.T) {
	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.Problem = "nonexistent"
	job := jm.CreateJob(cfg)

	err := runJob(context.Background(), jm, nil, newTestMetrics(), job.ID)
	if err == nil {
		t.Error("runJob should fail with an unknown problem")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_NotFound(t *testing.T) {
	jm := NewJobManager()

	if err := runJob(context.Background(), jm, nil, newTestMetrics(), "nonexistent"); err == nil {
		t.Error("runJob should fail for nonexistent job")
	}
}

func TestRunJob_Cancelled(t *testing.T) {
	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.MaxBBEval = 0
	cfg.MinMeshSize = 0
	job := jm.CreateJob(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runJob(ctx, jm, nil, newTestMetrics(), job.ID); err != nil {
		t.Fatalf("Cancelled job should not return an error: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_CheckpointAndResume(t *testing.T) {
	fsStore, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.MaxBBEval = 5000
	cfg.MaxIterations = 3
	first := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, fsStore, newTestMetrics(), first.ID); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	cp, err := fsStore.LoadCheckpoint(first.ID)
	if err != nil {
		t.Fatalf("Final checkpoint should be saved: %v", err)
	}
	if cp.Iteration != 3 {
		t.Errorf("Expected checkpoint at iteration 3, got %d", cp.Iteration)
	}

	reader, err := store.NewTraceReader(fsStore.BaseDir(), first.ID)
	if err != nil {
		t.Fatalf("Trace should be written: %v", err)
	}
	entries, err := reader.ReadAll()
	reader.Close()
	if err != nil || len(entries) == 0 {
		t.Errorf("Expected trace entries, got %d (err=%v)", len(entries), err)
	}

	resumeCfg := cfg
	resumeCfg.MaxIterations = 5
	resumeCfg.ResumeFrom = first.ID
	second := jm.CreateJob(resumeCfg)

	if err := runJob(context.Background(), jm, fsStore, newTestMetrics(), second.ID); err != nil {
		t.Fatalf("Resumed run failed: %v", err)
	}

	updated, _ := jm.GetJob(second.ID)
	if updated.State != StateCompleted {
		t.Errorf("Resumed job should complete, got %s", updated.State)
	}
	if updated.Iterations != 5 {
		t.Errorf("Expected 5 iterations after resume, got %d", updated.Iterations)
	}
	if updated.NbEval < cp.NbEval {
		t.Errorf("Resumed evaluations %d should include checkpoint's %d", updated.NbEval, cp.NbEval)
	}
}

func TestRunJob_ResumeMissingCheckpoint(t *testing.T) {
	fsStore, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	cfg := testJobConfig()
	cfg.ResumeFrom = "missing"
	job := jm.CreateJob(cfg)

	err = runJob(context.Background(), jm, fsStore, newTestMetrics(), job.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
}
