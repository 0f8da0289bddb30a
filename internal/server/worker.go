package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/psd"
	"github.com/cwbudde/psdmads/internal/runner"
	"github.com/cwbudde/psdmads/internal/store"
)

// progressInterval throttles SSE progress events to 2 per second.
const progressInterval = 500 * time.Millisecond

// runJob executes an optimization job in the background.
// If fsStore is not nil, the job writes a trace and a final checkpoint, plus
// periodic checkpoints when CheckpointInterval > 0.
func runJob(ctx context.Context, jm *JobManager, fsStore *store.FSStore, metrics *Metrics, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	logger := slog.Default().With("job_id", jobID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var checkpoint *store.Checkpoint
	if job.Config.ResumeFrom != "" {
		if fsStore == nil {
			err := errors.New("resume requires a checkpoint store")
			markJobFailed(jm, metrics, jobID, err)
			return err
		}
		cp, err := fsStore.LoadCheckpoint(job.Config.ResumeFrom)
		if err != nil {
			markJobFailed(jm, metrics, jobID, fmt.Errorf("failed to load checkpoint: %w", err))
			return err
		}
		checkpoint = cp
	}

	var trace *store.TraceWriter
	if fsStore != nil {
		tw, err := store.NewTraceWriter(fsStore.BaseDir(), jobID, false)
		if err != nil {
			logger.Warn("Trace disabled", "error", err)
		} else {
			trace = tw
			defer trace.Close()
		}
	}

	var run *runner.Run
	observer := func(ev psd.RoundEvent) {
		metrics.round(ev.Role.String(), ev.Success, ev.MeshUpdated)
		if ev.Best.Feasible() {
			metrics.best(jobID, ev.Best.F)
		}
		best := ev.Best.Clone()
		jm.UpdateJob(jobID, func(j *Job) {
			if ev.Role == psd.RolePollster {
				j.Iterations = ev.K + 1
				j.FrameSizes = ev.FrameSizes
			}
			if n := run.NbEval(ev.NbEval); n > j.NbEval {
				j.NbEval = n
			}
			if ev.MeshUpdated {
				j.MeshUpdates++
			}
			j.Best = &best
		})
		if trace != nil {
			if err := trace.Write(run.TraceEntry(ev)); err != nil {
				logger.Warn("Failed to write trace entry", "error", err)
			}
		}
	}
	hotRestart := func(snap psd.Snapshot) error {
		if fsStore == nil {
			return nil
		}
		_, err := run.SaveSnapshot(fsStore, jobID, snap)
		metrics.checkpoint(err)
		if err == nil {
			logger.Info("Checkpoint saved on interrupt", "iteration", snap.K)
		}
		return err
	}

	run, err := runner.Prepare(job.Config.Params, runner.Options{
		Logger:     logger,
		Checkpoint: checkpoint,
		Scope:      metrics.scope,
		Coordinator: []psd.Option{
			psd.WithObserver(observer),
			psd.WithHotRestart(hotRestart),
		},
	})
	if err != nil {
		markJobFailed(jm, metrics, jobID, err)
		return err
	}

	jm.setControls(jobID, cancel, run.Coordinator.Interrupt)
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Config.Params = run.Params
		j.NbEval = run.EvalOffset
		if checkpoint != nil {
			j.Iterations = checkpoint.Iteration
		}
	})
	if err != nil {
		return err
	}
	metrics.jobStarted()
	logger.Info("Starting job",
		"problem", run.Params.Problem,
		"dimension", run.Params.Dimension,
		"main_threads", run.Params.NbSubproblem,
		"resume_from", job.Config.ResumeFrom,
	)

	var wg sync.WaitGroup
	monitorDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitorProgress(ctx, jm, jobID, monitorDone)
	}()
	if fsStore != nil && job.Config.CheckpointInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitorCheckpoints(ctx, run, fsStore, metrics, jobID, time.Duration(job.Config.CheckpointInterval)*time.Second, monitorDone)
		}()
	}

	res, runErr := run.Coordinator.Run(ctx)
	close(monitorDone)
	wg.Wait()

	if trace != nil {
		if err := trace.Flush(); err != nil {
			logger.Warn("Failed to flush trace", "error", err)
		}
	}
	if res != nil {
		metrics.evaluated(res.NbEval)
	}

	if fsStore != nil && res != nil && len(res.Points) > 0 {
		_, err := run.SaveCheckpoint(fsStore, jobID)
		metrics.checkpoint(err)
		if err != nil {
			logger.Error("Failed to save final checkpoint", "error", err)
		}
	}

	if runErr != nil {
		markJobFailed(jm, metrics, jobID, runErr)
		return runErr
	}

	state := StateCompleted
	if ctx.Err() != nil {
		state = StateCancelled
	}
	reasons := make([]string, len(res.Reasons))
	for i, r := range res.Reasons {
		reasons[i] = string(r)
	}
	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = state
		j.Iterations = res.Iterations
		j.NbEval = run.NbEval(res.NbEval)
		j.MeshUpdates = res.MeshUpdates
		j.FrameSizes = res.FrameSizes
		j.Reasons = reasons
		if res.Best.Len() > 0 {
			best := res.Best.Clone()
			j.Best = &best
		}
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}
	metrics.jobFinished(jobID, state)

	logger.Info("Job finished",
		"state", state,
		"elapsed", res.Duration,
		"iterations", res.Iterations,
		"nb_eval", run.NbEval(res.NbEval),
		"best_f", res.Best.F,
		"best_h", res.Best.H,
		"reasons", reasons,
	)

	publishFinal(jm, jobID)
	return nil
}

// publishFinal sends the final state of a job to its stream subscribers and
// releases them.
func publishFinal(jm *JobManager, jobID string) {
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job))
	}
	jm.broadcaster.CleanupJob(jobID)
}

func progressEvent(job *Job) ProgressEvent {
	ev := ProgressEvent{
		JobID:       job.ID,
		State:       job.State,
		Iterations:  job.Iterations,
		NbEval:      job.NbEval,
		MeshUpdates: job.MeshUpdates,
		Reasons:     job.Reasons,
		Timestamp:   time.Now(),
	}
	if job.Best != nil {
		ev.BestF = point.Float(job.Best.F)
		ev.BestH = point.Float(job.Best.H)
	} else {
		ev.BestF = point.Float(math.Inf(1))
		ev.BestH = point.Float(math.Inf(1))
	}
	return ev
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(progressEvent(job))
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, metrics *Metrics, jobID string, err error) {
	var wasRunning bool
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		wasRunning = j.State == StateRunning
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	if wasRunning {
		metrics.jobFinished(jobID, StateFailed)
	} else {
		metrics.jobsTotal.WithLabelValues(string(StateFailed)).Inc()
	}
	slog.Error("Job failed", "job_id", jobID, "error", err)
	publishFinal(jm, jobID)
}

// monitorCheckpoints periodically saves checkpoints during optimization
func monitorCheckpoints(ctx context.Context, run *runner.Run, fsStore *store.FSStore, metrics *Metrics, jobID string, interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp, err := run.SaveCheckpoint(fsStore, jobID)
			if err != nil {
				slog.Debug("Skipping checkpoint", "job_id", jobID, "error", err)
				continue
			}
			metrics.checkpoint(nil)
			best, _ := cp.Best()
			slog.Info("Checkpoint saved",
				"job_id", jobID,
				"iteration", cp.Iteration,
				"nb_eval", cp.NbEval,
				"best_f", best.F,
			)
		}
	}
}
