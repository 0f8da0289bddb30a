package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/psdmads/internal/config"
	"github.com/cwbudde/psdmads/internal/point"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Final reports whether no further transition can happen.
func (s JobState) Final() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobConfig is the body of a job creation request: run parameters plus
// server-side options.
type JobConfig struct {
	config.Params

	// CheckpointInterval is the period between checkpoints in seconds.
	// Zero disables periodic checkpoints.
	CheckpointInterval int `json:"checkpointInterval,omitempty"`
	// ResumeFrom is the ID of a stored run to restart from.
	ResumeFrom string `json:"resumeFrom,omitempty"`
}

// Job represents an optimization job
type Job struct {
	ID          string       `json:"id"`
	State       JobState     `json:"state"`
	Config      JobConfig    `json:"config"`
	Best        *point.Point `json:"best,omitempty"`
	Iterations  int          `json:"iterations"`
	NbEval      int          `json:"nbEval"`
	MeshUpdates int          `json:"meshUpdates"`
	FrameSizes  []float64    `json:"frameSizes,omitempty"`
	Reasons     []string     `json:"reasons,omitempty"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	Error       string       `json:"error,omitempty"`

	cancel    context.CancelFunc
	interrupt func()
}

func (j *Job) clone() *Job {
	c := *j
	if j.Best != nil {
		b := j.Best.Clone()
		c.Best = &b
	}
	c.FrameSizes = append([]float64(nil), j.FrameSizes...)
	c.Reasons = append([]string(nil), j.Reasons...)
	c.cancel = nil
	c.interrupt = nil
	return &c
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job.clone()
}

// GetJob returns a copy of the job with the given ID.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.clone(), true
}

// ListJobs returns copies of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartTime.Before(jobs[j].StartTime) })
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.clone())
		}
	}
	return runningJobs
}

// setControls attaches the cancel and interrupt functions of a started job.
func (jm *JobManager) setControls(id string, cancel context.CancelFunc, interrupt func()) {
	jm.UpdateJob(id, func(j *Job) {
		j.cancel = cancel
		j.interrupt = interrupt
	})
}

// CancelJob stops a running job.
func (jm *JobManager) CancelJob(id string) error {
	var cancel context.CancelFunc
	err := jm.UpdateJob(id, func(j *Job) {
		if !j.State.Final() {
			cancel = j.cancel
		}
	})
	if err != nil {
		return err
	}
	if cancel == nil {
		return fmt.Errorf("job %s is not running", id)
	}
	cancel()
	return nil
}

// InterruptJob requests a user interrupt: the job writes a checkpoint and,
// unless hot restart is enabled, stops.
func (jm *JobManager) InterruptJob(id string) error {
	var interrupt func()
	err := jm.UpdateJob(id, func(j *Job) {
		if !j.State.Final() {
			interrupt = j.interrupt
		}
	})
	if err != nil {
		return err
	}
	if interrupt == nil {
		return fmt.Errorf("job %s is not running", id)
	}
	interrupt()
	return nil
}
