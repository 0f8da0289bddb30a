// Package server runs PSD-MADS optimizations as jobs behind an HTTP API with
// SSE progress streams and Prometheus metrics.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/psdmads/internal/bench"
	"github.com/cwbudde/psdmads/internal/config"
	"github.com/cwbudde/psdmads/internal/point"
	"github.com/cwbudde/psdmads/internal/runner"
	"github.com/cwbudde/psdmads/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      *store.FSStore
	registry   *prometheus.Registry
	metrics    *Metrics
	addr       string
	server     *http.Server

	// ctx is the parent of every job context, cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
}

// NewServer creates a new HTTP server. fsStore may be nil, which disables
// checkpoints, traces and resumed jobs.
func NewServer(addr string, fsStore *store.FSStore) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      fsStore,
		registry:   reg,
		metrics:    NewMetrics(reg),
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handler returns the server's routes wrapped with middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/problems", s.handleProblems)
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("/api/v1/checkpoints/", s.handleCheckpointWithID)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels every job, waits for them to write their final state and
// gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Jobs did not stop before shutdown deadline")
	}
	if err := s.metrics.Close(); err != nil {
		slog.Warn("Failed to flush coordinator metrics", "error", err)
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// startJob runs the job in the background.
func (s *Server) startJob(jobID string) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if err := runJob(s.ctx, s.jobManager, s.store, s.metrics, jobID); err != nil {
			slog.Debug("Job ended with error", "job_id", jobID, "error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"runningJobs": len(s.jobManager.GetRunningJobs()),
	})
}

// handleProblems handles GET /api/v1/problems
func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, bench.Names())
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch sub {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "cancel":
		s.handleJobControl(w, r, jobID, s.jobManager.CancelJob)
	case "interrupt":
		s.handleJobControl(w, r, jobID, s.jobManager.InterruptJob)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "best.txt":
		s.handleGetBestPoint(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
//
// The body is a JobConfig. Unset parameters take their default values, or
// the values of the checkpoint named by resumeFrom.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body bytes.Buffer
	if _, err := body.ReadFrom(r.Body); err != nil {
		http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
		return
	}

	var peek struct {
		ResumeFrom string `json:"resumeFrom"`
	}
	if err := json.Unmarshal(body.Bytes(), &peek); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	base := config.Default()
	if peek.ResumeFrom != "" {
		if s.store == nil {
			http.Error(w, "Checkpoints are disabled on this server", http.StatusBadRequest)
			return
		}
		cp, err := s.store.LoadCheckpoint(peek.ResumeFrom)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Checkpoint not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to load checkpoint: %v", err), http.StatusInternalServerError)
			return
		}
		base = cp.Config
	}

	cfg := JobConfig{Params: base}
	dec := json.NewDecoder(&body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if cfg.CheckpointInterval < 0 {
		http.Error(w, "checkpointInterval cannot be negative", http.StatusBadRequest)
		return
	}

	params, _, err := runner.Resolve(cfg.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg.Params = params

	job := s.jobManager.CreateJob(cfg)
	s.startJob(job.ID)

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	evalsPerSecond := float64(0)
	if elapsed.Seconds() > 0 {
		evalsPerSecond = float64(job.NbEval) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":             job.ID,
		"state":          job.State,
		"config":         job.Config,
		"best":           job.Best,
		"iterations":     job.Iterations,
		"nbEval":         job.NbEval,
		"meshUpdates":    job.MeshUpdates,
		"frameSizes":     job.FrameSizes,
		"reasons":        job.Reasons,
		"elapsed":        elapsed.Seconds(),
		"evalsPerSecond": evalsPerSecond,
		"startTime":      job.StartTime,
		"endTime":        job.EndTime,
		"error":          job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleJobControl handles POST /api/v1/jobs/:id/cancel and /interrupt
func (s *Server) handleJobControl(w http.ResponseWriter, r *http.Request, jobID string, action func(string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err := action(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetBestPoint handles GET /api/v1/jobs/:id/best.txt
func (s *Server) handleGetBestPoint(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.Best == nil {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := point.WritePoints(w, []point.Point{*job.Best}); err != nil {
		slog.Error("Failed to write best point", "job_id", jobID, "error", err)
	}
}

// handleCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.CheckpointInfo{})
		return
	}
	infos, err := s.store.ListCheckpoints()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list checkpoints: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleCheckpointWithID handles GET and DELETE /api/v1/checkpoints/:id
func (s *Server) handleCheckpointWithID(w http.ResponseWriter, r *http.Request) {
	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/checkpoints/"), "/")
	if runID == "" || strings.Contains(runID, "/") {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}
	if s.store == nil {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		cp, err := s.store.LoadCheckpoint(runID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Checkpoint not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, cp)
	case http.MethodDelete:
		if job, ok := s.jobManager.GetJob(runID); ok && !job.State.Final() {
			http.Error(w, "Job is still running", http.StatusConflict)
			return
		}
		err := s.store.DeleteCheckpoint(runID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Checkpoint not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
