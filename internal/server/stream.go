package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/psdmads/internal/point"
)

const (
	streamBuffer       = 16
	streamPingInterval = 30 * time.Second
)

// ProgressEvent is the state of a job pushed to stream subscribers.
type ProgressEvent struct {
	JobID       string      `json:"jobId"`
	State       JobState    `json:"state"`
	Iterations  int         `json:"iterations"`
	NbEval      int         `json:"nbEval"`
	MeshUpdates int         `json:"meshUpdates"`
	BestF       point.Float `json:"bestF"`
	BestH       point.Float `json:"bestH"`
	Reasons     []string    `json:"reasons,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// name is the SSE event type of e.
func (e ProgressEvent) name() string {
	if e.State.Final() {
		return "final"
	}
	return "progress"
}

// EventBroadcaster fans job progress out to stream subscribers. The last
// event of each job is replayed to new subscribers. Slow subscribers lose
// events rather than block the job.
type EventBroadcaster struct {
	mu        sync.Mutex
	clients   map[string]map[chan ProgressEvent]struct{}
	lastEvent map[string]ProgressEvent
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan ProgressEvent]struct{}),
		lastEvent: make(map[string]ProgressEvent),
	}
}

// Subscribe registers a subscriber for jobID.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, streamBuffer)
	set, ok := eb.clients[jobID]
	if !ok {
		set = make(map[chan ProgressEvent]struct{})
		eb.clients[jobID] = set
	}
	set[ch] = struct{}{}

	if last, ok := eb.lastEvent[jobID]; ok {
		ch <- last
	}
	slog.Debug("Stream subscriber added", "job_id", jobID, "subscribers", len(set))
	return ch
}

// Unsubscribe removes ch and closes it. Channels already closed by
// CleanupJob are ignored.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	set := eb.clients[jobID]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(eb.clients, jobID)
	}
}

// Broadcast records event as the job's last event and offers it to every
// subscriber.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.JobID] = event
	dropped := 0
	for ch := range eb.clients[event.JobID] {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		slog.Warn("Stream subscribers behind, events dropped", "job_id", event.JobID, "dropped", dropped)
	}
}

// CleanupJob closes every subscriber of jobID and forgets its last event.
// Buffered events are still delivered before the close is seen.
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.clients[jobID] {
		close(ch)
	}
	delete(eb.clients, jobID)
	delete(eb.lastEvent, jobID)
}

// handleJobStream streams a job's progress as server-sent events until the
// job reaches a final state or the client goes away.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	seq := 0
	send := func(ev ProgressEvent) bool {
		seq++
		if err := writeSSEEvent(w, seq, ev); err != nil {
			slog.Debug("Stream write failed", "job_id", jobID, "error", err)
			return false
		}
		flusher.Flush()
		return !ev.State.Final()
	}

	if !send(progressEvent(job)) {
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok || !send(ev) {
				return
			}
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, id int, ev ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.name(), data)
	return err
}
