package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent is sent on job state changes and on every improving incumbent.
type ProgressEvent struct {
	JobID          string    `json:"jobId"`
	State          JobState  `json:"state"`
	Status         string    `json:"status,omitempty"`
	Incumbents     int       `json:"incumbents"`
	BestCost       float64   `json:"bestCost"`
	Nodes          int       `json:"nodes"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func eventFor(job *Job, elapsed time.Duration) ProgressEvent {
	return ProgressEvent{
		JobID:          job.ID,
		State:          job.State,
		Status:         job.Status,
		Incumbents:     job.Incumbents,
		BestCost:       job.BestCost,
		Nodes:          job.Nodes,
		ElapsedSeconds: elapsed.Seconds(),
		Error:          job.Error,
		Timestamp:      time.Now(),
	}
}

// feed holds the subscribers of one job and the event to replay to
// subscribers that arrive late. A finished feed has seen a terminal event
// and has no subscribers left.
type feed struct {
	subs     map[chan ProgressEvent]struct{}
	last     ProgressEvent
	hasLast  bool
	finished bool
}

// EventBroadcaster fans job events out to stream subscribers. Subscriber
// channels are closed after the job's terminal event.
type EventBroadcaster struct {
	mu    sync.Mutex
	feeds map[string]*feed
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{feeds: make(map[string]*feed)}
}

func (eb *EventBroadcaster) feed(jobID string) *feed {
	f, ok := eb.feeds[jobID]
	if !ok {
		f = &feed{subs: make(map[chan ProgressEvent]struct{})}
		eb.feeds[jobID] = f
	}
	return f
}

// Subscribe returns a channel of the job's events, starting with the last
// event sent so far, and a func that ends the subscription.
func (eb *EventBroadcaster) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f := eb.feed(jobID)
	ch := make(chan ProgressEvent, 16)
	if f.hasLast {
		ch <- f.last
	}
	if f.finished {
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	slog.Debug("Stream subscribed", "job_id", jobID, "subscribers", len(f.subs))

	return ch, func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
			slog.Debug("Stream unsubscribed", "job_id", jobID)
		}
	}
}

// Broadcast delivers event to every subscriber of its job. Progress events
// are dropped for subscribers that fall behind; a terminal event evicts the
// oldest buffered event instead, so every subscriber sees how the job ended.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f := eb.feed(event.JobID)
	if f.finished {
		return
	}
	f.last, f.hasLast = event, true
	terminal := event.State.terminal()

	for ch := range f.subs {
		select {
		case ch <- event:
		default:
			if !terminal {
				slog.Warn("Stream subscriber behind, dropping event", "job_id", event.JobID)
				continue
			}
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}

	if terminal {
		for ch := range f.subs {
			close(ch)
		}
		f.subs = nil
		f.finished = true
	}
}

// handleJobStream handles SSE connections for job progress
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	// Check if job exists
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Get flusher
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	eventChan, unsubscribe := s.jobManager.broadcaster.Subscribe(jobID)
	defer unsubscribe()

	// Send initial event with current job state
	initialEvent := eventFor(job, time.Since(job.StartTime))

	if err := writeSSEEvent(w, initialEvent); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if job.State.terminal() {
		return
	}

	// Set up ping ticker to keep connection alive
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	// Listen for events and client disconnect
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			slog.Debug("SSE client disconnected", "job_id", jobID)
			return

		case event, ok := <-eventChan:
			if !ok {
				// Channel closed
				return
			}

			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
			if event.State.terminal() {
				return
			}

		case <-pingTicker.C:
			// Send ping to keep connection alive
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// SSE format: "data: {json}\n\n"
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s JobState) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}
