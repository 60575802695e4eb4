package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/hahplan/internal/model"
	"github.com/cwbudde/hahplan/internal/scenario"
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

// JobConfig describes one planning run: the scenario to generate and how to solve it.
type JobConfig struct {
	Scenario         scenario.Config `json:"scenario"`
	Routing          string          `json:"routing,omitempty"`
	RelaxSqrt        bool            `json:"relaxSqrt,omitempty"`
	TimeLimitSeconds float64         `json:"timeLimitSeconds,omitempty"`
	Solver           string          `json:"solver,omitempty"`
	WarmStart        bool            `json:"warmStart,omitempty"`
}

// DefaultJobConfig is the base that request bodies are decoded over.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Scenario:         scenario.Default(),
		Routing:          model.RoutingCoupled.String(),
		TimeLimitSeconds: 300,
		Solver:           "enum",
	}
}

// Validate checks the config before a job is created.
func (c JobConfig) Validate() error {
	if err := c.Scenario.Validate(); err != nil {
		return err
	}
	if _, err := model.ParseRoutingMode(c.Routing); err != nil {
		return err
	}
	if c.TimeLimitSeconds < 0 {
		return fmt.Errorf("timeLimitSeconds cannot be negative")
	}
	switch c.Solver {
	case "", "enum", "gurobi":
	default:
		return fmt.Errorf("unknown solver %q (want enum or gurobi)", c.Solver)
	}
	return nil
}

func (c JobConfig) timeLimit() time.Duration {
	return time.Duration(c.TimeLimitSeconds * float64(time.Second))
}

// Job represents a planning job
type Job struct {
	ID           string             `json:"id"`
	State        JobState           `json:"state"`
	Config       JobConfig          `json:"config"`
	Status       string             `json:"status,omitempty"`
	BestCost     float64            `json:"bestCost"`
	Incumbents   int                `json:"incumbents"`
	Nodes        int                `json:"nodes"`
	HomePatients []int              `json:"homePatients,omitempty"`
	Costs        map[string]float64 `json:"costs,omitempty"`
	StartTime    time.Time          `json:"startTime"`
	EndTime      *time.Time         `json:"endTime,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
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
	return job
}

// GetJob returns a snapshot of the job with the given ID.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].StartTime.Before(jobs[b].StartTime)
	})
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
			snapshot := *job
			runningJobs = append(runningJobs, &snapshot)
		}
	}
	return runningJobs
}

// start moves a pending job to running and derives its cancellable
// context. It reports false when the job is unknown or no longer pending,
// for example because it was cancelled before a worker picked it up.
func (jm *JobManager) start(parent context.Context, id string) (context.Context, context.CancelFunc, bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists || job.State != StatePending {
		return nil, nil, false
	}
	job.State = StateRunning

	ctx, cancel := context.WithCancel(parent)
	jm.cancels[id] = cancel
	return ctx, func() {
		jm.mu.Lock()
		delete(jm.cancels, id)
		jm.mu.Unlock()
		cancel()
	}, true
}

// CancelJob stops a pending or running job. A pending job is marked
// cancelled at once and will not start; a running job stops at the solver's
// next cancellation check. It reports false when the job is unknown or
// already finished.
func (jm *JobManager) CancelJob(id string) bool {
	jm.mu.Lock()
	if cancel, ok := jm.cancels[id]; ok {
		jm.mu.Unlock()
		cancel()
		return true
	}
	job, exists := jm.jobs[id]
	if !exists || job.State != StatePending {
		jm.mu.Unlock()
		return false
	}
	endTime := time.Now()
	job.State = StateCancelled
	job.EndTime = &endTime
	event := eventFor(job, endTime.Sub(job.StartTime))
	jm.mu.Unlock()

	slog.Info("Job cancelled before start", "job_id", id)
	jm.broadcaster.Broadcast(event)
	return true
}
