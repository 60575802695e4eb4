package server

import (
	"testing"
	"time"

	"github.com/cwbudde/hahplan/internal/scenario"
)

// tinyScenario solves in well under a second with the enumeration solver.
func tinyScenario() scenario.Config {
	cfg := scenario.Default()
	cfg.Name = "tiny"
	cfg.Patients = 3
	cfg.EligibleRatio = 1
	cfg.Bundles = 1
	cfg.BundlesPerPatient = 1
	cfg.Horizon = 2
	cfg.Beds = 3
	cfg.HospitalLOS = scenario.Range{Min: 1, Max: 2}
	cfg.HomeLOS = scenario.Range{Min: 1, Max: 2}
	cfg.RadiusKm = 5
	return cfg
}

func tinyJob() JobConfig {
	cfg := DefaultJobConfig()
	cfg.Scenario = tinyScenario()
	cfg.TimeLimitSeconds = 30
	return cfg
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(tinyJob())

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}

	if job.Config.Scenario.Name != "tiny" {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(tinyJob())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}

	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_GetJobReturnsSnapshot(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(tinyJob())

	snapshot, _ := jm.GetJob(job.ID)
	snapshot.State = StateFailed

	current, _ := jm.GetJob(job.ID)
	if current.State != StatePending {
		t.Errorf("Mutating a snapshot changed the job: %s", current.State)
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(tinyJob())
	time.Sleep(time.Millisecond)
	jm.CreateJob(tinyJob())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(tinyJob())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Incumbents = 2
		j.BestCost = 123.45
	})

	if err != nil {
		t.Errorf("UpdateJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State not updated")
	}

	if updated.Incumbents != 2 {
		t.Error("Incumbents not updated")
	}

	if updated.BestCost != 123.45 {
		t.Error("BestCost not updated")
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("Should fail for nonexistent job")
	}
}

func TestJobManager_GetRunningJobs(t *testing.T) {
	jm := NewJobManager()

	a := jm.CreateJob(tinyJob())
	jm.CreateJob(tinyJob())
	jm.UpdateJob(a.ID, func(j *Job) { j.State = StateRunning })

	running := jm.GetRunningJobs()
	if len(running) != 1 || running[0].ID != a.ID {
		t.Errorf("Expected only job %s running, got %d jobs", a.ID, len(running))
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(tinyJob())

	ctx, release, ok := jm.start(t.Context(), job.ID)
	if !ok {
		t.Fatal("start should accept a pending job")
	}
	if _, _, again := jm.start(t.Context(), job.ID); again {
		t.Error("A running job cannot be started twice")
	}
	if !jm.CancelJob(job.ID) {
		t.Fatal("CancelJob should find the running job")
	}
	if ctx.Err() == nil {
		t.Error("Job context should be cancelled")
	}

	release()
	if jm.CancelJob(job.ID) {
		t.Error("Released job should no longer be cancellable")
	}
	if jm.CancelJob("missing") {
		t.Error("Unknown job should not be cancellable")
	}
}

func TestJobManager_CancelPendingJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(tinyJob())
	events, unsubscribe := jm.broadcaster.Subscribe(job.ID)
	defer unsubscribe()

	if !jm.CancelJob(job.ID) {
		t.Fatal("A pending job should be cancellable")
	}
	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled || updated.EndTime == nil {
		t.Errorf("Expected cancelled job with end time, got %s", updated.State)
	}
	if ev := <-events; ev.State != StateCancelled {
		t.Errorf("Expected cancelled event, got %s", ev.State)
	}

	if _, _, ok := jm.start(t.Context(), job.ID); ok {
		t.Error("A cancelled job must not start")
	}
	if jm.CancelJob(job.ID) {
		t.Error("A cancelled job cannot be cancelled again")
	}
}

func TestJobConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*JobConfig)
		ok     bool
	}{
		{"default", func(c *JobConfig) {}, true},
		{"constant routing", func(c *JobConfig) { c.Routing = "constant"; c.RelaxSqrt = true }, true},
		{"gurobi", func(c *JobConfig) { c.Solver = "gurobi" }, true},
		{"bad routing", func(c *JobConfig) { c.Routing = "tsp" }, false},
		{"bad solver", func(c *JobConfig) { c.Solver = "cplex" }, false},
		{"negative limit", func(c *JobConfig) { c.TimeLimitSeconds = -1 }, false},
		{"bad scenario", func(c *JobConfig) { c.Scenario.Patients = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tinyJob()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
