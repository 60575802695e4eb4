package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/hahplan/internal/server"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var url string

	if len(args) == 0 {
		// List all jobs
		url = fmt.Sprintf("%s/api/v1/jobs", serverURL)
		return listJobs(url)
	} else {
		// Get specific job status
		jobID := args[0]
		url = fmt.Sprintf("%s/api/v1/jobs/%s", serverURL, jobID)
		return getJobStatus(url, jobID)
	}
}

func listJobs(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []server.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Printf("  State: %s\n", job.State)
		fmt.Printf("  Scenario: %s (%d patients, %d beds)\n",
			job.Config.Scenario.Name, job.Config.Scenario.Patients, job.Config.Scenario.Beds)
		fmt.Printf("  Solver: %s, %s routing\n", job.Config.Solver, job.Config.Routing)
		if job.Incumbents > 0 {
			fmt.Printf("  Best Cost: %.2f (%d incumbents)\n", job.BestCost, job.Incumbents)
		}
		fmt.Println()
	}

	return nil
}

// jobStatus mirrors the status endpoint response.
type jobStatus struct {
	server.Job
	Elapsed float64 `json:"elapsed"`
}

func getJobStatus(url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Job: %s\n", status.ID)
	fmt.Printf("State: %s\n", status.State)
	fmt.Println()

	cfg := status.Config
	fmt.Println("Configuration:")
	fmt.Printf("  Scenario: %s (seed %d)\n", cfg.Scenario.Name, cfg.Scenario.Seed)
	fmt.Printf("  Patients: %d, beds: %d, depots: %d, days: %d\n",
		cfg.Scenario.Patients, cfg.Scenario.Beds, cfg.Scenario.Depots, cfg.Scenario.Horizon)
	fmt.Printf("  Solver: %s\n", cfg.Solver)
	fmt.Printf("  Routing: %s\n", cfg.Routing)
	fmt.Printf("  Time limit: %s\n", time.Duration(cfg.TimeLimitSeconds*float64(time.Second)))
	fmt.Println()

	fmt.Println("Progress:")
	if status.Status != "" {
		fmt.Printf("  Status: %s\n", status.Status)
	}
	if status.Incumbents > 0 {
		fmt.Printf("  Best Cost: %.2f\n", status.BestCost)
		fmt.Printf("  Incumbents: %d\n", status.Incumbents)
	}
	if status.Nodes > 0 {
		fmt.Printf("  Nodes: %d\n", status.Nodes)
	}
	if len(status.HomePatients) > 0 {
		fmt.Printf("  Home patients: %d\n", len(status.HomePatients))
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Error != "" {
		fmt.Printf("\nError: %s\n", status.Error)
	}

	return nil
}
