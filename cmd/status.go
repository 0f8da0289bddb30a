package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/psdmads/internal/server"
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
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimRight(serverURL, "/")
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), base+"/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs/%s/status", base, jobID), jobID)
}

func listJobs(out io.Writer, url string) error {
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
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Problem: %s (dimension %d, %d threads)\n", job.Config.Problem, job.Config.Dimension, job.Config.NbSubproblem)
		fmt.Fprintf(out, "  Progress: %d iterations, %d evaluations\n", job.Iterations, job.NbEval)
		if job.Best != nil {
			fmt.Fprintf(out, "  Best: f=%g h=%g\n", job.Best.F, job.Best.H)
		}
		fmt.Fprintln(out)
	}

	return nil
}

// jobStatus mirrors the status endpoint's response.
type jobStatus struct {
	server.Job
	Elapsed        float64 `json:"elapsed"`
	EvalsPerSecond float64 `json:"evalsPerSecond"`
}

func getJobStatus(out io.Writer, url, jobID string) error {
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

	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	cfg := status.Config
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Problem: %s\n", cfg.Problem)
	fmt.Fprintf(out, "  Dimension: %d\n", cfg.Dimension)
	fmt.Fprintf(out, "  Main threads: %d\n", cfg.NbSubproblem)
	fmt.Fprintf(out, "  Variables per subproblem: %d\n", cfg.NbVarInSubproblem)
	fmt.Fprintf(out, "  Coverage: %.0f%%\n", cfg.SubproblemPercentCover)
	if cfg.ResumeFrom != "" {
		fmt.Fprintf(out, "  Resumed from: %s\n", cfg.ResumeFrom)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Iterations: %d\n", status.Iterations)
	fmt.Fprintf(out, "  Evaluations: %d\n", status.NbEval)
	fmt.Fprintf(out, "  Mesh updates: %d\n", status.MeshUpdates)
	if status.Best != nil {
		fmt.Fprintf(out, "  Best f: %g\n", status.Best.F)
		fmt.Fprintf(out, "  Best h: %g\n", status.Best.H)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.EvalsPerSecond > 0 {
		fmt.Fprintf(out, "  Throughput: %.0f evaluations/sec\n", status.EvalsPerSecond)
	}
	if len(status.Reasons) > 0 {
		fmt.Fprintf(out, "  Stopped by: %s\n", strings.Join(status.Reasons, ", "))
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}

	return nil
}
