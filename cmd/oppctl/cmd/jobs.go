package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

var (
	// Job submit flags
	jobType        string
	projectID      string
	batchSize      int
	concurrency    int
	targetPosition int

	// Job status flags
	followStatus bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage analysis jobs",
	Long:  `Commands for creating, listing, and managing analysis jobs.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new analysis job",
	Long:  `Submit a new scoring, revenue, or full-analysis job for a project.`,
	RunE:  runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Get job status",
	Long:  `Retrieve the status of a specific job. If no ID is provided, lists all jobs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long:  `Request cooperative cancellation of a pending or running job.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry a job's failed items",
	Long:  `Create a new job scoped to the failed node IDs of a finished job.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsRetryCmd)

	jobsSubmitCmd.Flags().StringVar(&jobType, "type", "full_analysis", "job type (scoring, revenue, full_analysis)")
	jobsSubmitCmd.Flags().StringVar(&projectID, "project", "", "project ID (required)")
	jobsSubmitCmd.Flags().IntVar(&batchSize, "batch-size", 0, "nodes per batch (default 100)")
	jobsSubmitCmd.Flags().IntVar(&concurrency, "concurrency", 0, "max concurrent batches (default 5)")
	jobsSubmitCmd.Flags().IntVar(&targetPosition, "target-position", 0, "projection target position (default 3)")
	jobsSubmitCmd.MarkFlagRequired("project")

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")
}

type jobRequest struct {
	Type      string            `json:"type"`
	ProjectID string            `json:"project_id"`
	Options   models.JobOptions `json:"options"`
}

type jobsListResponse struct {
	Jobs  []models.AnalysisJob `json:"jobs"`
	Count int                  `json:"count"`
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	req := jobRequest{
		Type:      jobType,
		ProjectID: projectID,
		Options: models.JobOptions{
			BatchSize:      batchSize,
			Concurrency:    concurrency,
			TargetPosition: targetPosition,
		},
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := GetHTTPClient().Post(GetServerURL()+"/jobs", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var job models.AnalysisJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("Job ID", job.ID)
		table.Append("Type", string(job.Type))
		table.Append("Project", job.ProjectID)
		table.Append("Status", string(job.Status))
		table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
		table.Render()
		fmt.Printf("\nJob submitted successfully! ID: %s\n", job.ID)
	}

	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listAllJobs()
	}

	jobID := args[0]

	if followStatus {
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
		for {
			job, err := fetchJobStatus(jobID)
			if err != nil {
				return err
			}

			fmt.Print("\033[H\033[2J") // Clear screen
			displayJobStatus(job)

			if job.Terminal() {
				fmt.Println("\nJob reached terminal state")
				break
			}

			time.Sleep(2 * time.Second)
		}
		return nil
	}

	job, err := fetchJobStatus(jobID)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		output, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}
	displayJobStatus(job)
	return nil
}

func fetchJobStatus(jobID string) (*models.AnalysisJob, error) {
	resp, err := GetHTTPClient().Get(fmt.Sprintf("%s/jobs/%s", GetServerURL(), jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var job models.AnalysisJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &job, nil
}

func displayJobStatus(job *models.AnalysisJob) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.ID)
	table.Append("Type", string(job.Type))
	table.Append("Project", job.ProjectID)
	table.Append("Status", string(job.Status))
	table.Append("Progress", fmt.Sprintf("%d%%", job.Progress))
	table.Append("Processed", fmt.Sprintf("%d/%d", job.ProcessedItems, job.TotalItems))
	table.Append("Errors", fmt.Sprintf("%d", len(job.Errors)))
	if job.SourceJobID != "" {
		table.Append("Source Job", job.SourceJobID)
	}
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		table.Append("Started At", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		table.Append("Completed At", job.CompletedAt.Format(time.RFC3339))
	}
	if job.Result != nil {
		table.Append("Successful", fmt.Sprintf("%d", job.Result.Successful))
		table.Append("Failed", fmt.Sprintf("%d", job.Result.Failed))
		table.Append("Success Rate", fmt.Sprintf("%.1f%%", job.Result.SuccessRate))
	}
	table.Render()

	if len(job.Errors) > 0 {
		fmt.Println("\nErrors (most recent first):")
		shown := job.Errors
		if len(shown) > 10 {
			shown = shown[len(shown)-10:]
		}
		for i := len(shown) - 1; i >= 0; i-- {
			e := shown[i]
			fmt.Printf("  [%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.NodeID, e.Message)
		}
	}
}

func listAllJobs() error {
	resp, err := GetHTTPClient().Get(GetServerURL() + "/jobs")
	if err != nil {
		return fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result jobsListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Type", "Project", "Status", "Progress", "Errors", "Created")

	for _, job := range result.Jobs {
		table.Append(
			job.ID,
			string(job.Type),
			job.ProjectID,
			string(job.Status),
			fmt.Sprintf("%d%%", job.Progress),
			fmt.Sprintf("%d", len(job.Errors)),
			job.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()
	fmt.Printf("\nTotal: %d jobs\n", result.Count)

	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	resp, err := GetHTTPClient().Post(fmt.Sprintf("%s/jobs/%s/cancel", GetServerURL(), jobID), "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Printf("Job %s cancelled\n", jobID)
		return nil
	case http.StatusConflict:
		return fmt.Errorf("job %s is not cancellable", jobID)
	default:
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	resp, err := GetHTTPClient().Post(fmt.Sprintf("%s/jobs/%s/retry", GetServerURL(), jobID), "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to engine API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var job models.AnalysisJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Retry job created: %s (%d failed nodes)\n", job.ID, len(job.Options.NodeFilter))
	return nil
}
