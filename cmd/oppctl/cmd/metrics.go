package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

var (
	metricsProjectID string
	metricsFile      string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Manage node metrics",
	Long:  `Commands for uploading node metrics consumed by analysis jobs.`,
}

var metricsUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload node metrics for a project",
	Long:  `Upload a JSON file of node metrics records. Existing nodes are overwritten.`,
	RunE:  runMetricsUpload,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.AddCommand(metricsUploadCmd)

	metricsUploadCmd.Flags().StringVar(&metricsProjectID, "project", "", "project ID (required)")
	metricsUploadCmd.Flags().StringVar(&metricsFile, "file", "", "JSON file with an array of node metrics (required)")
	metricsUploadCmd.MarkFlagRequired("project")
	metricsUploadCmd.MarkFlagRequired("file")
}

func runMetricsUpload(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(metricsFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", metricsFile, err)
	}

	// Validate locally before shipping
	var nodes []models.NodeMetrics
	if err := json.Unmarshal(data, &nodes); err != nil {
		return fmt.Errorf("invalid metrics file: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/metrics", GetServerURL(), metricsProjectID)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := GetHTTPClient().Do(req)
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

	fmt.Printf("Uploaded %d node metrics to project %s\n", len(nodes), metricsProjectID)
	return nil
}
