package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

var (
	oppProjectID string
	oppLimit     int
)

var opportunitiesCmd = &cobra.Command{
	Use:   "opportunities",
	Short: "Inspect ranked content opportunities",
	Long:  `Commands for listing ranked opportunity records produced by analysis jobs.`,
}

var opportunitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's ranked opportunities",
	Long:  `List opportunity records for a project, ordered by combined value descending.`,
	RunE:  runOpportunitiesList,
}

func init() {
	rootCmd.AddCommand(opportunitiesCmd)
	opportunitiesCmd.AddCommand(opportunitiesListCmd)

	opportunitiesListCmd.Flags().StringVar(&oppProjectID, "project", "", "project ID (required)")
	opportunitiesListCmd.Flags().IntVar(&oppLimit, "limit", 20, "maximum records to return (0 = all)")
	opportunitiesListCmd.MarkFlagRequired("project")
}

type opportunitiesResponse struct {
	ProjectID     string                `json:"project_id"`
	Opportunities []models.Opportunity  `json:"opportunities"`
	Count         int                   `json:"count"`
}

func runOpportunitiesList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/projects/%s/opportunities?limit=%d", GetServerURL(), oppProjectID, oppLimit)

	resp, err := GetHTTPClient().Get(url)
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

	var result opportunitiesResponse
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
	table.Header("Node", "Score", "Annual Lift", "Combined", "Priority", "Confidence")

	for _, opp := range result.Opportunities {
		table.Append(
			opp.NodeID,
			fmt.Sprintf("%d", opp.Score),
			fmt.Sprintf("$%.0f", opp.RevenuePotential),
			fmt.Sprintf("%.1f", opp.CombinedValue),
			opp.Priority,
			fmt.Sprintf("%.2f", opp.Confidence),
		)
	}
	table.Render()
	fmt.Printf("\nTotal: %d opportunities\n", result.Count)

	return nil
}
