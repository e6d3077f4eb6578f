//nolint:forbidigo // CLI commands need fmt.Print* for user output
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/armature/armature/internal/deployment"
	"github.com/armature/armature/internal/interfaces"
)

const clientTimeout = 30 * time.Second

// apiClient talks to a running server over its REST API
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() (*apiClient, error) {
	if base := os.Getenv("ARMATURE_SERVER_URL"); base != "" {
		return &apiClient{baseURL: base, http: &http.Client{Timeout: clientTimeout}}, nil
	}
	cfg, err := loadStandardConfig()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		baseURL: fmt.Sprintf("http://localhost:%d", cfg.Port),
		http:    &http.Client{Timeout: clientTimeout},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func newDeployCommand() *cobra.Command {
	var (
		resourceGroup string
		location      string
		project       string
		environment   string
		params        []string
		wait          bool
		waitTimeout   int
	)

	cmd := &cobra.Command{
		Use:   "deploy <template-name>",
		Short: "Submit a deployment and start monitoring it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			req := deployment.DeployRequest{
				TemplateName:  args[0],
				ResourceGroup: resourceGroup,
				Location:      location,
				Project:       project,
				Environment:   environment,
			}
			if len(params) > 0 {
				req.Parameters = make(map[string]interface{}, len(params))
				for _, p := range params {
					key, value, err := splitParameter(p)
					if err != nil {
						return err
					}
					req.Parameters[key] = value
				}
			}

			var status deployment.Status
			if err := client.post(cmd.Context(), "/api/v1/deployments", req, &status); err != nil {
				return err
			}
			fmt.Printf("Deployment submitted: %s\n", status.DeploymentName)

			if !wait {
				return nil
			}
			return waitForDeployment(cmd.Context(), client, status.DeploymentName, waitTimeout)
		},
	}

	cmd.Flags().StringVarP(&resourceGroup, "resource-group", "g", "", "Target resource group (required)")
	cmd.Flags().StringVarP(&location, "location", "l", "", "Deployment location")
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&environment, "environment", "", "Environment name")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Template parameter as key=value (repeatable)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the deployment reaches a terminal status")
	cmd.Flags().IntVar(&waitTimeout, "timeout", 1800, "Wait timeout in seconds (with --wait)")
	_ = cmd.MarkFlagRequired("resource-group")
	return cmd
}

func splitParameter(p string) (string, string, error) {
	key, value, found := strings.Cut(p, "=")
	if !found || key == "" {
		return "", "", fmt.Errorf("invalid parameter %q, expected key=value", p)
	}
	return key, value, nil
}

func waitForDeployment(ctx context.Context, client *apiClient, name string, timeoutSeconds int) error {
	fmt.Printf("Waiting for %s (timeout: %ds)...\n", name, timeoutSeconds)

	waitClient := &apiClient{
		baseURL: client.baseURL,
		http:    &http.Client{Timeout: time.Duration(timeoutSeconds+30) * time.Second},
	}
	path := fmt.Sprintf("/api/v1/deployments/%s/wait?timeout=%d", url.PathEscape(name), timeoutSeconds)

	var status deployment.Status
	if err := waitClient.get(ctx, path, &status); err != nil {
		return err
	}

	switch status.Status {
	case string(interfaces.StatusSucceeded):
		fmt.Println("✓ Deployment succeeded")
	case string(interfaces.StatusFailed):
		fmt.Println("✗ Deployment failed")
		for _, entry := range status.ErrorDetails {
			fmt.Printf("  %s: %s\n", entry.Target, entry.Message)
		}
		return fmt.Errorf("deployment %s failed", name)
	case string(interfaces.StatusCanceled):
		fmt.Println("✗ Deployment was canceled")
		return fmt.Errorf("deployment %s canceled", name)
	default:
		fmt.Printf("Deployment finished with status %s\n", status.Status)
	}
	if status.DurationSeconds != nil {
		fmt.Printf("Duration: %ds\n", *status.DurationSeconds)
	}
	return nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <deployment-name>",
		Short: "Show the status of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var status deployment.Status
			path := "/api/v1/deployments/" + url.PathEscape(args[0])
			if err := client.get(cmd.Context(), path, &status); err != nil {
				return err
			}

			fmt.Printf("Deployment: %s\n", status.DeploymentName)
			fmt.Printf("Status: %s\n", status.Status)
			fmt.Printf("Resource Group: %s\n", status.ResourceGroup)
			fmt.Printf("Template: %s\n", status.TemplateName)
			if status.Project != "" {
				fmt.Printf("Project: %s (%s)\n", status.Project, status.Environment)
			}
			fmt.Printf("Started: %s\n", status.StartTime.Format("2006-01-02 15:04:05"))
			if status.EndTime != nil {
				fmt.Printf("Ended: %s\n", status.EndTime.Format("2006-01-02 15:04:05"))
			}
			if status.DurationSeconds != nil {
				fmt.Printf("Duration: %ds\n", *status.DurationSeconds)
			}
			if status.Active {
				fmt.Printf("Polls: %d\n", status.PollCount)
			}
			for _, entry := range status.ErrorDetails {
				fmt.Printf("Error [%s]: %s\n", entry.Target, entry.Message)
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked deployments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var statuses []deployment.Status
			if err := client.get(cmd.Context(), "/api/v1/deployments", &statuses); err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No tracked deployments")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATUS\tRESOURCE GROUP\tSTARTED")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.DeploymentName, s.Status, s.ResourceGroup,
					s.StartTime.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource-group>",
		Short: "Delete every owned resource in a resource group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var status deployment.DeleteStatus
			path := "/api/v1/resource-groups/" + url.PathEscape(args[0])
			if err := client.do(cmd.Context(), http.MethodDelete, path, nil, &status); err != nil {
				return err
			}
			fmt.Printf("Delete started: %s (operation %s)\n", status.ResourceGroup, status.OperationID)
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show deployment history statistics and daily trends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var stats interfaces.DeploymentStatistics
			if err := client.get(cmd.Context(), "/api/v1/history/stats", &stats); err != nil {
				return err
			}

			fmt.Printf("Total deployments: %d\n", stats.TotalDeployments)
			fmt.Printf("Success rate: %.1f%%\n", stats.SuccessRate)
			fmt.Printf("Avg duration: %.1fs (min %ds, max %ds)\n",
				stats.AvgDurationSeconds, stats.MinDurationSeconds, stats.MaxDurationSeconds)
			for status, count := range stats.ByStatus {
				fmt.Printf("  %s: %d\n", status, count)
			}
			if len(stats.RecentFailures) > 0 {
				fmt.Println("\nRecent failures:")
				for _, f := range stats.RecentFailures {
					fmt.Printf("  %s (%s): %s\n", f.DeploymentName, f.TemplateName, f.Message)
				}
			}

			var trends []interfaces.TrendPoint
			if err := client.get(cmd.Context(), "/api/v1/history/trends?days="+strconv.Itoa(days), &trends); err != nil {
				return err
			}
			if len(trends) == 0 {
				return nil
			}

			fmt.Printf("\nLast %d days:\n", days)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tTOTAL\tSUCCEEDED\tFAILED\tSUCCESS RATE\tAVG DURATION")
			for _, point := range trends {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\t%.1fs\n",
					point.Date, point.Total, point.Succeeded, point.Failed,
					point.SuccessRate, point.AvgDurationSeconds)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Number of days of trend data")
	return cmd
}
