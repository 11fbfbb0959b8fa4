package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/campaign-runner/internal/models"
)

var (
	scheduleName       string
	scheduleLink       string
	schedulePlatform   string
	scheduleStartAt    string
	scheduleDefinition string

	orderPlatform   string
	orderEngagement string
	orderLink       string
	orderQuantity   int
	orderServiceID  string

	historyLimit int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule a campaign run",
	Long: `Schedule a campaign run by name. The stored definition is used unless
--definition points at a JSON file, in which case it is saved under --name.`,
	RunE: runSchedule,
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Place a single order, optionally against an explicit service id",
	RunE:  runOrder,
}

var stopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Request a job to stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job models.Job
		if err := newClient(serverURL).do(cmd.Context(), "POST", "/api/jobs/"+url.PathEscape(args[0])+"/stop", nil, &job); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", job.JobID, job.Status, job.Message)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job models.Job
		if err := newClient(serverURL).do(cmd.Context(), "GET", "/api/jobs/"+url.PathEscape(args[0]), nil, &job); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "List pending and running jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Jobs []*models.Job `json:"jobs"`
		}
		if err := newClient(serverURL).do(cmd.Context(), "GET", "/api/jobs/active", nil, &resp); err != nil {
			return err
		}
		return printJobs(cmd.OutOrStdout(), resp.Jobs)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Entries []*models.HistoryEntry `json:"entries"`
		}
		path := "/api/history?limit=" + strconv.Itoa(historyLimit)
		if err := newClient(serverURL).do(cmd.Context(), "GET", path, nil, &resp); err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), resp.Entries)
	},
}

var estimateCmd = &cobra.Command{
	Use:   "estimate <campaign-name>",
	Short: "Estimate the cost of a stored campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var est map[string]interface{}
		body := map[string]interface{}{"name": args[0], "platform": schedulePlatform}
		if err := newClient(serverURL).do(cmd.Context(), "POST", "/api/estimate", body, &est); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), est)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <provider>",
	Short: "Show a provider account balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var bal map[string]interface{}
		if err := newClient(serverURL).do(cmd.Context(), "GET", "/api/providers/"+url.PathEscape(args[0])+"/balance", nil, &bal); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), bal)
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleName, "name", "", "campaign name (required)")
	scheduleCmd.Flags().StringVar(&scheduleLink, "link", "", "target link (required)")
	scheduleCmd.Flags().StringVar(&schedulePlatform, "platform", "", "only run engagements for this platform")
	scheduleCmd.Flags().StringVar(&scheduleStartAt, "start-at", "", "RFC3339 start time")
	scheduleCmd.Flags().StringVar(&scheduleDefinition, "definition", "", "path to a campaign definition JSON file")
	_ = scheduleCmd.MarkFlagRequired("name")
	_ = scheduleCmd.MarkFlagRequired("link")

	orderCmd.Flags().StringVar(&orderPlatform, "platform", "Instagram", "platform")
	orderCmd.Flags().StringVar(&orderEngagement, "engagement", "", "engagement type (required)")
	orderCmd.Flags().StringVar(&orderLink, "link", "", "target link (required)")
	orderCmd.Flags().IntVar(&orderQuantity, "quantity", 0, "quantity (required)")
	orderCmd.Flags().StringVar(&orderServiceID, "service-id", "", "explicit catalog service id")
	_ = orderCmd.MarkFlagRequired("engagement")
	_ = orderCmd.MarkFlagRequired("link")
	_ = orderCmd.MarkFlagRequired("quantity")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries")

	estimateCmd.Flags().StringVar(&schedulePlatform, "platform", "", "only price engagements for this platform")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"name": scheduleName,
		"link": scheduleLink,
	}
	if schedulePlatform != "" {
		body["platform"] = schedulePlatform
	}
	if scheduleStartAt != "" {
		at, err := time.Parse(time.RFC3339, scheduleStartAt)
		if err != nil {
			return fmt.Errorf("--start-at: %w", err)
		}
		body["start_at"] = at
	}
	if scheduleDefinition != "" {
		def, err := readDefinition(scheduleDefinition)
		if err != nil {
			return err
		}
		body["definition"] = def
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := newClient(serverURL).do(cmd.Context(), "POST", "/api/campaigns", body, &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
	return nil
}

func runOrder(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"platform":   orderPlatform,
		"engagement": orderEngagement,
		"link":       orderLink,
		"quantity":   orderQuantity,
	}
	path := "/api/orders"
	if orderServiceID != "" {
		body["service_id"] = orderServiceID
		path = "/api/orders/by-service"
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := newClient(serverURL).do(cmd.Context(), "POST", path, body, &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
	return nil
}

func readDefinition(path string) (*models.CampaignDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	var def models.CampaignDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse definition %s: %w", path, err)
	}
	return &def, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJobs(w io.Writer, jobs []*models.Job) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tKIND\tSTATUS\tMESSAGE")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.JobID, j.Kind, j.Status, j.Message)
	}
	return tw.Flush()
}

func printHistory(w io.Writer, entries []*models.HistoryEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATUS\tORDERS\tCOST\tFINISHED")
	for _, e := range entries {
		cost := "-"
		if e.TotalCost != nil {
			cost = strconv.FormatFloat(*e.TotalCost, 'f', 4, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.JobID, e.Status, e.OrderCount, cost, e.EndTime.Format(time.RFC3339))
	}
	return tw.Flush()
}
