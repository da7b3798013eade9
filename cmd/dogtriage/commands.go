package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carlsuburbmates/dogtriage/internal/config"
)

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify an emergency report",
	Long: `Classify an emergency report via the running server.

Examples:
  dogtriage classify "my dog is bleeding heavily from his paw"
  dogtriage classify --suburb Brunswick "found a stray with no collar"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		suburb, _ := cmd.Flags().GetString("suburb")
		contact, _ := cmd.Flags().GetString("contact")
		tagsStr, _ := cmd.Flags().GetString("tags")

		req := map[string]any{
			"text": args[0],
			"meta": map[string]string{"source": "cli"},
		}
		if suburb != "" {
			req["suburb"] = suburb
		}
		if contact != "" {
			req["contact"] = contact
		}
		if tagsStr != "" {
			tags := strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
			req["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/triage", req)
		if err != nil {
			return err
		}

		var decision struct {
			Classification    string  `json:"classification"`
			Confidence        float64 `json:"confidence"`
			Summary           string  `json:"summary"`
			RecommendedAction string  `json:"recommended_action"`
			Urgency           string  `json:"urgency"`
			Medical           *struct {
				IsMedical            bool     `json:"is_medical"`
				Severity             string   `json:"severity"`
				Symptoms             []string `json:"symptoms"`
				RecommendedResources []string `json:"recommended_resources"`
			} `json:"medical"`
			Source     string `json:"decision_source"`
			LogID      string `json:"log_id"`
			DurationMs int64  `json:"duration_ms"`
		}
		if err := decodeJSON(resp, &decision); err != nil {
			return err
		}

		printStatus("Classification", "%s (%.0f%% confident, %s)",
			decision.Classification, decision.Confidence*100, decision.Source)
		printStatus("Urgency", "%s", decision.Urgency)
		printStatus("Action", "%s", decision.RecommendedAction)
		printStatus("Summary", "%s", decision.Summary)
		if decision.Medical != nil && decision.Medical.IsMedical {
			printStatus("Severity", "%s", decision.Medical.Severity)
			if len(decision.Medical.Symptoms) > 0 {
				printStatus("Symptoms", "%s", strings.Join(decision.Medical.Symptoms, ", "))
			}
			if len(decision.Medical.RecommendedResources) > 0 {
				printStatus("Resources", "%s", strings.Join(decision.Medical.RecommendedResources, ", "))
			}
		}
		printStatus("Log ID", "%s (took %dms)", decision.LogID, decision.DurationMs)
		return nil
	},
}

// --- logs ---

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List triage audit records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		classification, _ := cmd.Flags().GetString("classification")
		urgency, _ := cmd.Flags().GetString("urgency")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/triage/logs?limit=%d", limit)
		if classification != "" {
			path += "&classification=" + classification
		}
		if urgency != "" {
			path += "&urgency=" + urgency
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Logs []struct {
				ID             string  `json:"id"`
				CreatedAt      string  `json:"created_at"`
				Classification string  `json:"classification"`
				Confidence     float64 `json:"confidence"`
				Urgency        string  `json:"urgency"`
				DecisionSource string  `json:"decision_source"`
				Summary        string  `json:"summary"`
			} `json:"logs"`
			Total int `json:"total"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		for _, l := range result.Logs {
			fmt.Printf("%s  %-8s %-10s %-13s %s\n",
				l.ID[:8], l.Classification, l.Urgency, l.DecisionSource, l.Summary)
		}
		fmt.Printf("%d of %d records\n", len(result.Logs), result.Total)
		return nil
	},
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show the weekly triage metrics summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		week, _ := cmd.Flags().GetString("week")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/metrics/weekly"
		if week != "" {
			path += "?week=" + week
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var summary struct {
			WeekStart             string         `json:"week_start"`
			TotalTriages          int            `json:"total_triages"`
			Classifications       map[string]int `json:"classifications"`
			Priorities            map[string]int `json:"priorities"`
			AIDecisionPct         int            `json:"ai_decision_pct"`
			ResolutionAccuracyPct int            `json:"resolution_accuracy_pct"`
			Narrative             string         `json:"narrative"`
		}
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printStatus("Week", "%s", summary.WeekStart)
		printStatus("Triages", "%d", summary.TotalTriages)
		printStatus("Classifications", "%s", formatCounts(summary.Classifications))
		printStatus("Priorities", "%s", formatCounts(summary.Priorities))
		printStatus("AI decisions", "%d%%", summary.AIDecisionPct)
		printStatus("Accuracy", "%d%%", summary.ResolutionAccuracyPct)
		if summary.Narrative != "" {
			printStatus("Summary", "%s", summary.Narrative)
		}
		return nil
	},
}

func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	var parts []string
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%d", k, v))
	}
	return strings.Join(parts, ", ")
}

// --- resolve ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <log-id> <actual-category>",
	Short: "Record the actual outcome of a triaged emergency",
	Long: `Record what a triaged case turned out to be, for accuracy tracking.

The actual category must be one of: medical, stray, crisis, normal.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(),
			fmt.Sprintf("/v1/triage/%s/resolution", args[0]),
			map[string]string{"actual_category": args[1]})
		if err != nil {
			return err
		}

		var result struct {
			Status     string `json:"status"`
			WasCorrect bool   `json:"was_correct"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.WasCorrect {
			printSuccess("Resolution recorded: prediction was correct")
		} else {
			printSuccess("Resolution recorded: prediction was wrong")
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			printWarning("valid keys: %s", strings.Join(config.ValidKeys(), ", "))
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	classifyCmd.Flags().String("suburb", "", "reporter suburb")
	classifyCmd.Flags().String("contact", "", "reporter contact")
	classifyCmd.Flags().String("tags", "", "comma-separated tags")

	logsCmd.Flags().Int("limit", 20, "maximum number of records")
	logsCmd.Flags().String("classification", "", "filter by classification")
	logsCmd.Flags().String("urgency", "", "filter by urgency")
	logsCmd.Flags().Bool("json", false, "output raw JSON")

	metricsCmd.Flags().String("week", "", "week to aggregate (YYYY-MM-DD, any day in the week)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
