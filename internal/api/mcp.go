package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carlsuburbmates/dogtriage/internal/metrics"
	"github.com/carlsuburbmates/dogtriage/internal/storage"
	"github.com/carlsuburbmates/dogtriage/internal/triage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Router  Triager
	Store   LogStore
	Metrics MetricsReader
}

// NewMCPServer creates an MCP server with the triage tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"dogtriage",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dogtriage — emergency triage for dog incident reports: classification, medical assessment, audit log, and metrics."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("classify_emergency",
			mcp.WithDescription("Classify a dog emergency report and assess its medical severity. Returns classification, urgency, recommended action, and a medical assessment."),
			mcp.WithString("text", mcp.Description("The emergency report text"), mcp.Required()),
			mcp.WithString("suburb", mcp.Description("Reporter suburb")),
			mcp.WithString("contact", mcp.Description("Reporter contact")),
			mcp.WithArray("tags", mcp.Description("Optional tags for the audit record")),
		),
		mcpClassifyEmergency(deps),
	)

	s.AddTool(
		mcp.NewTool("record_resolution",
			mcp.WithDescription("Record the actual outcome of a triaged emergency, for prediction accuracy tracking."),
			mcp.WithString("log_id", mcp.Description("Triage log id returned by classify_emergency"), mcp.Required()),
			mcp.WithString("actual_category", mcp.Description("What the case actually was: medical, stray, crisis, or normal"), mcp.Required()),
		),
		mcpRecordResolution(deps),
	)

	s.AddTool(
		mcp.NewTool("list_triage_logs",
			mcp.WithDescription("List recent triage audit records, newest first."),
			mcp.WithString("classification", mcp.Description("Filter by classification")),
			mcp.WithString("urgency", mcp.Description("Filter by urgency")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListTriageLogs(deps),
	)

	s.AddTool(
		mcp.NewTool("weekly_metrics",
			mcp.WithDescription("Return the latest weekly triage metrics summary."),
		),
		mcpWeeklyMetrics(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"triage://recent",
			"Recent Triages",
			mcp.WithResourceDescription("Last 10 triage audit records (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpClassifyEmergency(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		d, err := deps.Router.Triage(ctx, triage.Request{
			Text:    text,
			Suburb:  req.GetString("suburb", ""),
			Contact: req.GetString("contact", ""),
			Tags:    req.GetStringSlice("tags", nil),
			Meta:    map[string]string{"source": "mcp"},
		})
		if errors.Is(err, triage.ErrEmptyInput) {
			return mcpError("text is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("triage failed: %v", err)), nil
		}

		b, err := json.Marshal(toTriageView(d))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal decision: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordResolution(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logID, err := req.RequireString("log_id")
		if err != nil {
			return mcpError("log_id is required"), nil
		}
		actual, err := req.RequireString("actual_category")
		if err != nil {
			return mcpError("actual_category is required"), nil
		}
		if !validCategoryName(actual) {
			return mcpError("actual_category must be one of medical, stray, crisis, normal"), nil
		}

		log, err := deps.Store.GetTriageLog(logID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("triage log not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load triage log: %v", err)), nil
		}

		wasCorrect := actual == log.Classification
		feedback := storage.ResolutionFeedback{
			TriageLogID:       logID,
			ActualCategory:    actual,
			PredictedCategory: log.Classification,
			WasCorrect:        &wasCorrect,
			ResolvedAt:        time.Now().UTC(),
		}
		if err := deps.Store.UpsertResolution(feedback); err != nil {
			return mcpError(fmt.Sprintf("failed to record resolution: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Recorded resolution for %s: predicted %s, actual %s, correct=%t",
			logID, log.Classification, actual, wasCorrect)), nil
	}
}

func mcpListTriageLogs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		logs, total, err := deps.Store.ListTriageLogs(storage.LogFilter{
			Classification: req.GetString("classification", ""),
			Urgency:        req.GetString("urgency", ""),
			Limit:          limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list triage logs: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"logs":  toLogViews(logs),
			"total": total,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpWeeklyMetrics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, err := deps.Metrics.LatestWeekly()
		if errors.Is(err, storage.ErrNotFound) {
			s, err = deps.Metrics.ComputeWeekly(ctx, metrics.StartOfWeek(time.Now()))
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute weekly metrics: %v", err)), nil
		}

		b, err := json.Marshal(s)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		logs, _, err := deps.Store.ListTriageLogs(storage.LogFilter{Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to list triage logs: %w", err)
		}

		type logSummary struct {
			ID             string `json:"id"`
			CreatedAt      string `json:"created_at"`
			Classification string `json:"classification"`
			Urgency        string `json:"urgency"`
			Summary        string `json:"summary"`
		}

		summaries := make([]logSummary, len(logs))
		for i, l := range logs {
			summaries[i] = logSummary{
				ID:             l.ID,
				CreatedAt:      l.CreatedAt.Format(time.RFC3339),
				Classification: l.Classification,
				Urgency:        l.Urgency,
				Summary:        l.Summary,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal summaries: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
