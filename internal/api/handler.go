// Package api exposes the triage service over HTTP and MCP. The triage and
// resolution endpoints are public; log and metrics endpoints sit behind a
// bearer token and are not mounted when no token is configured.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carlsuburbmates/dogtriage/internal/metrics"
	"github.com/carlsuburbmates/dogtriage/internal/storage"
	"github.com/carlsuburbmates/dogtriage/internal/triage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Triager routes one emergency report.
type Triager interface {
	Triage(ctx context.Context, req triage.Request) (triage.Decision, error)
}

// LogStore is the subset of the storage layer the API reads and writes.
type LogStore interface {
	GetTriageLog(id string) (storage.TriageLog, error)
	ListTriageLogs(f storage.LogFilter) ([]storage.TriageLog, int, error)
	EventsForLog(logID string) ([]storage.TriageEvent, error)
	UpsertResolution(f storage.ResolutionFeedback) error
	GetResolution(logID string) (storage.ResolutionFeedback, error)
	RecentAppErrors(limit int) ([]storage.AppError, error)
}

// MetricsReader serves aggregated summaries.
type MetricsReader interface {
	LatestWeekly() (metrics.WeeklySummary, error)
	ComputeWeekly(ctx context.Context, weekStart time.Time) (metrics.WeeklySummary, error)
	Hourly(hours int) ([]metrics.HourlyPoint, error)
}

type AppDeps struct {
	Router  Triager
	Store   LogStore
	Metrics MetricsReader
	Token   string // admin bearer token; empty disables admin routes
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/v1/triage", handleTriage(deps))
	r.Post("/v1/triage/{id}/resolution", handleResolution(deps))

	// Admin routes refuse to exist without a token rather than run open.
	if deps.Token != "" {
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.Token))
			r.Get("/v1/triage/logs", handleListLogs(deps))
			r.Get("/v1/triage/logs/{id}", handleGetLog(deps))
			r.Get("/v1/metrics/weekly", handleWeeklyMetrics(deps))
			r.Get("/v1/metrics/hourly", handleHourlyMetrics(deps))
			r.Get("/v1/errors", handleRecentErrors(deps))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type TriageRequest struct {
	Text    string            `json:"text"`
	Suburb  string            `json:"suburb"`
	Contact string            `json:"contact"`
	Tags    []string          `json:"tags"`
	Meta    map[string]string `json:"meta"`
}

func handleTriage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TriageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		d, err := deps.Router.Triage(r.Context(), triage.Request{
			Text:    req.Text,
			Suburb:  req.Suburb,
			Contact: req.Contact,
			Tags:    req.Tags,
			Meta:    req.Meta,
		})
		if errors.Is(err, triage.ErrEmptyInput) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "triage failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toTriageView(d))
	}
}

type ResolutionRequest struct {
	ActualCategory string `json:"actual_category"`
}

func handleResolution(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		id := chi.URLParam(r, "id")

		var req ResolutionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !validCategoryName(req.ActualCategory) {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"actual_category must be one of medical, stray, crisis, normal")
			return
		}

		log, err := deps.Store.GetTriageLog(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "triage log not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load triage log: %v", err)
			return
		}

		wasCorrect := req.ActualCategory == log.Classification
		feedback := storage.ResolutionFeedback{
			TriageLogID:       id,
			ActualCategory:    req.ActualCategory,
			PredictedCategory: log.Classification,
			WasCorrect:        &wasCorrect,
			ResolvedAt:        time.Now().UTC(),
		}
		if err := deps.Store.UpsertResolution(feedback); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record resolution: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "recorded",
			"was_correct": wasCorrect,
		})
	}
}

func validCategoryName(c string) bool {
	switch triage.Category(c) {
	case triage.CategoryMedical, triage.CategoryStray, triage.CategoryCrisis, triage.CategoryNormal:
		return true
	}
	return false
}

func handleListLogs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.LogFilter{
			Classification: r.URL.Query().Get("classification"),
			Urgency:        r.URL.Query().Get("urgency"),
			Tags:           r.URL.Query()["tag"],
			Limit:          parseIntParam(r, "limit", 20, 100),
			Offset:         parseIntParam(r, "offset", 0, 0),
		}
		if v := r.URL.Query().Get("is_medical"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid is_medical: %v", err)
				return
			}
			f.IsMedical = &b
		}
		for _, p := range []struct {
			name string
			dst  *time.Time
		}{{"start", &f.Start}, {"end", &f.End}} {
			if v := r.URL.Query().Get(p.name); v != "" {
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid %s: %v", p.name, err)
					return
				}
				*p.dst = t
			}
		}

		logs, total, err := deps.Store.ListTriageLogs(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list triage logs: %v", err)
			return
		}
		if logs == nil {
			logs = []storage.TriageLog{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"logs":   toLogViews(logs),
			"total":  total,
			"limit":  f.Limit,
			"offset": f.Offset,
		})
	}
}

func handleGetLog(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		log, err := deps.Store.GetTriageLog(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "triage log not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get triage log: %v", err)
			return
		}

		events, err := deps.Store.EventsForLog(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get triage events: %v", err)
			return
		}

		resp := map[string]any{
			"log":    toLogView(log),
			"events": toEventViews(events),
		}
		res, err := deps.Store.GetResolution(id)
		switch {
		case err == nil:
			resp["resolution"] = toResolutionView(res)
		case !errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get resolution: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleRecentErrors(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)

		errs, err := deps.Store.RecentAppErrors(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list errors: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"errors": toAppErrorViews(errs)})
	}
}

func handleWeeklyMetrics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			s   metrics.WeeklySummary
			err error
		)
		if v := r.URL.Query().Get("week"); v != "" {
			week, perr := time.Parse("2006-01-02", v)
			if perr != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid week: %v", perr)
				return
			}
			s, err = deps.Metrics.ComputeWeekly(r.Context(), metrics.StartOfWeek(week))
		} else {
			s, err = deps.Metrics.LatestWeekly()
			if errors.Is(err, storage.ErrNotFound) {
				s, err = deps.Metrics.ComputeWeekly(r.Context(), metrics.StartOfWeek(time.Now()))
			}
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute weekly metrics: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s)
	}
}

func handleHourlyMetrics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := parseIntParam(r, "hours", 24, 168)

		series, err := deps.Metrics.Hourly(hours)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute hourly metrics: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"hours": series})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
