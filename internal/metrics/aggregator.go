// Package metrics aggregates the triage audit trail into weekly and hourly
// summaries for operators.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/carlsuburbmates/dogtriage/internal/llm"
	"github.com/carlsuburbmates/dogtriage/internal/storage"
)

type metricsStore interface {
	LogsInWindow(start, end time.Time) ([]storage.TriageLog, error)
	ResolutionStats(start, end time.Time) (resolved, correct int, err error)
	HourlyCounts(start time.Time) (map[string]int, error)
	UpsertWeeklySnapshot(storage.WeeklySnapshot) error
	LatestWeeklySnapshot() (storage.WeeklySnapshot, error)
}

// WeeklySummary is one week of triage activity.
type WeeklySummary struct {
	WeekStart             time.Time      `json:"week_start"`
	WeekEnd               time.Time      `json:"week_end"`
	TotalTriages          int            `json:"total_triages"`
	Classifications       map[string]int `json:"classifications"`
	Priorities            map[string]int `json:"priorities"`
	DecisionSources       map[string]int `json:"decision_sources"`
	AIDecisionPct         int            `json:"ai_decision_pct"`
	ResolutionAccuracyPct int            `json:"resolution_accuracy_pct"`
	Narrative             string         `json:"narrative,omitempty"`
}

// HourlyPoint is the triage count for one hour.
type HourlyPoint struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// Aggregator computes summaries from the audit store. When a narrative
// client is configured it asks the model for a short prose summary; a
// narrative failure never fails the aggregation.
type Aggregator struct {
	store     metricsStore
	narrative llm.Completer
	logger    *slog.Logger
}

// NewAggregator builds an aggregator. narrative may be nil.
func NewAggregator(store metricsStore, narrative llm.Completer, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, narrative: narrative, logger: logger}
}

// StartOfWeek returns the Monday 00:00 UTC at or before t.
func StartOfWeek(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// ComputeWeekly aggregates the week starting at weekStart and stores the
// snapshot. An empty week yields zero percentages, not an error.
func (a *Aggregator) ComputeWeekly(ctx context.Context, weekStart time.Time) (WeeklySummary, error) {
	weekStart = weekStart.UTC()
	weekEnd := weekStart.AddDate(0, 0, 7)

	logs, err := a.store.LogsInWindow(weekStart, weekEnd)
	if err != nil {
		return WeeklySummary{}, fmt.Errorf("loading logs for week: %w", err)
	}

	s := WeeklySummary{
		WeekStart:       weekStart,
		WeekEnd:         weekEnd,
		TotalTriages:    len(logs),
		Classifications: map[string]int{},
		Priorities:      map[string]int{},
		DecisionSources: map[string]int{},
	}
	llmCount := 0
	for _, l := range logs {
		s.Classifications[l.Classification]++
		s.Priorities[l.Urgency]++
		s.DecisionSources[l.DecisionSource]++
		if l.DecisionSource == "llm" {
			llmCount++
		}
	}
	if s.TotalTriages > 0 {
		s.AIDecisionPct = roundPct(llmCount, s.TotalTriages)
	}

	resolved, correct, err := a.store.ResolutionStats(weekStart, weekEnd)
	if err != nil {
		return WeeklySummary{}, fmt.Errorf("loading resolution stats: %w", err)
	}
	if resolved > 0 {
		s.ResolutionAccuracyPct = roundPct(correct, resolved)
	}

	s.Narrative = a.buildNarrative(ctx, s)

	snap := storage.WeeklySnapshot{
		WeekStart:             weekStart,
		ComputedAt:            time.Now().UTC(),
		TotalTriages:          s.TotalTriages,
		Classifications:       mustJSON(s.Classifications),
		Priorities:            mustJSON(s.Priorities),
		DecisionSources:       mustJSON(s.DecisionSources),
		AIDecisionPct:         s.AIDecisionPct,
		ResolutionAccuracyPct: s.ResolutionAccuracyPct,
		Narrative:             s.Narrative,
	}
	if err := a.store.UpsertWeeklySnapshot(snap); err != nil {
		return WeeklySummary{}, fmt.Errorf("storing weekly snapshot: %w", err)
	}
	return s, nil
}

func roundPct(part, whole int) int {
	return int(math.Round(float64(part) / float64(whole) * 100))
}

// buildNarrative asks the model for a two-sentence summary of the week.
// Any failure degrades to an empty narrative.
func (a *Aggregator) buildNarrative(ctx context.Context, s WeeklySummary) string {
	if a.narrative == nil || s.TotalTriages == 0 {
		return ""
	}
	resp, err := a.narrative.Complete(ctx, llm.Request{
		SystemPrompt: "You write brief operational summaries for a dog emergency triage service. Two sentences, plain prose, no markdown.",
		UserPrompt: fmt.Sprintf(
			"Week of %s: %d triages. Classifications: %s. Priorities: %s. AI decisions: %d%%. Resolution accuracy: %d%%.",
			s.WeekStart.Format("2006-01-02"), s.TotalTriages,
			mustJSON(s.Classifications), mustJSON(s.Priorities),
			s.AIDecisionPct, s.ResolutionAccuracyPct,
		),
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		a.logger.Warn("narrative generation failed", "error", err)
		return ""
	}
	return resp.Text
}

// LatestWeekly returns the most recent stored snapshot, decoded.
func (a *Aggregator) LatestWeekly() (WeeklySummary, error) {
	snap, err := a.store.LatestWeeklySnapshot()
	if err != nil {
		return WeeklySummary{}, err
	}
	s := WeeklySummary{
		WeekStart:             snap.WeekStart,
		WeekEnd:               snap.WeekStart.AddDate(0, 0, 7),
		TotalTriages:          snap.TotalTriages,
		Classifications:       map[string]int{},
		Priorities:            map[string]int{},
		DecisionSources:       map[string]int{},
		AIDecisionPct:         snap.AIDecisionPct,
		ResolutionAccuracyPct: snap.ResolutionAccuracyPct,
		Narrative:             snap.Narrative,
	}
	json.Unmarshal([]byte(snap.Classifications), &s.Classifications)
	json.Unmarshal([]byte(snap.Priorities), &s.Priorities)
	json.Unmarshal([]byte(snap.DecisionSources), &s.DecisionSources)
	return s, nil
}

// Hourly returns a zero-filled series of triage counts for the last hours
// hours, oldest first.
func (a *Aggregator) Hourly(hours int) ([]HourlyPoint, error) {
	if hours <= 0 {
		hours = 24
	}
	now := time.Now().UTC().Truncate(time.Hour)
	start := now.Add(-time.Duration(hours-1) * time.Hour)

	counts, err := a.store.HourlyCounts(start)
	if err != nil {
		return nil, fmt.Errorf("loading hourly counts: %w", err)
	}

	series := make([]HourlyPoint, 0, hours)
	for h := start; !h.After(now); h = h.Add(time.Hour) {
		series = append(series, HourlyPoint{
			Hour:  h,
			Count: counts[h.Format("2006-01-02T15:00:00Z")],
		})
	}
	return series, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
