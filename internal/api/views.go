package api

import (
	"encoding/json"
	"time"

	"github.com/carlsuburbmates/dogtriage/internal/llm"
	"github.com/carlsuburbmates/dogtriage/internal/storage"
	"github.com/carlsuburbmates/dogtriage/internal/triage"
)

// TriageView is the wire shape of a triage decision: the classification
// fields flattened to the top level, with the medical assessment included
// only when it carries information.
type TriageView struct {
	Classification    string                    `json:"classification"`
	Confidence        float64                   `json:"confidence"`
	Summary           string                    `json:"summary"`
	RecommendedAction string                    `json:"recommended_action"`
	Urgency           string                    `json:"urgency"`
	Medical           *triage.MedicalAssessment `json:"medical,omitempty"`
	DecisionSource    string                    `json:"decision_source"`
	Mode              string                    `json:"mode"`
	LogID             string                    `json:"log_id"`
	DurationMs        int64                     `json:"duration_ms"`
	TokenUsage        *llm.Usage                `json:"token_usage,omitempty"`
}

func toTriageView(d triage.Decision) TriageView {
	v := TriageView{
		Classification:    string(d.Result.Classification),
		Confidence:        d.Result.Confidence,
		Summary:           d.Result.Summary,
		RecommendedAction: string(d.Result.RecommendedAction),
		Urgency:           string(d.Result.Urgency),
		DecisionSource:    string(d.Source),
		Mode:              string(d.Mode),
		LogID:             d.LogID,
		DurationMs:        d.DurationMs,
		TokenUsage:        d.TokenUsage,
	}
	if d.Result.Classification == triage.CategoryMedical || d.Medical.IsMedical {
		medical := d.Medical
		v.Medical = &medical
	}
	return v
}

// LogView is the wire shape of a triage log: JSON columns decoded into
// structured fields.
type LogView struct {
	ID                string            `json:"id"`
	CreatedAt         time.Time         `json:"created_at"`
	Message           string            `json:"message"`
	Suburb            string            `json:"suburb,omitempty"`
	Contact           string            `json:"contact,omitempty"`
	Classification    string            `json:"classification"`
	Confidence        float64           `json:"confidence"`
	Summary           string            `json:"summary"`
	RecommendedAction string            `json:"recommended_action"`
	Urgency           string            `json:"urgency"`
	Medical           json.RawMessage   `json:"medical,omitempty"`
	DecisionSource    string            `json:"decision_source"`
	TokensTotal       *int              `json:"tokens_total,omitempty"`
	DurationMs        int64             `json:"duration_ms"`
	Meta              map[string]string `json:"meta,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	ErrorID           string            `json:"error_id,omitempty"`
}

type EventView struct {
	ID         int64           `json:"id"`
	Stage      string          `json:"stage"`
	Payload    json.RawMessage `json:"payload"`
	DurationMs int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toLogView(l storage.TriageLog) LogView {
	v := LogView{
		ID:                l.ID,
		CreatedAt:         l.CreatedAt,
		Message:           l.Message,
		Suburb:            l.Suburb,
		Contact:           l.Contact,
		Classification:    l.Classification,
		Confidence:        l.Confidence,
		Summary:           l.Summary,
		RecommendedAction: l.RecommendedAction,
		Urgency:           l.Urgency,
		DecisionSource:    l.DecisionSource,
		TokensTotal:       l.TokensTotal,
		DurationMs:        l.DurationMs,
		ErrorID:           l.ErrorID,
	}
	if l.Medical != "" && json.Valid([]byte(l.Medical)) {
		v.Medical = json.RawMessage(l.Medical)
	}
	json.Unmarshal([]byte(l.RequestMeta), &v.Meta)
	json.Unmarshal([]byte(l.Tags), &v.Tags)
	return v
}

func toLogViews(logs []storage.TriageLog) []LogView {
	views := make([]LogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, toLogView(l))
	}
	return views
}

type ResolutionView struct {
	ActualCategory    string    `json:"actual_category"`
	PredictedCategory string    `json:"predicted_category,omitempty"`
	WasCorrect        *bool     `json:"was_correct,omitempty"`
	ResolvedAt        time.Time `json:"resolved_at"`
}

func toResolutionView(r storage.ResolutionFeedback) ResolutionView {
	return ResolutionView{
		ActualCategory:    r.ActualCategory,
		PredictedCategory: r.PredictedCategory,
		WasCorrect:        r.WasCorrect,
		ResolvedAt:        r.ResolvedAt,
	}
}

type AppErrorView struct {
	ID        string          `json:"id"`
	Route     string          `json:"route"`
	Message   string          `json:"message"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	Level     string          `json:"level"`
	CreatedAt time.Time       `json:"created_at"`
}

func toAppErrorViews(errs []storage.AppError) []AppErrorView {
	views := make([]AppErrorView, 0, len(errs))
	for _, e := range errs {
		v := AppErrorView{
			ID:        e.ID,
			Route:     e.Route,
			Message:   e.Message,
			Level:     e.Level,
			CreatedAt: e.CreatedAt,
		}
		if e.Detail != "" && json.Valid([]byte(e.Detail)) {
			v.Detail = json.RawMessage(e.Detail)
		}
		views = append(views, v)
	}
	return views
}

func toEventViews(events []storage.TriageEvent) []EventView {
	views := make([]EventView, 0, len(events))
	for _, e := range events {
		payload := json.RawMessage(`{}`)
		if e.Payload != "" && json.Valid([]byte(e.Payload)) {
			payload = json.RawMessage(e.Payload)
		}
		views = append(views, EventView{
			ID:         e.ID,
			Stage:      e.Stage,
			Payload:    payload,
			DurationMs: e.DurationMs,
			CreatedAt:  e.CreatedAt,
		})
	}
	return views
}
