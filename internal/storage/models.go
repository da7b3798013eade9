package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TriageLog is one audit record per processed triage request. Append-only;
// never mutated after creation.
type TriageLog struct {
	ID                string
	CreatedAt         time.Time
	Message           string
	Suburb            string
	Contact           string
	Classification    string
	Confidence        float64
	Summary           string
	RecommendedAction string
	Urgency           string
	Medical           string // MedicalAssessment JSON, "" when absent
	DecisionSource    string // "llm" or "deterministic"
	TokensPrompt      *int
	TokensCompletion  *int
	TokensTotal       *int
	DurationMs        int64
	RequestMeta       string // JSON object stored as text
	Tags              string // JSON array stored as text
	ErrorID           string
}

// TriageEvent is a stage-level sub-event linked to a TriageLog.
type TriageEvent struct {
	ID          int64
	TriageLogID string
	Stage       string // llm_call, heuristics, postprocess, persist, error
	Payload     string // JSON object stored as text
	DurationMs  int64
	CreatedAt   time.Time
}

// ResolutionFeedback links a triage log to a human-selected actual outcome.
// At most one per log entry; upsert by TriageLogID.
type ResolutionFeedback struct {
	TriageLogID       string
	ActualCategory    string
	PredictedCategory string
	WasCorrect        *bool // nil when no prediction was supplied
	ResolvedAt        time.Time
}

// WeeklySnapshot is a time-windowed metrics aggregate, keyed by week start.
type WeeklySnapshot struct {
	WeekStart             time.Time
	ComputedAt            time.Time
	TotalTriages          int
	Classifications       string // map[category]count JSON
	Priorities            string // map[urgency]count JSON
	DecisionSources       string // map[source]count JSON
	AIDecisionPct         int
	ResolutionAccuracyPct int
	Narrative             string
}

// AppError is an internal-failure record from the error-logging collaborator.
type AppError struct {
	ID         string
	Route      string
	Message    string
	Detail     string // JSON object stored as text
	Level      string
	DurationMs int64
	CreatedAt  time.Time
}

// LogFilter selects triage logs; all set fields combine with AND semantics.
type LogFilter struct {
	Start          time.Time
	End            time.Time
	Classification string
	Urgency        string
	IsMedical      *bool
	Tags           []string
	Limit          int
	Offset         int
}
