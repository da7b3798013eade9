// Package triage turns a free-text description of a dog-related incident
// into an actionable category, urgency level, and resource recommendation.
// Two analyzers (category classifier and medical severity) each exist in a
// reasoning-backed and a deterministic variant; the Router picks per call.
package triage

import (
	"errors"
	"fmt"
)

// Category is the triage classification of an incident.
type Category string

const (
	CategoryMedical Category = "medical"
	CategoryStray   Category = "stray"
	CategoryCrisis  Category = "crisis"
	CategoryNormal  Category = "normal"
)

// Urgency orders how quickly the situation needs attention.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyModerate  Urgency = "moderate"
	UrgencyLow       Urgency = "low"
)

// Action is the recommended resource type for the caller.
type Action string

const (
	ActionVet     Action = "vet"
	ActionShelter Action = "shelter"
	ActionTrainer Action = "trainer"
	ActionOther   Action = "other"
)

// Severity is the medical urgency tier, ordered by descending urgency.
type Severity string

const (
	SeverityLifeThreatening Severity = "life_threatening"
	SeveritySerious         Severity = "serious"
	SeverityModerate        Severity = "moderate"
	SeverityMinor           Severity = "minor"
)

// Resource is an emergency resource type recommended to the caller.
type Resource string

const (
	Resource24hrVet         Resource = "24hr_vet"
	ResourcePoisonControl   Resource = "poison_control"
	ResourceEmergencyClinic Resource = "emergency_clinic"
)

// Source records which path produced a decision.
type Source string

const (
	SourceLLM           Source = "llm"
	SourceDeterministic Source = "deterministic"
)

// Mode is the operating mode of the reasoning-backed path.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// Result is a single triage classification.
type Result struct {
	Classification    Category `json:"classification"`
	Confidence        float64  `json:"confidence"`
	Summary           string   `json:"summary"`
	RecommendedAction Action   `json:"recommended_action"`
	Urgency           Urgency  `json:"urgency"`
}

// MedicalAssessment is the independent medical-severity view of an incident.
// VetWaitTimeCritical is true only when Severity is life_threatening.
type MedicalAssessment struct {
	IsMedical            bool       `json:"is_medical"`
	Severity             Severity   `json:"severity"`
	Symptoms             []string   `json:"symptoms"`
	RecommendedResources []Resource `json:"recommended_resources"`
	VetWaitTimeCritical  bool       `json:"vet_wait_time_critical"`
}

// AnalysisError wraps an unrecoverable reasoning-path failure: the external
// dependency was unavailable, timed out, or returned output that could not
// be parsed after retries. It is always recoverable by falling back to the
// deterministic path.
type AnalysisError struct {
	Op  string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// IsAnalysisError reports whether err is (or wraps) an AnalysisError.
func IsAnalysisError(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae)
}

// ErrEmptyInput is returned for a request with no text to classify.
var ErrEmptyInput = errors.New("text is required and must be non-empty")

// errNoClient makes an unconfigured reasoning client an ordinary analyzer
// failure, so an operator flipping a mode env var without an API key gets
// the deterministic fallback instead of a crash.
var errNoClient = errors.New("no completion client configured")

// clampConfidence forces a confidence value into [0, 1].
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func validCategory(c Category) bool {
	switch c {
	case CategoryMedical, CategoryStray, CategoryCrisis, CategoryNormal:
		return true
	}
	return false
}

func validUrgency(u Urgency) bool {
	switch u {
	case UrgencyImmediate, UrgencyUrgent, UrgencyModerate, UrgencyLow:
		return true
	}
	return false
}

func validAction(a Action) bool {
	switch a {
	case ActionVet, ActionShelter, ActionTrainer, ActionOther:
		return true
	}
	return false
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityLifeThreatening, SeveritySerious, SeverityModerate, SeverityMinor:
		return true
	}
	return false
}

func validResource(r Resource) bool {
	switch r {
	case Resource24hrVet, ResourcePoisonControl, ResourceEmergencyClinic:
		return true
	}
	return false
}

// urgencyRank orders urgencies for most-severe-wins reconciliation.
func urgencyRank(u Urgency) int {
	switch u {
	case UrgencyImmediate:
		return 3
	case UrgencyUrgent:
		return 2
	case UrgencyModerate:
		return 1
	default:
		return 0
	}
}
