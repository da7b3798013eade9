package triage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/carlsuburbmates/dogtriage/internal/llm"
)

const (
	classifyMaxTokens = 150
	defaultConfidence = 0.5
	defaultLLMSummary = "No summary provided"
)

// Classifier is the reasoning-backed category classifier. It asks the
// external service for a structured verdict and coerces every field to a
// safe value; only a failed call or unparseable output is an error.
type Classifier struct {
	client llm.Completer
}

// NewClassifier creates a Classifier on top of the given completion client.
func NewClassifier(client llm.Completer) *Classifier {
	return &Classifier{client: client}
}

// rawClassification mirrors the JSON the model is asked to produce. Loose
// types on purpose: every field is validated before use.
type rawClassification struct {
	Classification string      `json:"classification"`
	Confidence     json.Number `json:"confidence"`
	Summary        string      `json:"summary"`
	Action         string      `json:"recommended_action"`
	Urgency        string      `json:"urgency"`
}

// Classify analyzes text via the reasoning path. Returns *AnalysisError
// when no client is configured, the dependency fails, or its output cannot
// be parsed.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, llm.Usage, error) {
	if c.client == nil {
		return Result{}, llm.Usage{}, &AnalysisError{Op: "classify", Err: errNoClient}
	}

	resp, err := c.client.Complete(ctx, llm.Request{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   text,
		MaxTokens:    classifyMaxTokens,
		Temperature:  0,
	})
	if err != nil {
		return Result{}, llm.Usage{}, &AnalysisError{Op: "classify", Err: err}
	}

	var raw rawClassification
	if err := decodeObject(resp.Text, &raw); err != nil {
		return Result{}, resp.Usage, &AnalysisError{Op: "classify", Err: err}
	}

	return coerceResult(raw), resp.Usage, nil
}

// coerceResult validates each field against its allowed set, replacing
// anything missing or out of range with the safest default.
func coerceResult(raw rawClassification) Result {
	r := Result{
		Classification:    CategoryNormal,
		Confidence:        defaultConfidence,
		Summary:           defaultLLMSummary,
		RecommendedAction: ActionOther,
		Urgency:           UrgencyModerate,
	}

	if c := Category(strings.ToLower(raw.Classification)); validCategory(c) {
		r.Classification = c
	}
	if v, err := raw.Confidence.Float64(); err == nil {
		r.Confidence = clampConfidence(v)
	}
	if s := strings.TrimSpace(raw.Summary); s != "" {
		r.Summary = s
	}
	if a := Action(strings.ToLower(raw.Action)); validAction(a) {
		r.RecommendedAction = a
	}
	if u := Urgency(strings.ToLower(raw.Urgency)); validUrgency(u) {
		r.Urgency = u
	}
	return r
}
