package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/carlsuburbmates/dogtriage/internal/llm"
)

// fakeCompleter returns canned responses or a canned error.
type fakeCompleter struct {
	text  string
	usage llm.Usage
	err   error

	calls   int
	lastReq llm.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.text, Usage: f.usage}, nil
}

func TestClassify_ValidResponse(t *testing.T) {
	f := &fakeCompleter{
		text:  `{"classification":"medical","confidence":0.92,"summary":"Dog hit by a car","recommended_action":"vet","urgency":"immediate"}`,
		usage: llm.Usage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140},
	}
	c := NewClassifier(f)

	r, usage, err := c.Classify(context.Background(), "dog hit by car")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if r.Classification != CategoryMedical {
		t.Errorf("Classification = %q, want medical", r.Classification)
	}
	if r.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", r.Confidence)
	}
	if r.Urgency != UrgencyImmediate {
		t.Errorf("Urgency = %q, want immediate", r.Urgency)
	}
	if usage.TotalTokens != 140 {
		t.Errorf("usage.TotalTokens = %d, want 140", usage.TotalTokens)
	}
	if f.lastReq.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", f.lastReq.Temperature)
	}
}

func TestClassify_CodeFencedResponse(t *testing.T) {
	f := &fakeCompleter{
		text: "Here is my analysis:\n```json\n{\"classification\":\"stray\",\"confidence\":0.7,\"summary\":\"Stray dog\",\"recommended_action\":\"shelter\",\"urgency\":\"urgent\"}\n```",
	}
	c := NewClassifier(f)

	r, _, err := c.Classify(context.Background(), "found a dog")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if r.Classification != CategoryStray {
		t.Errorf("Classification = %q, want stray", r.Classification)
	}
}

// Out-of-range fields are replaced with safe defaults rather than rejected.
func TestClassify_CoercesInvalidFields(t *testing.T) {
	f := &fakeCompleter{
		text: `{"classification":"EMERGENCY!!","confidence":7.3,"summary":"","recommended_action":"call police","urgency":"asap"}`,
	}
	c := NewClassifier(f)

	r, _, err := c.Classify(context.Background(), "something")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if r.Classification != CategoryNormal {
		t.Errorf("Classification = %q, want normal", r.Classification)
	}
	if r.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want clamped to 1.0", r.Confidence)
	}
	if r.Summary != defaultLLMSummary {
		t.Errorf("Summary = %q, want default", r.Summary)
	}
	if r.RecommendedAction != ActionOther {
		t.Errorf("RecommendedAction = %q, want other", r.RecommendedAction)
	}
	if r.Urgency != UrgencyModerate {
		t.Errorf("Urgency = %q, want moderate", r.Urgency)
	}
}

func TestClassify_MissingConfidenceDefaults(t *testing.T) {
	f := &fakeCompleter{
		text: `{"classification":"crisis","summary":"Aggressive dog","recommended_action":"trainer","urgency":"urgent"}`,
	}
	c := NewClassifier(f)

	r, _, err := c.Classify(context.Background(), "aggressive dog")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if r.Confidence != defaultConfidence {
		t.Errorf("Confidence = %v, want %v", r.Confidence, defaultConfidence)
	}
}

func TestClassify_CallFailure(t *testing.T) {
	f := &fakeCompleter{err: errors.New("connection refused")}
	c := NewClassifier(f)

	_, _, err := c.Classify(context.Background(), "something")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAnalysisError(err) {
		t.Errorf("error %v is not an AnalysisError", err)
	}
}

// A missing client is an ordinary analyzer failure, not a panic.
func TestClassify_NoClient(t *testing.T) {
	_, _, err := NewClassifier(nil).Classify(context.Background(), "something")
	if !IsAnalysisError(err) {
		t.Fatalf("error %v is not an AnalysisError", err)
	}
}

func TestAssess_NoClient(t *testing.T) {
	_, _, err := NewMedicalAnalyzer(nil).Assess(context.Background(), "something")
	if !IsAnalysisError(err) {
		t.Fatalf("error %v is not an AnalysisError", err)
	}
}

func TestClassify_UnparseableResponse(t *testing.T) {
	f := &fakeCompleter{text: "I am sorry, I cannot help with that."}
	c := NewClassifier(f)

	_, _, err := c.Classify(context.Background(), "something")
	if !IsAnalysisError(err) {
		t.Fatalf("error %v is not an AnalysisError", err)
	}
}

func TestAssess_ValidResponse(t *testing.T) {
	f := &fakeCompleter{
		text: `{"is_medical":true,"severity":"life_threatening","symptoms":["bleeding","bleeding","shock"],"recommended_resources":["24hr_vet","homeopathy"],"vet_wait_time_critical":true}`,
	}
	m := NewMedicalAnalyzer(f)

	a, _, err := m.Assess(context.Background(), "dog bleeding badly")
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if a.Severity != SeverityLifeThreatening {
		t.Errorf("Severity = %q, want life_threatening", a.Severity)
	}
	// Duplicate symptoms dropped, unknown resources filtered.
	if len(a.Symptoms) != 2 {
		t.Errorf("Symptoms = %v, want 2 entries", a.Symptoms)
	}
	if len(a.RecommendedResources) != 1 || a.RecommendedResources[0] != Resource24hrVet {
		t.Errorf("RecommendedResources = %v, want [24hr_vet]", a.RecommendedResources)
	}
	if !a.VetWaitTimeCritical {
		t.Error("VetWaitTimeCritical = false, want true")
	}
}

// vet_wait_time_critical only holds when severity is life-threatening.
func TestAssess_WaitCriticalRequiresLifeThreatening(t *testing.T) {
	f := &fakeCompleter{
		text: `{"is_medical":true,"severity":"serious","symptoms":["limping"],"recommended_resources":[],"vet_wait_time_critical":true}`,
	}
	m := NewMedicalAnalyzer(f)

	a, _, err := m.Assess(context.Background(), "dog limping")
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if a.VetWaitTimeCritical {
		t.Error("VetWaitTimeCritical = true, want false for serious severity")
	}
}

func TestDecodeObject_BalancedBracesInsideStrings(t *testing.T) {
	var out map[string]string
	src := `prefix {"note":"use {curly} braces \"quoted\""} suffix`
	if err := decodeObject(src, &out); err != nil {
		t.Fatalf("decodeObject failed: %v", err)
	}
	if out["note"] != `use {curly} braces "quoted"` {
		t.Errorf("note = %q", out["note"])
	}
}
