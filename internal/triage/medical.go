package triage

import (
	"context"
	"strings"

	"github.com/carlsuburbmates/dogtriage/internal/llm"
)

const medicalMaxTokens = 200

// MedicalAnalyzer is the reasoning-backed medical severity analyzer.
type MedicalAnalyzer struct {
	client llm.Completer
}

// NewMedicalAnalyzer creates a MedicalAnalyzer on top of the given client.
func NewMedicalAnalyzer(client llm.Completer) *MedicalAnalyzer {
	return &MedicalAnalyzer{client: client}
}

type rawMedical struct {
	IsMedical            bool     `json:"is_medical"`
	Severity             string   `json:"severity"`
	Symptoms             []string `json:"symptoms"`
	RecommendedResources []string `json:"recommended_resources"`
	VetWaitTimeCritical  bool     `json:"vet_wait_time_critical"`
}

// Assess analyzes text via the reasoning path. Returns *AnalysisError when
// no client is configured, the dependency fails, or its output cannot be
// parsed.
func (m *MedicalAnalyzer) Assess(ctx context.Context, text string) (MedicalAssessment, llm.Usage, error) {
	if m.client == nil {
		return MedicalAssessment{}, llm.Usage{}, &AnalysisError{Op: "assess medical", Err: errNoClient}
	}

	resp, err := m.client.Complete(ctx, llm.Request{
		SystemPrompt: medicalSystemPrompt,
		UserPrompt:   text,
		MaxTokens:    medicalMaxTokens,
		Temperature:  0,
	})
	if err != nil {
		return MedicalAssessment{}, llm.Usage{}, &AnalysisError{Op: "assess medical", Err: err}
	}

	var raw rawMedical
	if err := decodeObject(resp.Text, &raw); err != nil {
		return MedicalAssessment{}, resp.Usage, &AnalysisError{Op: "assess medical", Err: err}
	}

	return coerceMedical(raw), resp.Usage, nil
}

// coerceMedical validates fields against their allowed sets, deduplicates
// symptoms, and enforces that vet_wait_time_critical holds only for a
// life-threatening severity.
func coerceMedical(raw rawMedical) MedicalAssessment {
	a := MedicalAssessment{
		IsMedical: raw.IsMedical,
		Severity:  SeverityModerate,
		Symptoms:  []string{},
	}

	if s := Severity(strings.ToLower(raw.Severity)); validSeverity(s) {
		a.Severity = s
	}

	seen := make(map[string]bool)
	for _, sym := range raw.Symptoms {
		sym = strings.TrimSpace(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		a.Symptoms = append(a.Symptoms, sym)
	}

	a.RecommendedResources = []Resource{}
	for _, res := range raw.RecommendedResources {
		if r := Resource(strings.ToLower(res)); validResource(r) {
			a.RecommendedResources = append(a.RecommendedResources, r)
		}
	}

	a.VetWaitTimeCritical = raw.VetWaitTimeCritical && a.Severity == SeverityLifeThreatening
	return a
}
