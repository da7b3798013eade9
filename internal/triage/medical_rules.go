package triage

import (
	"regexp"
	"strings"
)

// MedicalRules is the deterministic medical severity analyzer. Unlike the
// classifier it is multi-match: every symptom group that matches contributes
// a tag, and severity is decided by ordered precedence over the groups.
type MedicalRules struct{}

// symptomGroups map a pattern to the symptom tag it contributes.
var symptomGroups = []struct {
	re  *regexp.Regexp
	tag string
}{
	{regexp.MustCompile(`bleed|blood|cut`), "bleeding"},
	{regexp.MustCompile(`vomit|diarrhea|throw up`), "vomiting/diarrhea"},
	{regexp.MustCompile(`pale gums|white gums|blue gums`), "pale gums"},
	{regexp.MustCompile(`seizure|tremor|convulsion`), "seizure"},
	{regexp.MustCompile(`injur|wound|scratch|fracture`), "injury"},
	{regexp.MustCompile(`swell|lump|bloat`), "swelling"},
	{regexp.MustCompile(`pain|hurt|crying`), "pain"},
	{regexp.MustCompile(`panting|distress|whining`), "distress"},
}

var lifeThreateningKeywords = []string{
	"bleeding heavily", "not breathing", "no pulse", "unconscious", "seizure",
	"poison", "hit by car", "choking", "broken bone", "bloat",
	"difficulty breathing", "pale gums", "collapse",
}

var seriousKeywords = []string{
	"vomiting", "diarrhea", "lethargic", "significant pain", "injury", "wound",
	"swelling", "limp", "lameness", "unable to walk", "refusing food",
}

var (
	poisonRe = regexp.MustCompile(`poison|toxic|chemical|substance`)
	traumaRe = regexp.MustCompile(`trauma|hit by|collision|accident`)
)

// Assess extracts symptoms and determines severity and recommended
// resources from keyword rules alone.
func (MedicalRules) Assess(text string) MedicalAssessment {
	t := strings.ToLower(text)

	symptoms := []string{}
	for _, g := range symptomGroups {
		if g.re.MatchString(t) {
			symptoms = append(symptoms, g.tag)
		}
	}

	var severity Severity
	waitCritical := false
	switch {
	case containsAny(t, lifeThreateningKeywords):
		severity = SeverityLifeThreatening
		waitCritical = true
	case containsAny(t, seriousKeywords):
		severity = SeveritySerious
	case len(symptoms) > 0:
		severity = SeverityModerate
	default:
		return MedicalAssessment{
			IsMedical:            false,
			Severity:             SeverityMinor,
			Symptoms:             []string{},
			RecommendedResources: []Resource{},
		}
	}

	resources := []Resource{Resource24hrVet}
	if poisonRe.MatchString(t) {
		resources = append(resources, ResourcePoisonControl)
	}
	if traumaRe.MatchString(t) {
		resources = append(resources, ResourceEmergencyClinic)
	}

	return MedicalAssessment{
		IsMedical:            true,
		Severity:             severity,
		Symptoms:             symptoms,
		RecommendedResources: resources,
		VetWaitTimeCritical:  waitCritical,
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
