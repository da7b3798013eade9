package triage

import (
	"regexp"
	"strings"
)

// Rules is the deterministic keyword classifier. It never fails and is the
// fallback for the reasoning-backed classifier as well as the primary path
// when the reasoning pipeline is disabled.
type Rules struct{}

// Ordered first-match keyword groups. Medical wins over stray wins over
// crisis; anything else is normal.
var (
	medicalRe = regexp.MustCompile(`bleed|seizure|chok|poison|hit by car|unconscious|unresponsive|vomit|collapse|toxic|injur`)
	strayRe   = regexp.MustCompile(`found|stray|lost dog|no collar|wandering|ran away|no owner|captured`)
	crisisRe  = regexp.MustCompile(`bite|bit |attack|aggress|lung|snarl|fear|panic|uncontrollable`)
)

// Classify maps text to a triage result by first-match keyword precedence.
func (Rules) Classify(text string) Result {
	t := strings.ToLower(text)

	switch {
	case medicalRe.MatchString(t):
		return Result{
			Classification:    CategoryMedical,
			Confidence:        0.8,
			Summary:           "Likely medical emergency",
			RecommendedAction: ActionVet,
			Urgency:           UrgencyImmediate,
		}
	case strayRe.MatchString(t):
		return Result{
			Classification:    CategoryStray,
			Confidence:        0.7,
			Summary:           "Likely stray situation",
			RecommendedAction: ActionShelter,
			Urgency:           UrgencyUrgent,
		}
	case crisisRe.MatchString(t):
		return Result{
			Classification:    CategoryCrisis,
			Confidence:        0.7,
			Summary:           "Likely behavioral crisis",
			RecommendedAction: ActionTrainer,
			Urgency:           UrgencyUrgent,
		}
	default:
		return Result{
			Classification:    CategoryNormal,
			Confidence:        0.5,
			Summary:           "No emergency indicators detected",
			RecommendedAction: ActionOther,
			Urgency:           UrgencyLow,
		}
	}
}
