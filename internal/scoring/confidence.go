// Package scoring computes deterministic confidence scores for action items.
// Scores are derived purely from item structure so that re-scoring the same
// item always yields the same result, independent of any model output.
package scoring

import "github.com/taskledger-ai/taskledger/internal/model"

// Scoring weights. The base reflects that an extracted item exists at all;
// attribution fields and description quality add to it, each open risk flag
// subtracts.
const (
	baseScore          = 0.5
	ownerWeight        = 0.35
	deadlineWeight     = 0.25
	descriptionWeight  = 0.10
	riskFlagPenalty    = 0.10
	minDescriptionRune = 10

	// Level thresholds. ConfidenceHigh at or above highThreshold,
	// ConfidenceMedium at or above mediumThreshold, ConfidenceLow below.
	highThreshold   = 0.75
	mediumThreshold = 0.50
)

// Score computes the confidence score for an item, clamped to [0, 1].
func Score(item model.ActionItem) float64 {
	s := baseScore
	if item.Owner != nil {
		s += ownerWeight
	}
	if item.Deadline != nil {
		s += deadlineWeight
	}
	if len([]rune(item.Description)) > minDescriptionRune {
		s += descriptionWeight
	}
	s -= riskFlagPenalty * float64(len(item.RiskFlags))

	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Level maps a numeric score to its discrete confidence bucket.
func Level(score float64) model.ConfidenceLevel {
	switch {
	case score >= highThreshold:
		return model.ConfidenceHigh
	case score >= mediumThreshold:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// Rescore recomputes both the score and the level on the item in place.
func Rescore(item *model.ActionItem) {
	item.ConfidenceScore = Score(*item)
	item.Confidence = Level(item.ConfidenceScore)
}

// OverallConfidence is the arithmetic mean of the item scores, or 0.0 for an
// empty set.
func OverallConfidence(items []model.ActionItem) float64 {
	if len(items) == 0 {
		return 0.0
	}
	var sum float64
	for _, it := range items {
		sum += it.ConfidenceScore
	}
	return sum / float64(len(items))
}
