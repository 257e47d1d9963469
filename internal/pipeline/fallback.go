package pipeline

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/scoring"
)

// Deterministic stage fallbacks. These must stay reproducible: given the same
// input they always produce the same structure, so a degraded run is stable
// across retries of the whole pipeline.

// extractionFallback produces exactly one synthetic action naming the input
// length, guaranteeing downstream stages always see at least one item.
func extractionFallback(meetingText string) []string {
	return []string{fmt.Sprintf(
		"Review meeting notes manually (automatic extraction unavailable, %d characters of input)",
		len(meetingText),
	)}
}

// attributionFallback wraps each raw description in a conservative item:
// no owner, no deadline, medium priority, low confidence, and risk flags
// carrying synthesized clarification questions.
func attributionFallback(rawActions []string) []model.ActionItem {
	items := make([]model.ActionItem, 0, len(rawActions))
	for _, desc := range rawActions {
		ownerQ := fmt.Sprintf("Who is responsible for %q?", desc)
		deadlineQ := fmt.Sprintf("When should %q be completed?", desc)
		items = append(items, model.ActionItem{
			ID:              uuid.New(),
			Description:     desc,
			Priority:        model.PriorityMedium,
			Confidence:      model.ConfidenceLow,
			ConfidenceScore: 0.3,
			RiskFlags: []model.RiskFlag{
				{
					Type:                   model.RiskMissingOwner,
					Description:            "owner could not be determined automatically",
					Severity:               model.PriorityHigh,
					SuggestedClarification: &ownerQ,
				},
				{
					Type:                   model.RiskMissingDeadline,
					Description:            "deadline could not be determined automatically",
					Severity:               model.PriorityMedium,
					SuggestedClarification: &deadlineQ,
				},
			},
		})
	}
	return items
}

// validationFallback annotates items conservatively without a model call.
// Flag appends are idempotent: a flag type already present on an item is
// never duplicated, so applying this fallback repeatedly is safe. Confidence
// is forced to low/0.3 on every item.
func validationFallback(items []model.ActionItem) model.ValidationResult {
	validated := model.CloneItems(items)
	for i := range validated {
		it := &validated[i]
		if it.Owner == nil && !it.HasRiskFlag(model.RiskMissingOwner) {
			q := fmt.Sprintf("Who is responsible for %q?", it.Description)
			it.RiskFlags = append(it.RiskFlags, model.RiskFlag{
				Type:                   model.RiskMissingOwner,
				Description:            "no owner assigned",
				Severity:               model.PriorityHigh,
				SuggestedClarification: &q,
			})
		}
		if it.Deadline == nil && !it.HasRiskFlag(model.RiskMissingDeadline) {
			q := fmt.Sprintf("When should %q be completed?", it.Description)
			it.RiskFlags = append(it.RiskFlags, model.RiskFlag{
				Type:                   model.RiskMissingDeadline,
				Description:            "no deadline set",
				Severity:               model.PriorityMedium,
				SuggestedClarification: &q,
			})
		}
		it.Confidence = model.ConfidenceLow
		it.ConfidenceScore = 0.3
	}
	return model.ValidationResult{
		ValidatedItems:    validated,
		OverallConfidence: scoring.OverallConfidence(validated),
	}
}
