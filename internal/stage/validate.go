package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// validationPrompt carries the stage's own narrative confidence scale
// (HIGH at or above 0.71, MEDIUM at or above 0.41). This is deliberately a
// different scale from the deterministic scorer used during refinement; the
// two are never unified.
const validationPrompt = `You are a quality reviewer for meeting action items.

Action items (JSON):
%s

For each item, assess risks and assign confidence:

Risk flags (use only these types):
- "vague_description": the description is too vague to act on
- "missing_owner": no owner is assigned
- "missing_deadline": no deadline is set
- "unclear_dependency": the item depends on something unspecified
- "scope_too_broad": the item covers too much to be a single task
- "conflicting_assignment": the item conflicts with another assignment

Each flag needs a short description, a severity ("low", "medium", "high",
"critical"), and optionally a suggested clarification question.

Confidence: a score between 0.0 and 1.0 reflecting how actionable the item
is as written. Level is "high" for scores of 0.71 and above, "medium" for
0.41 and above, otherwise "low".

Return ONLY a JSON object in this exact shape:
{"items": [{"id": "<item id>", "priority": "medium", "confidence": "high", "confidence_score": 0.8, "risk_flags": [{"risk_type": "missing_deadline", "description": "...", "severity": "medium", "suggested_clarification": "..."}]}], "overall_confidence": 0.8, "summary": "<one sentence>"}

The items array must contain exactly one entry per input item, keyed by id.`

type validationFlag struct {
	RiskType               string  `json:"risk_type"`
	Description            string  `json:"description"`
	Severity               string  `json:"severity"`
	SuggestedClarification *string `json:"suggested_clarification"`
}

type validationItem struct {
	ID              string           `json:"id"`
	Priority        string           `json:"priority"`
	Confidence      string           `json:"confidence"`
	ConfidenceScore float64          `json:"confidence_score"`
	RiskFlags       []validationFlag `json:"risk_flags"`
}

type validationOutput struct {
	Items             []validationItem `json:"items"`
	OverallConfidence float64          `json:"overall_confidence"`
	Summary           string           `json:"summary"`
}

// Validate runs the validation stage: attributed items in, the same items
// annotated with risk flags, confidence, and priority out. Every input item
// must appear in the output; anything else is a schema mismatch.
func (c *Client) Validate(ctx context.Context, items []model.ActionItem) (model.ValidationResult, error) {
	itemsJSON, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return model.ValidationResult{}, NewError(StageValidate, KindSchema, fmt.Errorf("marshal items: %w", err))
	}

	response, err := c.complete(ctx, StageValidate, fmt.Sprintf(validationPrompt, string(itemsJSON)))
	if err != nil {
		return model.ValidationResult{}, err
	}
	return parseValidation(response, items)
}

func parseValidation(response string, input []model.ActionItem) (model.ValidationResult, error) {
	var out validationOutput
	if err := decodeStageJSON(StageValidate, response, &out); err != nil {
		return model.ValidationResult{}, err
	}

	annotations := make(map[uuid.UUID]validationItem, len(out.Items))
	for i, wi := range out.Items {
		id, err := uuid.Parse(wi.ID)
		if err != nil {
			return model.ValidationResult{}, NewError(StageValidate, KindSchema, fmt.Errorf("items[%d].id: %w", i, err))
		}
		annotations[id] = wi
	}

	validated := model.CloneItems(input)
	for i := range validated {
		wi, ok := annotations[validated[i].ID]
		if !ok {
			return model.ValidationResult{}, NewError(StageValidate, KindSchema,
				fmt.Errorf("item %s missing from validation output", validated[i].ID))
		}

		priority := model.Priority(strings.ToLower(strings.TrimSpace(wi.Priority)))
		if priority != "" {
			if err := model.ValidatePriority(priority); err != nil {
				return model.ValidationResult{}, NewError(StageValidate, KindSchema, fmt.Errorf("item %s: %w", validated[i].ID, err))
			}
			validated[i].Priority = priority
		}

		if wi.ConfidenceScore < 0.0 || wi.ConfidenceScore > 1.0 {
			return model.ValidationResult{}, NewError(StageValidate, KindSchema,
				fmt.Errorf("item %s: confidence_score %v out of range", validated[i].ID, wi.ConfidenceScore))
		}
		level := model.ConfidenceLevel(strings.ToLower(strings.TrimSpace(wi.Confidence)))
		switch level {
		case model.ConfidenceLow, model.ConfidenceMedium, model.ConfidenceHigh:
		default:
			return model.ValidationResult{}, NewError(StageValidate, KindSchema,
				fmt.Errorf("item %s: invalid confidence level %q", validated[i].ID, wi.Confidence))
		}
		validated[i].Confidence = level
		validated[i].ConfidenceScore = wi.ConfidenceScore

		flags := make([]model.RiskFlag, 0, len(wi.RiskFlags))
		for j, wf := range wi.RiskFlags {
			riskType := model.RiskType(strings.ToLower(strings.TrimSpace(wf.RiskType)))
			if err := model.ValidateRiskType(riskType); err != nil {
				return model.ValidationResult{}, NewError(StageValidate, KindSchema,
					fmt.Errorf("item %s risk_flags[%d]: %w", validated[i].ID, j, err))
			}
			severity := model.Priority(strings.ToLower(strings.TrimSpace(wf.Severity)))
			if err := model.ValidatePriority(severity); err != nil {
				return model.ValidationResult{}, NewError(StageValidate, KindSchema,
					fmt.Errorf("item %s risk_flags[%d]: %w", validated[i].ID, j, err))
			}
			flag := model.RiskFlag{
				Type:        riskType,
				Description: strings.TrimSpace(wf.Description),
				Severity:    severity,
			}
			if wf.SuggestedClarification != nil && strings.TrimSpace(*wf.SuggestedClarification) != "" {
				q := strings.TrimSpace(*wf.SuggestedClarification)
				flag.SuggestedClarification = &q
			}
			flags = append(flags, flag)
		}
		validated[i].RiskFlags = flags
	}

	if out.OverallConfidence < 0.0 || out.OverallConfidence > 1.0 {
		return model.ValidationResult{}, NewError(StageValidate, KindSchema,
			fmt.Errorf("overall_confidence %v out of range", out.OverallConfidence))
	}

	return model.ValidationResult{
		ValidatedItems:    validated,
		OverallConfidence: out.OverallConfidence,
		Summary:           strings.TrimSpace(out.Summary),
	}, nil
}
