package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// clarificationPrompt asks for one targeted question per resolvable gap.
// Question numbering is assigned by the caller, not the stage.
const clarificationPrompt = `You are helping resolve open questions about meeting action items.

Meeting context:
%s

Action items that carry unresolved risk flags (JSON):
%s

For each item, write targeted clarification questions that would resolve its
risk flags. Each question targets exactly one field: "owner", "deadline", or
"description". Ask only about fields whose information is actually missing or
unclear. Assign each question a priority: "low", "medium", "high", or
"critical"; questions about missing owners are usually "critical" and missing
deadlines "high".

Return ONLY a JSON object in this exact shape:
{"questions": [{"action_item_id": "<item id>", "field": "owner", "question": "...", "priority": "critical"}]}`

type clarificationQuestion struct {
	ActionItemID string `json:"action_item_id"`
	Field        string `json:"field"`
	Question     string `json:"question"`
	Priority     string `json:"priority"`
}

type clarificationOutput struct {
	Questions []clarificationQuestion `json:"questions"`
}

// Clarify runs the clarification stage over items that carry risk flags.
// Returned questions have no ids assigned; the generator numbers each batch
// sequentially from 1.
func (c *Client) Clarify(ctx context.Context, items []model.ActionItem, meetingContext string) ([]model.ClarificationQuestion, error) {
	itemsJSON, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, NewError(StageClarify, KindSchema, fmt.Errorf("marshal items: %w", err))
	}
	if meetingContext == "" {
		meetingContext = "(none provided)"
	}

	response, err := c.complete(ctx, StageClarify, fmt.Sprintf(clarificationPrompt, meetingContext, string(itemsJSON)))
	if err != nil {
		return nil, err
	}
	return parseClarifications(response)
}

func parseClarifications(response string) ([]model.ClarificationQuestion, error) {
	var out clarificationOutput
	if err := decodeStageJSON(StageClarify, response, &out); err != nil {
		return nil, err
	}

	questions := make([]model.ClarificationQuestion, 0, len(out.Questions))
	for i, wq := range out.Questions {
		itemID, err := uuid.Parse(wq.ActionItemID)
		if err != nil {
			return nil, NewError(StageClarify, KindSchema, fmt.Errorf("questions[%d].action_item_id: %w", i, err))
		}
		field := model.ClarificationField(strings.ToLower(strings.TrimSpace(wq.Field)))
		if err := model.ValidateClarificationField(field); err != nil {
			return nil, NewError(StageClarify, KindSchema, fmt.Errorf("questions[%d]: %w", i, err))
		}
		text := strings.TrimSpace(wq.Question)
		if text == "" {
			return nil, NewError(StageClarify, KindSchema, fmt.Errorf("questions[%d].question is empty", i))
		}
		priority := model.Priority(strings.ToLower(strings.TrimSpace(wq.Priority)))
		if err := model.ValidatePriority(priority); err != nil {
			return nil, NewError(StageClarify, KindSchema, fmt.Errorf("questions[%d]: %w", i, err))
		}
		questions = append(questions, model.ClarificationQuestion{
			ActionItemID: itemID,
			Field:        field,
			Question:     text,
			Priority:     priority,
		})
	}
	return questions, nil
}
