package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// deadlineLayout is the calendar-date wire form used by stage outputs and
// clarification answers.
const deadlineLayout = "2006-01-02"

// attributionPrompt forbids inference: owner and deadline may only be set
// when the source text states them explicitly.
const attributionPrompt = `You are an attribution assistant for meeting action items.

Meeting notes:
%s

Participants: %s

Action items extracted from the notes:
%s

For each action item, determine the owner and deadline, but ONLY when the
meeting notes state them explicitly. Never guess or infer. If the notes do
not name a person for a task, owner must be null. If the notes do not state
a date, deadline must be null. Deadlines must be formatted as YYYY-MM-DD.

Assign each item a priority: one of "low", "medium", "high", "critical".
Optionally include a short context quote from the notes.

Return ONLY a JSON object in this exact shape:
{"items": [{"description": "...", "owner": null, "deadline": null, "priority": "medium", "context": null}]}

The items array must contain exactly one entry per action item, in order.`

type attributionItem struct {
	Description string  `json:"description"`
	Owner       *string `json:"owner"`
	Deadline    *string `json:"deadline"`
	Priority    string  `json:"priority"`
	Context     *string `json:"context"`
}

type attributionOutput struct {
	Items []attributionItem `json:"items"`
}

// Attribute runs the attribution stage: raw descriptions plus source context
// in, action items with explicit-only owner/deadline out. Item identifiers
// are assigned here and never change afterwards.
func (c *Client) Attribute(ctx context.Context, rawActions []string, meetingText string, participants []string) ([]model.ActionItem, error) {
	var actionList strings.Builder
	for i, a := range rawActions {
		fmt.Fprintf(&actionList, "%d. %s\n", i+1, a)
	}
	names := strings.Join(participants, ", ")
	if names == "" {
		names = "(not recorded)"
	}
	prompt := fmt.Sprintf(attributionPrompt, meetingText, names, actionList.String())

	response, err := c.complete(ctx, StageAttribute, prompt)
	if err != nil {
		return nil, err
	}
	return parseAttribution(response)
}

func parseAttribution(response string) ([]model.ActionItem, error) {
	var out attributionOutput
	if err := decodeStageJSON(StageAttribute, response, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, NewError(StageAttribute, KindSchema, fmt.Errorf("items array is empty"))
	}

	items := make([]model.ActionItem, 0, len(out.Items))
	for i, wi := range out.Items {
		desc := strings.TrimSpace(wi.Description)
		if desc == "" {
			return nil, NewError(StageAttribute, KindSchema, fmt.Errorf("items[%d].description is empty", i))
		}

		priority := model.Priority(strings.ToLower(strings.TrimSpace(wi.Priority)))
		if priority == "" {
			priority = model.PriorityMedium
		}
		if err := model.ValidatePriority(priority); err != nil {
			return nil, NewError(StageAttribute, KindSchema, fmt.Errorf("items[%d]: %w", i, err))
		}

		item := model.ActionItem{
			ID:          uuid.New(),
			Description: desc,
			Priority:    priority,
			RiskFlags:   []model.RiskFlag{},
		}
		if wi.Owner != nil && strings.TrimSpace(*wi.Owner) != "" {
			owner := strings.TrimSpace(*wi.Owner)
			item.Owner = &owner
		}
		if wi.Deadline != nil && strings.TrimSpace(*wi.Deadline) != "" {
			d, err := time.Parse(deadlineLayout, strings.TrimSpace(*wi.Deadline))
			if err != nil {
				return nil, NewError(StageAttribute, KindSchema, fmt.Errorf("items[%d].deadline: %w", i, err))
			}
			item.Deadline = &d
		}
		if wi.Context != nil && strings.TrimSpace(*wi.Context) != "" {
			ctx := strings.TrimSpace(*wi.Context)
			item.Context = &ctx
		}
		items = append(items, item)
	}
	return items, nil
}
