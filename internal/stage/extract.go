package stage

import (
	"context"
	"fmt"
	"strings"
)

// extractionPrompt asks for the raw action descriptions only. Attribution of
// owners and deadlines is a separate stage with its own contract.
const extractionPrompt = `You are an action item extractor for meeting notes.

Meeting notes:
%s

Extract every concrete action item from the notes. An action item is a task
someone is expected to do. Do NOT include decisions, opinions, or status
updates. Do NOT invent tasks that are not stated.

Return ONLY a JSON object in this exact shape:
{"actions": ["<description of action 1>", "<description of action 2>"]}

If the notes contain no action items, return {"actions": []}.`

type extractionOutput struct {
	Actions []string `json:"actions"`
}

// Extract runs the extraction stage: meeting text in, raw action
// descriptions out. An empty list is a valid result, not an error.
func (c *Client) Extract(ctx context.Context, meetingText string) ([]string, error) {
	response, err := c.complete(ctx, StageExtract, fmt.Sprintf(extractionPrompt, meetingText))
	if err != nil {
		return nil, err
	}
	return parseExtraction(response)
}

func parseExtraction(response string) ([]string, error) {
	var out extractionOutput
	if err := decodeStageJSON(StageExtract, response, &out); err != nil {
		return nil, err
	}
	actions := make([]string, 0, len(out.Actions))
	for i, a := range out.Actions {
		a = strings.TrimSpace(a)
		if a == "" {
			return nil, NewError(StageExtract, KindSchema, fmt.Errorf("actions[%d] is empty", i))
		}
		actions = append(actions, a)
	}
	return actions, nil
}
