// Package refine implements the clarification round-trip: generating targeted
// questions for items that carry risk flags, applying batched human answers
// to a private copy of the item set, and recomputing confidence
// deterministically after each application.
package refine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/stage"
)

// Generator produces clarification question batches for flagged items.
type Generator struct {
	client  *stage.Client
	invoker *stage.Invoker
	logger  *slog.Logger
}

// NewGenerator creates a clarification generator.
func NewGenerator(client *stage.Client, invoker *stage.Invoker, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, invoker: invoker, logger: logger}
}

// Generate returns a numbered question batch for the items that carry at
// least one risk flag. When no item is flagged the batch is empty and the
// semantic stage is never invoked. Question ids are sequential from 1 and
// valid only within this batch.
func (g *Generator) Generate(ctx context.Context, items []model.ActionItem, meetingContext string) ([]model.ClarificationQuestion, error) {
	flagged := make([]model.ActionItem, 0, len(items))
	for _, it := range items {
		if it.NeedsClarification() {
			flagged = append(flagged, it)
		}
	}
	if len(flagged) == 0 {
		return []model.ClarificationQuestion{}, nil
	}

	known := make(map[uuid.UUID]bool, len(flagged))
	for _, it := range flagged {
		known[it.ID] = true
	}

	result, err := stage.Invoke(ctx, g.invoker, stage.StageClarify, meetingContext, true,
		func(ctx context.Context, contextText string) ([]model.ClarificationQuestion, error) {
			questions, err := g.client.Clarify(ctx, flagged, contextText)
			if err != nil {
				return nil, err
			}
			for i, q := range questions {
				if !known[q.ActionItemID] {
					return nil, stage.NewError(stage.StageClarify, stage.KindSchema,
						fmt.Errorf("questions[%d] references unknown item %s", i, q.ActionItemID))
				}
			}
			return questions, nil
		},
		func(string) ([]model.ClarificationQuestion, error) {
			return clarificationFallback(flagged), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("refine: generate: %w", err)
	}

	questions := result.Value
	for i := range questions {
		questions[i].QuestionID = i + 1
	}
	return questions, nil
}

// clarificationFallback synthesizes one question per missing owner or
// deadline. Owner questions come before deadline questions for each item and
// carry critical and high priority respectively.
func clarificationFallback(flagged []model.ActionItem) []model.ClarificationQuestion {
	questions := make([]model.ClarificationQuestion, 0, 2*len(flagged))
	for _, it := range flagged {
		if it.Owner == nil {
			questions = append(questions, model.ClarificationQuestion{
				ActionItemID: it.ID,
				Field:        model.FieldOwner,
				Question:     fmt.Sprintf("Who should own action item %s (owner)?", it.ID),
				Priority:     model.PriorityCritical,
			})
		}
		if it.Deadline == nil {
			questions = append(questions, model.ClarificationQuestion{
				ActionItemID: it.ID,
				Field:        model.FieldDeadline,
				Question:     fmt.Sprintf("What is the deadline for action item %s (deadline)?", it.ID),
				Priority:     model.PriorityHigh,
			})
		}
	}
	return questions
}
