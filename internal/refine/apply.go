package refine

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/scoring"
)

// deadlineLayout is the accepted calendar-date form for deadline answers.
const deadlineLayout = "2006-01-02"

// Applier applies batched clarification answers to a private copy of an item
// set. Each answer is isolated: one unparseable or dangling answer is logged
// and dropped without disturbing the rest of the batch.
type Applier struct {
	logger *slog.Logger
}

// NewApplier creates an answer applier.
func NewApplier(logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{logger: logger}
}

// Apply merges answers into a deep copy of items and returns the copy along
// with the questions that were successfully answered (with Answer and
// AnsweredAt set). The caller's items are never mutated. An empty answer map
// returns the copy unchanged.
//
// Answers are processed in ascending question-id order. After all answers for
// a given item are in, its confidence is recomputed exactly once.
func (a *Applier) Apply(items []model.ActionItem, questions []model.ClarificationQuestion, answers map[int]string) ([]model.ActionItem, []model.ClarificationQuestion) {
	updated := model.CloneItems(items)
	if len(answers) == 0 {
		return updated, nil
	}

	byID := make(map[uuid.UUID]*model.ActionItem, len(updated))
	for i := range updated {
		byID[updated[i].ID] = &updated[i]
	}
	questionByID := make(map[int]model.ClarificationQuestion, len(questions))
	for _, q := range questions {
		questionByID[q.QuestionID] = q
	}

	ids := make([]int, 0, len(answers))
	for qid := range answers {
		ids = append(ids, qid)
	}
	sort.Ints(ids)

	now := time.Now().UTC()
	var answered []model.ClarificationQuestion
	touched := make(map[uuid.UUID]bool)

	for _, qid := range ids {
		answer := answers[qid]

		question, ok := questionByID[qid]
		if !ok {
			a.logger.Warn("refine: answer references unknown question, skipping",
				"question_id", qid,
			)
			continue
		}
		item, ok := byID[question.ActionItemID]
		if !ok {
			a.logger.Warn("refine: question references unknown item, skipping",
				"question_id", qid,
				"action_item_id", question.ActionItemID,
			)
			continue
		}

		switch question.Field {
		case model.FieldOwner:
			owner := answer
			item.Owner = &owner
			item.RemoveRiskFlags(model.RiskMissingOwner)

		case model.FieldDeadline:
			parsed, err := time.Parse(deadlineLayout, strings.TrimSpace(answer))
			if err != nil {
				a.logger.Warn("refine: unparseable deadline answer, skipping",
					"question_id", qid,
					"action_item_id", question.ActionItemID,
					"answer", answer,
				)
				continue
			}
			item.Deadline = &parsed
			item.RemoveRiskFlags(model.RiskMissingDeadline)

		case model.FieldDescription:
			item.Description = answer
			item.RemoveRiskFlags(model.RiskVagueDescription)

		default:
			a.logger.Warn("refine: question targets unknown field, skipping",
				"question_id", qid,
				"field", question.Field,
			)
			continue
		}

		touched[item.ID] = true
		answerCopy := answer
		question.Answer = &answerCopy
		question.AnsweredAt = &now
		answered = append(answered, question)
	}

	// One recomputation per touched item, regardless of how many of its
	// answers landed.
	for i := range updated {
		if touched[updated[i].ID] {
			scoring.Rescore(&updated[i])
		}
	}

	return updated, answered
}
