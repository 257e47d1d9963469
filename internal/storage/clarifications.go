package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// ReplaceQuestionBatch installs a meeting's current open question batch,
// discarding any previously open (unanswered) questions. Answered questions
// are kept as history. Question ids are batch-scoped, so only the open batch
// is ever addressed by id.
func (db *DB) ReplaceQuestionBatch(ctx context.Context, meetingID uuid.UUID, questions []model.ClarificationQuestion) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace questions: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM clarification_questions WHERE meeting_id = $1 AND answered_at IS NULL`, meetingID,
	); err != nil {
		return fmt.Errorf("storage: clear open questions: %w", err)
	}

	for _, q := range questions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO clarification_questions
			   (meeting_id, question_id, action_item_id, field, question, priority)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			meetingID, q.QuestionID, q.ActionItemID, q.Field, q.Question, q.Priority,
		); err != nil {
			return fmt.Errorf("storage: insert question: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit replace questions: %w", err)
	}
	return nil
}

// OpenQuestions returns a meeting's current unanswered batch, ordered by
// question id.
func (db *DB) OpenQuestions(ctx context.Context, meetingID uuid.UUID) ([]model.ClarificationQuestion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT question_id, action_item_id, field, question, priority
		 FROM clarification_questions
		 WHERE meeting_id = $1 AND answered_at IS NULL
		 ORDER BY question_id`, meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: open questions: %w", err)
	}
	defer rows.Close()

	questions := make([]model.ClarificationQuestion, 0)
	for rows.Next() {
		var q model.ClarificationQuestion
		if err := rows.Scan(&q.QuestionID, &q.ActionItemID, &q.Field, &q.Question, &q.Priority); err != nil {
			return nil, fmt.Errorf("storage: scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// MarkQuestionsAnswered records the answers for questions in the open batch.
func (db *DB) MarkQuestionsAnswered(ctx context.Context, meetingID uuid.UUID, answered []model.ClarificationQuestion) error {
	for _, q := range answered {
		answeredAt := q.AnsweredAt
		if answeredAt == nil {
			now := time.Now().UTC()
			answeredAt = &now
		}
		if _, err := db.pool.Exec(ctx,
			`UPDATE clarification_questions
			 SET answer = $3, answered_at = $4
			 WHERE meeting_id = $1 AND question_id = $2 AND answered_at IS NULL`,
			meetingID, q.QuestionID, q.Answer, answeredAt,
		); err != nil {
			return fmt.Errorf("storage: mark question answered: %w", err)
		}
	}
	return nil
}

// AnsweredQuestions returns a meeting's answered question history, oldest
// first.
func (db *DB) AnsweredQuestions(ctx context.Context, meetingID uuid.UUID) ([]model.ClarificationQuestion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT question_id, action_item_id, field, question, priority, answer, answered_at
		 FROM clarification_questions
		 WHERE meeting_id = $1 AND answered_at IS NOT NULL
		 ORDER BY answered_at, question_id`, meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: answered questions: %w", err)
	}
	defer rows.Close()

	questions := make([]model.ClarificationQuestion, 0)
	for rows.Next() {
		var q model.ClarificationQuestion
		if err := rows.Scan(&q.QuestionID, &q.ActionItemID, &q.Field, &q.Question, &q.Priority, &q.Answer, &q.AnsweredAt); err != nil {
			return nil, fmt.Errorf("storage: scan answered question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
