package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// CreateMeeting stores a meeting with its full action item set in one
// transaction. Item and flag ordering is preserved via position columns.
func (db *DB) CreateMeeting(ctx context.Context, m model.Meeting) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin create meeting: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO meetings (id, title, raw_text, participants, overall_confidence, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Title, m.RawText, m.Participants, m.OverallConfidence, m.Summary, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("storage: insert meeting: %w", err)
	}

	if err := insertItemsTx(ctx, tx, m.ID, m.ActionItems); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit create meeting: %w", err)
	}
	return nil
}

// GetMeeting loads a meeting with its items and risk flags.
func (db *DB) GetMeeting(ctx context.Context, id uuid.UUID) (model.Meeting, error) {
	var m model.Meeting
	err := db.pool.QueryRow(ctx,
		`SELECT id, title, raw_text, participants, overall_confidence, summary, created_at
		 FROM meetings WHERE id = $1`, id,
	).Scan(&m.ID, &m.Title, &m.RawText, &m.Participants, &m.OverallConfidence, &m.Summary, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Meeting{}, ErrNotFound
	}
	if err != nil {
		return model.Meeting{}, fmt.Errorf("storage: get meeting: %w", err)
	}

	items, err := db.loadMeetingItems(ctx, id)
	if err != nil {
		return model.Meeting{}, err
	}
	m.ActionItems = items
	return m, nil
}

// ListMeetings returns meeting summaries, newest first, plus the total count.
func (db *DB) ListMeetings(ctx context.Context, limit, offset int) ([]model.MeetingSummary, int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT m.id, m.title, m.participants, m.overall_confidence, m.created_at,
		        (SELECT count(*) FROM action_items ai WHERE ai.meeting_id = m.id)
		 FROM meetings m
		 ORDER BY m.created_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list meetings: %w", err)
	}
	defer rows.Close()

	summaries := make([]model.MeetingSummary, 0)
	for rows.Next() {
		var s model.MeetingSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Participants, &s.OverallConfidence, &s.CreatedAt, &s.ActionItemCount); err != nil {
			return nil, 0, fmt.Errorf("storage: scan meeting summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list meetings: %w", err)
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM meetings`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count meetings: %w", err)
	}
	return summaries, total, nil
}

// DeleteMeeting removes a meeting; items, flags, and questions cascade.
func (db *DB) DeleteMeeting(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceMeetingItems swaps a meeting's item set and overall confidence in
// one transaction. Used after a refinement round rewrites the items.
// Embeddings are intentionally dropped with the old rows; the caller
// re-indexes the new items.
func (db *DB) ReplaceMeetingItems(ctx context.Context, meetingID uuid.UUID, items []model.ActionItem, overallConfidence float64) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace items: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE meetings SET overall_confidence = $2 WHERE id = $1`,
		meetingID, overallConfidence,
	)
	if err != nil {
		return fmt.Errorf("storage: update meeting confidence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM action_items WHERE meeting_id = $1`, meetingID); err != nil {
		return fmt.Errorf("storage: clear meeting items: %w", err)
	}
	if err := insertItemsTx(ctx, tx, meetingID, items); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit replace items: %w", err)
	}
	return nil
}
