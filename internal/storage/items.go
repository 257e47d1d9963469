package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// insertItemsTx writes items and their risk flags inside an open transaction.
func insertItemsTx(ctx context.Context, tx pgx.Tx, meetingID uuid.UUID, items []model.ActionItem) error {
	for pos, it := range items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO action_items
			   (id, meeting_id, position, description, owner, deadline, priority,
			    confidence, confidence_score, dependencies, context, is_complete)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			it.ID, meetingID, pos, it.Description, it.Owner, it.Deadline, it.Priority,
			it.Confidence, it.ConfidenceScore, it.Dependencies, it.Context, it.IsComplete,
		); err != nil {
			return fmt.Errorf("storage: insert action item: %w", err)
		}
		for fpos, f := range it.RiskFlags {
			if _, err := tx.Exec(ctx,
				`INSERT INTO risk_flags (action_item_id, position, risk_type, description, severity, suggested_clarification)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				it.ID, fpos, f.Type, f.Description, f.Severity, f.SuggestedClarification,
			); err != nil {
				return fmt.Errorf("storage: insert risk flag: %w", err)
			}
		}
	}
	return nil
}

// itemColumns is the shared select list for action item scans.
const itemColumns = `id, description, owner, deadline, priority, confidence,
	confidence_score, dependencies, context, is_complete`

func scanItem(row pgx.Row) (model.ActionItem, error) {
	var it model.ActionItem
	err := row.Scan(&it.ID, &it.Description, &it.Owner, &it.Deadline, &it.Priority,
		&it.Confidence, &it.ConfidenceScore, &it.Dependencies, &it.Context, &it.IsComplete)
	return it, err
}

// loadMeetingItems returns a meeting's items with flags, in stored order.
func (db *DB) loadMeetingItems(ctx context.Context, meetingID uuid.UUID) ([]model.ActionItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM action_items WHERE meeting_id = $1 ORDER BY position`, meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load meeting items: %w", err)
	}
	defer rows.Close()

	items := make([]model.ActionItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan action item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: load meeting items: %w", err)
	}

	for i := range items {
		flags, err := db.loadRiskFlags(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].RiskFlags = flags
	}
	return items, nil
}

func (db *DB) loadRiskFlags(ctx context.Context, itemID uuid.UUID) ([]model.RiskFlag, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT risk_type, description, severity, suggested_clarification
		 FROM risk_flags WHERE action_item_id = $1 ORDER BY position`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load risk flags: %w", err)
	}
	defer rows.Close()

	flags := make([]model.RiskFlag, 0)
	for rows.Next() {
		var f model.RiskFlag
		if err := rows.Scan(&f.Type, &f.Description, &f.Severity, &f.SuggestedClarification); err != nil {
			return nil, fmt.Errorf("storage: scan risk flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// GetActionItem loads one item with its flags and the meeting that owns it.
func (db *DB) GetActionItem(ctx context.Context, id uuid.UUID) (model.ActionItem, uuid.UUID, error) {
	var meetingID uuid.UUID
	var it model.ActionItem
	err := db.pool.QueryRow(ctx,
		`SELECT meeting_id, `+itemColumns+` FROM action_items WHERE id = $1`, id,
	).Scan(&meetingID, &it.ID, &it.Description, &it.Owner, &it.Deadline, &it.Priority,
		&it.Confidence, &it.ConfidenceScore, &it.Dependencies, &it.Context, &it.IsComplete)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ActionItem{}, uuid.Nil, ErrNotFound
	}
	if err != nil {
		return model.ActionItem{}, uuid.Nil, fmt.Errorf("storage: get action item: %w", err)
	}

	flags, err := db.loadRiskFlags(ctx, id)
	if err != nil {
		return model.ActionItem{}, uuid.Nil, err
	}
	it.RiskFlags = flags
	return it, meetingID, nil
}

// UpdateActionItem rewrites an item's mutable fields and replaces its risk
// flags in one transaction.
func (db *DB) UpdateActionItem(ctx context.Context, it model.ActionItem) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin update item: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE action_items
		 SET description = $2, owner = $3, deadline = $4, priority = $5,
		     confidence = $6, confidence_score = $7, context = $8,
		     is_complete = $9, updated_at = now()
		 WHERE id = $1`,
		it.ID, it.Description, it.Owner, it.Deadline, it.Priority,
		it.Confidence, it.ConfidenceScore, it.Context, it.IsComplete,
	)
	if err != nil {
		return fmt.Errorf("storage: update action item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM risk_flags WHERE action_item_id = $1`, it.ID); err != nil {
		return fmt.Errorf("storage: clear risk flags: %w", err)
	}
	for fpos, f := range it.RiskFlags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO risk_flags (action_item_id, position, risk_type, description, severity, suggested_clarification)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, fpos, f.Type, f.Description, f.Severity, f.SuggestedClarification,
		); err != nil {
			return fmt.Errorf("storage: insert risk flag: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit update item: %w", err)
	}
	return nil
}

// SetItemEmbedding stores the similarity-search vector for an item.
func (db *DB) SetItemEmbedding(ctx context.Context, itemID uuid.UUID, vec pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE action_items SET embedding = $2 WHERE id = $1`, itemID, vec,
	)
	if err != nil {
		return fmt.Errorf("storage: set item embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchItemsByText is the keyword fallback used when no embedding is
// available for the query. Matches description, owner, and context with ILIKE.
func (db *DB) SearchItemsByText(ctx context.Context, query string, limit int, filter SimilarItemsFilter) ([]SimilarItemHit, error) {
	sql := `SELECT ` + itemColumns + `
		 FROM action_items
		 WHERE (description ILIKE $1 OR owner ILIKE $1 OR context ILIKE $1)`
	args := []any{"%" + query + "%"}

	if filter.MeetingID != nil {
		args = append(args, *filter.MeetingID)
		sql += fmt.Sprintf(" AND meeting_id = $%d", len(args))
	}
	if filter.PriorityMin != nil {
		minRank, ok := priorityRank[*filter.PriorityMin]
		if !ok {
			return nil, fmt.Errorf("storage: invalid priority_min %q", *filter.PriorityMin)
		}
		args = append(args, minRank)
		sql += fmt.Sprintf(` AND (CASE priority
			WHEN 'low' THEN 1 WHEN 'medium' THEN 2
			WHEN 'high' THEN 3 WHEN 'critical' THEN 4 END) >= $%d`, len(args))
	}

	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY confidence_score DESC, created_at DESC LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: text search items: %w", err)
	}
	defer rows.Close()

	hits := make([]SimilarItemHit, 0, limit)
	for rows.Next() {
		var hit SimilarItemHit
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan text search item: %w", err)
		}
		hit.Item = it
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: text search items: %w", err)
	}

	for i := range hits {
		flags, err := db.loadRiskFlags(ctx, hits[i].Item.ID)
		if err != nil {
			return nil, err
		}
		hits[i].Item.RiskFlags = flags
	}
	return hits, nil
}

// SimilarItemsFilter narrows a similarity search.
type SimilarItemsFilter struct {
	MeetingID   *uuid.UUID
	PriorityMin *model.Priority
}

// SimilarItemHit is one similarity search result.
type SimilarItemHit struct {
	Item  model.ActionItem
	Score float32
}

// priorityRank mirrors the ordering used for priority_min filtering.
var priorityRank = map[model.Priority]int{
	model.PriorityLow:      1,
	model.PriorityMedium:   2,
	model.PriorityHigh:     3,
	model.PriorityCritical: 4,
}

// SearchSimilarItems finds the items nearest to the query vector by cosine
// distance. Items without an embedding are skipped.
func (db *DB) SearchSimilarItems(ctx context.Context, vec pgvector.Vector, limit int, filter SimilarItemsFilter) ([]SimilarItemHit, error) {
	query := `SELECT ` + itemColumns + `, 1 - (embedding <=> $1) AS score
		 FROM action_items
		 WHERE embedding IS NOT NULL`
	args := []any{vec}

	if filter.MeetingID != nil {
		args = append(args, *filter.MeetingID)
		query += fmt.Sprintf(" AND meeting_id = $%d", len(args))
	}
	if filter.PriorityMin != nil {
		minRank, ok := priorityRank[*filter.PriorityMin]
		if !ok {
			return nil, fmt.Errorf("storage: invalid priority_min %q", *filter.PriorityMin)
		}
		args = append(args, minRank)
		query += fmt.Sprintf(` AND (CASE priority
			WHEN 'low' THEN 1 WHEN 'medium' THEN 2
			WHEN 'high' THEN 3 WHEN 'critical' THEN 4 END) >= $%d`, len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: similar items: %w", err)
	}
	defer rows.Close()

	hits := make([]SimilarItemHit, 0, limit)
	for rows.Next() {
		var hit SimilarItemHit
		it := &hit.Item
		if err := rows.Scan(&it.ID, &it.Description, &it.Owner, &it.Deadline, &it.Priority,
			&it.Confidence, &it.ConfidenceScore, &it.Dependencies, &it.Context, &it.IsComplete,
			&hit.Score); err != nil {
			return nil, fmt.Errorf("storage: scan similar item: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: similar items: %w", err)
	}

	for i := range hits {
		flags, err := db.loadRiskFlags(ctx, hits[i].Item.ID)
		if err != nil {
			return nil, err
		}
		hits[i].Item.RiskFlags = flags
	}
	return hits, nil
}
