// Package search provides vector similarity search over action items using an
// external Qdrant index with transparent fallback to pgvector in Postgres.
package search

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// Result holds an action item ID and its raw similarity score from the search
// index. The caller hydrates full ActionItem objects from Postgres (source of
// truth).
type Result struct {
	ItemID uuid.UUID
	Score  float32
}

// Filter narrows a similarity search.
type Filter struct {
	MeetingID   *uuid.UUID
	PriorityMin *model.Priority
}

// Searcher is the interface for vector search indexes.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns action item IDs matching the query vector. Returns IDs
	// plus raw similarity scores; the caller hydrates from Postgres.
	Search(ctx context.Context, embedding []float32, filter Filter, limit int) ([]Result, error)

	// Healthy returns nil if the search index is reachable, or an error
	// describing the problem.
	Healthy(ctx context.Context) error
}

// ReScore adjusts raw similarity scores with confidence weighting, downweights
// completed items, sorts descending by adjusted score, and truncates to limit.
//
// Formula: relevance = similarity * (0.7 + 0.3 * confidence_score), halved for
// completed items.
func ReScore(results []Result, items map[uuid.UUID]model.ActionItem, limit int) []model.SearchHit {
	scored := make([]model.SearchHit, 0, len(results))

	for _, r := range results {
		it, ok := items[r.ItemID]
		if !ok {
			// Item was deleted between index search and Postgres hydration.
			continue
		}

		confidenceBonus := 0.7 + 0.3*it.ConfidenceScore
		relevance := float64(r.Score) * confidenceBonus
		if it.IsComplete {
			relevance *= 0.5
		}

		scored = append(scored, model.SearchHit{
			Item:  it,
			Score: float32(math.Min(relevance, 1.0)),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
