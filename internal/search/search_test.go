package search

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskledger-ai/taskledger/internal/model"
)

func TestReScore(t *testing.T) {
	id1 := uuid.New()
	id2 := uuid.New()
	id3 := uuid.New()

	items := map[uuid.UUID]model.ActionItem{
		id1: {ID: id1, Description: "Draft the proposal", ConfidenceScore: 1.0},
		id2: {ID: id2, Description: "Book the venue", ConfidenceScore: 0.3},
		id3: {ID: id3, Description: "Send recap email", ConfidenceScore: 1.0, IsComplete: true},
	}

	results := []Result{
		{ItemID: id1, Score: 0.90},
		{ItemID: id2, Score: 0.90},
		{ItemID: id3, Score: 0.90},
		{ItemID: uuid.New(), Score: 0.99}, // missing from hydration map
	}

	scored := ReScore(results, items, 10)

	// The missing item is filtered out.
	require.Len(t, scored, 3)

	// id1: 0.90 * (0.7 + 0.3*1.0) = 0.90
	assert.Equal(t, id1, scored[0].Item.ID)
	assert.InDelta(t, 0.90, float64(scored[0].Score), 0.001)

	// id2: 0.90 * (0.7 + 0.3*0.3) = 0.711
	assert.Equal(t, id2, scored[1].Item.ID)
	assert.InDelta(t, 0.711, float64(scored[1].Score), 0.001)

	// id3: completed, halved: 0.90 * 1.0 * 0.5 = 0.45
	assert.Equal(t, id3, scored[2].Item.ID)
	assert.InDelta(t, 0.45, float64(scored[2].Score), 0.001)
}

func TestReScoreCappedAtOne(t *testing.T) {
	id := uuid.New()
	items := map[uuid.UUID]model.ActionItem{
		id: {ID: id, ConfidenceScore: 1.0},
	}

	scored := ReScore([]Result{{ItemID: id, Score: 1.0}}, items, 10)
	require.Len(t, scored, 1)
	assert.LessOrEqual(t, scored[0].Score, float32(1.0))
}

func TestReScoreTruncatesAtLimit(t *testing.T) {
	id1 := uuid.New()
	id2 := uuid.New()

	items := map[uuid.UUID]model.ActionItem{
		id1: {ID: id1, ConfidenceScore: 1.0},
		id2: {ID: id2, ConfidenceScore: 0.2},
	}

	scored := ReScore([]Result{
		{ItemID: id1, Score: 0.9},
		{ItemID: id2, Score: 0.8},
	}, items, 1)

	require.Len(t, scored, 1)
	assert.Equal(t, id1, scored[0].Item.ID)
}

func TestReScoreEmptyInput(t *testing.T) {
	assert.Empty(t, ReScore(nil, map[uuid.UUID]model.ActionItem{}, 10))
	assert.Empty(t, ReScore([]Result{}, map[uuid.UUID]model.ActionItem{}, 10))
}

func TestReScoreAllMissing(t *testing.T) {
	results := []Result{
		{ItemID: uuid.New(), Score: 0.95},
		{ItemID: uuid.New(), Score: 0.80},
	}
	assert.Empty(t, ReScore(results, map[uuid.UUID]model.ActionItem{}, 10))
}

func TestReScorePreservesItemMetadata(t *testing.T) {
	id := uuid.New()
	owner := "Alice"

	items := map[uuid.UUID]model.ActionItem{
		id: {
			ID:              id,
			Description:     "Draft the proposal",
			Owner:           &owner,
			Priority:        model.PriorityHigh,
			Confidence:      model.ConfidenceHigh,
			ConfidenceScore: 0.95,
		},
	}

	scored := ReScore([]Result{{ItemID: id, Score: 0.85}}, items, 10)
	require.Len(t, scored, 1)
	assert.Equal(t, "Draft the proposal", scored[0].Item.Description)
	require.NotNil(t, scored[0].Item.Owner)
	assert.Equal(t, "Alice", *scored[0].Item.Owner)
	assert.Equal(t, model.PriorityHigh, scored[0].Item.Priority)
}
