package storage_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/storage"
	"github.com/taskledger-ai/taskledger/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func strPtr(s string) *string { return &s }

func newTestMeeting(title string) model.Meeting {
	deadline := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return model.Meeting{
		ID:                uuid.New(),
		Title:             title,
		RawText:           "Alice will draft the proposal by March 1. Someone should book the venue.",
		Participants:      []string{"Alice", "Bob"},
		OverallConfidence: 0.78,
		CreatedAt:         time.Now().UTC().Truncate(time.Microsecond),
		ActionItems: []model.ActionItem{
			{
				ID:              uuid.New(),
				Description:     "Draft the proposal",
				Owner:           strPtr("Alice"),
				Deadline:        &deadline,
				Priority:        model.PriorityHigh,
				Confidence:      model.ConfidenceHigh,
				ConfidenceScore: 0.95,
			},
			{
				ID:              uuid.New(),
				Description:     "Book the venue",
				Priority:        model.PriorityMedium,
				Confidence:      model.ConfidenceLow,
				ConfidenceScore: 0.45,
				RiskFlags: []model.RiskFlag{
					{
						Type:                   model.RiskMissingOwner,
						Description:            "No owner identified",
						Severity:               model.PriorityHigh,
						SuggestedClarification: strPtr("Who books the venue?"),
					},
					{
						Type:        model.RiskMissingDeadline,
						Description: "No deadline identified",
						Severity:    model.PriorityMedium,
					},
				},
			},
		},
	}
}

func TestCreateAndGetMeeting(t *testing.T) {
	ctx := context.Background()

	m := newTestMeeting("Q1 planning")
	require.NoError(t, testDB.CreateMeeting(ctx, m))

	got, err := testDB.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Title, got.Title)
	assert.Equal(t, m.RawText, got.RawText)
	assert.Equal(t, []string{"Alice", "Bob"}, got.Participants)
	assert.InDelta(t, 0.78, got.OverallConfidence, 1e-9)

	require.Len(t, got.ActionItems, 2)
	assert.Equal(t, "Draft the proposal", got.ActionItems[0].Description)
	require.NotNil(t, got.ActionItems[0].Owner)
	assert.Equal(t, "Alice", *got.ActionItems[0].Owner)
	require.NotNil(t, got.ActionItems[0].Deadline)

	// Item and flag order must survive the round trip.
	flags := got.ActionItems[1].RiskFlags
	require.Len(t, flags, 2)
	assert.Equal(t, model.RiskMissingOwner, flags[0].Type)
	assert.Equal(t, model.RiskMissingDeadline, flags[1].Type)
	require.NotNil(t, flags[0].SuggestedClarification)
	assert.Equal(t, "Who books the venue?", *flags[0].SuggestedClarification)
}

func TestGetMeetingNotFound(t *testing.T) {
	_, err := testDB.GetMeeting(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListMeetings(t *testing.T) {
	ctx := context.Background()

	for _, title := range []string{"standup one", "standup two", "standup three"} {
		require.NoError(t, testDB.CreateMeeting(ctx, newTestMeeting(title)))
	}

	summaries, total, err := testDB.ListMeetings(ctx, 100, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 3)
	assert.GreaterOrEqual(t, len(summaries), 3)
	for _, s := range summaries {
		if s.Title == "standup one" {
			assert.Equal(t, 2, s.ActionItemCount)
		}
	}
}

func TestDeleteMeetingCascades(t *testing.T) {
	ctx := context.Background()

	m := newTestMeeting("to delete")
	require.NoError(t, testDB.CreateMeeting(ctx, m))
	require.NoError(t, testDB.DeleteMeeting(ctx, m.ID))

	_, err := testDB.GetMeeting(ctx, m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, _, err = testDB.GetActionItem(ctx, m.ActionItems[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, testDB.DeleteMeeting(ctx, m.ID), storage.ErrNotFound)
}

func TestReplaceMeetingItems(t *testing.T) {
	ctx := context.Background()

	m := newTestMeeting("refine target")
	require.NoError(t, testDB.CreateMeeting(ctx, m))

	replacement := []model.ActionItem{
		{
			ID:              uuid.New(),
			Description:     "Draft the proposal (revised)",
			Owner:           strPtr("Carol"),
			Priority:        model.PriorityHigh,
			Confidence:      model.ConfidenceHigh,
			ConfidenceScore: 0.9,
		},
	}
	require.NoError(t, testDB.ReplaceMeetingItems(ctx, m.ID, replacement, 0.9))

	got, err := testDB.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.OverallConfidence, 1e-9)
	require.Len(t, got.ActionItems, 1)
	assert.Equal(t, replacement[0].ID, got.ActionItems[0].ID)

	// Old items are gone.
	_, _, err = testDB.GetActionItem(ctx, m.ActionItems[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, testDB.ReplaceMeetingItems(ctx, uuid.New(), nil, 0), storage.ErrNotFound)
}

func TestGetAndUpdateActionItem(t *testing.T) {
	ctx := context.Background()

	m := newTestMeeting("item update")
	require.NoError(t, testDB.CreateMeeting(ctx, m))

	it, meetingID, err := testDB.GetActionItem(ctx, m.ActionItems[1].ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, meetingID)
	assert.Len(t, it.RiskFlags, 2)

	it.Owner = strPtr("Bob")
	it.RemoveRiskFlags(model.RiskMissingOwner)
	it.ConfidenceScore = 0.7
	it.Confidence = model.ConfidenceMedium
	it.IsComplete = true
	require.NoError(t, testDB.UpdateActionItem(ctx, it))

	got, _, err := testDB.GetActionItem(ctx, it.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Owner)
	assert.Equal(t, "Bob", *got.Owner)
	assert.True(t, got.IsComplete)
	require.Len(t, got.RiskFlags, 1)
	assert.Equal(t, model.RiskMissingDeadline, got.RiskFlags[0].Type)

	missing := it
	missing.ID = uuid.New()
	assert.ErrorIs(t, testDB.UpdateActionItem(ctx, missing), storage.ErrNotFound)
}

func TestSimilaritySearch(t *testing.T) {
	ctx := context.Background()

	m := newTestMeeting("similarity")
	require.NoError(t, testDB.CreateMeeting(ctx, m))

	// Two orthogonal-ish vectors: the first item is the near match.
	require.NoError(t, testDB.SetItemEmbedding(ctx, m.ActionItems[0].ID,
		pgvector.NewVector([]float32{1, 0, 0})))
	require.NoError(t, testDB.SetItemEmbedding(ctx, m.ActionItems[1].ID,
		pgvector.NewVector([]float32{0, 1, 0})))

	query := pgvector.NewVector([]float32{0.9, 0.1, 0})
	hits, err := testDB.SearchSimilarItems(ctx, query, 10, storage.SimilarItemsFilter{
		MeetingID: &m.ID,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, m.ActionItems[0].ID, hits[0].Item.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Len(t, hits[1].Item.RiskFlags, 2)

	// priority_min filter drops the medium-priority item.
	minPriority := model.PriorityHigh
	hits, err = testDB.SearchSimilarItems(ctx, query, 10, storage.SimilarItemsFilter{
		MeetingID:   &m.ID,
		PriorityMin: &minPriority,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, m.ActionItems[0].ID, hits[0].Item.ID)
}

func TestSearchItemsByText(t *testing.T) {
	ctx := context.Background()

	m := newTestMeeting("text search")
	require.NoError(t, testDB.CreateMeeting(ctx, m))

	hits, err := testDB.SearchItemsByText(ctx, "venue", 10, storage.SimilarItemsFilter{
		MeetingID: &m.ID,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Book the venue", hits[0].Item.Description)

	// Owner text also matches.
	hits, err = testDB.SearchItemsByText(ctx, "alice", 10, storage.SimilarItemsFilter{
		MeetingID: &m.ID,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Draft the proposal", hits[0].Item.Description)

	hits, err = testDB.SearchItemsByText(ctx, "no such phrase anywhere", 10, storage.SimilarItemsFilter{
		MeetingID: &m.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSetItemEmbeddingNotFound(t *testing.T) {
	err := testDB.SetItemEmbedding(context.Background(), uuid.New(), pgvector.NewVector([]float32{1}))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQuestionBatchLifecycle(t *testing.T) {
	ctx := context.Background()

	m := newTestMeeting("clarifications")
	require.NoError(t, testDB.CreateMeeting(ctx, m))
	itemID := m.ActionItems[1].ID

	batch := []model.ClarificationQuestion{
		{QuestionID: 1, ActionItemID: itemID, Field: model.FieldOwner, Question: "Who books the venue?", Priority: model.PriorityCritical},
		{QuestionID: 2, ActionItemID: itemID, Field: model.FieldDeadline, Question: "When must the venue be booked?", Priority: model.PriorityHigh},
	}
	require.NoError(t, testDB.ReplaceQuestionBatch(ctx, m.ID, batch))

	open, err := testDB.OpenQuestions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, 1, open[0].QuestionID)
	assert.Equal(t, model.FieldOwner, open[0].Field)

	// Answer the first question; it moves into history.
	answered := open[0]
	answered.Answer = strPtr("Bob")
	require.NoError(t, testDB.MarkQuestionsAnswered(ctx, m.ID, []model.ClarificationQuestion{answered}))

	open, err = testDB.OpenQuestions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].QuestionID)

	// A new batch replaces the open question but keeps answered history.
	next := []model.ClarificationQuestion{
		{QuestionID: 1, ActionItemID: itemID, Field: model.FieldDeadline, Question: "Is end of March acceptable?", Priority: model.PriorityHigh},
	}
	require.NoError(t, testDB.ReplaceQuestionBatch(ctx, m.ID, next))

	open, err = testDB.OpenQuestions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "Is end of March acceptable?", open[0].Question)

	history, err := testDB.AnsweredQuestions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Answer)
	assert.Equal(t, "Bob", *history[0].Answer)
	assert.NotNil(t, history[0].AnsweredAt)
}

func TestAPIKeyLifecycle(t *testing.T) {
	ctx := context.Background()

	raw, prefix, err := model.GenerateRawKey()
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	created, err := testDB.CreateAPIKey(ctx, model.APIKey{
		Prefix:  prefix,
		KeyHash: "argon2id$stub",
		Label:   "ci bot",
		Role:    model.RoleEditor,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	got, err := testDB.GetAPIKeyByPrefix(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, model.RoleEditor, got.Role)

	require.NoError(t, testDB.TouchAPIKeyLastUsed(ctx, created.ID))

	keys, total, err := testDB.ListAPIKeys(ctx, 100, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	assert.NotEmpty(t, keys)

	require.NoError(t, testDB.RevokeAPIKey(ctx, created.ID))

	// Revoked keys no longer resolve by prefix.
	_, err = testDB.GetAPIKeyByPrefix(ctx, prefix)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Error(t, testDB.RevokeAPIKey(ctx, created.ID))
}

func TestIdempotencyLifecycle(t *testing.T) {
	ctx := context.Background()
	key := "idem-" + uuid.New().String()

	// First request owns processing.
	lookup, err := testDB.BeginIdempotency(ctx, "POST /v1/meetings", key, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)

	// Concurrent retry with the same payload is told to wait.
	_, err = testDB.BeginIdempotency(ctx, "POST /v1/meetings", key, "hash-a")
	assert.ErrorIs(t, err, storage.ErrIdempotencyInProgress)

	// Same key, different payload is rejected outright.
	_, err = testDB.BeginIdempotency(ctx, "POST /v1/meetings", key, "hash-b")
	assert.ErrorIs(t, err, storage.ErrIdempotencyPayloadMismatch)

	require.NoError(t, testDB.CompleteIdempotency(ctx, "POST /v1/meetings", key, 201,
		map[string]string{"id": "abc"}))

	// Replay returns the stored response.
	lookup, err = testDB.BeginIdempotency(ctx, "POST /v1/meetings", key, "hash-a")
	require.NoError(t, err)
	assert.True(t, lookup.Completed)
	assert.Equal(t, 201, lookup.StatusCode)
	assert.JSONEq(t, `{"id":"abc"}`, string(lookup.ResponseData))

	// The same key under a different endpoint is independent.
	lookup, err = testDB.BeginIdempotency(ctx, "POST /v1/search", key, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)
}

func TestClearInProgressIdempotency(t *testing.T) {
	ctx := context.Background()
	key := "idem-clear-" + uuid.New().String()

	_, err := testDB.BeginIdempotency(ctx, "POST /v1/meetings", key, "hash-a")
	require.NoError(t, err)

	require.NoError(t, testDB.ClearInProgressIdempotency(ctx, "POST /v1/meetings", key))

	// The key is free again after clearing.
	lookup, err := testDB.BeginIdempotency(ctx, "POST /v1/meetings", key, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)
}

func TestCleanupIdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	key := "idem-cleanup-" + uuid.New().String()

	_, err := testDB.BeginIdempotency(ctx, "POST /v1/refine", key, "hash-a")
	require.NoError(t, err)
	require.NoError(t, testDB.CompleteIdempotency(ctx, "POST /v1/refine", key, 200, nil))

	// Zero TTLs delete everything eligible, including the record just written.
	n, err := testDB.CleanupIdempotencyKeys(ctx, 0, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	lookup, err := testDB.BeginIdempotency(ctx, "POST /v1/refine", key, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)
}

func TestWithRetryGivesUpOnPlainErrors(t *testing.T) {
	calls := 0
	err := storage.WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("not retriable")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
