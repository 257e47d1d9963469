package stage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskledger-ai/taskledger/internal/model"
)

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, kind, se.Kind)
}

func TestParseExtraction(t *testing.T) {
	actions, err := parseExtraction(`{"actions": ["ship the report", "book the venue"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"ship the report", "book the venue"}, actions)

	// Code fences and surrounding prose are tolerated.
	actions, err = parseExtraction("Here you go:\n```json\n{\"actions\": [\"follow up\"]}\n```\nDone.")
	require.NoError(t, err)
	assert.Equal(t, []string{"follow up"}, actions)

	// Empty list is a valid result.
	actions, err = parseExtraction(`{"actions": []}`)
	require.NoError(t, err)
	assert.Empty(t, actions)

	_, err = parseExtraction("I could not find any JSON to give you.")
	assertKind(t, err, KindMalformed)

	_, err = parseExtraction(`{"actions": [""]}`)
	assertKind(t, err, KindSchema)

	_, err = parseExtraction(`{"actions": "not a list"}`)
	assertKind(t, err, KindSchema)
}

func TestParseAttribution(t *testing.T) {
	raw := `{"items": [
		{"description": "ship the report", "owner": "Alice", "deadline": "2026-03-01", "priority": "high", "context": "discussed at standup"},
		{"description": "book the venue", "owner": null, "deadline": null, "priority": "medium", "context": null}
	]}`
	items, err := parseAttribution(raw)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.NotEqual(t, uuid.Nil, items[0].ID)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	require.NotNil(t, items[0].Owner)
	assert.Equal(t, "Alice", *items[0].Owner)
	require.NotNil(t, items[0].Deadline)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *items[0].Deadline)
	assert.Equal(t, model.PriorityHigh, items[0].Priority)

	assert.Nil(t, items[1].Owner)
	assert.Nil(t, items[1].Deadline)
	assert.Equal(t, model.PriorityMedium, items[1].Priority)

	_, err = parseAttribution(`{"items": []}`)
	assertKind(t, err, KindSchema)

	_, err = parseAttribution(`{"items": [{"description": "x", "priority": "urgent"}]}`)
	assertKind(t, err, KindSchema)

	_, err = parseAttribution(`{"items": [{"description": "x", "deadline": "next tuesday"}]}`)
	assertKind(t, err, KindSchema)
}

func TestParseValidation(t *testing.T) {
	owner := "Alice"
	input := []model.ActionItem{
		{ID: uuid.New(), Description: "ship the report", Owner: &owner, Priority: model.PriorityMedium},
		{ID: uuid.New(), Description: "book the venue", Priority: model.PriorityMedium},
	}

	raw := fmt.Sprintf(`{
		"items": [
			{"id": "%s", "priority": "high", "confidence": "high", "confidence_score": 0.85, "risk_flags": []},
			{"id": "%s", "priority": "medium", "confidence": "low", "confidence_score": 0.35, "risk_flags": [
				{"risk_type": "missing_owner", "description": "nobody named", "severity": "high", "suggested_clarification": "Who owns this?"}
			]}
		],
		"overall_confidence": 0.6,
		"summary": "One item needs an owner."
	}`, input[0].ID, input[1].ID)

	result, err := parseValidation(raw, input)
	require.NoError(t, err)
	require.Len(t, result.ValidatedItems, 2)
	assert.InDelta(t, 0.6, result.OverallConfidence, 1e-9)
	assert.Equal(t, "One item needs an owner.", result.Summary)

	first := result.ValidatedItems[0]
	assert.Equal(t, model.PriorityHigh, first.Priority)
	assert.Equal(t, model.ConfidenceHigh, first.Confidence)
	assert.Empty(t, first.RiskFlags)

	second := result.ValidatedItems[1]
	require.Len(t, second.RiskFlags, 1)
	assert.Equal(t, model.RiskMissingOwner, second.RiskFlags[0].Type)
	require.NotNil(t, second.RiskFlags[0].SuggestedClarification)

	// Input items are never mutated.
	assert.Empty(t, input[0].RiskFlags)
	assert.Equal(t, model.PriorityMedium, input[0].Priority)

	// Output must cover every input item.
	_, err = parseValidation(fmt.Sprintf(`{"items": [{"id": "%s", "confidence": "low", "confidence_score": 0.3, "risk_flags": []}], "overall_confidence": 0.3}`, input[0].ID), input)
	assertKind(t, err, KindSchema)

	// Out-of-range scores are rejected.
	_, err = parseValidation(fmt.Sprintf(`{"items": [{"id": "%s", "confidence": "high", "confidence_score": 1.4, "risk_flags": []}], "overall_confidence": 0.5}`, input[0].ID), input[:1])
	assertKind(t, err, KindSchema)

	// Unknown risk types are rejected.
	_, err = parseValidation(fmt.Sprintf(`{"items": [{"id": "%s", "confidence": "low", "confidence_score": 0.3, "risk_flags": [{"risk_type": "too_spicy", "description": "x", "severity": "low"}]}], "overall_confidence": 0.3}`, input[0].ID), input[:1])
	assertKind(t, err, KindSchema)
}

func TestParseClarifications(t *testing.T) {
	itemID := uuid.New()
	raw := fmt.Sprintf(`{"questions": [
		{"action_item_id": "%s", "field": "owner", "question": "Who owns this?", "priority": "critical"},
		{"action_item_id": "%s", "field": "deadline", "question": "When is it due?", "priority": "high"}
	]}`, itemID, itemID)

	questions, err := parseClarifications(raw)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, itemID, questions[0].ActionItemID)
	assert.Equal(t, model.FieldOwner, questions[0].Field)
	assert.Equal(t, model.PriorityCritical, questions[0].Priority)
	assert.Zero(t, questions[0].QuestionID, "numbering happens in the generator, not the parser")

	_, err = parseClarifications(`{"questions": [{"action_item_id": "not-a-uuid", "field": "owner", "question": "x", "priority": "high"}]}`)
	assertKind(t, err, KindSchema)

	_, err = parseClarifications(fmt.Sprintf(`{"questions": [{"action_item_id": "%s", "field": "severity", "question": "x", "priority": "high"}]}`, itemID))
	assertKind(t, err, KindSchema)
}

func TestExtractJSONBlock(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONBlock(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, extractJSONBlock("prose before {\"a\":1} prose after"))
	assert.Equal(t, `[1,2]`, extractJSONBlock("here: [1,2]"))
	assert.Equal(t, "", extractJSONBlock("no json here"))
	assert.Equal(t, `{"a":1}`, extractJSONBlock("```json\n{\"a\":1}\n```"))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewError(StageExtract, KindRemote, inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), StageExtract)
	assert.Contains(t, err.Error(), string(KindRemote))
}
