package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/pipeline"
	"github.com/taskledger-ai/taskledger/internal/refine"
	"github.com/taskledger-ai/taskledger/internal/service/embedding"
	"github.com/taskledger-ai/taskledger/internal/service/meetings"
	"github.com/taskledger-ai/taskledger/internal/stage"
	"github.com/taskledger-ai/taskledger/internal/storage"
	"github.com/taskledger-ai/taskledger/internal/testutil"
)

var (
	testDB     *storage.DB
	testServer *Server
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close()

	client := stage.NewClient(stage.NewNoopBackend())
	invoker := stage.NewInvoker(logger)
	pipe := pipeline.New(client, invoker, logger)
	refiner := refine.NewController(
		refine.NewGenerator(client, invoker, logger),
		refine.NewApplier(logger),
	)
	svc := meetings.New(testDB, pipe, refiner, embedding.NewNoopProvider(8), nil, logger)
	testServer = New(svc, logger, "test")

	return m.Run()
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

// mustProcessMeeting runs process_meeting and returns the decoded meeting.
func mustProcessMeeting(t *testing.T, title string) model.Meeting {
	t.Helper()
	result, err := testServer.handleProcessMeeting(context.Background(), toolRequest("process_meeting", map[string]any{
		"title":        title,
		"raw_text":     "Alice will draft the proposal by Friday. Someone should book the venue.",
		"participants": "Alice, Bob",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "tool error: %s", parseToolText(t, result))

	var m model.Meeting
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &m))
	return m
}

func TestProcessMeetingTool(t *testing.T) {
	m := mustProcessMeeting(t, "mcp process")

	assert.Equal(t, "mcp process", m.Title)
	assert.Equal(t, []string{"Alice", "Bob"}, m.Participants)
	require.Len(t, m.ActionItems, 1)
	assert.Contains(t, m.ActionItems[0].Description, "Review meeting notes manually")
}

func TestProcessMeetingToolValidation(t *testing.T) {
	result, err := testServer.handleProcessMeeting(context.Background(), toolRequest("process_meeting", map[string]any{
		"title": "no notes",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "raw_text")
}

func TestListActionItemsTool(t *testing.T) {
	m := mustProcessMeeting(t, "mcp list items")

	result, err := testServer.handleListActionItems(context.Background(), toolRequest("list_action_items", map[string]any{
		"meeting_id": m.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		MeetingID   uuid.UUID          `json:"meeting_id"`
		ActionItems []model.ActionItem `json:"action_items"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &payload))
	assert.Equal(t, m.ID, payload.MeetingID)
	require.Len(t, payload.ActionItems, 1)
	assert.True(t, payload.ActionItems[0].HasRiskFlag(model.RiskMissingOwner))
}

func TestListActionItemsToolBadID(t *testing.T) {
	result, err := testServer.handleListActionItems(context.Background(), toolRequest("list_action_items", map[string]any{
		"meeting_id": "not-a-uuid",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = testServer.handleListActionItems(context.Background(), toolRequest("list_action_items", map[string]any{
		"meeting_id": uuid.NewString(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetActionItemTool(t *testing.T) {
	m := mustProcessMeeting(t, "mcp get item")
	itemID := m.ActionItems[0].ID

	result, err := testServer.handleGetActionItem(context.Background(), toolRequest("get_action_item", map[string]any{
		"action_item_id": itemID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		MeetingID uuid.UUID        `json:"meeting_id"`
		Item      model.ActionItem `json:"item"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &payload))
	assert.Equal(t, m.ID, payload.MeetingID)
	assert.Equal(t, itemID, payload.Item.ID)
}

func TestRefineMeetingTool(t *testing.T) {
	m := mustProcessMeeting(t, "mcp refine")

	// Round 1: no responses returns the question batch.
	result, err := testServer.handleRefineMeeting(context.Background(), toolRequest("refine_meeting", map[string]any{
		"meeting_id": m.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "tool error: %s", parseToolText(t, result))

	var round1 model.RefineResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &round1))
	assert.False(t, round1.Resolved)
	require.Len(t, round1.RemainingQuestions, 2)

	// Round 2: answer both questions.
	result, err = testServer.handleRefineMeeting(context.Background(), toolRequest("refine_meeting", map[string]any{
		"meeting_id": m.ID.String(),
		"responses":  `{"1": "Carol", "2": "2026-09-15"}`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "tool error: %s", parseToolText(t, result))

	var round2 model.RefineResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &round2))
	assert.True(t, round2.Resolved)
	assert.Empty(t, round2.RemainingQuestions)
}

func TestRefineMeetingToolBadResponses(t *testing.T) {
	m := mustProcessMeeting(t, "mcp refine bad")

	result, err := testServer.handleRefineMeeting(context.Background(), toolRequest("refine_meeting", map[string]any{
		"meeting_id": m.ID.String(),
		"responses":  `["not", "an", "object"]`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = testServer.handleRefineMeeting(context.Background(), toolRequest("refine_meeting", map[string]any{
		"meeting_id": m.ID.String(),
		"responses":  `{"abc": "Carol"}`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "invalid question id")
}

func TestMeetingResource(t *testing.T) {
	m := mustProcessMeeting(t, "mcp resource")

	contents, err := testServer.handleMeetingResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "taskledger://meetings/" + m.ID.String()},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)

	var got model.Meeting
	require.NoError(t, json.Unmarshal([]byte(text.Text), &got))
	assert.Equal(t, m.ID, got.ID)

	_, err = testServer.handleMeetingResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "taskledger://meetings/garbage"},
	})
	require.Error(t, err)
}

func TestRecentMeetingsResource(t *testing.T) {
	mustProcessMeeting(t, "mcp recent")

	contents, err := testServer.handleRecentMeetings(context.Background(), mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)

	var summaries []model.MeetingSummary
	require.NoError(t, json.Unmarshal([]byte(text.Text), &summaries))
	assert.NotEmpty(t, summaries)
}

func TestParseResponses(t *testing.T) {
	got, err := parseResponses("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseResponses(`{"1": "Carol", "12": "next week"}`)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "Carol", 12: "next week"}, got)

	_, err = parseResponses(`{"one": "Carol"}`)
	require.Error(t, err)
}
