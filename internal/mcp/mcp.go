// Package mcp implements the Model Context Protocol server for TaskLedger.
//
// The MCP server exposes the meeting pipeline through MCP tools and
// resources, allowing MCP-compatible agent hosts to process meeting notes,
// inspect action items, and drive refinement rounds without the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/service/meetings"
)

// Server wraps the MCP server with TaskLedger's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *meetings.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(svc *meetings.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"taskledger",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// taskledger://meetings/recent — latest processed meetings.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"taskledger://meetings/recent",
			"Recent Meetings",
			mcplib.WithResourceDescription("Most recently processed meetings with action item counts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentMeetings,
	)

	// taskledger://meetings/{id} — one meeting with items, flags, and questions.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"taskledger://meetings/{id}",
			"Meeting",
			mcplib.WithTemplateDescription("A processed meeting with its action items and risk flags"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleMeetingResource,
	)
}

func (s *Server) registerTools() {
	// process_meeting — run the extraction pipeline over raw notes.
	s.mcpServer.AddTool(
		mcplib.NewTool("process_meeting",
			mcplib.WithDescription("Process raw meeting notes into risk-annotated action items"),
			mcplib.WithString("title", mcplib.Description("Meeting title"), mcplib.Required()),
			mcplib.WithString("raw_text", mcplib.Description("Raw meeting notes"), mcplib.Required()),
			mcplib.WithString("participants", mcplib.Description("Comma-separated participant names")),
		),
		s.handleProcessMeeting,
	)

	// list_action_items — items of one meeting.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_action_items",
			mcplib.WithDescription("List the action items of a processed meeting, including risk flags"),
			mcplib.WithString("meeting_id", mcplib.Description("Meeting UUID"), mcplib.Required()),
		),
		s.handleListActionItems,
	)

	// get_action_item — one item by id.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_action_item",
			mcplib.WithDescription("Fetch a single action item with its risk flags and confidence"),
			mcplib.WithString("action_item_id", mcplib.Description("Action item UUID"), mcplib.Required()),
		),
		s.handleGetActionItem,
	)

	// refine_meeting — one clarification round.
	s.mcpServer.AddTool(
		mcplib.NewTool("refine_meeting",
			mcplib.WithDescription("Run one refinement round: without responses, returns the open clarification questions; with responses (JSON object mapping question id to answer), applies them and returns the updated items"),
			mcplib.WithString("meeting_id", mcplib.Description("Meeting UUID"), mcplib.Required()),
			mcplib.WithString("responses", mcplib.Description(`Answers as a JSON object, e.g. {"1": "Carol", "2": "2026-09-15"}`)),
		),
		s.handleRefineMeeting,
	)
}

func (s *Server) handleRecentMeetings(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	summaries, _, err := s.svc.ListMeetings(ctx, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent meetings: %w", err)
	}

	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal meetings: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "taskledger://meetings/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleMeetingResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	idStr := strings.TrimPrefix(uri, "taskledger://meetings/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("mcp: invalid meeting URI: %s", uri)
	}

	m, err := s.svc.GetMeeting(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: get meeting: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal meeting: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleProcessMeeting(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	title := request.GetString("title", "")
	rawText := request.GetString("raw_text", "")
	if title == "" || rawText == "" {
		return errorResult("title and raw_text are required"), nil
	}

	var participants []string
	if p := request.GetString("participants", ""); p != "" {
		for _, name := range strings.Split(p, ",") {
			if name = strings.TrimSpace(name); name != "" {
				participants = append(participants, name)
			}
		}
	}

	m, err := s.svc.ProcessMeeting(ctx, model.CreateMeetingRequest{
		Title:        title,
		RawText:      rawText,
		Participants: participants,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("failed to process meeting: %v", err)), nil
	}

	return jsonResult(m)
}

func (s *Server) handleListActionItems(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errRes := requireUUID(request, "meeting_id")
	if errRes != nil {
		return errRes, nil
	}

	m, err := s.svc.GetMeeting(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to get meeting: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"meeting_id":         m.ID,
		"title":              m.Title,
		"overall_confidence": m.OverallConfidence,
		"action_items":       m.ActionItems,
	})
}

func (s *Server) handleGetActionItem(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errRes := requireUUID(request, "action_item_id")
	if errRes != nil {
		return errRes, nil
	}

	it, meetingID, err := s.svc.GetActionItem(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to get action item: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"meeting_id": meetingID,
		"item":       it,
	})
}

func (s *Server) handleRefineMeeting(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errRes := requireUUID(request, "meeting_id")
	if errRes != nil {
		return errRes, nil
	}

	responses, err := parseResponses(request.GetString("responses", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	resp, err := s.svc.Refine(ctx, id, responses)
	if err != nil {
		return errorResult(fmt.Sprintf("refinement failed: %v", err)), nil
	}

	return jsonResult(resp)
}

// parseResponses decodes the responses argument, a JSON object whose keys are
// question ids as strings.
func parseResponses(raw string) (map[int]string, error) {
	if raw == "" {
		return nil, nil
	}
	var byKey map[string]string
	if err := json.Unmarshal([]byte(raw), &byKey); err != nil {
		return nil, fmt.Errorf("responses must be a JSON object of question id to answer: %v", err)
	}
	out := make(map[int]string, len(byKey))
	for k, v := range byKey {
		qid, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid question id %q", k)
		}
		out[qid] = v
	}
	return out, nil
}

func requireUUID(request mcplib.CallToolRequest, name string) (uuid.UUID, *mcplib.CallToolResult) {
	raw := request.GetString(name, "")
	if raw == "" {
		return uuid.Nil, errorResult(name + " is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errorResult("invalid " + name + ": " + raw)
	}
	return id, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
