package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CreateMeetingRequest is the request body for POST /v1/meetings.
type CreateMeetingRequest struct {
	Title        string   `json:"title"`
	RawText      string   `json:"raw_text"`
	Participants []string `json:"participants,omitempty"`
}

// UpdateActionItemRequest is the request body for PATCH /v1/action-items/{id}.
// Nil fields are left unchanged.
type UpdateActionItemRequest struct {
	Description *string    `json:"description,omitempty"`
	Owner       *string    `json:"owner,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	IsComplete  *bool      `json:"is_complete,omitempty"`
}

// ClarifyRequest is the request body for POST /v1/action-items/{id}/clarify.
// Responses maps question_id to the free-text answer.
type ClarifyRequest struct {
	Responses map[int]string `json:"responses"`
}

// RefineRequest is the request body for POST /v1/meetings/{id}/refine.
// An absent or empty Responses map asks for a fresh question batch without
// applying anything.
type RefineRequest struct {
	Responses map[int]string `json:"responses,omitempty"`
}

// RefineResponse is the response for POST /v1/meetings/{id}/refine.
// RemainingQuestions is empty exactly when no item carries a risk flag.
type RefineResponse struct {
	ActionItems        []ActionItem            `json:"action_items"`
	RemainingQuestions []ClarificationQuestion `json:"remaining_questions"`
	Resolved           bool                    `json:"resolved"`
}

// SearchRequest is the request body for POST /v1/search.
type SearchRequest struct {
	Query       string     `json:"query"`
	Limit       int        `json:"limit,omitempty"`
	MeetingID   *uuid.UUID `json:"meeting_id,omitempty"`
	PriorityMin *Priority  `json:"priority_min,omitempty"`
}

// SearchHit is a single similar action item with its similarity score.
type SearchHit struct {
	Item  ActionItem `json:"item"`
	Score float32    `json:"score"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Qdrant   string `json:"qdrant,omitempty"`
	Stages   string `json:"stages"` // active stage backend name
	Uptime   int64  `json:"uptime_seconds"`
}
