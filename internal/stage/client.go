package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Client pairs a backend with the prompt construction and output parsing for
// the four semantic stages. Parse failures come back as classified stage
// errors so the invoker can retry them.
type Client struct {
	backend Backend
}

// NewClient creates a stage client over the given backend.
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// BackendName reports the underlying backend, for health endpoints.
func (c *Client) BackendName() string { return c.backend.Name() }

// complete runs one backend call and classifies any transport error.
func (c *Client) complete(ctx context.Context, stageName, prompt string) (string, error) {
	out, err := c.backend.Complete(ctx, prompt)
	if err != nil {
		return "", Classify(stageName, err)
	}
	return out, nil
}

// decodeStageJSON extracts the JSON payload from a model response and decodes
// it into v. A response with no parseable JSON is malformed; valid JSON that
// doesn't fit the expected shape is a schema mismatch.
func decodeStageJSON(stageName, response string, v any) error {
	payload := extractJSONBlock(response)
	if payload == "" {
		return NewError(stageName, KindMalformed, fmt.Errorf("no JSON payload in response"))
	}
	if !json.Valid([]byte(payload)) {
		return NewError(stageName, KindMalformed, fmt.Errorf("invalid JSON payload"))
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return NewError(stageName, KindSchema, fmt.Errorf("decode: %w", err))
	}
	return nil
}

// extractJSONBlock locates the outermost JSON object or array in a response,
// tolerating markdown code fences and surrounding prose.
func extractJSONBlock(s string) string {
	s = strings.TrimSpace(s)

	// Strip a ```json ... ``` fence if present.
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')
	start := objStart
	closer := byte('}')
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start = arrStart
		closer = ']'
	}
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
