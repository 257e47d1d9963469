package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for meeting ingestion. These bound what a single
// request can push into Postgres TEXT columns and the semantic pipeline.
const (
	MaxMeetingTitleLen = 200
	MaxRawTextLen      = 256 * 1024 // 256 KB
	MaxParticipants    = 100
	MaxParticipantLen  = 120
)

// Meeting is one processed meeting: the raw notes plus the action items the
// pipeline produced for them.
type Meeting struct {
	ID                uuid.UUID    `json:"id"`
	Title             string       `json:"title"`
	RawText           string       `json:"raw_text"`
	Participants      []string     `json:"participants"`
	OverallConfidence float64      `json:"overall_confidence"`
	Summary           string       `json:"summary,omitempty"`
	ActionItems       []ActionItem `json:"action_items"`
	CreatedAt         time.Time    `json:"created_at"`
}

// MeetingSummary is the list-endpoint projection of a meeting: no raw text,
// no item bodies, just enough to render an index.
type MeetingSummary struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	Participants      []string  `json:"participants"`
	OverallConfidence float64   `json:"overall_confidence"`
	ActionItemCount   int       `json:"action_item_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// ValidateMeetingInput checks per-field limits on a meeting ingestion request.
func ValidateMeetingInput(title, rawText string, participants []string) error {
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if len(title) > MaxMeetingTitleLen {
		return fmt.Errorf("title exceeds maximum length of %d characters", MaxMeetingTitleLen)
	}
	if len(rawText) > MaxRawTextLen {
		return fmt.Errorf("raw_text exceeds maximum length of %d bytes", MaxRawTextLen)
	}
	if len(participants) > MaxParticipants {
		return fmt.Errorf("participants exceeds maximum count of %d", MaxParticipants)
	}
	for i, p := range participants {
		if p == "" {
			return fmt.Errorf("participants[%d] must not be empty", i)
		}
		if len(p) > MaxParticipantLen {
			return fmt.Errorf("participants[%d] exceeds maximum length of %d characters", i, MaxParticipantLen)
		}
	}
	return nil
}
