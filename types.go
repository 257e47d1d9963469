package taskledger

import (
	"github.com/google/uuid"
)

// SearchFilters narrows a similarity search in the public Searcher interface.
// All fields are primitive or stdlib types — no internal package imports.
type SearchFilters struct {
	// MeetingID restricts results to items of one meeting.
	MeetingID *uuid.UUID
	// PriorityMin keeps only items at or above this priority
	// ("low", "medium", "high", "critical").
	PriorityMin *string
}

// SearchResult holds an action item ID and similarity score from a Searcher.
type SearchResult struct {
	ItemID uuid.UUID
	Score  float32
}
