package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority is the shared urgency scale for action items and risk flags.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidatePriority checks that p is one of the known priority values.
func ValidatePriority(p Priority) error {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return nil
	default:
		return fmt.Errorf("invalid priority %q", p)
	}
}

// ConfidenceLevel is the discrete confidence bucket attached to an item
// alongside its numeric confidence score.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// RiskType categorizes a concern attached to an action item.
type RiskType string

const (
	RiskVagueDescription      RiskType = "vague_description"
	RiskMissingOwner          RiskType = "missing_owner"
	RiskMissingDeadline       RiskType = "missing_deadline"
	RiskUnclearDependency     RiskType = "unclear_dependency"
	RiskScopeTooBroad         RiskType = "scope_too_broad"
	RiskConflictingAssignment RiskType = "conflicting_assignment"
)

// ValidateRiskType checks that t is one of the known risk types.
func ValidateRiskType(t RiskType) error {
	switch t {
	case RiskVagueDescription, RiskMissingOwner, RiskMissingDeadline,
		RiskUnclearDependency, RiskScopeTooBroad, RiskConflictingAssignment:
		return nil
	default:
		return fmt.Errorf("invalid risk type %q", t)
	}
}

// RiskFlag is a typed concern attached to an action item. Flags have no
// identity of their own; within one item a flag is identified by its type.
type RiskFlag struct {
	Type                   RiskType `json:"risk_type"`
	Description            string   `json:"description"`
	Severity               Priority `json:"severity"`
	SuggestedClarification *string  `json:"suggested_clarification,omitempty"`
}

// ActionItem is one extracted task with attribution, risk, and confidence
// metadata. Owner and Deadline are populated only when the source text states
// them explicitly. Risk flag order is insertion order and is preserved for
// display.
type ActionItem struct {
	ID              uuid.UUID       `json:"id"`
	Description     string          `json:"description"`
	Owner           *string         `json:"owner,omitempty"`
	Deadline        *time.Time      `json:"deadline,omitempty"`
	Priority        Priority        `json:"priority"`
	Confidence      ConfidenceLevel `json:"confidence"`
	ConfidenceScore float64         `json:"confidence_score"`
	RiskFlags       []RiskFlag      `json:"risk_flags"`
	Dependencies    []uuid.UUID     `json:"dependencies,omitempty"`
	Context         *string         `json:"context,omitempty"`
	// IsComplete is caller-settable and advisory only. It is never derived
	// from, or reconciled with, NeedsClarification.
	IsComplete bool `json:"is_complete"`
}

// NeedsClarification reports whether the item carries at least one risk flag.
func (it ActionItem) NeedsClarification() bool {
	return len(it.RiskFlags) > 0
}

// HasRiskFlag reports whether the item carries a flag of the given type.
func (it ActionItem) HasRiskFlag(t RiskType) bool {
	for _, f := range it.RiskFlags {
		if f.Type == t {
			return true
		}
	}
	return false
}

// RemoveRiskFlags drops every flag of the given type, preserving the order
// of the remaining flags.
func (it *ActionItem) RemoveRiskFlags(t RiskType) {
	kept := it.RiskFlags[:0]
	for _, f := range it.RiskFlags {
		if f.Type != t {
			kept = append(kept, f)
		}
	}
	it.RiskFlags = kept
}

// Clone returns a deep copy of the item. Mutating the copy never affects
// the original; callers that mutate item sets must clone first.
func (it ActionItem) Clone() ActionItem {
	out := it
	if it.Owner != nil {
		v := *it.Owner
		out.Owner = &v
	}
	if it.Deadline != nil {
		v := *it.Deadline
		out.Deadline = &v
	}
	if it.Context != nil {
		v := *it.Context
		out.Context = &v
	}
	out.RiskFlags = make([]RiskFlag, len(it.RiskFlags))
	for i, f := range it.RiskFlags {
		out.RiskFlags[i] = f
		if f.SuggestedClarification != nil {
			v := *f.SuggestedClarification
			out.RiskFlags[i].SuggestedClarification = &v
		}
	}
	if it.Dependencies != nil {
		out.Dependencies = make([]uuid.UUID, len(it.Dependencies))
		copy(out.Dependencies, it.Dependencies)
	}
	return out
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []ActionItem) []ActionItem {
	out := make([]ActionItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// ClarificationField names the item field a clarification question targets.
type ClarificationField string

const (
	FieldOwner       ClarificationField = "owner"
	FieldDeadline    ClarificationField = "deadline"
	FieldDescription ClarificationField = "description"
)

// ValidateClarificationField checks that f is a known target field.
func ValidateClarificationField(f ClarificationField) error {
	switch f {
	case FieldOwner, FieldDeadline, FieldDescription:
		return nil
	default:
		return fmt.Errorf("invalid clarification field %q", f)
	}
}

// ClarificationQuestion is a targeted request for one missing field on one
// item. QuestionID is assigned sequentially starting at 1 within a single
// generation batch; IDs are not stable across batches.
type ClarificationQuestion struct {
	QuestionID   int                `json:"question_id"`
	ActionItemID uuid.UUID          `json:"action_item_id"`
	Field        ClarificationField `json:"field"`
	Question     string             `json:"question"`
	Priority     Priority           `json:"priority"`
	Answer       *string            `json:"answer,omitempty"`
	AnsweredAt   *time.Time         `json:"answered_at,omitempty"`
}

// ValidationResult is the output of a full pipeline run.
type ValidationResult struct {
	ValidatedItems    []ActionItem `json:"validated_items"`
	OverallConfidence float64      `json:"overall_confidence"`
	Summary           string       `json:"summary,omitempty"`
}
