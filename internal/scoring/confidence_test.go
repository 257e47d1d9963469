package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/scoring"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func flagsOf(types ...model.RiskType) []model.RiskFlag {
	out := make([]model.RiskFlag, len(types))
	for i, t := range types {
		out[i] = model.RiskFlag{Type: t, Severity: model.PriorityMedium}
	}
	return out
}

func TestScore(t *testing.T) {
	deadline := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		item      model.ActionItem
		wantScore float64
		wantLevel model.ConfidenceLevel
	}{
		{
			name: "fully attributed long description",
			item: model.ActionItem{
				Description: "prepare the quarterly budget review",
				Owner:       strPtr("Carol"),
				Deadline:    timePtr(deadline),
			},
			wantScore: 1.0, // 0.5 + 0.35 + 0.25 + 0.10 clamps to 1
			wantLevel: model.ConfidenceHigh,
		},
		{
			name:      "bare short description",
			item:      model.ActionItem{Description: "fix bug"},
			wantScore: 0.5,
			wantLevel: model.ConfidenceMedium,
		},
		{
			name: "owner only, short description",
			item: model.ActionItem{
				Description: "fix bug",
				Owner:       strPtr("Dana"),
			},
			wantScore: 0.85,
			wantLevel: model.ConfidenceHigh,
		},
		{
			name: "two risk flags pull below medium",
			item: model.ActionItem{
				Description: "follow up",
				RiskFlags:   flagsOf(model.RiskMissingOwner, model.RiskMissingDeadline),
			},
			wantScore: 0.3,
			wantLevel: model.ConfidenceLow,
		},
		{
			name: "many flags clamp at zero",
			item: model.ActionItem{
				Description: "tbd",
				RiskFlags: flagsOf(
					model.RiskMissingOwner,
					model.RiskMissingDeadline,
					model.RiskVagueDescription,
					model.RiskScopeTooBroad,
					model.RiskUnclearDependency,
					model.RiskConflictingAssignment,
				),
			},
			wantScore: 0.0,
			wantLevel: model.ConfidenceLow,
		},
		{
			name: "exactly at high threshold",
			item: model.ActionItem{
				Description: "fix bug",
				Deadline:    timePtr(deadline),
			},
			wantScore: 0.75,
			wantLevel: model.ConfidenceHigh,
		},
		{
			name: "description boundary is strictly greater than ten runes",
			item: model.ActionItem{
				Description: "0123456789", // exactly 10, no bonus
			},
			wantScore: 0.5,
			wantLevel: model.ConfidenceMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoring.Score(tt.item)
			assert.InDelta(t, tt.wantScore, got, 1e-9)
			assert.Equal(t, tt.wantLevel, scoring.Level(got))
		})
	}
}

func TestScore_AlwaysClamped(t *testing.T) {
	// Every combination of the inputs must land in [0, 1].
	owners := []*string{nil, strPtr("x")}
	deadlines := []*time.Time{nil, timePtr(time.Now())}
	descs := []string{"", "a much longer description here"}
	for _, o := range owners {
		for _, d := range deadlines {
			for _, desc := range descs {
				for n := 0; n <= 8; n++ {
					item := model.ActionItem{
						Description: desc,
						Owner:       o,
						Deadline:    d,
						RiskFlags:   make([]model.RiskFlag, n),
					}
					s := scoring.Score(item)
					assert.GreaterOrEqual(t, s, 0.0)
					assert.LessOrEqual(t, s, 1.0)
				}
			}
		}
	}
}

func TestRescore(t *testing.T) {
	item := model.ActionItem{
		Description:     "prepare onboarding docs for the new hires",
		Owner:           strPtr("Eve"),
		Confidence:      model.ConfidenceLow,
		ConfidenceScore: 0.1,
	}
	scoring.Rescore(&item)
	assert.InDelta(t, 0.95, item.ConfidenceScore, 1e-9)
	assert.Equal(t, model.ConfidenceHigh, item.Confidence)
}

func TestOverallConfidence(t *testing.T) {
	assert.Equal(t, 0.0, scoring.OverallConfidence(nil))
	assert.Equal(t, 0.0, scoring.OverallConfidence([]model.ActionItem{}))

	items := []model.ActionItem{
		{ConfidenceScore: 0.2},
		{ConfidenceScore: 0.8},
		{ConfidenceScore: 0.5},
	}
	assert.InDelta(t, 0.5, scoring.OverallConfidence(items), 1e-9)
}
