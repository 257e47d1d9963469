// Package pipeline sequences the semantic stages that turn raw meeting text
// into validated, risk-annotated action items: Extraction, then Attribution,
// then Validation, each wrapped in the stage invoker's retry/fallback
// discipline. A pipeline run always returns a usable result; degraded runs
// are distinguishable only by conservative confidence scores and explanatory
// risk flags, never by an error.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/stage"
)

// Orchestrator runs the extraction/attribution/validation sequence. It holds
// no per-run state; concurrent runs share nothing but the stage client.
type Orchestrator struct {
	client  *stage.Client
	invoker *stage.Invoker
	logger  *slog.Logger
}

// New creates a pipeline orchestrator.
func New(client *stage.Client, invoker *stage.Invoker, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{client: client, invoker: invoker, logger: logger}
}

// Run processes one meeting's notes end to end.
//
// An empty extraction result short-circuits: the result carries no items and
// an overall confidence of 0.0, and the attribution and validation stages are
// never invoked. The only error this returns is a failing fallback, which is
// fatal by design.
func (o *Orchestrator) Run(ctx context.Context, meetingText string, participants []string) (model.ValidationResult, error) {
	extraction, err := stage.Invoke(ctx, o.invoker, stage.StageExtract, meetingText, true,
		func(ctx context.Context, text string) ([]string, error) {
			return o.client.Extract(ctx, text)
		},
		func(text string) ([]string, error) {
			return extractionFallback(text), nil
		},
	)
	if err != nil {
		return model.ValidationResult{}, fmt.Errorf("pipeline: extraction: %w", err)
	}

	rawActions := extraction.Value
	if len(rawActions) == 0 {
		o.logger.Info("pipeline: no action items extracted, short-circuiting",
			"meeting_text_len", len(meetingText),
		)
		return model.ValidationResult{
			ValidatedItems:    []model.ActionItem{},
			OverallConfidence: 0.0,
		}, nil
	}

	attribution, err := stage.Invoke(ctx, o.invoker, stage.StageAttribute, meetingText, true,
		func(ctx context.Context, text string) ([]model.ActionItem, error) {
			return o.client.Attribute(ctx, rawActions, text, participants)
		},
		func(string) ([]model.ActionItem, error) {
			return attributionFallback(rawActions), nil
		},
	)
	if err != nil {
		return model.ValidationResult{}, fmt.Errorf("pipeline: attribution: %w", err)
	}
	items := attribution.Value

	validation, err := stage.Invoke(ctx, o.invoker, stage.StageValidate, "", false,
		func(ctx context.Context, _ string) (model.ValidationResult, error) {
			return o.client.Validate(ctx, items)
		},
		func(string) (model.ValidationResult, error) {
			return validationFallback(items), nil
		},
	)
	if err != nil {
		return model.ValidationResult{}, fmt.Errorf("pipeline: validation: %w", err)
	}

	o.logger.Info("pipeline run complete",
		"items", len(validation.Value.ValidatedItems),
		"overall_confidence", validation.Value.OverallConfidence,
		"extraction_degraded", extraction.Degraded,
		"attribution_degraded", attribution.Degraded,
		"validation_degraded", validation.Degraded,
	)

	return validation.Value, nil
}

// BackendName reports the active stage backend, for health endpoints.
func (o *Orchestrator) BackendName() string { return o.client.BackendName() }
