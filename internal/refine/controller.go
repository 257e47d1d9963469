package refine

import (
	"context"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// Result is the outcome of one refinement round.
type Result struct {
	// Items is the (possibly updated) item set. Always a private copy.
	Items []model.ActionItem
	// Remaining is the next question batch. Empty exactly when no item
	// carries a risk flag.
	Remaining []model.ClarificationQuestion
	// Answered holds the questions resolved this round, for persistence.
	Answered []model.ClarificationQuestion
	// Resolved reports that every item's risk-flag list is empty.
	Resolved bool
}

// Controller drives the clarification round-trip: AwaitingResponse until
// answers arrive, Applying while they are merged, then either Resolved or
// back to AwaitingResponse with a fresh batch. It imposes no round limit;
// the caller bounds the loop.
type Controller struct {
	generator *Generator
	applier   *Applier
}

// NewController creates a refinement controller.
func NewController(generator *Generator, applier *Applier) *Controller {
	return &Controller{generator: generator, applier: applier}
}

// Run executes one refinement round.
//
// With no responses it issues a question batch over the items unchanged.
// With responses it applies them against the supplied question batch, then
// regenerates questions over the updated items. Either way the returned item
// set is a private copy of the input.
func (c *Controller) Run(
	ctx context.Context,
	items []model.ActionItem,
	meetingContext string,
	questions []model.ClarificationQuestion,
	responses map[int]string,
) (Result, error) {
	if len(responses) == 0 {
		batch, err := c.generator.Generate(ctx, items, meetingContext)
		if err != nil {
			return Result{}, err
		}
		copied := model.CloneItems(items)
		return Result{
			Items:     copied,
			Remaining: batch,
			Resolved:  allResolved(copied),
		}, nil
	}

	updated, answered := c.applier.Apply(items, questions, responses)
	remaining, err := c.generator.Generate(ctx, updated, meetingContext)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Items:     updated,
		Remaining: remaining,
		Answered:  answered,
		Resolved:  allResolved(updated),
	}, nil
}

func allResolved(items []model.ActionItem) bool {
	for _, it := range items {
		if it.NeedsClarification() {
			return false
		}
	}
	return true
}
