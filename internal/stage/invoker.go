package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Invoker defaults. One stage call can take up to attempts × maxDelay before
// falling back; callers wrap whole pipeline runs in their own deadline.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 10 * time.Second
)

// Invoker wraps semantic stage calls with sanitization, bounded retry with
// exponential backoff, and deterministic fallback. Zero-value fields fall
// back to the package defaults, so tests can shrink delays without touching
// retry semantics.
type Invoker struct {
	Attempts       int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxPromptRunes int
	Logger         *slog.Logger
}

// NewInvoker returns an invoker with production defaults.
func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		Attempts:       DefaultAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		MaxPromptRunes: DefaultMaxPromptRunes,
		Logger:         logger,
	}
}

// Result is the outcome of one invoked stage call. Degraded marks fallback
// output; Err then holds the classified error that exhausted the primary
// path. A degraded result is still a success from the caller's point of view.
type Result[T any] struct {
	Value    T
	Attempts int
	Degraded bool
	Err      error
}

// Invoke runs one semantic stage call with retry and fallback.
//
// The primary call receives sanitized input when sanitizeInput is set; the
// fallback always receives the original input. Transient failures retry up to
// the configured attempt count with doubling backoff; non-transient failures
// skip remaining retries. Once the primary path is exhausted the fallback
// runs, and only a fallback error propagates to the caller.
func Invoke[T any](
	ctx context.Context,
	inv *Invoker,
	stageName string,
	input string,
	sanitizeInput bool,
	call func(ctx context.Context, input string) (T, error),
	fallback func(input string) (T, error),
) (Result[T], error) {
	attempts := inv.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	base := inv.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := inv.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	logger := inv.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prompt := input
	if sanitizeInput {
		prompt = Sanitize(input, inv.MaxPromptRunes)
	}

	var lastErr error
	made := 0
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		value, err := call(ctx, prompt)
		if err == nil {
			logger.Debug("stage call succeeded",
				"stage", stageName,
				"attempts", attempt,
			)
			return Result[T]{Value: value, Attempts: attempt}, nil
		}
		lastErr = err

		if !IsTransient(err) {
			logger.Warn("stage call failed with non-retryable error",
				"stage", stageName,
				"attempts", attempt,
				"error_kind", Kind(err),
				"error", err,
			)
			break
		}

		logger.Warn("stage call failed",
			"stage", stageName,
			"attempt", attempt,
			"max_attempts", attempts,
			"error_kind", Kind(err),
			"error", err,
		)

		if attempt < attempts {
			if err := sleepCtx(ctx, delay); err != nil {
				lastErr = Classify(stageName, err)
				break
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	logger.Warn("stage falling back",
		"stage", stageName,
		"attempts", made,
		"error_kind", Kind(lastErr),
	)

	value, err := fallback(input)
	if err != nil {
		return Result[T]{}, fmt.Errorf("stage: %s: fallback: %w", stageName, err)
	}
	return Result[T]{Value: value, Attempts: made, Degraded: true, Err: lastErr}, nil
}

// sleepCtx pauses for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
