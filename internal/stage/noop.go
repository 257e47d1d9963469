package stage

import "context"

// NoopBackend is used when no model backend is configured. Every call fails
// with ErrNoBackend, which the invoker treats as non-retryable, so each stage
// drops straight to its deterministic fallback. The pipeline stays usable in
// a fully degraded mode with no network access at all.
type NoopBackend struct{}

// NewNoopBackend creates a backend that always routes to fallbacks.
func NewNoopBackend() *NoopBackend { return &NoopBackend{} }

func (*NoopBackend) Name() string { return "noop" }

func (*NoopBackend) Complete(_ context.Context, _ string) (string, error) {
	return "", ErrNoBackend
}
