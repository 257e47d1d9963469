// Package stage implements the semantic stage layer: the backend contract for
// chat-style model calls, prompt construction and output parsing for the four
// pipeline stages, and the retry/fallback invoker that wraps every stage call.
//
// Stage failures are classified into transient kinds (remote failure,
// malformed output, schema mismatch, timeout) that are retried with backoff,
// and everything else, which routes straight to the caller's fallback. The
// invoker never surfaces a stage error to its caller; only a failing fallback
// propagates.
package stage

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Stage names, used in logs and error messages.
const (
	StageExtract   = "extraction"
	StageAttribute = "attribution"
	StageValidate  = "validation"
	StageClarify   = "clarification"
)

// Backend is a chat-style completion capability. Implementations are plain
// HTTP clients; error classification happens above them in Classify.
type Backend interface {
	// Complete sends one prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
	// Name identifies the backend for health reporting and logs.
	Name() string
}

// ErrorKind classifies a stage failure. All four kinds are transient and
// retried; any error without a kind routes directly to fallback.
type ErrorKind string

const (
	KindRemote    ErrorKind = "remote_call_failed"
	KindMalformed ErrorKind = "malformed_output"
	KindSchema    ErrorKind = "schema_mismatch"
	KindTimeout   ErrorKind = "timeout"
)

// Error is a classified stage failure.
type Error struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage: %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified stage failure.
func NewError(stageName string, kind ErrorKind, err error) *Error {
	return &Error{Stage: stageName, Kind: kind, Err: err}
}

// ErrNoBackend is returned by the noop backend. It carries no transient kind,
// so the invoker falls back immediately without burning retry delays.
var ErrNoBackend = errors.New("no semantic backend configured")

// Classify wraps a backend transport error with the appropriate kind.
// Deadline and network timeouts become KindTimeout, everything else that came
// off the wire becomes KindRemote. ErrNoBackend passes through unclassified.
func Classify(stageName string, err error) error {
	if errors.Is(err, ErrNoBackend) {
		return fmt.Errorf("stage: %s: %w", stageName, err)
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(stageName, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(stageName, KindTimeout, err)
	}
	return NewError(stageName, KindRemote, err)
}

// IsTransient reports whether err should be retried before falling back.
func IsTransient(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindRemote, KindMalformed, KindSchema, KindTimeout:
		return true
	default:
		return false
	}
}

// Kind extracts the classified kind for logging, or "unclassified".
func Kind(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return "unclassified"
}
