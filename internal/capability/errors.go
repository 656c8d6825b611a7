package capability

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a provider call failed.
type FailureKind string

const (
	FailureTimeout           FailureKind = "timeout"
	FailureRateLimited       FailureKind = "rate_limited"
	FailureContentFiltered   FailureKind = "content_filtered"
	FailureAuth              FailureKind = "auth"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureUnknown           FailureKind = "unknown"
)

// Retryable reports whether the same candidate is worth another attempt.
// Timeouts and rate limits are transient; everything else short-circuits to
// the next candidate.
func (k FailureKind) Retryable() bool {
	return k == FailureTimeout || k == FailureRateLimited
}

// Error is the typed failure adapters return. Message is a classified
// summary, never the raw vendor response body.
type Error struct {
	Kind    FailureKind
	Vendor  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Vendor, e.Message, e.Kind)
}

// NewError builds a classified provider failure.
func NewError(kind FailureKind, vendor, format string, args ...any) *Error {
	return &Error{Kind: kind, Vendor: vendor, Message: fmt.Sprintf(format, args...)}
}

// Classify extracts the failure kind from any error an adapter surfaced.
// Context deadline expiry counts as a timeout even when the vendor client
// did not wrap it.
func Classify(err error) FailureKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureUnknown
}
