package errorx

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification with errors.Is.
var (
	// ErrUpstream marks failures of an outbound call (completion API or
	// chat platform).
	ErrUpstream = errors.New("upstream api error")
	// ErrValidation marks malformed or irrelevant inbound payloads. These
	// are logged and dropped, never surfaced to the webhook caller.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups of sessions or connections that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks missing required settings at startup. Fatal.
	ErrConfiguration = errors.New("configuration error")
)

// UpstreamError wraps a failed outbound call, keeping the upstream message.
type UpstreamError struct {
	Service string
	Status  int
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// NewUpstreamError wraps err as a failure of the named external service.
func NewUpstreamError(service string, status int, err error) *UpstreamError {
	return &UpstreamError{Service: service, Status: status, Err: err}
}

// ErrSessionNotFound is returned when a conversation session is not found.
var ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)

// ErrInvalidPayload is returned when an inbound webhook body fails schema
// validation.
func ErrInvalidPayload(reason string) error {
	return fmt.Errorf("invalid payload: %s: %w", reason, ErrValidation)
}

// ErrIgnoredEvent is returned when an event is well formed but not relevant
// (empty content, non-customer sender, outgoing message).
func ErrIgnoredEvent(reason string) error {
	return fmt.Errorf("ignored event: %s: %w", reason, ErrValidation)
}

// ErrMissingConfig is returned when a required setting is absent at startup.
func ErrMissingConfig(key string) error {
	return fmt.Errorf("missing required setting %q: %w", key, ErrConfiguration)
}

// ErrToolBudgetExhausted is returned when the tool-call loop exceeds its
// iteration cap without the model producing a final answer.
func ErrToolBudgetExhausted(limit int) error {
	return fmt.Errorf("tool call budget exhausted after %d rounds: %w", limit, ErrUpstream)
}

// ErrRunTimedOut is returned when an assistant run does not reach a terminal
// state before the polling deadline.
func ErrRunTimedOut(seconds int) error {
	return fmt.Errorf("assistant run did not finish within %ds: %w", seconds, ErrUpstream)
}

// ErrStaleReply is returned when a completion resolves after its session was
// cleared; the reply is discarded instead of resurrecting the session.
var ErrStaleReply = errors.New("reply arrived for a cleared session")
