package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotFound is returned when the endpoint reports 404 for the
	// requested model.
	ErrModelNotFound = errors.New("ai: model not found")

	// ErrServerError is returned on a 500 from the endpoint.
	ErrServerError = errors.New("ai: server error")

	// ErrMessageTooLarge is returned on a 413 (prompt exceeded the
	// endpoint's context limit).
	ErrMessageTooLarge = errors.New("ai: message too large")

	// ErrIncompleteStream is returned when a stream ends without ever
	// carrying a completion frame.
	ErrIncompleteStream = errors.New("ai: stream ended without completion")
)

// UpstreamError carries a non-success status that has no dedicated sentinel,
// along with the response body as free text.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ai: upstream status %d", e.Status)
	}
	return fmt.Sprintf("ai: upstream status %d: %s", e.Status, e.Body)
}

// NetworkError wraps a transport failure where no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "ai: request failed: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }
