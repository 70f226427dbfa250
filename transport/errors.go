// Package transport builds the HTTP client used for every remote call and
// holds the errors shared by the transfer protocols.
package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedResponse is matched by every *ResponseError.
	ErrUnexpectedResponse = errors.New("transport: unexpected response")
	// ErrRemoteInconsistency is returned when the remote contradicts state
	// it reported earlier.
	ErrRemoteInconsistency = errors.New("transport: remote inconsistency")
	// ErrTransferIO wraps network and stream faults.
	ErrTransferIO = errors.New("transport: transfer i/o failure")
)

// ResponseError reports a response status the protocol did not expect.
type ResponseError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("unexpected response %d to %s %s", e.StatusCode, e.Method, e.URL)
}

func (e *ResponseError) Is(target error) bool {
	return target == ErrUnexpectedResponse
}

// ClientError reports whether the status is a 4xx, which retrying will not fix.
func (e *ResponseError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IOError marks err as a transfer i/o failure.
func IOError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransferIO, err)
}

// Inconsistent builds an ErrRemoteInconsistency with detail.
func Inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRemoteInconsistency, fmt.Sprintf(format, args...))
}
