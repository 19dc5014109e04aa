package agent

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingThreadID is returned when thread creation succeeds without an id.
	ErrMissingThreadID = errors.New("agent returned no thread id")
	// ErrEmptyBody is returned when a stream response carries no body.
	ErrEmptyBody = errors.New("response body is empty")
)

// RemoteError reports a non-2xx response from the agent service.
type RemoteError struct {
	Op         string
	StatusCode int
	Status     string
}

func newRemoteError(op string, resp *http.Response) *RemoteError {
	status := http.StatusText(resp.StatusCode)
	if status == "" {
		status = resp.Status
	}
	return &RemoteError{Op: op, StatusCode: resp.StatusCode, Status: status}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
}

// RunError is an error reported by the agent inside the event stream.
type RunError struct {
	RunID   string
	Message string
}

func (e *RunError) Error() string {
	return e.Message
}

// DecodeError describes a stream record that could not be parsed. It is
// logged and skipped, never delivered to observers.
type DecodeError struct {
	Record string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event record %q: %v", e.Record, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
