// Package domain defines core types and errors for the TAP job client.
package domain

import (
	"errors"
	"fmt"
)

// AuthenticationError indicates the server rejected the supplied credentials.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// ProtocolError indicates a response did not carry an expected field.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// UsageError indicates an operation was invoked out of its required sequence.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// JobAbortedError indicates the server reported the job as ABORTED.
type JobAbortedError struct {
	JobID string
}

func (e *JobAbortedError) Error() string {
	return fmt.Sprintf("job %s aborted", e.JobID)
}

// JobFailedError indicates the server reported the job as ERROR.
// Message carries the server's error summary verbatim.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// TimeoutError indicates the poll budget ran out before a terminal phase.
type TimeoutError struct {
	JobID    string
	Attempts int
	Phase    Phase
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s still %s after %d attempts", e.JobID, e.Phase, e.Attempts)
}

// HTTPError indicates an unexpected HTTP status from the server.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ErrAuthentication creates an AuthenticationError with a formatted message.
func ErrAuthentication(format string, args ...interface{}) *AuthenticationError {
	return &AuthenticationError{Message: fmt.Sprintf(format, args...)}
}

// ErrProtocol creates a ProtocolError with a formatted message.
func ErrProtocol(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// ErrUsage creates a UsageError with a formatted message.
func ErrUsage(format string, args ...interface{}) *UsageError {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrorKind returns a short machine-readable name for the typed errors of
// this package found in err's chain, or "error" for anything else.
func ErrorKind(err error) string {
	var (
		authErr     *AuthenticationError
		protocolErr *ProtocolError
		usageErr    *UsageError
		abortedErr  *JobAbortedError
		failedErr   *JobFailedError
		timeoutErr  *TimeoutError
		httpErr     *HTTPError
		notFoundErr *NotFoundError
	)
	switch {
	case errors.As(err, &authErr):
		return "authentication"
	case errors.As(err, &protocolErr):
		return "protocol"
	case errors.As(err, &usageErr):
		return "usage"
	case errors.As(err, &abortedErr):
		return "job_aborted"
	case errors.As(err, &failedErr):
		return "job_failed"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &notFoundErr):
		return "not_found"
	default:
		return "error"
	}
}
