package crawl

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a failure class. Retryability is decided per kind by
// the retry table, never inline in scheduler code.
type ErrorKind string

// Failure kinds recorded on tasks.
const (
	ErrInvalidURL ErrorKind = "invalid_url"

	ErrFetchTimeout     ErrorKind = "fetch_timeout"
	ErrFetchConnection  ErrorKind = "fetch_connection"
	ErrFetchTooLarge    ErrorKind = "fetch_too_large"
	ErrTooManyRedirects ErrorKind = "fetch_too_many_redirects"
	ErrHTTPStatus       ErrorKind = "fetch_http_status"
	ErrRobotsDisallowed ErrorKind = "robots_disallowed"

	ErrExtractMalformed   ErrorKind = "extract_malformed"
	ErrExtractUnsupported ErrorKind = "extract_unsupported"

	ErrPersistence ErrorKind = "persistence"
	ErrCanceled    ErrorKind = "canceled"
)

// TaskError is the structured error recorded on a task between retries and
// in the Failed terminal state.
type TaskError struct {
	Kind       ErrorKind `json:"kind"`
	StatusCode int       `json:"status_code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

func (e *TaskError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// NewTaskError builds a TaskError from a kind and a wrapped cause.
func NewTaskError(kind ErrorKind, detail string) *TaskError {
	return &TaskError{Kind: kind, Detail: detail}
}

// NewHTTPError records an HTTP status failure.
func NewHTTPError(statusCode int, detail string) *TaskError {
	return &TaskError{Kind: ErrHTTPStatus, StatusCode: statusCode, Detail: detail}
}

// AsTaskError extracts a *TaskError from an error chain, wrapping unknown
// errors as a connection-class failure so every fetch error is classifiable.
func AsTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{Kind: ErrFetchConnection, Detail: err.Error()}
}
