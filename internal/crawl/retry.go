package crawl

import (
	"net/http"
	"time"
)

// retryableKinds is the classification table for failure kinds. HTTP status
// failures are handled separately since retryability depends on the code.
var retryableKinds = map[ErrorKind]bool{
	ErrFetchTimeout:     true,
	ErrFetchConnection:  true,
	ErrFetchTooLarge:    false,
	ErrTooManyRedirects: false,
	ErrRobotsDisallowed: false,
	ErrExtractMalformed: false,

	ErrExtractUnsupported: false,
	ErrInvalidURL:         false,
	ErrCanceled:           false,
	ErrPersistence:        false,
}

// RetryDecision is the outcome of classifying one failed attempt.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy decides requeue vs. terminal failure. It is pure: the same
// error and attempt count always yield the same decision.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the configured engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Decide classifies a failed attempt. attempt is the number of attempts made
// so far including the failing one, so a task with MaxAttempts = N fails
// terminally on the Nth retryable failure.
func (p RetryPolicy) Decide(taskErr *TaskError, attempt, maxAttempts int) RetryDecision {
	if taskErr == nil {
		return RetryDecision{}
	}
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts
	}
	if !p.retryable(taskErr) {
		return RetryDecision{}
	}
	if attempt >= maxAttempts {
		return RetryDecision{}
	}
	return RetryDecision{Retry: true, Delay: p.Backoff(attempt)}
}

// Backoff returns the delay before the next attempt after `attempt` tries:
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) retryable(taskErr *TaskError) bool {
	if taskErr.Kind == ErrHTTPStatus {
		code := taskErr.StatusCode
		return code >= 500 || code == http.StatusTooManyRequests
	}
	return retryableKinds[taskErr.Kind]
}
