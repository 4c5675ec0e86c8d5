package ingest

import (
	"errors"
	"fmt"
	"time"
)

// AuthError means the provider rejected our credentials. It is not
// retryable; the source stays broken until it is reconfigured.
type AuthError struct {
	Source SourceID
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers timeouts, connection resets and 5xx responses.
// The ingestion loop retries these with backoff.
type TransientError struct {
	Source SourceID
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError means the provider throttled us. RetryAfter carries the
// provider's Retry-After hint when one was supplied, zero otherwise.
type RateLimitError struct {
	Source     SourceID
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %v)", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited: %v", e.Source, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// MalformedResponseError means the payload could not be parsed into
// readings. Not retried; the window is skipped and retried next cycle.
type MalformedResponseError struct {
	Source SourceID
	Err    error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Source, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth retrying within the same cycle.
func Retryable(err error) bool {
	var te *TransientError
	var rl *RateLimitError
	return errors.As(err, &te) || errors.As(err, &rl)
}
