package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fbecker/gridpoll/internal/common"
	"github.com/fbecker/gridpoll/internal/ingest"
)

var errNoHTTPClient = errors.New("http client not configured")

// statusError carries the classified HTTP status out of the circuit breaker.
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.code)
}

// newBreaker returns the circuit breaker shared configuration used by all
// source clients.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequest executes a single HTTP attempt through the client's circuit
// breaker and classifies the outcome into the ingest error taxonomy.
// Retrying is the ingestion loop's job, not ours.
func doRequest(
	ctx context.Context,
	client *http.Client,
	cb *gobreaker.CircuitBreaker,
	id ingest.SourceID,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if client == nil {
		return nil, errNoHTTPClient
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := buildRequest()
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		serr := &statusError{code: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests {
			serr.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		resp.Body.Close()
		return nil, serr
	})
	if err != nil {
		return nil, classify(ctx, id, err)
	}

	resp, ok := result.(*http.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return resp, nil
}

// classify maps transport and status failures onto the ingest error types.
func classify(ctx context.Context, id ingest.SourceID, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ingest.TransientError{Source: id, Err: err}
	}

	var serr *statusError
	if errors.As(err, &serr) {
		switch {
		case serr.code == http.StatusUnauthorized || serr.code == http.StatusForbidden:
			return &ingest.AuthError{Source: id, Err: err}
		case serr.code == http.StatusTooManyRequests:
			return &ingest.RateLimitError{Source: id, RetryAfter: serr.retryAfter, Err: err}
		case serr.code >= 500:
			return &ingest.TransientError{Source: id, Err: err}
		default:
			// Remaining 4xx: the provider cannot serve this request as
			// built; retrying it unchanged would not help.
			return &ingest.MalformedResponseError{Source: id, Err: err}
		}
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &ingest.TransientError{Source: id, Err: err}
	}
	if common.HasAny(err.Error(), "connection reset", "connection refused", "broken pipe", "EOF", "no such host") {
		return &ingest.TransientError{Source: id, Err: err}
	}

	// Anything else coming out of the transport is treated as transient;
	// the bounded retry keeps us from spinning on a persistent fault.
	return &ingest.TransientError{Source: id, Err: err}
}

// decodeJSON decodes the response body, mapping parse failures onto
// MalformedResponseError.
func decodeJSON(id ingest.SourceID, resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &ingest.MalformedResponseError{Source: id, Err: err}
	}
	return nil
}

// parseRetryAfter understands the delay-seconds form of Retry-After.
// HTTP-date values are rare from these providers and are ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// msTimestamp renders t the way the meter and price APIs expect:
// milliseconds since the epoch.
func msTimestamp(t time.Time) int64 {
	return t.UnixMilli()
}
