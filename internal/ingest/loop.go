package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gopkg.in/retry.v1"
)

// Source abstracts one external data provider (smart meter, power price,
// weather). Fetch returns the normalized readings for the half-open window.
type Source interface {
	ID() SourceID
	Fetch(ctx context.Context, w PollWindow) ([]Reading, error)
}

// Store is the contract the time-series store must satisfy for ingestion.
// Append must be idempotent: readings whose key already exists are skipped,
// and the count of readings actually written is returned.
type Store interface {
	Append(ctx context.Context, readings []Reading) (int, error)
}

// RetryPolicy bounds the backoff applied around each Fetch call.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the original poller's bounds: five attempts
// with exponential backoff capped at ten seconds.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	Initial:     500 * time.Millisecond,
	Factor:      2,
	MaxDelay:    10 * time.Second,
}

func (p RetryPolicy) strategy() retry.Strategy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultRetryPolicy.Initial
	}
	if p.Factor <= 0 {
		p.Factor = DefaultRetryPolicy.Factor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return retry.LimitCount(p.MaxAttempts, retry.Exponential{
		Initial:  p.Initial,
		Factor:   p.Factor,
		MaxDelay: p.MaxDelay,
		Jitter:   true,
	})
}

// Params configures a Loop.
type Params struct {
	// Sources are polled in the given order on every cycle.
	Sources []Source
	// Store receives the normalized readings.
	Store Store
	// Marks holds the per-source watermarks.
	Marks *Watermarks
	// Retry bounds the per-fetch backoff. Zero fields take defaults.
	Retry RetryPolicy
	// Backfill is how far back the first window for a source with no
	// watermark reaches. If zero, DefaultBackfill is used.
	Backfill time.Duration
	// Now is used to query the current time. If nil, time.Now is used.
	Now func() time.Time
}

const DefaultBackfill = 12 * time.Hour

// Loop polls each configured source for the window since its watermark,
// appends the results to the store and advances the watermark. Sources are
// isolated from each other: one failing never blocks the rest.
type Loop struct {
	p Params
}

// New returns a new ingestion Loop.
func New(p Params) (*Loop, error) {
	if len(p.Sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("no store configured")
	}
	if p.Marks == nil {
		return nil, fmt.Errorf("no watermarks configured")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Backfill <= 0 {
		p.Backfill = DefaultBackfill
	}
	return &Loop{p: p}, nil
}

// SourceResult records the outcome of polling one source within a cycle.
type SourceResult struct {
	Source  SourceID
	Window  PollWindow
	Fetched int
	Stored  int
	Err     error
}

// CycleReport summarizes one RunCycle invocation. Fatal is non-nil when a
// storage write failure aborted the cycle; per-source errors live in
// Results.
type CycleReport struct {
	ID      string
	Results []SourceResult
	Fatal   error
}

// Summary returns a one-line, log-friendly description of the cycle.
func (r CycleReport) Summary() string {
	var ok, failed int
	for _, res := range r.Results {
		if res.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	s := fmt.Sprintf("cycle %s: %d sources ok, %d failed", r.ID, ok, failed)
	if r.Fatal != nil {
		s += fmt.Sprintf(" (aborted: %v)", r.Fatal)
	}
	return s
}

// RunCycle polls every source once, in the fixed configured order.
//
// A successful source advances its watermark to the end of the polled
// window. Auth and malformed-response failures skip only that source.
// Exhausted retries leave the watermark untouched so the next cycle retries
// the same window extended forward. A store write failure is fatal for the
// cycle: remaining sources are not polled and no watermark moves.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{ID: uuid.NewString()[:8]}
	for _, src := range l.p.Sources {
		res := l.pollSource(ctx, src)
		report.Results = append(report.Results, res)
		if res.Err != nil {
			log.Printf("ingest %s: source %s failed: %v", report.ID, src.ID(), res.Err)
			var werr *writeFailure
			if errors.As(res.Err, &werr) {
				report.Fatal = werr.err
				break
			}
			continue
		}
		log.Printf("ingest %s: source %s window %v: fetched %d, stored %d",
			report.ID, src.ID(), res.Window, res.Fetched, res.Stored)
	}
	return report
}

// writeFailure marks a store append error so RunCycle can tell it apart
// from source errors and abort the cycle.
type writeFailure struct {
	err error
}

func (e *writeFailure) Error() string { return e.err.Error() }
func (e *writeFailure) Unwrap() error { return e.err }

func (l *Loop) pollSource(ctx context.Context, src Source) SourceResult {
	id := src.ID()
	now := l.p.Now().UTC()
	since, ok := l.p.Marks.Get(id)
	if !ok {
		since = now.Add(-l.p.Backfill)
	}
	window := PollWindow{Since: since, Until: now}
	res := SourceResult{Source: id, Window: window}
	if !window.Valid() {
		// Nothing new to ask for; not an error.
		return res
	}

	readings, err := l.fetchWithRetry(ctx, src, window)
	if err != nil {
		res.Err = err
		return res
	}
	res.Fetched = len(readings)

	kept := readings[:0:0]
	for _, r := range readings {
		r.Timestamp = r.Timestamp.UTC()
		if err := r.Validate(); err != nil {
			log.Printf("ingest: dropping invalid reading from %s: %v", id, err)
			continue
		}
		if !window.Contains(r.Timestamp) {
			continue
		}
		kept = append(kept, r)
	}

	stored, err := l.p.Store.Append(ctx, kept)
	if err != nil {
		res.Err = &writeFailure{err: err}
		return res
	}
	res.Stored = stored

	if err := l.p.Marks.Set(id, window.Until); err != nil {
		// The append is idempotent, so re-fetching this window after a
		// restart is safe; just surface the persistence problem.
		res.Err = fmt.Errorf("cannot persist watermark: %w", err)
	}
	return res
}

// fetchWithRetry applies the retry policy around src.Fetch. Only transient
// and rate-limit errors are retried; a provider Retry-After hint is honored
// on top of the backoff delay.
func (l *Loop) fetchWithRetry(ctx context.Context, src Source, window PollWindow) ([]Reading, error) {
	var lastErr error
	for a := retry.StartWithCancel(l.p.Retry.strategy(), nil, ctx.Done()); a.Next(); {
		readings, err := src.Fetch(ctx, window)
		if err == nil {
			return readings, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("ingest: fetch from %s failed, will retry: %v", src.ID(), err)
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			select {
			case <-time.After(rl.RetryAfter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}
