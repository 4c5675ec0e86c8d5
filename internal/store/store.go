package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fbecker/gridpoll/internal/ingest"
)

// ErrNotFound is returned when no readings match a query.
var ErrNotFound = errors.New("no readings found")

// WriteError reports a failed write to the underlying storage. The
// ingestion loop treats it as fatal for the current cycle.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot write readings to %q: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Interface is the full store contract: the ingestion loop appends, the
// query API and future automation consumers read.
type Interface interface {
	ingest.Store
	// QueryRange returns readings for the source in [since, until),
	// ordered by timestamp ascending. An empty metric matches all metrics.
	QueryRange(ctx context.Context, source ingest.SourceID, metric string, since, until time.Time) ([]ingest.Reading, error)
	// Latest returns the most recent reading for the source.
	Latest(ctx context.Context, source ingest.SourceID) (ingest.Reading, error)
}

// sortReadings orders readings by timestamp, then metric, ascending.
func sortReadings(rs []ingest.Reading) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		}
		return rs[i].Metric < rs[j].Metric
	})
}

// matches reports whether the reading belongs to the queried range.
func matches(r ingest.Reading, source ingest.SourceID, metric string, since, until time.Time) bool {
	if r.Source != source {
		return false
	}
	if metric != "" && r.Metric != metric {
		return false
	}
	return !r.Timestamp.Before(since) && r.Timestamp.Before(until)
}
