package ingest

import (
	"fmt"
	"time"
)

// SourceID identifies one external data provider. The set is closed:
// dispatching on an unknown id is a programming error, not a config error.
type SourceID string

const (
	SourceMeter   SourceID = "meter"
	SourcePrice   SourceID = "power-price"
	SourceWeather SourceID = "weather"
)

// KnownSource reports whether id is one of the supported providers.
func KnownSource(id SourceID) bool {
	switch id {
	case SourceMeter, SourcePrice, SourceWeather:
		return true
	}
	return false
}

// Reading is one normalized data point from a source.
// (Source, Metric, Timestamp) is the unique key within the store.
type Reading struct {
	Source    SourceID  `json:"source"`
	Timestamp time.Time `json:"timestamp"` // always UTC
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
}

// Key returns the canonical dedup key for this reading.
func (r Reading) Key() string {
	return string(r.Source) + "|" + r.Metric + "|" + r.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Validate checks the reading is storable.
func (r Reading) Validate() error {
	if !KnownSource(r.Source) {
		return fmt.Errorf("unknown source %q", r.Source)
	}
	if r.Metric == "" {
		return fmt.Errorf("reading from %s has empty metric", r.Source)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("reading %s/%s has zero timestamp", r.Source, r.Metric)
	}
	return nil
}

// PollWindow is the half-open time range [Since, Until) requested from a
// source on one poll cycle.
type PollWindow struct {
	Since time.Time
	Until time.Time
}

// Valid reports whether the window is non-empty.
func (w PollWindow) Valid() bool {
	return w.Since.Before(w.Until)
}

// Contains reports whether t falls within [Since, Until).
func (w PollWindow) Contains(t time.Time) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}

func (w PollWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Since.Format(time.RFC3339), w.Until.Format(time.RFC3339))
}
