package store

import (
	"context"
	"sync"
	"time"

	"github.com/fbecker/gridpoll/internal/ingest"
)

// MemoryStore is a concurrency-safe in-memory implementation of Interface.
// It backs tests and short-lived runs where persistence is not wanted.
type MemoryStore struct {
	mu sync.RWMutex

	// key: reading key, per source
	data map[ingest.SourceID]map[string]ingest.Reading
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[ingest.SourceID]map[string]ingest.Reading),
	}
}

// Append stores the readings whose keys are not already present and
// returns how many were added.
func (s *MemoryStore) Append(ctx context.Context, readings []ingest.Reading) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, r := range readings {
		bySource, ok := s.data[r.Source]
		if !ok {
			bySource = make(map[string]ingest.Reading)
			s.data[r.Source] = bySource
		}
		key := r.Key()
		if _, dup := bySource[key]; dup {
			continue
		}
		bySource[key] = r
		written++
	}
	return written, nil
}

// Count returns the total number of stored readings.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, bySource := range s.data {
		n += len(bySource)
	}
	return n
}

// QueryRange returns the source's readings in [since, until), ascending.
func (s *MemoryStore) QueryRange(ctx context.Context, source ingest.SourceID, metric string, since, until time.Time) ([]ingest.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ingest.Reading
	for _, r := range s.data[source] {
		if matches(r, source, metric, since, until) {
			result = append(result, r)
		}
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	sortReadings(result)
	return result, nil
}

// Latest returns the most recent reading for the source.
func (s *MemoryStore) Latest(ctx context.Context, source ingest.SourceID) (ingest.Reading, error) {
	if err := ctx.Err(); err != nil {
		return ingest.Reading{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bySource := s.data[source]
	if len(bySource) == 0 {
		return ingest.Reading{}, ErrNotFound
	}
	var all []ingest.Reading
	for _, r := range bySource {
		all = append(all, r)
	}
	sortReadings(all)
	return all[len(all)-1], nil
}
