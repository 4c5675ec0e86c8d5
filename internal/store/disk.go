package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fbecker/gridpoll/internal/ingest"
)

// dayFormat names one partition file; files sort chronologically by name.
const dayFormat = "2006-01-02"

// DiskStore is an append-only reading store partitioned by source and UTC
// day. Each partition is an NDJSON file under <dir>/<source>/<day>.ndjson
// with one reading per line. Readings are never rewritten or deleted.
type DiskStore struct {
	dir string

	mu sync.Mutex
	// index holds, per partition path, the keys of readings already
	// present. Partitions are indexed lazily on first touch.
	index map[string]map[string]struct{}
}

// NewDiskStore returns a disk store rooted at dir, creating it if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create data directory: %w", err)
	}
	return &DiskStore{
		dir:   dir,
		index: make(map[string]map[string]struct{}),
	}, nil
}

// Dir returns the store's root directory.
func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) partitionPath(source ingest.SourceID, day string) string {
	return filepath.Join(s.dir, string(source), day+".ndjson")
}

// Append writes the readings that are not already present and returns how
// many were written. Duplicate keys are silently skipped, which makes
// re-ingesting an identical window a no-op.
func (s *DiskStore) Append(ctx context.Context, readings []ingest.Reading) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Group by partition so each file is opened once per call.
	byPartition := make(map[string][]ingest.Reading)
	var paths []string
	for _, r := range readings {
		p := s.partitionPath(r.Source, r.Timestamp.UTC().Format(dayFormat))
		if _, ok := byPartition[p]; !ok {
			paths = append(paths, p)
		}
		byPartition[p] = append(byPartition[p], r)
	}
	sort.Strings(paths)

	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, path := range paths {
		n, err := s.appendPartition(path, byPartition[path])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// appendPartition writes the novel readings to one partition file.
// Callers must hold s.mu.
func (s *DiskStore) appendPartition(path string, readings []ingest.Reading) (int, error) {
	keys, err := s.loadIndex(path)
	if err != nil {
		return 0, err
	}

	var novel []ingest.Reading
	for _, r := range readings {
		if _, dup := keys[r.Key()]; dup {
			continue
		}
		// Dedupe within the batch too.
		keys[r.Key()] = struct{}{}
		novel = append(novel, r)
	}
	if len(novel) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range novel {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return 0, &WriteError{Path: path, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, &WriteError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	return len(novel), nil
}

// loadIndex returns the key set for a partition, reading the file on first
// access. Callers must hold s.mu.
func (s *DiskStore) loadIndex(path string) (map[string]struct{}, error) {
	if keys, ok := s.index[path]; ok {
		return keys, nil
	}
	keys := make(map[string]struct{})
	rs, err := s.readPartition(path)
	if err != nil {
		return nil, err
	}
	for _, r := range rs {
		keys[r.Key()] = struct{}{}
	}
	s.index[path] = keys
	return keys, nil
}

// readPartition decodes every reading in one partition file. A missing file
// is an empty partition. Undecodable lines are logged and skipped rather
// than poisoning the whole partition.
func (s *DiskStore) readPartition(path string) ([]ingest.Reading, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open partition: %w", err)
	}
	defer f.Close()

	var readings []ingest.Reading
	scan := bufio.NewScanner(f)
	line := 0
	for scan.Scan() {
		line++
		var r ingest.Reading
		if err := json.Unmarshal(scan.Bytes(), &r); err != nil {
			log.Printf("store: skipping bad line %d in %q: %v", line, path, err)
			continue
		}
		readings = append(readings, r)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("cannot read partition %q: %w", path, err)
	}
	return readings, nil
}

// QueryRange returns the source's readings in [since, until), ascending.
func (s *DiskStore) QueryRange(ctx context.Context, source ingest.SourceID, metric string, since, until time.Time) ([]ingest.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	since, until = since.UTC(), until.UTC()

	var result []ingest.Reading
	day := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	for day.Before(until) {
		rs, err := s.readPartition(s.partitionPath(source, day.Format(dayFormat)))
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			if matches(r, source, metric, since, until) {
				result = append(result, r)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	sortReadings(result)
	return result, nil
}

// Latest returns the most recent reading for the source across all
// partitions, scanning newest-day first.
func (s *DiskStore) Latest(ctx context.Context, source ingest.SourceID) (ingest.Reading, error) {
	if err := ctx.Err(); err != nil {
		return ingest.Reading{}, err
	}

	srcDir := filepath.Join(s.dir, string(source))
	entries, err := os.ReadDir(srcDir)
	if os.IsNotExist(err) {
		return ingest.Reading{}, ErrNotFound
	}
	if err != nil {
		return ingest.Reading{}, fmt.Errorf("cannot list partitions: %w", err)
	}

	var days []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".ndjson"); ok {
			days = append(days, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	for _, day := range days {
		rs, err := s.readPartition(s.partitionPath(source, day))
		if err != nil {
			return ingest.Reading{}, err
		}
		if len(rs) == 0 {
			continue
		}
		sortReadings(rs)
		return rs[len(rs)-1], nil
	}
	return ingest.Reading{}, ErrNotFound
}
