package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watermarks tracks, per source, the end of the last successfully ingested
// window. It is persisted to a small JSON file after every update so a
// restart resumes without re-fetching or gapping.
type Watermarks struct {
	mu    sync.Mutex
	path  string
	marks map[SourceID]time.Time
}

// OpenWatermarks loads the watermark file at path, creating an empty set if
// the file does not exist yet.
func OpenWatermarks(path string) (*Watermarks, error) {
	w := &Watermarks{
		path:  path,
		marks: make(map[SourceID]time.Time),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read watermark file: %w", err)
	}
	var raw map[SourceID]time.Time
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse watermark file %q: %w", path, err)
	}
	for id, t := range raw {
		w.marks[id] = t.UTC()
	}
	return w, nil
}

// Get returns the watermark for the source and whether one exists.
func (w *Watermarks) Get(id SourceID) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.marks[id]
	return t, ok
}

// Set advances the watermark for the source and persists the file.
// Watermarks are monotonic: moving one backward is rejected.
func (w *Watermarks) Set(id SourceID, t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t = t.UTC()
	if prev, ok := w.marks[id]; ok && t.Before(prev) {
		return fmt.Errorf("watermark for %s would move backward (%s < %s)", id, t.Format(time.RFC3339), prev.Format(time.RFC3339))
	}
	w.marks[id] = t
	return w.flush()
}

// flush writes the file atomically via a temp file and rename.
// Callers must hold w.mu.
func (w *Watermarks) flush() error {
	data, err := json.MarshalIndent(w.marks, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".watermarks-*")
	if err != nil {
		return fmt.Errorf("cannot create watermark temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write watermark file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot close watermark file: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("cannot replace watermark file: %w", err)
	}
	return nil
}
