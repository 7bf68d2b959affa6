// Package streamlog appends every stored poll result to an hourly-rotated
// JSON log, giving downstream consumers a replayable feed independent of the
// time-series store.
package streamlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer appends records to files named YYYYMMDD_HH (UTC, by record
// timestamp) under a directory, rotating as the hour of the incoming
// timestamps advances.
type Writer struct {
	dir string

	mu   sync.Mutex
	name string
	f    *os.File
}

// New creates a streaming log writer rooted at dir.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create streaming log dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Store appends one record as a JSON line. The record's timestamp, not the
// wall clock, picks the file, so replayed or slightly delayed results land
// with their peers.
func (w *Writer) Store(timestamp int64, record interface{}) error {
	buf, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal streaming log record: %w", err)
	}

	name := time.Unix(timestamp, 0).UTC().Format("20060102_15")

	w.mu.Lock()
	defer w.mu.Unlock()

	if name != w.name {
		if err := w.rotate(name); err != nil {
			return err
		}
	}

	if _, err := w.f.Write(append(buf, '\n')); err != nil {
		return fmt.Errorf("failed to write streaming log: %w", err)
	}
	return nil
}

// rotate opens the new hour's file before closing the old one, so a failed
// open leaves the writer on its current file and the next call retries.
func (w *Writer) rotate(name string) error {
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open streaming log %s: %w", name, err)
	}

	if w.f != nil {
		w.f.Close()
	}
	w.name = name
	w.f = f
	return nil
}

// Close flushes and closes the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	w.name = ""
	return err
}
