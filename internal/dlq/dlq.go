// Package dlq spools triage reports that could not be delivered so they can
// be inspected and replayed later.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDLQClosed = errors.New("DLQ is closed")
	ErrDLQFull   = errors.New("DLQ is full")
)

const fileName = "dlq.jsonl"

// Config holds configuration for the dead letter queue
type Config struct {
	Dir     string        `yaml:"dir"`
	MaxSize int           `yaml:"max_size,omitempty"` // Maximum number of reports
	MaxAge  time.Duration `yaml:"max_age,omitempty"`  // Reports older than this are discarded
}

// Entry is one report a sink failed to accept
type Entry struct {
	RunID     string          `json:"runId"`
	Sink      string          `json:"sink"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
	Retries   int             `json:"retries"`
	Report    json.RawMessage `json:"report"`
}

// Queue is a file-backed dead letter queue. Every mutation is persisted
// before it returns.
type Queue struct {
	config Config
	path   string
	clock  func() time.Time

	mu      sync.Mutex
	entries []*Entry
	closed  bool

	enqueued atomic.Uint64
	replayed atomic.Uint64
	dropped  atomic.Uint64
}

// New opens the queue in config.Dir, loading reports left by earlier runs
func New(config Config) (*Queue, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("DLQ directory is required")
	}
	if config.MaxSize == 0 {
		config.MaxSize = 1000
	}
	if config.MaxAge == 0 {
		config.MaxAge = 7 * 24 * time.Hour
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DLQ directory: %w", err)
	}

	q := &Queue{
		config: config,
		path:   filepath.Join(config.Dir, fileName),
		clock:  time.Now,
	}

	if err := q.load(); err != nil {
		return nil, fmt.Errorf("failed to load DLQ: %w", err)
	}

	return q, nil
}

// Enqueue records that sink rejected the report of runID with cause
func (q *Queue) Enqueue(sink, runID string, report []byte, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrDLQClosed
	}

	q.prune()
	if len(q.entries) >= q.config.MaxSize {
		q.dropped.Add(1)
		return ErrDLQFull
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.entries = append(q.entries, &Entry{
		RunID:     runID,
		Sink:      sink,
		Error:     msg,
		Timestamp: q.clock().UTC(),
		Report:    append(json.RawMessage(nil), report...),
	})
	q.enqueued.Add(1)

	return q.flush()
}

// Entries returns a copy of the queued reports, oldest first
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of queued reports
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// ReplayFunc redelivers one queued report
type ReplayFunc func(ctx context.Context, entry Entry) error

// Replay hands every queued report to fn, oldest first. Reports fn accepts
// are removed; rejected ones stay queued with their retry count and error
// updated. Replay stops early when ctx ends.
func (q *Queue) Replay(ctx context.Context, fn ReplayFunc) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrDLQClosed
	}

	var errs []error
	remaining := q.entries[:0:0]
	delivered := 0

	for i, entry := range q.entries {
		if ctx.Err() != nil {
			remaining = append(remaining, q.entries[i:]...)
			errs = append(errs, ctx.Err())
			break
		}

		if err := fn(ctx, *entry); err != nil {
			entry.Retries++
			entry.Error = err.Error()
			remaining = append(remaining, entry)
			errs = append(errs, fmt.Errorf("%s/%s: %w", entry.Sink, entry.RunID, err))
			continue
		}
		delivered++
		q.replayed.Add(1)
	}

	q.entries = remaining
	if err := q.flush(); err != nil {
		errs = append(errs, err)
	}
	return delivered, errors.Join(errs...)
}

// Clear removes all reports
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrDLQClosed
	}
	q.entries = nil
	return q.flush()
}

// Close flushes and closes the queue
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrDLQClosed
	}
	q.closed = true
	return q.flush()
}

// Stats holds DLQ statistics
type Stats struct {
	Enqueued    uint64
	Replayed    uint64
	Dropped     uint64
	CurrentSize int
	MaxSize     int
}

// Stats returns queue statistics
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Enqueued:    q.enqueued.Load(),
		Replayed:    q.replayed.Load(),
		Dropped:     q.dropped.Load(),
		CurrentSize: len(q.entries),
		MaxSize:     q.config.MaxSize,
	}
}

// Utilization returns the DLQ utilization percentage (0-100)
func (s Stats) Utilization() float64 {
	if s.MaxSize == 0 {
		return 0
	}
	return (float64(s.CurrentSize) / float64(s.MaxSize)) * 100.0
}

// prune drops reports older than MaxAge (must be called with lock held)
func (q *Queue) prune() {
	cutoff := q.clock().Add(-q.config.MaxAge)
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	q.entries = kept
}

// flush persists entries to disk (must be called with lock held)
func (q *Queue) flush() error {
	tempFile := q.path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	encoder := json.NewEncoder(file)
	for _, entry := range q.entries {
		if err := encoder.Encode(entry); err != nil {
			file.Close()
			os.Remove(tempFile)
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempFile, q.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// load reads entries from disk
func (q *Queue) load() error {
	file, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open DLQ file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		q.entries = append(q.entries, &entry)
	}

	q.prune()
	return nil
}
