package fingerprint

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// Fingerprint returns a stable 16 character hex identifier for a
// (level, service, message) triple. Each field is length prefixed so no
// field content can shift into its neighbour.
func Fingerprint(level types.Level, service, message string) string {
	d := xxhash.New()
	for _, field := range []string{string(level), service, message} {
		var n [binary.MaxVarintLen64]byte
		d.Write(n[:binary.PutUvarint(n[:], uint64(len(field)))])
		d.Write([]byte(field))
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Of fingerprints an entry
func Of(entry types.LogEntry) string {
	return Fingerprint(entry.Level, entry.Service, entry.Message)
}

// Issue is one distinct (level, service, message) combination and how often it occurred
type Issue struct {
	Fingerprint string      `json:"fingerprint"`
	Count       int         `json:"count"`
	FirstSeen   int         `json:"firstSeen"`
	Level       types.Level `json:"level"`
	Service     string      `json:"service,omitempty"`
	Message     string      `json:"message"`
}

// Table is a fingerprint frequency table. It is not safe for concurrent use.
type Table struct {
	issues map[string]*Issue
	seen   int
}

// NewTable creates an empty frequency table
func NewTable() *Table {
	return &Table{issues: make(map[string]*Issue)}
}

// Add records one entry and returns its fingerprint
func (t *Table) Add(entry types.LogEntry) string {
	fp := Of(entry)
	if issue, ok := t.issues[fp]; ok {
		issue.Count++
	} else {
		t.issues[fp] = &Issue{
			Fingerprint: fp,
			Count:       1,
			FirstSeen:   t.seen,
			Level:       entry.Level,
			Service:     entry.Service,
			Message:     entry.Message,
		}
	}
	t.seen++
	return fp
}

// Merge folds other into t as if other's entries had been added after t's
func (t *Table) Merge(other *Table) {
	if other == nil {
		return
	}
	for fp, issue := range other.issues {
		if existing, ok := t.issues[fp]; ok {
			existing.Count += issue.Count
			continue
		}
		merged := *issue
		merged.FirstSeen += t.seen
		t.issues[fp] = &merged
	}
	t.seen += other.seen
}

// Len returns the number of distinct fingerprints
func (t *Table) Len() int {
	return len(t.issues)
}

// Seen returns the number of entries added, including merged tables
func (t *Table) Seen() int {
	return t.seen
}

// Top returns the n most frequent issues, ties broken by first occurrence.
// n <= 0 returns every issue.
func (t *Table) Top(n int) []Issue {
	out := make([]Issue, 0, len(t.issues))
	for _, issue := range t.issues {
		out = append(out, *issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].FirstSeen < out[j].FirstSeen
	})

	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
