// Package export selects parsed entries and renders them back to their raw lines
package export

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// Classifier assigns buckets to an entry
type Classifier interface {
	Classify(entry types.LogEntry) types.Classification
}

// Query selects entries. Empty fields match everything.
type Query struct {
	// Text matches the raw line case-insensitively
	Text string `json:"text"`

	// Level keeps only entries at this level
	Level types.Level `json:"level,omitempty"`

	// Bucket keeps only entries classified into this bucket
	Bucket string `json:"bucket,omitempty"`

	// IncludeDropped keeps entries a drop rule removed from the summary
	IncludeDropped bool `json:"includeDropped,omitempty"`
}

// Filter matches entries against a Query
type Filter struct {
	query      Query
	text       string
	classifier Classifier
}

// NewFilter creates a filter. A classifier is required when the query names
// a bucket or excludes dropped entries.
func NewFilter(query Query, classifier Classifier) (*Filter, error) {
	if query.Level != "" && !query.Level.Valid() {
		return nil, fmt.Errorf("invalid level: %s", query.Level)
	}
	if query.Bucket != "" && classifier == nil {
		return nil, fmt.Errorf("bucket filter requires triage rules")
	}
	return &Filter{
		query:      query,
		text:       strings.ToLower(query.Text),
		classifier: classifier,
	}, nil
}

// Match reports whether entry satisfies the query
func (f *Filter) Match(entry types.LogEntry) bool {
	if f.text != "" && !strings.Contains(strings.ToLower(entry.Raw), f.text) {
		return false
	}
	if f.query.Level != "" && entry.Level != f.query.Level {
		return false
	}
	if f.classifier == nil {
		return true
	}

	c := f.classifier.Classify(entry)
	if c.Drop && !f.query.IncludeDropped {
		return false
	}
	if f.query.Bucket != "" && !slices.Contains(c.Buckets, f.query.Bucket) {
		return false
	}
	return true
}

// Apply returns the matching entries in input order
func (f *Filter) Apply(entries []types.LogEntry) []types.LogEntry {
	out := make([]types.LogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Export joins the raw lines of entries with newlines. The result has no
// trailing newline.
func Export(entries []types.LogEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Raw)
	}
	return b.String()
}

// Write streams the export of entries to w
func Write(w io.Writer, entries []types.LogEntry) error {
	if _, err := io.WriteString(w, Export(entries)); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}
