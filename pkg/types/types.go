package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Level is one of the five canonical severities
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Levels returns the canonical levels in ascending severity order
func Levels() []Level {
	return []Level{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal}
}

// Valid reports whether l is a canonical level
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// UnassignedBucket collects entries that no rule assigned to a bucket
const UnassignedBucket = "unassigned"

// LogEntry is the normalized form of one raw log line
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Service   string         `json:"service,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Raw       string         `json:"raw"`
}

// StringSet is a rule field that accepts either a single string or a list of strings
type StringSet []string

// Contains reports whether v is a member of the set
func (s StringSet) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// UnmarshalYAML accepts a scalar or a sequence
func (s *StringSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = StringSet{v}
		return nil
	case yaml.SequenceNode:
		var v []string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = StringSet(v)
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}

// UnmarshalJSON accepts a string or an array of strings
func (s *StringSet) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var v []string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = StringSet(v)
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*s = StringSet{v}
	return nil
}

// WhereClause is the predicate half of a rule. Absent fields match everything.
type WhereClause struct {
	Level    StringSet `yaml:"level,omitempty" json:"level,omitempty"`
	Service  StringSet `yaml:"service,omitempty" json:"service,omitempty"`
	Contains StringSet `yaml:"contains,omitempty" json:"contains,omitempty"`
	Regex    string    `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// Action is applied when a rule's where clause matches
type Action struct {
	Bucket  string    `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	AddTag  StringSet `yaml:"addTag,omitempty" json:"addTag,omitempty"`
	Elevate string    `yaml:"elevate,omitempty" json:"elevate,omitempty"`
	Drop    bool      `yaml:"drop,omitempty" json:"drop,omitempty"`
}

// TriageRule pairs a where clause with an action. Position in the rule list is its priority.
type TriageRule struct {
	Name   string      `yaml:"name,omitempty" json:"name,omitempty"`
	Where  WhereClause `yaml:"where" json:"where"`
	Action Action      `yaml:"action" json:"action"`
}

// Classification is the per-entry result of evaluating a rule set
type Classification struct {
	Buckets []string `json:"buckets"`
	Tags    []string `json:"tags"`
	Drop    bool     `json:"drop"`
	Elevate string   `json:"elevate,omitempty"`
}

// Bucket accumulates statistics for one classification group
type Bucket struct {
	Name    string         `json:"name"`
	Count   int            `json:"count"`
	Levels  map[Level]int  `json:"levels"`
	Tags    map[string]int `json:"tags"`
	Samples []LogEntry     `json:"samples"`
}

// NewBucket returns an empty bucket
func NewBucket(name string) *Bucket {
	return &Bucket{
		Name:    name,
		Levels:  make(map[Level]int),
		Tags:    make(map[string]int),
		Samples: []LogEntry{},
	}
}

// Severity of a detection finding
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// MitreMapping identifies an ATT&CK technique
type MitreMapping struct {
	Tactic      string `yaml:"tactic" json:"tactic"`
	Technique   string `yaml:"technique" json:"technique"`
	TechniqueID string `yaml:"technique_id" json:"techniqueId"`
}

// DetectionResult is a finding emitted by a named heuristic
type DetectionResult struct {
	Name     string       `json:"name"`
	Severity Severity     `json:"severity"`
	Count    int          `json:"count"`
	Mitre    MitreMapping `json:"mitre"`
}

// Summary is the final artifact of a triage run
type Summary struct {
	RunID       string             `json:"runId"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Total       int                `json:"total"`
	Dropped     int                `json:"dropped"`
	Buckets     map[string]*Bucket `json:"buckets"`
	Tags        map[string]int     `json:"tags"`
	Levels      map[Level]int      `json:"levels"`
	Services    map[string]int     `json:"services"`
	Findings    []DetectionResult  `json:"findings"`
}

// Unmatched returns the unassigned bucket, or an empty one when nothing went unmatched
func (s *Summary) Unmatched() *Bucket {
	if b, ok := s.Buckets[UnassignedBucket]; ok {
		return b
	}
	return NewBucket(UnassignedBucket)
}

// BucketTotal returns the sum of all bucket counts
func (s *Summary) BucketTotal() int {
	total := 0
	for _, b := range s.Buckets {
		total += b.Count
	}
	return total
}
