package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

var (
	// [2025-01-01T00:00:00Z] [ERROR] service: message, brackets optional
	bracketedPattern = regexp.MustCompile(`^\[?([^\]]+)\]?\s+\[?([A-Za-z]+)\]?\s+([^:]+):\s*(.*)$`)

	// LEVEL - message
	loosePattern = regexp.MustCompile(`(?i)^(DEBUG|INFO|WARN|WARNING|ERROR|FATAL)\s*-\s*(.*)$`)
)

// BracketedStrategy parses "[ts] [LEVEL] service: message" lines
type BracketedStrategy struct {
	timeFormats []string
}

// NewBracketedStrategy creates a new bracketed text strategy
func NewBracketedStrategy() *BracketedStrategy {
	return &BracketedStrategy{timeFormats: DefaultTimeFormats()}
}

// Parse matches the bracketed pattern
func (s *BracketedStrategy) Parse(line string, now time.Time) (types.LogEntry, bool) {
	m := bracketedPattern.FindStringSubmatch(line)
	if m == nil {
		return types.LogEntry{}, false
	}

	return types.LogEntry{
		Timestamp: toISO(m[1], s.timeFormats...),
		Level:     NormalizeLevel(m[2]),
		Service:   strings.TrimSpace(m[3]),
		Message:   m[4],
	}, true
}

// Name returns the strategy name
func (s *BracketedStrategy) Name() string {
	return "bracketed"
}

// LooseStrategy parses "LEVEL - message" lines
type LooseStrategy struct{}

// NewLooseStrategy creates a new loose strategy
func NewLooseStrategy() *LooseStrategy {
	return &LooseStrategy{}
}

// Parse matches the loose pattern
func (s *LooseStrategy) Parse(line string, now time.Time) (types.LogEntry, bool) {
	m := loosePattern.FindStringSubmatch(line)
	if m == nil {
		return types.LogEntry{}, false
	}

	return types.LogEntry{
		Timestamp: formatTime(now),
		Level:     NormalizeLevel(m[1]),
		Message:   m[2],
	}, true
}

// Name returns the strategy name
func (s *LooseStrategy) Name() string {
	return "loose"
}

// FallbackStrategy wraps the whole line as an info message. It never fails.
type FallbackStrategy struct{}

// NewFallbackStrategy creates a new fallback strategy
func NewFallbackStrategy() *FallbackStrategy {
	return &FallbackStrategy{}
}

// Parse always succeeds
func (s *FallbackStrategy) Parse(line string, now time.Time) (types.LogEntry, bool) {
	return types.LogEntry{
		Timestamp: formatTime(now),
		Level:     types.LevelInfo,
		Message:   line,
	}, true
}

// Name returns the strategy name
func (s *FallbackStrategy) Name() string {
	return "fallback"
}
