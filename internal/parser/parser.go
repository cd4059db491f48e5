package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// ISOLayout is the timestamp layout used for generated and converted timestamps
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

// Strategy converts a trimmed, non-empty line into an entry, or reports false to fall through
type Strategy interface {
	// Parse attempts to build an entry. now is the processing time used for defaults.
	Parse(line string, now time.Time) (types.LogEntry, bool)

	// Name returns the strategy name
	Name() string
}

// Chain tries its strategies in order; the first success wins
type Chain struct {
	strategies []Strategy
	clock      func() time.Time
}

// Option configures a Chain
type Option func(*Chain)

// WithClock overrides the processing-time source
func WithClock(clock func() time.Time) Option {
	return func(c *Chain) {
		c.clock = clock
	}
}

// WithPatterns inserts user-defined pattern strategies ahead of the fallback
func WithPatterns(patterns ...*PatternStrategy) Option {
	return func(c *Chain) {
		extra := make([]Strategy, 0, len(patterns))
		for _, p := range patterns {
			extra = append(extra, p)
		}
		last := len(c.strategies) - 1
		strategies := make([]Strategy, 0, len(c.strategies)+len(extra))
		strategies = append(strategies, c.strategies[:last]...)
		strategies = append(strategies, extra...)
		strategies = append(strategies, c.strategies[last])
		c.strategies = strategies
	}
}

// NewChain creates the default chain: structured, bracketed, loose, fallback
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		strategies: []Strategy{
			NewStructuredStrategy(),
			NewBracketedStrategy(),
			NewLooseStrategy(),
			NewFallbackStrategy(),
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Parse converts one raw line into an entry. Blank lines yield false.
func (c *Chain) Parse(raw string) (types.LogEntry, bool) {
	entry, _, ok := c.ParseNamed(raw)
	return entry, ok
}

// ParseNamed is Parse that also reports which strategy produced the entry
func (c *Chain) ParseNamed(raw string) (types.LogEntry, string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return types.LogEntry{}, "", false
	}

	now := c.clock()
	for _, s := range c.strategies {
		entry, ok := s.Parse(line, now)
		if !ok {
			continue
		}
		entry.Raw = raw
		return entry, s.Name(), true
	}

	// Unreachable while the fallback strategy is last
	return types.LogEntry{
		Timestamp: formatTime(now),
		Level:     types.LevelInfo,
		Message:   line,
		Raw:       raw,
	}, "fallback", true
}

// Strategies returns the strategy names in evaluation order
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// ParseTimestamp attempts to parse a timestamp from a string using multiple formats
func ParseTimestamp(ts string, formats ...string) (time.Time, error) {
	if len(formats) == 0 {
		formats = DefaultTimeFormats()
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp: %s", ts)
}

// DefaultTimeFormats returns common timestamp formats
func DefaultTimeFormats() []string {
	return []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05,000",
		"2006/01/02 15:04:05",
		time.RFC1123Z,
		time.RFC1123,
		"02/Jan/2006:15:04:05 -0700",
		"Jan 02, 2006 15:04:05",
	}
}

// toISO converts a textual timestamp to ISOLayout, keeping the input when it cannot be parsed
func toISO(ts string, formats ...string) string {
	t, err := ParseTimestamp(strings.TrimSpace(ts), formats...)
	if err != nil {
		return ts
	}
	return formatTime(t)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}
