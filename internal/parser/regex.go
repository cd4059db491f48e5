package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// PatternConfig describes a user-defined line pattern
type PatternConfig struct {
	Name       string `yaml:"name" json:"name"`
	Pattern    string `yaml:"pattern,omitempty" json:"pattern,omitempty"`         // Named groups: timestamp, level, service, message
	Grok       string `yaml:"grok,omitempty" json:"grok,omitempty"`               // Template name or %{...} expression, used when Pattern is empty
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"` // Optional Go layout for the timestamp group
}

// Reserved group names mapped onto entry fields
var entryGroups = map[string]bool{
	"timestamp": true,
	"level":     true,
	"service":   true,
	"message":   true,
}

// PatternStrategy parses lines using a regular expression with named groups
type PatternStrategy struct {
	name       string
	pattern    *regexp.Regexp
	timeFormat string
}

// NewPatternStrategy creates a new pattern strategy
func NewPatternStrategy(cfg PatternConfig) (*PatternStrategy, error) {
	expr := cfg.Pattern
	if expr == "" && cfg.Grok != "" {
		expanded, err := ExpandGrok(strings.TrimSpace(cfg.Grok))
		if err != nil {
			return nil, fmt.Errorf("failed to expand grok pattern: %w", err)
		}
		expr = expanded
	}
	if expr == "" {
		return nil, fmt.Errorf("regex or grok pattern is required")
	}

	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}

	name := cfg.Name
	switch {
	case name != "":
	case cfg.Pattern == "" && isGrokTemplate(cfg.Grok):
		name = strings.TrimSpace(cfg.Grok)
	default:
		name = "pattern"
	}

	return &PatternStrategy{
		name:       name,
		pattern:    pattern,
		timeFormat: cfg.TimeFormat,
	}, nil
}

// Parse matches the configured pattern and maps named groups onto the entry.
// Groups other than the reserved ones are kept as metadata.
func (p *PatternStrategy) Parse(line string, now time.Time) (types.LogEntry, bool) {
	match := p.pattern.FindStringSubmatch(line)
	if match == nil {
		return types.LogEntry{}, false
	}

	fields := make(map[string]string)
	var meta map[string]any
	for i, name := range p.pattern.SubexpNames() {
		if i == 0 || name == "" || i >= len(match) {
			continue
		}
		fields[name] = match[i]
		if !entryGroups[name] {
			if meta == nil {
				meta = make(map[string]any)
			}
			meta[name] = match[i]
		}
	}

	entry := types.LogEntry{
		Timestamp: formatTime(now),
		Level:     NormalizeLevel(fields["level"]),
		Service:   strings.TrimSpace(fields["service"]),
		Message:   line,
		Metadata:  meta,
	}

	if ts, ok := fields["timestamp"]; ok && ts != "" {
		if p.timeFormat != "" {
			entry.Timestamp = toISO(ts, p.timeFormat)
		} else {
			entry.Timestamp = toISO(ts)
		}
	}

	if msg, ok := fields["message"]; ok {
		entry.Message = msg
	}

	return entry, true
}

// Name returns the strategy name
func (p *PatternStrategy) Name() string {
	return p.name
}
