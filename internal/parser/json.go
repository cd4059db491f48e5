package parser

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// Field names tried in order when extracting from structured lines
var (
	timeFields    = []string{"ts", "time", "timestamp"}
	levelFields   = []string{"level", "severity"}
	serviceFields = []string{"service", "app", "name"}
	messageFields = []string{"message", "msg", "error"}
	metaFields    = []string{"meta", "context"}
)

// StructuredStrategy parses JSON object lines
type StructuredStrategy struct{}

// NewStructuredStrategy creates a new structured strategy
func NewStructuredStrategy() *StructuredStrategy {
	return &StructuredStrategy{}
}

// Parse decodes a JSON object line. Lines that are not objects fall through.
func (s *StructuredStrategy) Parse(line string, now time.Time) (types.LogEntry, bool) {
	if !strings.HasPrefix(line, "{") && !strings.HasPrefix(line, "[") {
		return types.LogEntry{}, false
	}

	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil || data == nil {
		return types.LogEntry{}, false
	}
	// Trailing content after the object means the line is not a single JSON value
	if dec.More() {
		return types.LogEntry{}, false
	}

	entry := types.LogEntry{
		Timestamp: formatTime(now),
		Level:     types.LevelInfo,
	}

	if v, ok := firstField(data, timeFields); ok {
		entry.Timestamp = stringify(v)
	}
	if v, ok := firstField(data, levelFields); ok {
		entry.Level = NormalizeLevel(stringify(v))
	}
	if v, ok := firstField(data, serviceFields); ok {
		entry.Service = stringify(v)
	}
	if v, ok := firstField(data, messageFields); ok {
		entry.Message = stringify(v)
	}

	entry.Metadata = data
	for _, field := range metaFields {
		v, ok := data[field]
		if !ok || v == nil {
			continue
		}
		if m, isMap := v.(map[string]any); isMap {
			entry.Metadata = m
		} else {
			entry.Metadata = map[string]any{field: v}
		}
		break
	}

	return entry, true
}

// Name returns the strategy name
func (s *StructuredStrategy) Name() string {
	return "structured"
}

// firstField returns the first non-null value among keys
func firstField(data map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := data[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// stringify renders a decoded JSON value as text
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(out)
	}
}
