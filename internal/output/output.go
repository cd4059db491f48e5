package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// Sink delivers a triage result to a destination
type Sink interface {
	// Send delivers one result
	Send(ctx context.Context, result *pipeline.Result) error

	// Close releases resources
	Close() error

	// Name returns the sink name used in metrics and logs
	Name() string
}

// CompressionType defines the compression algorithm to use
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionSnappy CompressionType = "snappy"
)

// BaseConfig contains configuration shared by all sinks
type BaseConfig struct {
	// Name is a unique identifier for this sink instance
	Name string `yaml:"name,omitempty"`

	// Compression applies to sinks that write objects or files
	Compression CompressionType `yaml:"compression,omitempty"`

	// Timeout bounds a single send attempt
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultBaseConfig returns a base config with sensible defaults
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Compression: CompressionNone,
		Timeout:     30 * time.Second,
	}
}

// FindingDocument is a single detector finding tagged with its run
type FindingDocument struct {
	RunID       string                `json:"runId"`
	GeneratedAt time.Time             `json:"generatedAt"`
	Finding     types.DetectionResult `json:"finding"`
}

// Findings splits a result's findings into standalone documents
func Findings(result *pipeline.Result) []FindingDocument {
	docs := make([]FindingDocument, 0, len(result.Summary.Findings))
	for _, f := range result.Summary.Findings {
		docs = append(docs, FindingDocument{
			RunID:       result.Summary.RunID,
			GeneratedAt: result.Summary.GeneratedAt,
			Finding:     f,
		})
	}
	return docs
}

// Encode renders a result as JSON. HTML characters in log text are not escaped.
func Encode(result *pipeline.Result, pretty bool) ([]byte, error) {
	if result == nil || result.Summary == nil {
		return nil, fmt.Errorf("result has no summary")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a report produced by Encode
func Decode(data []byte) (*pipeline.Result, error) {
	var result pipeline.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if result.Summary == nil {
		return nil, fmt.Errorf("result has no summary")
	}
	return &result, nil
}
