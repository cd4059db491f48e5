package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
)

// WriterSink writes each result as JSON to an io.Writer
type WriterSink struct {
	name   string
	w      io.Writer
	pretty bool
	mu     sync.Mutex
	closed atomic.Bool
}

// NewWriterSink creates a sink over w
func NewWriterSink(name string, w io.Writer, pretty bool) *WriterSink {
	return &WriterSink{name: name, w: w, pretty: pretty}
}

// NewStdoutSink writes indented JSON to standard output
func NewStdoutSink() *WriterSink {
	return NewWriterSink("stdout", os.Stdout, true)
}

// Send writes the result
func (s *WriterSink) Send(ctx context.Context, result *pipeline.Result) error {
	if s.closed.Load() {
		return fmt.Errorf("%s sink is closed", s.name)
	}

	data, err := Encode(result, s.pretty)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// Close marks the sink closed. The writer is left open.
func (s *WriterSink) Close() error {
	s.closed.Store(true)
	return nil
}

// Name returns the sink name
func (s *WriterSink) Name() string {
	return s.name
}

// FileConfig configures a FileSink
type FileConfig struct {
	BaseConfig `yaml:",inline"`

	// Path of the report file. The compression extension is appended.
	Path string `yaml:"path"`

	// Pretty indents the JSON
	Pretty bool `yaml:"pretty,omitempty"`
}

// FileSink writes each result to a file, replacing the previous report
type FileSink struct {
	config     FileConfig
	compressor Compressor
	mu         sync.Mutex
	closed     atomic.Bool
}

// NewFileSink creates a file sink
func NewFileSink(config FileConfig) (*FileSink, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("no file path specified")
	}

	compressor, err := GetCompressor(config.Compression)
	if err != nil {
		return nil, err
	}

	return &FileSink{config: config, compressor: compressor}, nil
}

// Path returns the file the sink writes to
func (s *FileSink) Path() string {
	return s.config.Path + s.config.Compression.Extension()
}

// Send encodes, compresses and atomically replaces the report file
func (s *FileSink) Send(ctx context.Context, result *pipeline.Result) error {
	if s.closed.Load() {
		return fmt.Errorf("file sink is closed")
	}

	data, err := Encode(result, s.config.Pretty)
	if err != nil {
		return err
	}
	data, err = s.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("failed to compress report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace report: %w", err)
	}
	return nil
}

// Close marks the sink closed
func (s *FileSink) Close() error {
	s.closed.Store(true)
	return nil
}

// Name returns the sink name
func (s *FileSink) Name() string {
	if s.config.Name != "" {
		return s.config.Name
	}
	return "file"
}
