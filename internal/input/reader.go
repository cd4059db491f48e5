package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// ReaderSource reads lines from an io.Reader. Lines have no length limit.
type ReaderSource struct {
	name   string
	reader *bufio.Reader
	closer io.Closer
	closed atomic.Bool
}

// NewReaderSource creates a source over r. If r is an io.Closer it is closed by Close.
func NewReaderSource(name string, r io.Reader) *ReaderSource {
	s := &ReaderSource{
		name:   name,
		reader: bufio.NewReaderSize(r, 64*1024),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NewFileSource opens path as a line source
func NewFileSource(path string) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	return NewReaderSource(path, f), nil
}

// NewStdinSource reads lines from standard input. Close leaves stdin open.
func NewStdinSource() *ReaderSource {
	return NewReaderSource("stdin", io.NopCloser(os.Stdin))
}

// Name returns the source name
func (s *ReaderSource) Name() string {
	return s.name
}

// Next returns the next line. A final line without a terminator is still returned.
func (s *ReaderSource) Next(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return trimEOL(line), nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
		return "", fmt.Errorf("failed to read from %s: %w", s.name, err)
	}
	return trimEOL(line), nil
}

// Close closes the underlying reader when it is closable
func (s *ReaderSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// SliceSource yields lines from memory
type SliceSource struct {
	name  string
	lines []string
	pos   int
}

// NewSliceSource creates a source over lines
func NewSliceSource(name string, lines []string) *SliceSource {
	return &SliceSource{name: name, lines: lines}
}

// Name returns the source name
func (s *SliceSource) Name() string {
	return s.name
}

// Next returns the next line
func (s *SliceSource) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.lines) {
		return "", io.EOF
	}
	line := s.lines[s.pos]
	s.pos++
	return line, nil
}

// Close is a no-op
func (s *SliceSource) Close() error {
	return nil
}

// SplitLines partitions lines into at most n contiguous ranges
func SplitLines(name string, lines []string, n int) []Source {
	if n < 1 {
		n = 1
	}
	if n > len(lines) {
		n = len(lines)
	}
	if n == 0 {
		return []Source{NewSliceSource(name, nil)}
	}

	sources := make([]Source, 0, n)
	for i := 0; i < n; i++ {
		start := len(lines) * i / n
		end := len(lines) * (i + 1) / n
		sources = append(sources, NewSliceSource(fmt.Sprintf("%s[%d]", name, i), lines[start:end]))
	}
	return sources
}

// sharedFile closes the underlying file when the last partition is closed
type sharedFile struct {
	file *os.File
	refs int
	mu   sync.Mutex
}

func (f *sharedFile) release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs--
	if f.refs == 0 {
		return f.file.Close()
	}
	return nil
}

type sectionCloser struct {
	*io.SectionReader
	shared *sharedFile
	once   sync.Once
}

func (s *sectionCloser) Close() error {
	var err error
	s.once.Do(func() {
		err = s.shared.release()
	})
	return err
}

// SplitFile partitions a file into at most n contiguous byte ranges that
// start and end on line boundaries. Each range can be read concurrently.
func SplitFile(path string, n int) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat input file: %w", err)
	}
	size := stat.Size()

	if n < 1 {
		n = 1
	}

	boundaries := []int64{0}
	for i := 1; i < n; i++ {
		guess := size * int64(i) / int64(n)
		if guess <= boundaries[len(boundaries)-1] {
			continue
		}
		next, err := nextLineStart(f, guess, size)
		if err != nil {
			f.Close()
			return nil, err
		}
		if next > boundaries[len(boundaries)-1] && next < size {
			boundaries = append(boundaries, next)
		}
	}
	boundaries = append(boundaries, size)

	shared := &sharedFile{file: f, refs: len(boundaries) - 1}
	sources := make([]Source, 0, len(boundaries)-1)
	for i := 0; i+1 < len(boundaries); i++ {
		section := &sectionCloser{
			SectionReader: io.NewSectionReader(f, boundaries[i], boundaries[i+1]-boundaries[i]),
			shared:        shared,
		}
		sources = append(sources, NewReaderSource(fmt.Sprintf("%s[%d]", path, i), section))
	}
	return sources, nil
}

// nextLineStart returns the offset just past the first newline at or after off
func nextLineStart(f *os.File, off, size int64) (int64, error) {
	buf := make([]byte, 4096)
	for off < size {
		n, err := f.ReadAt(buf, off)
		for i := 0; i < n; i++ {
			if buf[i] == '\n' {
				return off + int64(i) + 1, nil
			}
		}
		off += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to scan input file: %w", err)
		}
	}
	return size, nil
}
