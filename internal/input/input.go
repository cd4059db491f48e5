package input

import (
	"context"
	"errors"
	"strings"
)

// ErrSourceClosed is returned by Next after Close
var ErrSourceClosed = errors.New("source is closed")

// Source yields raw log lines one at a time. Next returns io.EOF when a
// finite source is exhausted and ctx.Err() when the context ends first.
type Source interface {
	// Name identifies the source in logs and metrics
	Name() string

	// Next returns the next line without its line terminator
	Next(ctx context.Context) (string, error)

	// Close releases the source
	Close() error
}

// trimEOL removes a trailing "\n" or "\r\n"
func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
