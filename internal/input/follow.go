package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
)

// FollowConfig configures a FollowSource
type FollowConfig struct {
	Path         string        `yaml:"path"`
	FromEnd      bool          `yaml:"from_end,omitempty"`      // Start at the end of the file instead of the beginning
	PollInterval time.Duration `yaml:"poll_interval,omitempty"` // Fallback wake-up when no file events arrive
}

// Checkpointer stores how far a followed file has been read
type Checkpointer interface {
	Position(path string) (offset int64, inode uint64, ok bool)
	Update(path string, offset int64, inode uint64)
}

// FollowOption configures a FollowSource
type FollowOption func(*FollowSource)

// WithCheckpoint resumes from and records positions in c
func WithCheckpoint(c Checkpointer) FollowOption {
	return func(s *FollowSource) {
		s.positions = c
	}
}

// FollowSource reads a growing file until its context is cancelled,
// reopening the path when the file is rotated
type FollowSource struct {
	config  FollowConfig
	logger  *logging.Logger
	watcher *fsnotify.Watcher

	file    *os.File
	reader  *bufio.Reader
	inode   uint64
	offset  int64 // Bytes of the current file consumed by returned lines
	partial string
	closed  atomic.Bool

	positions Checkpointer
}

// NewFollowSource opens the file and starts watching its directory. With a
// checkpoint for the same file, reading resumes at the saved offset.
func NewFollowSource(config FollowConfig, logger *logging.Logger, opts ...FollowOption) (*FollowSource, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("follow path is required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Global()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so rotation (remove + create) is observed
	if err := watcher.Add(filepath.Dir(config.Path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	s := &FollowSource{
		config:  config,
		logger:  logger.WithComponent("follow").WithField("path", config.Path),
		watcher: watcher,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.open(config.FromEnd); err != nil {
		watcher.Close()
		return nil, err
	}
	s.resume()

	return s, nil
}

// Name returns the followed path
func (s *FollowSource) Name() string {
	return s.config.Path
}

// Next blocks until a complete line is available or ctx ends
func (s *FollowSource) Next(ctx context.Context) (string, error) {
	for {
		if s.closed.Load() {
			return "", ErrSourceClosed
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if s.reader != nil {
			chunk, err := s.reader.ReadString('\n')
			if err == nil {
				line := s.partial + chunk
				s.partial = ""
				s.offset += int64(len(line))
				if s.positions != nil {
					s.positions.Update(s.config.Path, s.offset, s.inode)
				}
				return trimEOL(line), nil
			}
			if err != io.EOF {
				return "", fmt.Errorf("failed to read %s: %w", s.config.Path, err)
			}
			// Keep an unterminated tail until the writer finishes the line
			s.partial += chunk
		}

		if err := s.wait(ctx); err != nil {
			return "", err
		}
	}
}

// wait blocks until the file may have new data
func (s *FollowSource) wait(ctx context.Context) error {
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			s.checkRotation()
			return nil

		case event, ok := <-s.watcher.Events:
			if !ok {
				return ErrSourceClosed
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.config.Path) {
				continue
			}
			switch {
			case event.Has(fsnotify.Write):
				return nil
			case event.Has(fsnotify.Create), event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				s.logger.Info().Str("op", event.Op.String()).Msg("File rotation detected")
				s.checkRotation()
				return nil
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return ErrSourceClosed
			}
			s.logger.Error().Err(err).Msg("File watcher error")
		}
	}
}

// checkRotation reopens the path when it now refers to a different file
func (s *FollowSource) checkRotation() {
	stat, err := os.Stat(s.config.Path)
	if err != nil {
		return
	}
	if s.file != nil && getInode(stat) == s.inode {
		// Truncated in place
		if pos, err := s.file.Seek(0, io.SeekCurrent); err == nil && stat.Size() < pos {
			s.logger.Info().Msg("File truncated, reading from start")
			if _, err := s.file.Seek(0, io.SeekStart); err == nil {
				s.reader.Reset(s.file)
				s.partial = ""
				s.offset = 0
			}
		}
		return
	}

	if err := s.open(false); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reopen file")
	}
}

// open opens the configured path, closing any previous file
func (s *FollowSource) open(fromEnd bool) error {
	file, err := os.Open(s.config.Path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat file: %w", err)
	}

	var offset int64
	if fromEnd {
		if offset, err = file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return fmt.Errorf("failed to seek file: %w", err)
		}
	}

	if s.file != nil {
		s.file.Close()
	}

	s.file = file
	s.reader = bufio.NewReader(file)
	s.inode = getInode(stat)
	s.offset = offset
	s.partial = ""
	s.logger.Debug().Uint64("inode", s.inode).Bool("from_end", fromEnd).Msg("Following file")
	return nil
}

// resume seeks to the checkpointed offset when it belongs to the open file
// and the file has not been truncated below it
func (s *FollowSource) resume() {
	if s.positions == nil {
		return
	}
	offset, inode, ok := s.positions.Position(s.config.Path)
	if !ok || inode != s.inode {
		return
	}
	stat, err := s.file.Stat()
	if err != nil || offset > stat.Size() {
		return
	}
	if _, err := s.file.Seek(offset, io.SeekStart); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to seek to checkpoint")
		return
	}
	s.reader.Reset(s.file)
	s.offset = offset
	s.logger.Info().Int64("offset", offset).Msg("Resuming from checkpoint")
}

// Close stops watching and closes the file
func (s *FollowSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.watcher.Close()
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// getInode extracts inode from FileInfo
func getInode(fi os.FileInfo) uint64 {
	if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
