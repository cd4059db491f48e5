// Package checkpoint persists how far each followed file has been read so a
// restarted follow resumes instead of re-triaging the file.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
)

const fileName = "positions.json"

// Position is the read offset of one file, tied to its inode
type Position struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Inode  uint64 `json:"inode"`
}

// Manager manages checkpoint persistence
type Manager struct {
	mu        sync.RWMutex
	dir       string
	positions map[string]Position
	dirty     bool
	interval  time.Duration
	logger    *logging.Logger

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a checkpoint manager and loads the positions saved in dir
func NewManager(dir string, interval time.Duration, logger *logging.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Global()
	}

	m := &Manager{
		dir:       dir,
		positions: make(map[string]Position),
		interval:  interval,
		logger:    logger.WithComponent("checkpoint"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Start saves changed positions every interval until Stop
func (m *Manager) Start() {
	go m.saveLoop()
}

// Stop ends the save loop and writes the final positions
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	select {
	case <-m.done:
	case <-time.After(m.interval):
	}
	return m.Save()
}

// Update records the offset reached in path
func (m *Manager) Update(path string, offset int64, inode uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[path] = Position{Path: path, Offset: offset, Inode: inode}
	m.dirty = true
}

// Position returns the saved offset and inode for path
func (m *Manager) Position(path string) (int64, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[path]
	return pos.Offset, pos.Inode, ok
}

// Positions returns every saved position
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// load reads checkpoints from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(filepath.Join(m.dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var positions map[string]Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
	}
	if positions != nil {
		m.positions = positions
	}
	return nil
}

// Save writes checkpoints to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	checkpointFile := filepath.Join(m.dir, fileName)

	data, err := json.MarshalIndent(m.positions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	// Write to temporary file first, then rename for atomicity
	tmpFile := checkpointFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmpFile, checkpointFile); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	m.dirty = false
	return nil
}

func (m *Manager) saveLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.RLock()
			dirty := m.dirty
			m.mu.RUnlock()
			if !dirty {
				continue
			}
			if err := m.Save(); err != nil {
				m.logger.Error().Err(err).Msg("Failed to save checkpoint")
			}
		case <-m.stopCh:
			return
		}
	}
}
