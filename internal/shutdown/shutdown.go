package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
)

// Manager handles graceful shutdown of the application. Registered stages run
// one at a time in reverse registration order, so the HTTP server registered
// last stops accepting triage requests before the sinks it writes to close.
type Manager struct {
	logger       *logging.Logger
	timeout      time.Duration
	stages       []stage
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	gracefulDone chan struct{}
	err          error
}

type stage struct {
	name string
	fn   ShutdownFunc
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:       cfg.Logger.WithComponent("shutdown"),
		timeout:      cfg.Timeout,
		ctx:          ctx,
		cancel:       cancel,
		gracefulDone: make(chan struct{}),
	}
}

// RegisterFunc registers a shutdown function to be called during shutdown
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("stage", name).Msg("Registered shutdown function")
	m.stages = append(m.stages, stage{name: name, fn: fn})
}

// RegisterCloser registers a function without a context, such as a sink's Close
func (m *Manager) RegisterCloser(name string, fn func() error) {
	m.RegisterFunc(name, func(context.Context) error { return fn() })
}

// Context is cancelled as soon as shutdown begins. Triage runs use it so an
// interrupt still yields the partial summary.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// WaitForSignal blocks until a shutdown signal is received or Shutdown is called
func (m *Manager) WaitForSignal(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().
			Str("signal", sig.String()).
			Msg("Shutdown signal received")
		m.Shutdown()
	case <-m.ctx.Done():
		// Already shutting down
	}
}

// CancelOnSignal cancels Context on the first signal without running the
// stages, leaving the caller to finish its work and call Shutdown
func (m *Manager) CancelOnSignal(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			m.logger.Info().Str("signal", sig.String()).Msg("Interrupted, finishing with partial results")
			m.cancel()
		case <-m.ctx.Done():
		}
	}()
}

// Shutdown initiates graceful shutdown and returns once every stage has run
// or the timeout expired
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.cancel()
		m.err = m.performShutdown()
		close(m.gracefulDone)
	})
	<-m.gracefulDone
	return m.err
}

// performShutdown executes the stages in reverse registration order
func (m *Manager) performShutdown() error {
	m.mu.Lock()
	stages := make([]stage, len(m.stages))
	copy(stages, m.stages)
	m.mu.Unlock()

	m.logger.Debug().
		Dur("timeout", m.timeout).
		Int("stages", len(stages)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(stages) - 1; i >= 0; i-- {
		s := stages[i]

		done := make(chan error, 1)
		go func() { done <- s.fn(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				m.logger.Error().Err(err).Str("stage", s.name).Msg("Shutdown function failed")
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			}
		case <-ctx.Done():
			m.logger.Warn().
				Dur("timeout", m.timeout).
				Str("stage", s.name).
				Msg("Graceful shutdown timed out, abandoning remaining stages")
			return errors.Join(append(errs, fmt.Errorf("%s: %w", s.name, ctx.Err()))...)
		}
	}

	if len(errs) > 0 {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
	} else {
		m.logger.Debug().Msg("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

// Done returns a channel that is closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.gracefulDone
}

// HandlePanic recovers from panics and initiates shutdown
func (m *Manager) HandlePanic() {
	if r := recover(); r != nil {
		m.logger.Error().
			Interface("panic", r).
			Msg("Panic recovered, initiating shutdown")
		m.Shutdown()
		// Re-panic to maintain normal panic behavior
		panic(r)
	}
}

// WaitWithTimeout waits for shutdown to complete with a timeout
func (m *Manager) WaitWithTimeout(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown did not complete within %v", timeout)
	}
}
