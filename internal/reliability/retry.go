package reliability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrRetryAborted       = errors.New("retry aborted")
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         bool          `yaml:"jitter"`
}

// DefaultRetryConfig returns the retry policy used by network sinks
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// RetryFunc is a function that can be retried
type RetryFunc func(ctx context.Context) error

// permanentError marks an error that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry returns it without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry executes fn with exponential backoff. MaxRetries counts retries after
// the first attempt.
func Retry(ctx context.Context, config RetryConfig, fn RetryFunc) error {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}

		backoff := ExponentialBackoff(attempt, config.InitialBackoff, config.Multiplier, config.MaxBackoff)
		if config.Jitter {
			backoff = addJitter(backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrRetryAborted, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

// isRetryable reports whether err should trigger another attempt
func isRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// addJitter spreads d by ±20%
func addJitter(d time.Duration) time.Duration {
	jitter := float64(d) * 0.2
	return time.Duration(float64(d) + rand.Float64()*jitter - jitter/2)
}

// ExponentialBackoff calculates the wait before retry number attempt+1
func ExponentialBackoff(attempt int, initial time.Duration, multiplier float64, max time.Duration) time.Duration {
	backoff := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	return backoff
}
