package geosync

import (
	"context"
	"time"

	syncErrors "github.com/geodbio/geosync/errors"
)

// RetryConfig configures the retry behavior for transport operations
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int

	// InitialDelay is the initial delay between retries
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases
	Multiplier float64
}

// DefaultRetryConfig matches the service defaults: three attempts with a
// one second initial delay.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func (eb *exponentialBackoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= eb.multiplier
	}

	result := time.Duration(delay)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}

	return result
}

// withRetry runs operation, retrying transient failures per config. Fatal
// errors and context cancellation return immediately.
func withRetry(ctx context.Context, config *RetryConfig, operation func() error) error {
	if config == nil {
		return operation()
	}

	eb := &exponentialBackoff{
		initialDelay: config.InitialDelay,
		maxDelay:     config.MaxDelay,
		multiplier:   config.Multiplier,
	}

	// Initial attempt, no delay
	err := operation()
	if err == nil {
		return nil
	}

	if !syncErrors.IsRetryable(err) {
		return err
	}

	// Starting from 1 since we already did attempt 0
	for attempt := 1; attempt < config.MaxAttempts; attempt++ {
		delay := eb.nextDelay(attempt - 1)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		err = operation()
		if err == nil {
			return nil
		}

		if !syncErrors.IsRetryable(err) {
			return err
		}
	}

	return err
}
