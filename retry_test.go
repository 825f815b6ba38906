package geosync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	syncErrors "github.com/geodbio/geosync/errors"
)

func testRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetry_Success(t *testing.T) {
	err := withRetry(context.Background(), testRetryConfig(), func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestWithRetry_RetryableError(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), testRetryConfig(), func() error {
		attempts++
		if attempts < 2 {
			return syncErrors.NewNetworkError(syncErrors.OpFetch, fmt.Errorf("temporary error"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), testRetryConfig(), func() error {
		attempts++
		return syncErrors.NewAuthError(syncErrors.OpFetch, fmt.Errorf("bad token"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithRetry_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), testRetryConfig(), func() error {
		attempts++
		return syncErrors.NewServerError(syncErrors.OpFetch, fmt.Errorf("still down"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := withRetry(ctx, testRetryConfig(), func() error {
		attempts++
		cancel()
		return syncErrors.NewNetworkError(syncErrors.OpFetch, fmt.Errorf("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithRetry_NoConfig(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), nil, func() error {
		attempts++
		return syncErrors.NewNetworkError(syncErrors.OpFetch, fmt.Errorf("flaky"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt without config, got %d", attempts)
	}
}

func TestExponentialBackoff(t *testing.T) {
	eb := &exponentialBackoff{
		initialDelay: 10 * time.Millisecond,
		maxDelay:     50 * time.Millisecond,
		multiplier:   2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 10 * time.Millisecond},
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{3, 50 * time.Millisecond}, // capped
		{10, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := eb.nextDelay(tt.attempt); got != tt.want {
			t.Errorf("nextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
