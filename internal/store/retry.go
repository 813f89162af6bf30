package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// retryConfig defines exponential backoff for transient database errors.
type retryConfig struct {
	// maxAttempts is the maximum number of calls to fn.
	maxAttempts int
	// initialBackoff is multiplied by 2^(attempt-1) before each retry.
	initialBackoff time.Duration
	// maxBackoff caps the backoff. Zero means no cap.
	maxBackoff time.Duration
}

// defaultRetry covers another perfmerge process holding the database file
// briefly while it records an artifact.
var defaultRetry = retryConfig{
	maxAttempts:    6,
	initialBackoff: 20 * time.Millisecond,
	maxBackoff:     500 * time.Millisecond,
}

// isTransient reports whether a DuckDB error is worth retrying: a file lock
// held by another process, or a write-write transaction conflict.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not set lock on file") ||
		strings.Contains(msg, "conflict")
}

// withRetry calls fn until it succeeds, returns a non-transient error, or the
// attempts run out. It stops early when ctx is done.
func withRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(cfg, attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.maxAttempts, lastErr)
}

// backoff returns initialBackoff * 2^(attempt-1), capped at maxBackoff.
func backoff(cfg retryConfig, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.initialBackoff))
	if cfg.maxBackoff > 0 && d > cfg.maxBackoff {
		d = cfg.maxBackoff
	}
	return d
}
