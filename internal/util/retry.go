package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry with exponential backoff
type RetryConfig struct {
	MaxRetries int           // retries after the first attempt (-1 = unlimited)
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration
	Multiplier float64 // default 2.0
	Jitter     float64 // 0.0 - 1.0

	// RetryIf decides whether an error is worth another attempt.
	// nil retries everything except errors marked non-retryable.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the defaults used for chain reads
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

// ErrMaxRetriesExceeded is joined with the last error when attempts run out
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// RetryWithValue calls fn until it succeeds, the error is not retryable,
// attempts run out, or ctx is done. The attempt number (starting at 1) is
// passed to fn so callers can rotate endpoints between attempts.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func(attempt int) (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var zero T
	res := &RetryResult{}
	start := time.Now()

	for {
		res.Attempts++
		val, err := fn(res.Attempts)
		if err == nil {
			res.LastError = nil
			res.Duration = time.Since(start)
			return val, res
		}
		res.LastError = err

		if !shouldRetry(config, err) {
			res.Duration = time.Since(start)
			return zero, res
		}
		if config.MaxRetries >= 0 && res.Attempts > config.MaxRetries {
			res.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			res.Duration = time.Since(start)
			return zero, res
		}

		timer := time.NewTimer(backoff(config, res.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastError = errors.Join(err, ctx.Err())
			res.Duration = time.Since(start)
			return zero, res
		case <-timer.C:
		}
	}
}

// Retry is RetryWithValue for functions without a result.
func Retry(ctx context.Context, config *RetryConfig, fn func(attempt int) error) *RetryResult {
	_, res := RetryWithValue(ctx, config, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return res
}

func shouldRetry(config *RetryConfig, err error) bool {
	if IsNonRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if config.RetryIf != nil {
		return config.RetryIf(err)
	}
	return true
}

// backoff returns baseDelay * multiplier^(attempt-1) with jitter, clamped to MaxDelay
func backoff(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if config.Jitter > 0 {
		spread := delay * config.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}
	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

// NonRetryableError wraps an error that must not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return errors.As(err, &nr)
}

// MarkNonRetryable marks an error as non-retryable
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}
