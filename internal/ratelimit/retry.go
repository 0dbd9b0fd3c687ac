package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PermanentError wraps an error that must never be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not retryable. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Policy is a bounded retry with deterministic exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *zap.Logger

	sleep func(context.Context, time.Duration) error
}

func NewPolicy(maxAttempts int, base time.Duration, log *zap.Logger) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: base, Logger: log}
}

// Backoff returns the wait after the given failed attempt (1-based):
// base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// WithRetry runs op until it succeeds or MaxAttempts attempts have failed,
// returning the last error. Permanent errors and context cancellation stop
// immediately.
func WithRetry[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	log := p.Logger
	if log == nil {
		log = zap.L()
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = Sleep
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		log.Warn("attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if IsPermanent(err) || ctx.Err() != nil {
			return zero, lastErr
		}
		if attempt == attempts {
			break
		}

		delay := Backoff(p.BaseDelay, attempt)
		log.Debug("retrying", zap.Duration("delay", delay))
		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Do is WithRetry for operations without a result.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := WithRetry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
