// Package backoff provides an explicit retry policy value object for
// collaborator calls. Callers pass a Policy to the client that needs it; there
// is no process-wide retry singleton.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy bounds retries with exponential backoff and jitter.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// Default mirrors the pipeline's configured retry bounds.
func Default() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseDelay:    5 * time.Second,
		MaxDelay:     60 * time.Second,
		JitterFactor: 0.1,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether an error was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs fn up to MaxAttempts times, sleeping an exponentially growing,
// jittered delay between attempts. Permanent errors and context cancellation
// stop retries immediately. The returned error is the last attempt's error
// unwrapped from any Permanent marker.
func (p Policy) Do(ctx context.Context, op string, logger *zap.Logger, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		sleep := p.jittered(delay)
		logger.Warn("Retrying after failure",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("sleep", sleep),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.JitterFactor <= 0 || d <= 0 {
		return clamp(d, p.MaxDelay)
	}
	spread := float64(d) * p.JitterFactor
	jitter := (rand.Float64()*2 - 1) * spread
	return clamp(time.Duration(float64(d)+jitter), p.MaxDelay)
}

func clamp(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
