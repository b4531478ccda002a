package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds the exponential backoff settings for one kind of call.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first (default: 3)
	BaseDelay   time.Duration // delay before the second attempt (default: 1s)
	MaxDelay    time.Duration // cap for any single delay (default: 30s)
	JitterRatio float64       // jitter as fraction of delay, 0.0-1.0
}

// DefaultRetryConfig returns 3 attempts, 1s base delay, 30s cap, 20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		JitterRatio: 0.2,
	}
}

func (c RetryConfig) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

func (c RetryConfig) delay(attempt int) time.Duration {
	// Clamp in float64 so a large attempt count cannot overflow Duration.
	d := float64(c.BaseDelay) * math.Pow(2, float64(attempt))
	if c.JitterRatio > 0 {
		d += rand.Float64() * c.JitterRatio * d
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// retryHinter is implemented by errors that carry a server supplied wait,
// e.g. a rate limit response with retry_after.
type retryHinter interface {
	RetryDelay() time.Duration
}

// wait returns the pause before the next attempt. A server hint longer than
// the backoff wins, still capped by MaxDelay.
func (c RetryConfig) wait(attempt int, err error) time.Duration {
	d := c.delay(attempt)
	var h retryHinter
	if errors.As(err, &h) {
		if hint := h.RetryDelay(); hint > d {
			d = hint
			if c.MaxDelay > 0 && d > c.MaxDelay {
				d = c.MaxDelay
			}
		}
	}
	return d
}

// withRetry runs fn until it succeeds, returns a Permanent error, runs out of
// attempts, or ctx is done. It returns the number of attempts made.
func withRetry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) (int, error) {
	max := cfg.attempts()
	var err error
	for attempt := 0; attempt < max; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if IsPermanent(err) || attempt == max-1 {
			return attempt + 1, err
		}

		select {
		case <-ctx.Done():
			return attempt + 1, ctx.Err()
		case <-time.After(cfg.wait(attempt, err)):
		}
	}
	return max, err
}
