package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{200, time.Second},
		{5000, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.delay(tt.attempt); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryConfig_DelayNeverNegative(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, JitterRatio: 0.5}
	for _, attempt := range []int{40, 64, 100, 1000} {
		if got := cfg.delay(attempt); got <= 0 {
			t.Errorf("delay(%d) = %v, want positive", attempt, got)
		}
	}
}

func TestRetryConfig_DelayJitterBounded(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, JitterRatio: 0.2}
	for i := 0; i < 50; i++ {
		got := cfg.delay(0)
		if got < 100*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("delay(0) = %v, want within [100ms, 120ms]", got)
		}
	}
}

type hintedError struct{ after time.Duration }

func (e hintedError) Error() string             { return "rate limited" }
func (e hintedError) RetryDelay() time.Duration { return e.after }

func TestRetryConfig_WaitHonoursHint(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 5 * time.Second}

	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"no hint", errors.New("boom"), 10 * time.Millisecond},
		{"longer hint", hintedError{after: 3 * time.Second}, 3 * time.Second},
		{"wrapped hint", fmt.Errorf("send: %w", hintedError{after: 2 * time.Second}), 2 * time.Second},
		{"shorter hint", hintedError{after: time.Millisecond}, 10 * time.Millisecond},
		{"hint over cap", hintedError{after: time.Minute}, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.wait(0, tt.err); got != tt.want {
				t.Errorf("wait = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		attempts, err := withRetry(context.Background(), cfg, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil || attempts != 3 {
			t.Errorf("attempts=%d err=%v, want 3/nil", attempts, err)
		}
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		calls := 0
		attempts, err := withRetry(context.Background(), cfg, func(context.Context) error {
			calls++
			return Permanent(errors.New("bad request"))
		})
		if !IsPermanent(err) || attempts != 1 || calls != 1 {
			t.Errorf("attempts=%d calls=%d err=%v", attempts, calls, err)
		}
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour}
		attempts, err := withRetry(ctx, slow, func(context.Context) error {
			return errors.New("transient")
		})
		if !errors.Is(err, context.Canceled) || attempts != 1 {
			t.Errorf("attempts=%d err=%v", attempts, err)
		}
	})
}
