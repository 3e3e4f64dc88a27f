package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func transient() error {
	return &StatusError{URL: "http://registry", StatusCode: 503}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), FixedRetryConfig(3, time.Millisecond), func(_ context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_SuccessAfterRetry(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), FixedRetryConfig(3, time.Millisecond), func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, transient()
		}
		return 0, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_ExhaustsRetries(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), FixedRetryConfig(3, time.Millisecond), func(_ context.Context) (int, error) {
		calls++
		return 0, transient()
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), FixedRetryConfig(3, time.Millisecond), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent error: bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry for non-transient), got %d", calls)
	}
}

func TestRetry_RetryAll(t *testing.T) {
	var calls int
	cfg := FixedRetryConfig(3, time.Millisecond)
	cfg.ShouldRetry = RetryAll

	_, _ = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("anything")
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int

	_, err := DoVal(ctx, FixedRetryConfig(5, 50*time.Millisecond), func(_ context.Context) (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, transient()
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls before cancel took effect, got %d", calls)
	}
}

func TestRetry_OnRetryCallback(t *testing.T) {
	var retryAttempts []int
	cfg := FixedRetryConfig(3, time.Millisecond)
	cfg.OnRetry = func(attempt int, _ error) {
		retryAttempts = append(retryAttempts, attempt)
	}

	_, _ = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, transient()
	})

	if len(retryAttempts) != 2 {
		t.Fatalf("expected 2 OnRetry calls, got %d", len(retryAttempts))
	}
	if retryAttempts[0] != 1 || retryAttempts[1] != 2 {
		t.Errorf("expected attempts [1, 2], got %v", retryAttempts)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), FixedRetryConfig(3, time.Millisecond), func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", transient()
		}
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "hello" {
		t.Errorf("expected %q, got %q", "hello", val)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), FixedRetryConfig(2, time.Millisecond), func(_ context.Context) (int, error) {
		return 42, transient()
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != 0 {
		t.Errorf("expected zero value on failure, got %d", val)
	}
}

func TestRetry_DefaultConfig(t *testing.T) {
	// Verify defaults are applied when zero config is given.
	var calls atomic.Int32
	_, err := DoVal(context.Background(), RetryConfig{}, func(_ context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}

	cfg := applyDefaults(RetryConfig{})
	if cfg.MaxAttempts != 3 || cfg.Backoff != 500*time.Millisecond || cfg.Multiplier != 1 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestComputeBackoff_Fixed(t *testing.T) {
	cfg := applyDefaults(FixedRetryConfig(3, 500*time.Millisecond))
	for attempt := 0; attempt < 4; attempt++ {
		if d := computeBackoff(attempt, cfg); d != 500*time.Millisecond {
			t.Errorf("attempt %d: expected 500ms, got %v", attempt, d)
		}
	}
}

func TestComputeBackoff_Growth(t *testing.T) {
	cfg := applyDefaults(RetryConfig{Backoff: 100 * time.Millisecond, Multiplier: 2})

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, want := range expected {
		if d := computeBackoff(i, cfg); d != want {
			t.Errorf("attempt %d: expected %v, got %v", i, want, d)
		}
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := applyDefaults(RetryConfig{Backoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 10})

	if delay := computeBackoff(5, cfg); delay != 5*time.Second {
		t.Errorf("expected delay capped at 5s, got %v", delay)
	}
}

func TestRetryLogger(t *testing.T) {
	t.Parallel()
	// Just verify it doesn't panic.
	logger := RetryLogger("opencellid", "count")
	logger(1, errors.New("test error"))
}
