package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rendis/wfstatus/pkg/schema"
)

// RetryPolicy bounds how persistence writes are retried.
type RetryPolicy struct {
	Max      int           // extra attempts after the first
	Delay    time.Duration // base delay
	MaxDelay time.Duration // cap, zero for none
	Backoff  string        // none, constant, linear or exponential
}

// DefaultRetryPolicy retries a locked database a few times.
var DefaultRetryPolicy = RetryPolicy{Max: 3, Delay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Backoff: "exponential"}

// IsRetryableError reports whether a store error is worth another attempt.
// Structured errors never are: they describe the request, not the database.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *schema.Error
	if errors.As(err, &se) {
		return se.Code == schema.ErrCodeStore && se.Cause != nil && IsRetryableError(se.Cause)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"database is locked", "busy", "connection reset", "broken pipe", "i/o timeout"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ComputeBackoff returns the delay before retry number attempt (0-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = policy.Delay << min(attempt, 30)
	case "linear":
		delay = policy.Delay * time.Duration(attempt+1)
	default: // "none", "constant" or empty
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns ctx.Err() if ctx ends first.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withRetry calls fn until it succeeds, fails with a non-retryable error,
// or the policy is exhausted. The last error is returned.
func withRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil || !IsRetryableError(err) || attempt >= policy.Max {
			return err
		}
		if werr := WaitForBackoff(ctx, ComputeBackoff(policy, attempt)); werr != nil {
			return err
		}
	}
}
