package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/wfstatus/pkg/schema"
)

func TestIsRetryableError_Nil(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
}

func TestIsRetryableError_Context(t *testing.T) {
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(context.DeadlineExceeded))
}

func TestIsRetryableError_StructuredErrors(t *testing.T) {
	for _, code := range []string{
		schema.ErrCodeValidation,
		schema.ErrCodeNotFound,
		schema.ErrCodeConflict,
		schema.ErrCodeInvalidTransition,
		schema.ErrCodeDecode,
	} {
		assert.False(t, IsRetryableError(schema.NewError(code, "database is locked")), code)
	}

	wrapped := schema.NewError(schema.ErrCodeStore, "append").WithCause(errors.New("database is locked"))
	assert.True(t, IsRetryableError(wrapped))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeStore, "append")))
}

func TestIsRetryableError_Patterns(t *testing.T) {
	for _, msg := range []string{"database is locked", "SQLITE_BUSY", "connection reset by peer", "broken pipe", "i/o timeout"} {
		assert.True(t, IsRetryableError(errors.New(msg)), msg)
	}
	assert.False(t, IsRetryableError(errors.New("no such table: workflows")))
}

func TestComputeBackoff(t *testing.T) {
	base := 10 * time.Millisecond

	exp := RetryPolicy{Delay: base, Backoff: "exponential"}
	assert.Equal(t, base, ComputeBackoff(exp, 0))
	assert.Equal(t, 20*time.Millisecond, ComputeBackoff(exp, 1))
	assert.Equal(t, 80*time.Millisecond, ComputeBackoff(exp, 3))

	lin := RetryPolicy{Delay: base, Backoff: "linear"}
	assert.Equal(t, 30*time.Millisecond, ComputeBackoff(lin, 2))

	constant := RetryPolicy{Delay: base, Backoff: "constant"}
	assert.Equal(t, base, ComputeBackoff(constant, 5))

	capped := RetryPolicy{Delay: base, MaxDelay: 25 * time.Millisecond, Backoff: "exponential"}
	assert.Equal(t, 25*time.Millisecond, ComputeBackoff(capped, 4))

	assert.Zero(t, ComputeBackoff(RetryPolicy{Backoff: "exponential"}, 3))
}

func TestComputeBackoff_LargeAttemptDoesNotOverflow(t *testing.T) {
	p := RetryPolicy{Delay: time.Millisecond, MaxDelay: time.Second, Backoff: "exponential"}
	assert.Equal(t, time.Second, ComputeBackoff(p, 1000))
}

func TestWaitForBackoff(t *testing.T) {
	require.NoError(t, WaitForBackoff(context.Background(), 0))
	require.NoError(t, WaitForBackoff(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, time.Hour), context.Canceled)
}

func TestWithRetry_RetriesBusyThenSucceeds(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), RetryPolicy{Max: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), RetryPolicy{Max: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return schema.NewError(schema.ErrCodeConflict, "duplicate")
	})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
	assert.Equal(t, 1, calls)
}

func TestWithRetry_Exhausted(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), RetryPolicy{Max: 2}, func(context.Context) error {
		calls++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, RetryPolicy{Max: 5, Delay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("database is locked")
	})
	assert.EqualError(t, err, "database is locked")
	assert.Equal(t, 1, calls)
}
