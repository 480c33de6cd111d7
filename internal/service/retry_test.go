package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Jitter: 0.2}
}

func TestRetryPolicy_StopsOnSuccess(t *testing.T) {
	calls := 0
	res := fastPolicy(5).Run(context.Background(), func(ctx context.Context, attempt int) Result {
		calls++
		if attempt < 3 {
			return Conflict(errors.New("stale"))
		}
		return Ok()
	})

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	res := fastPolicy(4).Run(context.Background(), func(ctx context.Context, attempt int) Result {
		return Unavailable(errors.New("down"))
	})

	assert.Equal(t, OutcomeRetriesExhausted, res.Outcome)
	assert.Equal(t, OutcomeStoreUnavailable, res.Cause)
	assert.Equal(t, 4, res.Attempts)
	assert.EqualError(t, res.Err, "down")
}

func TestRetryPolicy_RejectedIsFinal(t *testing.T) {
	calls := 0
	res := fastPolicy(5).Run(context.Background(), func(ctx context.Context, attempt int) Result {
		calls++
		return Rejected(errors.New("no"))
	})

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 10, InitialInterval: time.Hour, MaxInterval: time.Hour}

	res := policy.Run(ctx, func(ctx context.Context, attempt int) Result {
		cancel()
		return Conflict(errors.New("stale"))
	})

	assert.Equal(t, OutcomeRetriesExhausted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	RetryPolicy{}.Run(context.Background(), func(ctx context.Context, attempt int) Result {
		calls++
		return Conflict(nil)
	})
	assert.Equal(t, 1, calls)
}
