package retry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
)

func TestWithTimeout_ReturnsTimeoutWhenDeadlineElapses(t *testing.T) {
	t.Parallel()

	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.Error(t, err)
	assert.True(t, pforgeerrors.IsTimeout(err))
}

func TestWithTimeout_ReturnsResultWhenFnCompletesInTime(t *testing.T) {
	t.Parallel()

	out, err := WithTimeout(context.Background(), time.Second, func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
}

func TestWithPolicy_AlwaysRetryableOperationInvokedExactlyMaxAttemptsTimes(t *testing.T) {
	t.Parallel()

	var calls int32
	policy := Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Multiplier: 2}

	_, err := WithPolicy(context.Background(), policy, func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, pforgeerrors.NewHandlerError("timeout talking to upstream", nil)
	})

	require.Error(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.True(t, pforgeerrors.IsHandler(err))
}

func TestWithPolicy_NonRetryableFailureReturnsImmediately(t *testing.T) {
	t.Parallel()

	var calls int32
	policy := Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Multiplier: 2}

	_, err := WithPolicy(context.Background(), policy, func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, pforgeerrors.NewValidationError("bad input", nil)
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWithPolicy_SucceedsOnSubsequentAttempt(t *testing.T) {
	t.Parallel()

	var calls int32
	policy := Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Multiplier: 2}

	out, err := WithPolicy(context.Background(), policy, func(context.Context) ([]byte, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return nil, pforgeerrors.NewTimeoutError("timed out", nil)
		}
		return []byte("done"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", string(out))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestComputeBackoff_MonotonicWithoutJitter(t *testing.T) {
	t.Parallel()

	policy := Policy{InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2, Jitter: false}

	var prev time.Duration
	for k := 0; k < 10; k++ {
		d := computeBackoff(policy, k)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, policy.MaxBackoff)
		prev = d
	}
}

func TestComputeBackoff_JitterBoundedAt110PercentOfMax(t *testing.T) {
	t.Parallel()

	policy := Policy{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, Multiplier: 3, Jitter: true}

	for k := 0; k < 50; k++ {
		d := computeBackoff(policy, k+5) // deep enough that the base is capped at MaxBackoff
		assert.LessOrEqual(t, d, time.Duration(float64(policy.MaxBackoff)*1.1))
	}
}
