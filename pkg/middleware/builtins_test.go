package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/resilience/breaker"
	"github.com/pforge-dev/pforge/pkg/resilience/retry"
)

func TestLoggingMiddleware_AttachesRequestIDToContext(t *testing.T) {
	t.Parallel()

	lm := LoggingMiddleware()
	ctx, err := lm.Before(context.Background(), &Request{Tool: "greet"})
	require.NoError(t, err)

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.NotEmpty(t, id)
}

func TestValidationMiddleware_RejectsMissingRequiredField(t *testing.T) {
	t.Parallel()

	vm := ValidationMiddleware(func(tool string) (config.ParamSchema, bool) {
		return config.ParamSchema{"name": {Required: true}}, true
	})

	_, err := vm.Before(context.Background(), &Request{Tool: "greet", Params: []byte(`{}`)})
	require.Error(t, err)
}

func TestValidationMiddleware_AllowsPresentRequiredField(t *testing.T) {
	t.Parallel()

	vm := ValidationMiddleware(func(tool string) (config.ParamSchema, bool) {
		return config.ParamSchema{"name": {Required: true}}, true
	})

	_, err := vm.Before(context.Background(), &Request{Tool: "greet", Params: []byte(`{"name":"Ada"}`)})
	require.NoError(t, err)
}

func TestValidationMiddleware_UnknownToolIsNoOp(t *testing.T) {
	t.Parallel()

	vm := ValidationMiddleware(func(string) (config.ParamSchema, bool) { return nil, false })

	_, err := vm.Before(context.Background(), &Request{Tool: "mystery", Params: []byte(`{}`)})
	require.NoError(t, err)
}

func TestTransformMiddleware_RunsUserFunctions(t *testing.T) {
	t.Parallel()

	var sawBefore, sawAfter bool
	tm := TransformMiddleware(
		func(req *Request) error { sawBefore = true; req.Tool = req.Tool + "!"; return nil },
		func(req *Request, resp *Response) error { sawAfter = true; return nil },
	)

	req := &Request{Tool: "greet"}
	_, err := tm.Before(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, sawBefore)
	assert.Equal(t, "greet!", req.Tool)

	require.NoError(t, tm.After(context.Background(), req, &Response{}))
	assert.True(t, sawAfter)
}

func TestRecoveryMiddleware_ConvertsErrorToSuccess(t *testing.T) {
	t.Parallel()

	rm := RecoveryMiddleware(func(_ *Request, err error) ([]byte, bool) {
		return []byte(`"fallback"`), true
	})

	resp, ok := rm.OnError(context.Background(), &Request{}, errors.New("boom"))
	require.True(t, ok)
	assert.Equal(t, `"fallback"`, string(resp.Output))
}

func TestRecoveryMiddleware_DeclinesToRecoverPropagatesError(t *testing.T) {
	t.Parallel()

	rm := RecoveryMiddleware(func(_ *Request, err error) ([]byte, bool) {
		return nil, false
	})

	_, ok := rm.OnError(context.Background(), &Request{}, errors.New("boom"))
	require.False(t, ok)
}

func TestTimeoutMiddleware_PassesThroughWhenNoTimeoutDeclared(t *testing.T) {
	t.Parallel()

	tm := TimeoutMiddleware(func(string) (time.Duration, bool) { return 0, false })

	called := false
	resp, err := tm.Wrap(context.Background(), &Request{Tool: "greet"}, func(context.Context, *Request) (*Response, error) {
		called = true
		return &Response{Output: []byte("ok")}, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ok", string(resp.Output))
}

func TestTimeoutMiddleware_FailsWithTimeoutWhenDeadlineElapses(t *testing.T) {
	t.Parallel()

	tm := TimeoutMiddleware(func(string) (time.Duration, bool) { return 10 * time.Millisecond, true })

	_, err := tm.Wrap(context.Background(), &Request{Tool: "slow"}, func(ctx context.Context, _ *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, pforgeerrors.IsTimeout(err))
}

func TestRetryMiddleware_RetriesRetryableFailureUntilSuccess(t *testing.T) {
	t.Parallel()

	rm := RetryMiddleware(retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 1}, nil)

	calls := 0
	resp, err := rm.Wrap(context.Background(), &Request{Tool: "flaky"}, func(context.Context, *Request) (*Response, error) {
		calls++
		if calls < 2 {
			return nil, pforgeerrors.NewTimeoutError("transient", nil)
		}
		return &Response{Output: []byte("ok")}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "ok", string(resp.Output))
}

func TestRetryMiddleware_NonRetryableFailureReturnsImmediately(t *testing.T) {
	t.Parallel()

	rm := RetryMiddleware(retry.Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, Multiplier: 1}, nil)

	calls := 0
	_, err := rm.Wrap(context.Background(), &Request{Tool: "broken"}, func(context.Context, *Request) (*Response, error) {
		calls++
		return nil, pforgeerrors.NewValidationError("bad input", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryMiddleware_OpenCircuitBreakerRefusesWithoutCallingNext(t *testing.T) {
	t.Parallel()

	cb := breaker.NewCircuitBreaker(1, time.Hour, 1)
	rm := RetryMiddleware(retry.Policy{MaxAttempts: 1, InitialBackoff: time.Millisecond, Multiplier: 1}, cb)

	calls := 0
	failing := func(context.Context, *Request) (*Response, error) {
		calls++
		return nil, pforgeerrors.NewTimeoutError("down", nil)
	}

	_, err := rm.Wrap(context.Background(), &Request{Tool: "dep"}, failing)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, breaker.CircuitOpen, cb.GetState())

	_, err = rm.Wrap(context.Background(), &Request{Tool: "dep"}, failing)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "breaker must refuse the second call without invoking next")
}
