package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/plog"
	"github.com/pforge-dev/pforge/pkg/resilience/breaker"
	"github.com/pforge-dev/pforge/pkg/resilience/retry"
)

// requestIDKey is the context key LoggingMiddleware attaches its generated
// request id under.
type requestIDKey struct{}

// RequestID returns the request id LoggingMiddleware attached to ctx, if
// any.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// LoggingMiddleware is a transparent pass-through that tags each request
// with a fresh google/uuid request id and traces it via pkg/plog.
func LoggingMiddleware() Middleware {
	return Middleware{
		Name: "logging",
		Before: func(ctx context.Context, req *Request) (context.Context, error) {
			id := uuid.NewString()
			plog.Debugw("dispatch start", "request_id", id, "tool", req.Tool)
			return context.WithValue(ctx, requestIDKey{}, id), nil
		},
		After: func(ctx context.Context, req *Request, _ *Response) error {
			id, _ := RequestID(ctx)
			plog.Debugw("dispatch ok", "request_id", id, "tool", req.Tool)
			return nil
		},
		OnError: func(ctx context.Context, req *Request, err error) (*Response, bool) {
			id, _ := RequestID(ctx)
			plog.Debugw("dispatch failed", "request_id", id, "tool", req.Tool, "error", err)
			return nil, false
		},
	}
}

// SchemaLookup resolves a tool's declared input shape, by name.
type SchemaLookup func(tool string) (config.ParamSchema, bool)

// ValidationMiddleware rejects a request whose decoded params are missing a
// field the tool's schema declares required. This is a lighter-weight gate
// than the registry's own compiled-JSON-Schema validation (it does not
// check types, patterns, or bounds) that a chain can run before a request
// ever reaches dispatch.
func ValidationMiddleware(lookup SchemaLookup) Middleware {
	return Middleware{
		Name: "validation",
		Before: func(ctx context.Context, req *Request) (context.Context, error) {
			schema, ok := lookup(req.Tool)
			if !ok {
				return ctx, nil
			}
			var params map[string]any
			if len(req.Params) > 0 {
				if err := json.Unmarshal(req.Params, &params); err != nil {
					return ctx, pforgeerrors.NewValidationError("malformed request params", err)
				}
			}
			for name, field := range schema {
				if !field.Required {
					continue
				}
				if _, present := params[name]; !present {
					return ctx, pforgeerrors.NewValidationError("missing required field: "+name, nil)
				}
			}
			return ctx, nil
		},
	}
}

// TransformMiddleware wraps user-supplied before/after functions, neither
// of which is required.
func TransformMiddleware(before func(*Request) error, after func(*Request, *Response) error) Middleware {
	return Middleware{
		Name: "transform",
		Before: func(ctx context.Context, req *Request) (context.Context, error) {
			if before == nil {
				return ctx, nil
			}
			return ctx, before(req)
		},
		After: func(_ context.Context, req *Request, resp *Response) error {
			if after == nil {
				return nil
			}
			return after(req, resp)
		},
	}
}

// RecoveryMiddleware is the one hook explicitly allowed to turn a failure
// into a success response (spec.md section 4.7). recover returns the
// recovered output and true if it handled err, or false to let the
// remaining on_error hooks (and, ultimately, the caller) see it.
func RecoveryMiddleware(recover func(req *Request, err error) ([]byte, bool)) Middleware {
	return Middleware{
		Name: "recovery",
		OnError: func(_ context.Context, req *Request, err error) (*Response, bool) {
			if recover == nil {
				return nil, false
			}
			output, ok := recover(req, err)
			if !ok {
				return nil, false
			}
			return &Response{Output: output}, true
		},
	}
}

// TimeoutLookup resolves a tool's declared timeout, by name. A false second
// return leaves the request to run with no deadline beyond ctx's own.
type TimeoutLookup func(tool string) (time.Duration, bool)

// TimeoutMiddleware races the wrapped call against the per-tool deadline
// lookup returns, via pkg/resilience/retry.WithTimeout, per spec.md section
// 4.14's configured "timeout" stage.
func TimeoutMiddleware(lookup TimeoutLookup) Middleware {
	return Middleware{
		Name: "timeout",
		Wrap: func(ctx context.Context, req *Request, next HandlerFunc) (*Response, error) {
			d, ok := lookup(req.Tool)
			if !ok || d <= 0 {
				return next(ctx, req)
			}
			out, err := retry.WithTimeout(ctx, d, func(ctx context.Context) ([]byte, error) {
				resp, err := next(ctx, req)
				if err != nil {
					return nil, err
				}
				return resp.Output, nil
			})
			if err != nil {
				return nil, err
			}
			return &Response{Output: out}, nil
		},
	}
}

// RetryMiddleware drives the wrapped call through policy's exponential
// backoff (pkg/resilience/retry.WithPolicy), per spec.md section 4.14's
// configured "retry" stage. When cb is non-nil, every attempt is additionally
// gated through the circuit breaker (C9): a call is refused outright while
// the breaker is open, and each attempt's outcome is recorded against it.
func RetryMiddleware(policy retry.Policy, cb *breaker.CircuitBreaker) Middleware {
	return Middleware{
		Name: "retry",
		Wrap: func(ctx context.Context, req *Request, next HandlerFunc) (*Response, error) {
			out, err := retry.WithPolicy(ctx, policy, func(ctx context.Context) ([]byte, error) {
				if cb == nil {
					resp, err := next(ctx, req)
					if err != nil {
						return nil, err
					}
					return resp.Output, nil
				}

				var output []byte
				cbErr := cb.Call(func() error {
					resp, err := next(ctx, req)
					if err != nil {
						return err
					}
					output = resp.Output
					return nil
				})
				if cbErr != nil {
					return nil, cbErr
				}
				return output, nil
			})
			if err != nil {
				return nil, err
			}
			return &Response{Output: out}, nil
		},
	}
}
