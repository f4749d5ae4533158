// Package middleware implements C7: an ordered chain of before/after/
// on_error hooks wrapped around a single dispatch, generalized from the
// teacher's HTTP-proxy middleware (pkg/audit/middleware.go's
// CreateMiddleware(config, runner) factory idiom) to the runtime core's
// tool dispatch.
package middleware

import "context"

// Request is the mutable unit of work a chain's hooks observe and may
// modify in place. Tool and Params mirror the registry's Dispatch
// parameters.
type Request struct {
	Tool   string
	Params []byte
}

// Response wraps a successful dispatch's output bytes.
type Response struct {
	Output []byte
}

// HandlerFunc is the wrapped operation a Chain dispatches once every
// Before hook has run.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Middleware is one link of a Chain. Before may return a derived context
// (spec.md section 4.7: hooks "optionally mutate the request"; a derived
// context lets a hook like logging attach a request id without a side
// channel). After and OnError never replace req. OnError returns a recovered
// Response and true to short-circuit the remaining on_error hooks and the
// whole failure; false propagates the error to the next (outer) hook. Wrap
// is the one hook that surrounds the call itself rather than observing it:
// timeout, retry, and circuit-breaker all need to invoke (or decline to
// invoke) the next link zero or more times, which Before/After cannot
// express since handle runs exactly once between them. A Middleware with a
// nil Wrap is transparent to the call.
type Middleware struct {
	Name    string
	Before  func(ctx context.Context, req *Request) (context.Context, error)
	After   func(ctx context.Context, req *Request, resp *Response) error
	OnError func(ctx context.Context, req *Request, err error) (*Response, bool)
	Wrap    func(ctx context.Context, req *Request, next HandlerFunc) (*Response, error)
}

// Chain holds an ordered sequence of middleware, M1..Mn, applied per
// spec.md section 4.7: Before hooks run M1->Mn, After and OnError run
// Mn->M1.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a Chain from an ordered middleware list.
func NewChain(mw ...Middleware) *Chain {
	return &Chain{middlewares: mw}
}

// Dispatch runs req through the chain's Before hooks, invokes handle, then
// runs After (on success) or OnError (on failure) in reverse order.
func (c *Chain) Dispatch(ctx context.Context, req *Request, handle HandlerFunc) (*Response, error) {
	for _, m := range c.middlewares {
		if m.Before == nil {
			continue
		}
		var err error
		ctx, err = m.Before(ctx, req)
		if err != nil {
			return c.recover(ctx, req, err)
		}
	}

	resp, err := c.wrapped(handle)(ctx, req)
	if err != nil {
		return c.recover(ctx, req, err)
	}

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m := c.middlewares[i]
		if m.After == nil {
			continue
		}
		if aerr := m.After(ctx, req, resp); aerr != nil {
			return c.recover(ctx, req, aerr)
		}
	}
	return resp, nil
}

// wrapped composes every middleware's Wrap hook around handle, M1 outermost
// down to Mn innermost, consistent with Before's M1->Mn ordering: M1's Wrap
// is the first thing a call enters and the last thing it leaves.
// Middlewares with a nil Wrap are skipped entirely rather than composed as
// pass-throughs.
func (c *Chain) wrapped(handle HandlerFunc) HandlerFunc {
	next := handle
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m := c.middlewares[i]
		if m.Wrap == nil {
			continue
		}
		inner := next
		wrap := m.Wrap
		next = func(ctx context.Context, req *Request) (*Response, error) {
			return wrap(ctx, req, inner)
		}
	}
	return next
}

// recover runs OnError hooks Mn->M1. The first hook that recovers
// short-circuits the remaining ones; no After hooks are re-run for a
// recovered response (spec.md section 4.7 step 4).
func (c *Chain) recover(ctx context.Context, req *Request, err error) (*Response, error) {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m := c.middlewares[i]
		if m.OnError == nil {
			continue
		}
		if resp, ok := m.OnError(ctx, req, err); ok {
			return resp, nil
		}
	}
	return nil, err
}
