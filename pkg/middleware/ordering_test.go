package middleware_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pforge-dev/pforge/pkg/middleware"
)

func recordingMiddleware(name string, trace *[]string) middleware.Middleware {
	return middleware.Middleware{
		Name: name,
		Before: func(ctx context.Context, _ *middleware.Request) (context.Context, error) {
			*trace = append(*trace, name+":before")
			return ctx, nil
		},
		After: func(_ context.Context, _ *middleware.Request, _ *middleware.Response) error {
			*trace = append(*trace, name+":after")
			return nil
		},
		OnError: func(_ context.Context, _ *middleware.Request, _ error) (*middleware.Response, bool) {
			*trace = append(*trace, name+":on_error")
			return nil, false
		},
	}
}

var _ = Describe("Chain ordering", func() {
	var trace []string

	BeforeEach(func() {
		trace = nil
	})

	It("runs Before hooks M1..Mn and After hooks Mn..M1 on success", func() {
		chain := middleware.NewChain(
			recordingMiddleware("m1", &trace),
			recordingMiddleware("m2", &trace),
			recordingMiddleware("m3", &trace),
		)

		_, err := chain.Dispatch(context.Background(), &middleware.Request{Tool: "t"}, func(context.Context, *middleware.Request) (*middleware.Response, error) {
			trace = append(trace, "handler")
			return &middleware.Response{}, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(trace).To(Equal([]string{
			"m1:before", "m2:before", "m3:before",
			"handler",
			"m3:after", "m2:after", "m1:after",
		}))
	})

	It("runs OnError hooks Mn..M1 on failure, propagating when none recover", func() {
		chain := middleware.NewChain(
			recordingMiddleware("m1", &trace),
			recordingMiddleware("m2", &trace),
		)
		wantErr := errors.New("boom")

		_, err := chain.Dispatch(context.Background(), &middleware.Request{Tool: "t"}, func(context.Context, *middleware.Request) (*middleware.Response, error) {
			trace = append(trace, "handler")
			return nil, wantErr
		})

		Expect(err).To(MatchError(wantErr))
		Expect(trace).To(Equal([]string{
			"m1:before", "m2:before",
			"handler",
			"m2:on_error", "m1:on_error",
		}))
	})

	It("short-circuits remaining OnError hooks once one recovers, without re-running After", func() {
		recovered := &middleware.Response{Output: []byte(`"recovered"`)}
		recovering := middleware.Middleware{
			Name: "recovering",
			OnError: func(context.Context, *middleware.Request, error) (*middleware.Response, bool) {
				trace = append(trace, "recovering:on_error")
				return recovered, true
			},
		}
		neverCalled := middleware.Middleware{
			Name: "outer",
			After: func(context.Context, *middleware.Request, *middleware.Response) error {
				trace = append(trace, "outer:after")
				return nil
			},
			OnError: func(context.Context, *middleware.Request, error) (*middleware.Response, bool) {
				trace = append(trace, "outer:on_error")
				return nil, false
			},
		}

		chain := middleware.NewChain(neverCalled, recovering)

		resp, err := chain.Dispatch(context.Background(), &middleware.Request{Tool: "t"}, func(context.Context, *middleware.Request) (*middleware.Response, error) {
			return nil, errors.New("boom")
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(Equal(recovered))
		Expect(trace).To(Equal([]string{"recovering:on_error"}))
	})

	It("aborts the chain when a Before hook fails, never running After", func() {
		wantErr := errors.New("invalid")
		failing := middleware.Middleware{
			Name: "failing",
			Before: func(ctx context.Context, _ *middleware.Request) (context.Context, error) {
				return ctx, wantErr
			},
		}
		never := recordingMiddleware("never", &trace)

		chain := middleware.NewChain(never, failing)

		_, err := chain.Dispatch(context.Background(), &middleware.Request{Tool: "t"}, func(context.Context, *middleware.Request) (*middleware.Response, error) {
			trace = append(trace, "handler")
			return &middleware.Response{}, nil
		})

		Expect(err).To(MatchError(wantErr))
		Expect(trace).To(Equal([]string{"never:before", "never:on_error"}))
	})

	It("composes Wrap hooks M1 outermost to Mn innermost around the single handle call", func() {
		wrapping := func(name string) middleware.Middleware {
			return middleware.Middleware{
				Name: name,
				Wrap: func(ctx context.Context, req *middleware.Request, next middleware.HandlerFunc) (*middleware.Response, error) {
					trace = append(trace, name+":enter")
					resp, err := next(ctx, req)
					trace = append(trace, name+":exit")
					return resp, err
				},
			}
		}

		chain := middleware.NewChain(wrapping("m1"), wrapping("m2"))

		_, err := chain.Dispatch(context.Background(), &middleware.Request{Tool: "t"}, func(context.Context, *middleware.Request) (*middleware.Response, error) {
			trace = append(trace, "handler")
			return &middleware.Response{}, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(trace).To(Equal([]string{
			"m1:enter", "m2:enter",
			"handler",
			"m2:exit", "m1:exit",
		}))
	})

	It("skips Middleware whose Wrap is nil, leaving it transparent to the call", func() {
		called := false
		wrap := middleware.Middleware{
			Name: "wrap",
			Wrap: func(ctx context.Context, req *middleware.Request, next middleware.HandlerFunc) (*middleware.Response, error) {
				called = true
				return next(ctx, req)
			},
		}
		transparent := recordingMiddleware("transparent", &trace)

		chain := middleware.NewChain(transparent, wrap)

		resp, err := chain.Dispatch(context.Background(), &middleware.Request{Tool: "t"}, func(context.Context, *middleware.Request) (*middleware.Response, error) {
			return &middleware.Response{Output: []byte("ok")}, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(called).To(BeTrue())
		Expect(resp.Output).To(Equal([]byte("ok")))
	})
})
