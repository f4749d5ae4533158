// Package handler defines the capability every tool variant implements: a
// typed input/output schema pair plus an async execution body erased behind
// a bytes-to-bytes closure at registration time.
package handler

import (
	"context"

	"github.com/pforge-dev/pforge/pkg/config"
)

// Handler is the capability a registered tool exposes. Implementations
// must be safe for concurrent use by multiple goroutines: the registry
// invokes Execute from many dispatching goroutines at once.
type Handler interface {
	// InputSchema returns the handler's declared input shape.
	InputSchema() config.ParamSchema
	// OutputSchema returns the handler's declared output shape.
	OutputSchema() config.ParamSchema
	// Execute runs the handler body. params is the wire-format (JSON)
	// input; the returned bytes are the wire-format output. Execute must
	// release any resources it acquires when ctx is done.
	Execute(ctx context.Context, params []byte) ([]byte, error)
}

// Func adapts a plain function plus schema pair into a Handler, the way
// audit.Middleware and auth.Middleware wrap a bare function value as a
// named capability.
type Func struct {
	Input  config.ParamSchema
	Output config.ParamSchema
	Body   func(ctx context.Context, params []byte) ([]byte, error)
}

var _ Handler = (*Func)(nil)

func (f *Func) InputSchema() config.ParamSchema  { return f.Input }
func (f *Func) OutputSchema() config.ParamSchema { return f.Output }

func (f *Func) Execute(ctx context.Context, params []byte) ([]byte, error) {
	return f.Body(ctx, params)
}
