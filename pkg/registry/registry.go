// Package registry implements the name-to-handler map the dispatch path
// consults: C3 of the runtime core. Entries are immutable after
// registration; lookups share the read lock of a sync.RWMutex rather than a
// channel or actor, keeping the hot path a map read plus one vtable call.
// The lock is not reader-preferring: a Register waiting for the write lock
// blocks new lookups until it has finished.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/handler"
	"github.com/pforge-dev/pforge/pkg/plog"
)

// entry is the type-erased, immutable capability object the registry maps
// names onto.
type entry struct {
	name         string
	h            handler.Handler
	inputSchema  config.ParamSchema
	outputSchema config.ParamSchema
	compiled     *gojsonschema.Schema // nil when the tool declares no input fields
}

// Registry is the name->handler map. The zero value is not usable; use New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	inFlight sync.WaitGroup
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register stores handler h under name. Duplicate names fail with
// InvalidConfig. The input schema is compiled once here, not on the hot
// dispatch path.
func (r *Registry) Register(name string, h handler.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return pforgeerrors.NewInvalidConfigError("duplicate tool name: "+name, nil)
	}

	in := h.InputSchema()
	var compiled *gojsonschema.Schema
	if len(in) > 0 {
		loader := gojsonschema.NewGoLoader(buildJSONSchema(in))
		schema, err := gojsonschema.NewSchema(loader)
		if err != nil {
			return pforgeerrors.NewInvalidConfigError("invalid input schema for tool "+name, err)
		}
		compiled = schema
	}

	r.entries[name] = &entry{
		name:         name,
		h:            h,
		inputSchema:  in,
		outputSchema: h.OutputSchema(),
		compiled:     compiled,
	}
	return nil
}

// Names returns every registered tool name. The order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

// InputSchema returns the cached input schema for name.
func (r *Registry) InputSchema(name string) (config.ParamSchema, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.inputSchema, nil
}

// OutputSchema returns the cached output schema for name.
func (r *Registry) OutputSchema(name string) (config.ParamSchema, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.outputSchema, nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, pforgeerrors.NewToolNotFoundError(name, nil)
	}
	return e, nil
}

// Dispatch looks up name and invokes its handler with params. This is the
// hot path: a map read under RLock, a schema validation (only when the
// tool declares input fields), and one interface call.
func (r *Registry) Dispatch(ctx context.Context, name string, params []byte) ([]byte, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	r.inFlight.Add(1)
	defer r.inFlight.Done()

	if e.compiled != nil {
		result, verr := e.compiled.Validate(gojsonschema.NewBytesLoader(params))
		if verr != nil {
			return nil, pforgeerrors.NewValidationError("malformed params for tool "+name, verr)
		}
		if !result.Valid() {
			return nil, pforgeerrors.NewValidationError(firstValidationError(result), nil)
		}
	}

	plog.Debugw("dispatching tool", "tool", name, "request_id", requestID)
	out, err := e.h.Execute(ctx, params)
	if err != nil {
		plog.Debugw("tool execution failed", "tool", name, "request_id", requestID, "error", err)
		return nil, err
	}
	return out, nil
}

// Drain blocks until every in-flight Dispatch call has returned. The
// server assembler calls this during shutdown.
func (r *Registry) Drain() {
	r.inFlight.Wait()
}

func firstValidationError(result *gojsonschema.Result) string {
	errs := result.Errors()
	if len(errs) == 0 {
		return "input failed schema validation"
	}
	return errs[0].String()
}
