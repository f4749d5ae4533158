// Package ffi implements the pure-Go half of C13: a handle table over
// constructed handlers and the panic-safe execute path the cgo boundary in
// cmd/pforge-ffi translates into the stable C ABI. Keeping this logic free
// of cgo makes it directly unit-testable.
package ffi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/handler"
	"github.com/pforge-dev/pforge/pkg/handler/httpcall"
	"github.com/pforge-dev/pforge/pkg/handler/subprocess"
)

// version is the static string the version() entry point returns.
const version = "pforge-ffi/0.1"

// Version returns the bridge's static version string.
func Version() string { return version }

// Result mirrors the FfiResult C ABI layout described in spec.md section
// 4.13, minus the raw pointer plumbing the cgo boundary owns. Code 0 means
// Data is the valid response; any other code means Err describes the
// failure.
type Result struct {
	Code int32
	Data []byte
	Err  string
}

// Bridge is a handle table over constructed handlers. handler_init in the
// source material is a reserved future dispatch point (spec.md section 9's
// open questions); here it is the handler factory that turns a (type,
// config) pair into a live handler.Handler.
type Bridge struct {
	mu      sync.Mutex
	handles map[uint64]handler.Handler
	nextID  uint64
}

// NewBridge returns an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{handles: make(map[uint64]handler.Handler)}
}

// Init decodes configJSON into a config.ToolDef, sets its Kind from
// handlerType, constructs the matching handler, and stores it under a
// freshly issued handle id. A zero id, non-nil error return signals
// failure, matching the C ABI's "null on failure" contract for
// handler_init.
func (b *Bridge) Init(handlerType string, configJSON []byte) (id uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			id, err = 0, pforgeerrors.NewBridgeError(fmt.Sprintf("panic during handler_init: %v", r), nil)
		}
	}()

	var def config.ToolDef
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &def); err != nil {
			return 0, pforgeerrors.NewInvalidConfigError("decode ffi handler config", err)
		}
	}
	def.Kind = config.ToolKind(handlerType)

	var h handler.Handler
	switch def.Kind {
	case config.ToolKindSubprocess:
		h = subprocess.New(def)
	case config.ToolKindHTTP:
		h = httpcall.New(def, nil)
	default:
		return 0, pforgeerrors.NewInvalidConfigError("unsupported ffi handler type: "+handlerType, nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id = b.nextID
	b.handles[id] = h
	return id, nil
}

// Free releases handle. Freeing an unknown or already-freed handle is a
// no-op, matching "exactly once per produced value" being the caller's
// obligation, not a crash-on-violation contract.
func (b *Bridge) Free(handle uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, handle)
}

// Execute runs handle's handler against params. The bridge never panics
// across its own API boundary: a panic anywhere inside the handler's
// Execute is caught here and reported as Code != 0, per spec.md section
// 4.13 and section 9's "FFI panic safety" note.
func (b *Bridge) Execute(ctx context.Context, handleID uint64, params []byte) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Code: 1, Err: fmt.Sprintf("panic: %v", r)}
		}
	}()

	b.mu.Lock()
	h, ok := b.handles[handleID]
	b.mu.Unlock()
	if !ok {
		return Result{Code: 1, Err: "unknown ffi handle"}
	}

	data, err := h.Execute(ctx, params)
	if err != nil {
		return Result{Code: 1, Err: err.Error()}
	}
	return Result{Code: 0, Data: data}
}
