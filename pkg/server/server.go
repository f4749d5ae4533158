// Package server implements C14: the assembler that turns a validated
// config.Config into a running dispatch surface — registry, middleware
// chain, resource/prompt managers, and state backend all wired together.
package server

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/handler"
	"github.com/pforge-dev/pforge/pkg/handler/httpcall"
	"github.com/pforge-dev/pforge/pkg/handler/pipeline"
	"github.com/pforge-dev/pforge/pkg/handler/subprocess"
	"github.com/pforge-dev/pforge/pkg/middleware"
	"github.com/pforge-dev/pforge/pkg/prompt"
	"github.com/pforge-dev/pforge/pkg/registry"
	"github.com/pforge-dev/pforge/pkg/resilience/breaker"
	"github.com/pforge-dev/pforge/pkg/resilience/retry"
	"github.com/pforge-dev/pforge/pkg/resilience/tracker"
	"github.com/pforge-dev/pforge/pkg/resource"
	"github.com/pforge-dev/pforge/pkg/state"
	"github.com/pforge-dev/pforge/pkg/state/memory"
	"github.com/pforge-dev/pforge/pkg/state/sqlitestate"
)

// NativeHandlerLookup resolves a native tool's handler_path to a
// constructed handler.Handler. The core does not interpret handler_path
// itself; the embedding host supplies the lookup.
type NativeHandlerLookup func(handlerPath string) (handler.Handler, error)

// Server is the assembled runtime: a registry behind a middleware chain,
// plus the resource, prompt, and state managers built from the same
// configuration.
type Server struct {
	registry         *registry.Registry
	chain            *middleware.Chain
	resources        *resource.Manager
	prompts          *prompt.Manager
	state            state.Manager
	resourceHandlers map[string]resource.Handler
	errorTracker     *tracker.ErrorTracker
	streamHandlers   map[string]*subprocess.Handler
}

// Assemble builds a Server from cfg, following spec.md section 4.14's
// steps in order. Any failure is fatal and reported as InvalidConfig. The
// error tracker (C9) is constructed here, per spec.md section 9's
// "initialize them at assembly time", and every Dispatch failure is
// recorded against it.
func Assemble(cfg config.Config, lookupNative NativeHandlerLookup, mw []middleware.Middleware, resourceHandlers map[string]resource.Handler) (*Server, error) {
	reg := registry.New()
	streamHandlers := make(map[string]*subprocess.Handler)

	var g errgroup.Group
	g.Go(func() error { return registerTools(reg, cfg.Tools, lookupNative, streamHandlers) })

	resources := resource.New()
	g.Go(func() error { return registerResources(resources, cfg.Resources, resourceHandlers) })

	prompts := prompt.New()
	g.Go(func() error { return registerPrompts(prompts, cfg.Prompts) })

	if err := g.Wait(); err != nil {
		if !pforgeerrors.IsInvalidConfig(err) {
			err = pforgeerrors.NewInvalidConfigError("assemble tools, resources and prompts", err)
		}
		return nil, err
	}

	var mgr state.Manager
	if cfg.State != nil {
		m, err := buildState(*cfg.State)
		if err != nil {
			if !pforgeerrors.IsInvalidConfig(err) {
				err = pforgeerrors.NewInvalidConfigError("assemble state backend", err)
			}
			return nil, err
		}
		mgr = m
	}

	return &Server{
		registry:         reg,
		chain:            middleware.NewChain(mw...),
		resources:        resources,
		prompts:          prompts,
		state:            mgr,
		resourceHandlers: resourceHandlers,
		errorTracker:     tracker.New(),
		streamHandlers:   streamHandlers,
	}, nil
}

// DefaultMiddleware builds the canonical middleware chain named by spec.md
// section 4.14 step 3 — logging, validation, timeout, retry, recovery — in
// that order, wiring each tool's declared schema and timeout out of cfg and
// driving the retry stage through policy and, when cb is non-nil, the
// circuit breaker. recover is passed straight through to RecoveryMiddleware.
func DefaultMiddleware(cfg config.Config, policy retry.Policy, cb *breaker.CircuitBreaker, recover func(*middleware.Request, error) ([]byte, bool)) []middleware.Middleware {
	schemas := make(map[string]config.ParamSchema, len(cfg.Tools))
	timeouts := make(map[string]time.Duration, len(cfg.Tools))
	for _, def := range cfg.Tools {
		schemas[def.Name] = def.ParamSchema
		if def.TimeoutMs > 0 {
			timeouts[def.Name] = time.Duration(def.TimeoutMs) * time.Millisecond
		}
	}

	return []middleware.Middleware{
		middleware.LoggingMiddleware(),
		middleware.ValidationMiddleware(func(tool string) (config.ParamSchema, bool) {
			schema, ok := schemas[tool]
			return schema, ok && schema != nil
		}),
		middleware.TimeoutMiddleware(func(tool string) (time.Duration, bool) {
			d, ok := timeouts[tool]
			return d, ok
		}),
		middleware.RetryMiddleware(policy, cb),
		middleware.RecoveryMiddleware(recover),
	}
}

func registerTools(reg *registry.Registry, tools []config.ToolDef, lookupNative NativeHandlerLookup, streamHandlers map[string]*subprocess.Handler) error {
	for _, def := range tools {
		h, err := buildHandler(def, reg, lookupNative)
		if err != nil {
			return err
		}
		if def.Kind == config.ToolKindSubprocess && def.Streaming {
			if sh, ok := h.(*subprocess.Handler); ok {
				streamHandlers[def.Name] = sh
			}
		}
		if err := reg.Register(def.Name, h); err != nil {
			return err
		}
	}
	return nil
}

func buildHandler(def config.ToolDef, reg *registry.Registry, lookupNative NativeHandlerLookup) (handler.Handler, error) {
	switch def.Kind {
	case config.ToolKindNative:
		if lookupNative == nil {
			return nil, pforgeerrors.NewInvalidConfigError("no native handler lookup configured for "+def.Name, nil)
		}
		return lookupNative(def.HandlerPath)
	case config.ToolKindSubprocess:
		return subprocess.New(def), nil
	case config.ToolKindHTTP:
		return httpcall.New(def, nil), nil
	case config.ToolKindPipeline:
		return pipeline.New(def.Steps, reg), nil
	default:
		return nil, pforgeerrors.NewInvalidConfigError("unknown tool kind: "+string(def.Kind), nil)
	}
}

func registerResources(mgr *resource.Manager, defs []config.ResourceDef, handlers map[string]resource.Handler) error {
	for _, def := range defs {
		h, ok := handlers[def.URITemplate]
		if !ok {
			return pforgeerrors.NewInvalidConfigError("no resource handler configured for "+def.URITemplate, nil)
		}
		if err := mgr.Register(def, h); err != nil {
			return err
		}
	}
	return nil
}

func registerPrompts(mgr *prompt.Manager, defs []config.PromptDef) error {
	for _, def := range defs {
		if err := mgr.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func buildState(cfg config.StateConfig) (state.Manager, error) {
	switch cfg.BackendKind {
	case config.StateBackendMemory:
		return memory.New(cfg)
	case config.StateBackendPersistent:
		return sqlitestate.Open(cfg)
	default:
		return nil, pforgeerrors.NewInvalidConfigError("unknown state backend kind: "+string(cfg.BackendKind), nil)
	}
}

// Dispatch routes a tool call through the middleware chain to the
// registry, recording any failure against the error tracker (C9) before
// returning it.
func (s *Server) Dispatch(ctx context.Context, tool string, params []byte) ([]byte, error) {
	resp, err := s.chain.Dispatch(ctx, &middleware.Request{Tool: tool, Params: params}, func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		out, err := s.registry.Dispatch(ctx, req.Tool, req.Params)
		if err != nil {
			return nil, err
		}
		return &middleware.Response{Output: out}, nil
	})
	if err != nil {
		s.errorTracker.Record(err)
		return nil, err
	}
	return resp.Output, nil
}

// StreamSubprocess runs a streaming-enabled subprocess tool (spec.md
// section 4.4) and returns its stdout as a channel of lines. It is additive
// to Dispatch rather than a replacement: a tool whose ToolDef did not set
// Streaming, or that is not a subprocess tool at all, fails with
// ToolNotFound. A transport that wants the line-streamed variant of a tool
// calls this instead of Dispatch for that tool name.
func (s *Server) StreamSubprocess(ctx context.Context, tool string, params []byte) (<-chan string, error) {
	h, ok := s.streamHandlers[tool]
	if !ok {
		return nil, pforgeerrors.NewToolNotFoundError("no streaming subprocess tool: "+tool, nil)
	}

	var in subprocess.Input
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, pforgeerrors.NewSerializationError("decode subprocess input", err)
		}
	}
	return h.Stream(ctx, in)
}

// ErrorTracker exposes the assembled server's dispatch-failure counter.
func (s *Server) ErrorTracker() *tracker.ErrorTracker {
	return s.errorTracker
}

// ReadResource, WriteResource, and SubscribeResource expose C11's surface
// through the assembled server.
func (s *Server) ReadResource(ctx context.Context, uri string) ([]byte, error) {
	return s.resources.Read(ctx, uri)
}

func (s *Server) WriteResource(ctx context.Context, uri string, body []byte) ([]byte, error) {
	return s.resources.Write(ctx, uri, body)
}

func (s *Server) SubscribeResource(ctx context.Context, uri string) ([]byte, error) {
	return s.resources.Subscribe(ctx, uri)
}

// RenderPrompt exposes C12's render operation.
func (s *Server) RenderPrompt(name string, args map[string]any) (string, error) {
	return s.prompts.Render(name, args)
}

// State exposes the assembled state manager, or nil if the configuration
// declared none.
func (s *Server) State() state.Manager {
	return s.state
}

// Shutdown drains outstanding registry dispatches and releases the state
// backend, returning the first error encountered.
func (s *Server) Shutdown(_ context.Context) error {
	s.registry.Drain()
	if s.state != nil {
		return s.state.Close()
	}
	return nil
}

// ToolNames lists the assembled registry's tool names without exposing
// *registry.Registry directly.
func (s *Server) ToolNames() []string {
	return s.registry.Names()
}
