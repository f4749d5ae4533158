// Command pforge-demo assembles a small, hand-built config.Config and runs
// a couple of dispatches against it. It exists to exercise the assembler
// end to end during local development; it is not a general-purpose CLI and
// deliberately does not parse a YAML front end (that is an external
// concern, per the runtime core's scope).
package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pforge-dev/pforge/pkg/config"
	"github.com/pforge-dev/pforge/pkg/handler"
	"github.com/pforge-dev/pforge/pkg/plog"
	"github.com/pforge-dev/pforge/pkg/resilience/breaker"
	"github.com/pforge-dev/pforge/pkg/resilience/retry"
	"github.com/pforge-dev/pforge/pkg/server"
)

func greetHandler() handler.Handler {
	return &handler.Func{
		Input: config.ParamSchema{
			"name": {PrimitiveKind: config.PrimitiveString, Required: true},
		},
		Body: func(_ context.Context, params []byte) ([]byte, error) {
			var in struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]string{"message": "Hello, " + in.Name + "!"})
		},
	}
}

func main() {
	cfg := config.Config{
		ServerMeta: config.ServerMeta{Name: "pforge-demo", Version: "0.1.0"},
		Tools: []config.ToolDef{
			{Kind: config.ToolKindNative, Name: "greet", HandlerPath: "builtin:greet"},
			{
				Kind:    config.ToolKindSubprocess,
				Name:    "uname",
				Command: "uname",
				Args:    []string{"-a"},
			},
		},
	}

	lookupNative := func(path string) (handler.Handler, error) {
		if path == "builtin:greet" {
			return greetHandler(), nil
		}
		return nil, nil
	}

	retryPolicy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Multiplier:     2,
		Jitter:         true,
	}
	cb := breaker.NewCircuitBreaker(5, 10*time.Second, 2)
	mw := server.DefaultMiddleware(cfg, retryPolicy, cb, nil)

	srv, err := server.Assemble(cfg, lookupNative, mw, nil)
	if err != nil {
		plog.Errorw("assembly failed", "error", err)
		return
	}

	out, err := srv.Dispatch(context.Background(), "greet", []byte(`{"name":"World"}`))
	if err != nil {
		plog.Errorw("dispatch failed", "tool", "greet", "error", err)
	} else {
		plog.Infow("dispatch ok", "tool", "greet", "output", string(out))
	}

	out, err = srv.Dispatch(context.Background(), "uname", []byte(`{}`))
	if err != nil {
		plog.Errorw("dispatch failed", "tool", "uname", "error", err)
	} else {
		plog.Infow("dispatch ok", "tool", "uname", "output", string(out))
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		plog.Errorw("shutdown failed", "error", err)
	}
}
