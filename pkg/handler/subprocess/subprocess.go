// Package subprocess implements C4: a handler that maps a typed
// { args, env } input to a child process invocation, captures its output,
// and enforces an optional wall-clock timeout.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/handler"
	"github.com/pforge-dev/pforge/pkg/resilience/retry"
)

// Input is the typed payload a subprocess tool call carries: extra
// arguments appended after the tool's baseline args, and extra environment
// variables merged over the process environment.
type Input struct {
	Args []string          `json:"args"`
	Env  map[string]string `json:"env"`
}

// Output is the result of a completed (non-streaming) invocation. A child
// that never reports an exit code (for example, one killed by a signal)
// reports ExitCode -1, per spec.md section 4.4. When TimeoutMs elapses,
// Execute returns a Timeout error instead of an Output.
type Output struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Handler invokes def.Command with def.Args plus the caller's Input.Args,
// in def.Cwd, with def.Env merged with Input.Env over os.Environ().
type Handler struct {
	def config.ToolDef
}

var _ handler.Handler = (*Handler)(nil)

// New builds a subprocess Handler from a ToolDef. def.Kind is not checked
// here; callers (the server assembler) route by Kind before constructing.
func New(def config.ToolDef) *Handler {
	return &Handler{def: def}
}

func (h *Handler) InputSchema() config.ParamSchema  { return nil }
func (h *Handler) OutputSchema() config.ParamSchema { return nil }

// Execute runs the child process once to completion. If h.def.TimeoutMs is
// positive, the whole invocation (spawn, wait, pipe drain) is raced against
// that deadline via pkg/resilience/retry.WithTimeout; a timed-out child is
// killed, not left to run to completion in the background.
func (h *Handler) Execute(ctx context.Context, params []byte) ([]byte, error) {
	var in Input
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, pforgeerrors.NewSerializationError("decode subprocess input", err)
		}
	}

	run := func(ctx context.Context) ([]byte, error) {
		out, err := h.run(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}

	if h.def.TimeoutMs > 0 {
		return retry.WithTimeout(ctx, time.Duration(h.def.TimeoutMs)*time.Millisecond, run)
	}
	return run(ctx)
}

func (h *Handler) run(ctx context.Context, in Input) (*Output, error) {
	args := append(append([]string{}, h.def.Args...), in.Args...)
	cmd := exec.CommandContext(ctx, h.def.Command, args...)
	cmd.Dir = h.def.Cwd
	cmd.Env = mergeEnv(h.def.Env, in.Env)
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	var stdout, stderr bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pforgeerrors.NewHandlerError("open stdout pipe: "+err.Error(), err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, pforgeerrors.NewHandlerError("open stderr pipe: "+err.Error(), err)
	}

	if err := cmd.Start(); err != nil {
		return nil, pforgeerrors.NewHandlerError("spawn "+h.def.Command+": "+err.Error(), err)
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := stdout.ReadFrom(stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := stderr.ReadFrom(stderrPipe)
		return err
	})
	drainErr := g.Wait()

	waitErr := cmd.Wait()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			return nil, pforgeerrors.NewHandlerError("run "+h.def.Command+": "+waitErr.Error(), waitErr)
		}
	}
	if drainErr != nil {
		return nil, pforgeerrors.NewIoError("drain "+h.def.Command+" output: "+drainErr.Error(), drainErr)
	}

	return &Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// Stream runs the child and returns a channel of stdout lines, closing it
// when stdout is exhausted or ctx is canceled. Cancellation kills the child
// via cmd.Process.Kill() rather than waiting for it to exit on its own; the
// returned channel is not restartable.
func (h *Handler) Stream(ctx context.Context, in Input) (<-chan string, error) {
	args := append(append([]string{}, h.def.Args...), in.Args...)
	cmd := exec.CommandContext(ctx, h.def.Command, args...)
	cmd.Dir = h.def.Cwd
	cmd.Env = mergeEnv(h.def.Env, in.Env)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pforgeerrors.NewHandlerError("open stdout pipe: "+err.Error(), err)
	}
	if err := cmd.Start(); err != nil {
		return nil, pforgeerrors.NewHandlerError("spawn "+h.def.Command+": "+err.Error(), err)
	}

	go func() {
		<-ctx.Done()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdoutPipe)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		_ = cmd.Wait()
	}()

	return lines, nil
}

func mergeEnv(base, overlay map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}
