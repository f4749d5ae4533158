// Package pipeline implements C6: a strictly sequential interpreter over
// the registry, modeled on the shape of the teacher's workflow engine but
// deliberately simpler — no DAG, no dependency graph, a two-form condition
// grammar.
package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pforge-dev/pforge/pkg/config"
	"github.com/pforge-dev/pforge/pkg/handler"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_dispatcher.go -package=mocks . Dispatcher

// Dispatcher is the subset of *registry.Registry the pipeline needs. A
// narrow interface keeps this package from depending on the registry's own
// bookkeeping (schema cache, in-flight tracking).
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params []byte) ([]byte, error)
}

// StepResult is the per-step audit record produced alongside the final
// variable bindings.
type StepResult struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Output is the pipeline's result: a per-step audit log plus the final
// variables map, which includes every output_var binding made along the
// way.
type Output struct {
	Results   []StepResult   `json:"results"`
	Variables map[string]any `json:"variables"`
}

// Handler runs steps through dispatcher strictly in declared order.
type Handler struct {
	steps      []config.PipelineStep
	dispatcher Dispatcher
}

var _ handler.Handler = (*Handler)(nil)

// New builds a pipeline Handler from a declared step sequence and the
// registry it dispatches each step's tool against.
func New(steps []config.PipelineStep, dispatcher Dispatcher) *Handler {
	return &Handler{steps: steps, dispatcher: dispatcher}
}

func (h *Handler) InputSchema() config.ParamSchema  { return nil }
func (h *Handler) OutputSchema() config.ParamSchema { return nil }

// Execute seeds variables from params, then runs each step per spec.md
// section 4.6: skip on a non-matching condition, interpolate the step's
// input template, dispatch, and either bind output_var and record success
// or record failure and apply the step's error policy.
func (h *Handler) Execute(ctx context.Context, params []byte) ([]byte, error) {
	variables := map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &variables); err != nil {
			variables = map[string]any{}
		}
	}

	results := make([]StepResult, 0, len(h.steps))

	for _, step := range h.steps {
		if step.Condition != "" && !evalCondition(step.Condition, variables) {
			continue
		}

		input := interpolate(step.Input, variables)
		inputBytes, err := json.Marshal(input)
		if err != nil {
			inputBytes = []byte(`{}`)
		}

		outBytes, err := h.dispatcher.Dispatch(ctx, step.Tool, inputBytes)
		if err != nil {
			results = append(results, StepResult{Success: false, Error: err.Error()})
			if step.ErrorPolicy == config.ErrorPolicyFailFast {
				return nil, err
			}
			continue
		}

		var parsed any
		if len(outBytes) > 0 {
			_ = json.Unmarshal(outBytes, &parsed)
		}
		if step.OutputVar != "" {
			variables[step.OutputVar] = parsed
		}
		results = append(results, StepResult{Success: true, Output: parsed})
	}

	return json.Marshal(Output{Results: results, Variables: variables})
}

// evalCondition implements the two-form grammar from spec.md section 4.6: a
// bare variable name is truthy iff present, and that name prefixed by "!"
// is truthy iff absent.
func evalCondition(cond string, variables map[string]any) bool {
	if name, ok := strings.CutPrefix(cond, "!"); ok {
		_, present := variables[name]
		return !present
	}
	_, present := variables[cond]
	return present
}

// placeholderPattern matches a {{name}} or {{name.field}} interpolation
// target. Dotted addressing into a bound variable's structure is an
// additive enrichment over the spec's bare whole-variable substitution.
var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\}\}`)

func interpolate(tmpl any, variables map[string]any) any {
	switch v := tmpl.(type) {
	case string:
		return interpolateString(v, variables)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = interpolate(val, variables)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = interpolate(val, variables)
		}
		return out
	default:
		return v
	}
}

func interpolateString(s string, variables map[string]any) any {
	if loc := placeholderPattern.FindStringSubmatch(s); loc != nil && loc[0] == s {
		val, ok := resolve(loc[1], variables)
		if !ok {
			return s
		}
		return val
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		val, ok := resolve(name, variables)
		if !ok {
			return match
		}
		switch v := val.(type) {
		case string:
			return v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return match
			}
			return string(b)
		}
	})
}

// resolve looks up a possibly dotted name ("order.id") against variables.
// The bare-name case is a direct map lookup; a dotted name marshals the
// bound variable back to JSON and walks the remainder with gjson, so any
// value reachable by its own JSON shape is addressable.
func resolve(name string, variables map[string]any) (any, bool) {
	base, rest, dotted := strings.Cut(name, ".")
	val, ok := variables[base]
	if !ok {
		return nil, false
	}
	if !dotted {
		return val, true
	}

	b, err := json.Marshal(val)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(b, rest)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}
