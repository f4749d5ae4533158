package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
)

type fakeDispatcher struct {
	calls []call
	stub  func(name string, params []byte) ([]byte, error)
}

type call struct {
	name   string
	params []byte
}

func (f *fakeDispatcher) Dispatch(_ context.Context, name string, params []byte) ([]byte, error) {
	f.calls = append(f.calls, call{name, params})
	return f.stub(name, params)
}

func TestHandler_InterpolatesWholeVariableVerbatim(t *testing.T) {
	t.Parallel()

	fd := &fakeDispatcher{stub: func(string, []byte) ([]byte, error) {
		return []byte(`{"greeting":"hi"}`), nil
	}}
	h := New([]config.PipelineStep{
		{Tool: "greet", Input: map[string]any{"name": "{{user}}"}, OutputVar: "result"},
	}, fd)

	raw, err := h.Execute(context.Background(), []byte(`{"user":{"first":"Ada"}}`))
	require.NoError(t, err)

	var out Output
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, map[string]any{"greeting": "hi"}, out.Variables["result"])

	var sentInput map[string]any
	require.NoError(t, json.Unmarshal(fd.calls[0].params, &sentInput))
	assert.Equal(t, map[string]any{"first": "Ada"}, sentInput["name"])
}

func TestHandler_NestedFieldInterpolationViaDottedPath(t *testing.T) {
	t.Parallel()

	fd := &fakeDispatcher{stub: func(string, []byte) ([]byte, error) {
		return []byte(`{}`), nil
	}}
	h := New([]config.PipelineStep{
		{Tool: "notify", Input: map[string]any{"text": "hello {{user.first}}"}},
	}, fd)

	_, err := h.Execute(context.Background(), []byte(`{"user":{"first":"Ada","last":"Lovelace"}}`))
	require.NoError(t, err)

	var sentInput map[string]any
	require.NoError(t, json.Unmarshal(fd.calls[0].params, &sentInput))
	assert.Equal(t, "hello Ada", sentInput["text"])
}

func TestHandler_SkipsStepWhenConditionDoesNotMatch(t *testing.T) {
	t.Parallel()

	fd := &fakeDispatcher{stub: func(string, []byte) ([]byte, error) {
		return []byte(`{}`), nil
	}}
	h := New([]config.PipelineStep{
		{Tool: "only_if_flag", Condition: "flag"},
		{Tool: "only_if_no_flag", Condition: "!flag"},
	}, fd)

	raw, err := h.Execute(context.Background(), []byte(`{}`))
	require.NoError(t, err)

	assert.Len(t, fd.calls, 1)
	assert.Equal(t, "only_if_no_flag", fd.calls[0].name)

	var out Output
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Len(t, out.Results, 1)
}

func TestHandler_FailFastAbortsPipelineOnStepFailure(t *testing.T) {
	t.Parallel()

	fd := &fakeDispatcher{stub: func(name string, _ []byte) ([]byte, error) {
		if name == "boom" {
			return nil, pforgeerrors.NewHandlerError("kaboom", nil)
		}
		return []byte(`{}`), nil
	}}
	h := New([]config.PipelineStep{
		{Tool: "boom", ErrorPolicy: config.ErrorPolicyFailFast},
		{Tool: "never_runs"},
	}, fd)

	_, err := h.Execute(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Len(t, fd.calls, 1)
}

func TestHandler_ContinuePolicyRunsRemainingSteps(t *testing.T) {
	t.Parallel()

	fd := &fakeDispatcher{stub: func(name string, _ []byte) ([]byte, error) {
		if name == "boom" {
			return nil, pforgeerrors.NewHandlerError("kaboom", nil)
		}
		return []byte(`{"ok":true}`), nil
	}}
	h := New([]config.PipelineStep{
		{Tool: "boom", ErrorPolicy: config.ErrorPolicyContinue},
		{Tool: "after", OutputVar: "after_result"},
	}, fd)

	raw, err := h.Execute(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Len(t, fd.calls, 2)

	var out Output
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Results, 2)
	assert.False(t, out.Results[0].Success)
	assert.Equal(t, "handler: kaboom", out.Results[0].Error)
	assert.True(t, out.Results[1].Success)
	assert.Equal(t, map[string]any{"ok": true}, out.Variables["after_result"])
}
