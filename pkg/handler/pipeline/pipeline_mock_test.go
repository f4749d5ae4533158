package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pforge-dev/pforge/pkg/config"
	"github.com/pforge-dev/pforge/pkg/handler/pipeline/mocks"
)

func TestHandler_BindsMultipleOutputVarsIntoNestedVariables(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	disp := mocks.NewMockDispatcher(ctrl)
	disp.EXPECT().
		Dispatch(gomock.Any(), "lookup", gomock.Any()).
		Return([]byte(`{"account":{"id":"acc-1","tier":"gold"}}`), nil)
	disp.EXPECT().
		Dispatch(gomock.Any(), "bill", gomock.Any()).
		Return([]byte(`{"charged":true}`), nil)

	h := New([]config.PipelineStep{
		{Tool: "lookup", OutputVar: "account"},
		{Tool: "bill", Input: map[string]any{"tier": "{{account.tier}}"}, OutputVar: "billing"},
	}, disp)

	raw, err := h.Execute(context.Background(), []byte(`{}`))
	require.NoError(t, err)

	var out Output
	require.NoError(t, json.Unmarshal(raw, &out))

	want := map[string]any{
		"account": map[string]any{"id": "acc-1", "tier": "gold"},
		"billing": map[string]any{"charged": true},
	}
	if diff := cmp.Diff(want, out.Variables); diff != "" {
		t.Fatalf("variables mismatch (-want +got):\n%s", diff)
	}
}
