package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
)

func TestManager_RenderSubstitutesEveryKind(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Register(config.PromptDef{
		Name:     "greeting",
		Template: "Hi {{name}}, you are {{age}} years old. Active: {{active}}. Note: {{note}}.",
		Arguments: []config.PromptArgument{
			{Name: "name", Required: true},
		},
	}))

	out, err := m.Render("greeting", map[string]any{
		"name":   "Ada",
		"age":    float64(30),
		"active": true,
		"note":   nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, you are 30 years old. Active: true. Note: .", out)
}

func TestManager_RenderFailsOnMissingRequiredArgument(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Register(config.PromptDef{
		Name:     "greeting",
		Template: "Hi {{name}}",
		Arguments: []config.PromptArgument{
			{Name: "name", Required: true},
		},
	}))

	_, err := m.Render("greeting", map[string]any{})
	require.Error(t, err)
	assert.True(t, pforgeerrors.IsHandler(err))
}

func TestManager_RenderSubstitutesDefaultForAbsentOptionalArgument(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Register(config.PromptDef{
		Name:     "greeting",
		Template: "Hi {{name}}, from {{city}}",
		Arguments: []config.PromptArgument{
			{Name: "city", Required: false, Default: "Nowhere"},
		},
	}))

	out, err := m.Render("greeting", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, from Nowhere", out)
}

func TestManager_RenderPrefersSuppliedValueOverDefault(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Register(config.PromptDef{
		Name:     "greeting",
		Template: "from {{city}}",
		Arguments: []config.PromptArgument{
			{Name: "city", Required: false, Default: "Nowhere"},
		},
	}))

	out, err := m.Render("greeting", map[string]any{"city": "Boston"})
	require.NoError(t, err)
	assert.Equal(t, "from Boston", out)
}

func TestManager_RenderFailsOnUnresolvedPlaceholder(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Register(config.PromptDef{
		Name:     "greeting",
		Template: "Hi {{name}}, from {{city}}",
	}))

	_, err := m.Render("greeting", map[string]any{"name": "Ada"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "city")
}

func TestManager_RenderSerializesCompositeArgumentAsJSON(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Register(config.PromptDef{
		Name:     "payload",
		Template: "data={{obj}}",
	}))

	out, err := m.Render("payload", map[string]any{"obj": map[string]any{"a": float64(1)}})
	require.NoError(t, err)
	assert.Equal(t, `data={"a":1}`, out)
}

func TestManager_DuplicateNameFails(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Register(config.PromptDef{Name: "p", Template: "x"}))
	err := m.Register(config.PromptDef{Name: "p", Template: "y"})
	require.Error(t, err)
	assert.True(t, pforgeerrors.IsInvalidConfig(err))
}

func TestManager_ListPromptsAndGetPrompt(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.Register(config.PromptDef{Name: "p1", Template: "x"}))
	require.NoError(t, m.Register(config.PromptDef{Name: "p2", Template: "y"}))

	names := m.ListPrompts()
	require.Len(t, names, 2)
	assert.Equal(t, "p1", names[0].Name)

	def, ok := m.GetPrompt("p2")
	require.True(t, ok)
	assert.Equal(t, "y", def.Template)
}
