// Package prompt implements C12: named, argument-templated prompt strings,
// validated and interpolated exactly per spec.md section 4.12.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
)

// Manager holds registered prompt templates, keyed by name.
type Manager struct {
	defs  map[string]config.PromptDef
	order []string
}

// New returns an empty prompt Manager.
func New() *Manager {
	return &Manager{defs: make(map[string]config.PromptDef)}
}

// Register adds a prompt template. Duplicate names fail with InvalidConfig.
func (m *Manager) Register(def config.PromptDef) error {
	if _, exists := m.defs[def.Name]; exists {
		return pforgeerrors.NewInvalidConfigError("duplicate prompt name: "+def.Name, nil)
	}
	m.defs[def.Name] = def
	m.order = append(m.order, def.Name)
	return nil
}

// ListPrompts returns every registered prompt in the real MCP vocabulary
// shape.
func (m *Manager) ListPrompts() []mcp.Prompt {
	out := make([]mcp.Prompt, 0, len(m.order))
	for _, name := range m.order {
		def := m.defs[name]
		out = append(out, mcp.Prompt{
			Name:        def.Name,
			Description: def.Description,
			Arguments:   toMCPArguments(def.Arguments),
		})
	}
	return out
}

func toMCPArguments(args []config.PromptArgument) []mcp.PromptArgument {
	out := make([]mcp.PromptArgument, 0, len(args))
	for _, a := range args {
		out = append(out, mcp.PromptArgument{
			Name:        a.Name,
			Description: a.Description,
			Required:    a.Required,
		})
	}
	return out
}

// GetPrompt returns the description and declared argument schema for name.
func (m *Manager) GetPrompt(name string) (config.PromptDef, bool) {
	def, ok := m.defs[name]
	return def, ok
}

// placeholderPattern matches a {{var}} interpolation target in a prompt
// template.
var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Render validates args against name's declared required arguments, then
// interpolates the template per spec.md section 4.12: strings verbatim,
// numbers/booleans via their canonical text form, null as empty, composites
// via JSON serialization. An optional argument absent from args falls back
// to its declared Default, if any. Any placeholder left unresolved after
// that fails with Handler, naming the unresolved variables.
func (m *Manager) Render(name string, args map[string]any) (string, error) {
	def, ok := m.defs[name]
	if !ok {
		return "", pforgeerrors.NewToolNotFoundError("no such prompt: "+name, nil)
	}

	defaults := make(map[string]any)
	for _, arg := range def.Arguments {
		if arg.Required {
			if _, present := args[arg.Name]; !present {
				return "", pforgeerrors.NewHandlerError("missing required prompt argument: "+arg.Name, nil)
			}
			continue
		}
		if arg.Default != nil {
			defaults[arg.Name] = arg.Default
		}
	}

	var unresolved []string
	rendered := placeholderPattern.ReplaceAllStringFunc(def.Template, func(match string) string {
		varName := match[2 : len(match)-2]
		if value, present := args[varName]; present {
			return stringify(value)
		}
		if value, ok := defaults[varName]; ok {
			return stringify(value)
		}
		unresolved = append(unresolved, varName)
		return match
	})

	if len(unresolved) > 0 {
		return "", pforgeerrors.NewHandlerError("unresolved prompt placeholders: "+strings.Join(unresolved, ", "), nil)
	}
	return rendered, nil
}

// RenderResult renders name against args (see Render) and wraps the result
// in the real MCP get_prompt response shape, for a transport layer to
// return directly.
func (m *Manager) RenderResult(name string, args map[string]any) (*mcp.GetPromptResult, error) {
	def, ok := m.defs[name]
	if !ok {
		return nil, pforgeerrors.NewToolNotFoundError("no such prompt: "+name, nil)
	}

	rendered, err := m.Render(name, args)
	if err != nil {
		return nil, err
	}

	return &mcp.GetPromptResult{
		Description: def.Description,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.TextContent{Type: "text", Text: rendered},
			},
		},
	}, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return fmt.Sprintf("%t", val)
	case float64:
		return strconvTrimFloat(val)
	case int, int32, int64:
		return fmt.Sprintf("%d", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// strconvTrimFloat renders a float64 in its canonical shortest decimal
// form, matching how json.Unmarshal-decoded numeric arguments print.
func strconvTrimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
