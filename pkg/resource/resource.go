// Package resource implements C11: a URI-template router over
// read/write/subscribe operations, each delegating to a registered
// resource's handler once its capability and a capture map have been
// resolved.
package resource

import (
	"context"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
)

// Op is one of the three operations a resource entry may support.
type Op string

const (
	OpRead      Op = "read"
	OpWrite     Op = "write"
	OpSubscribe Op = "subscribe"
)

// Handler is the callback a resource entry dispatches to once a URI has
// matched and its capability has been checked. captures holds the named
// {placeholder} values extracted from the URI; body is non-nil only for
// Write.
type Handler func(ctx context.Context, op Op, captures map[string]string, body []byte) ([]byte, error)

type entry struct {
	def          config.ResourceDef
	pattern      *regexp.Regexp
	names        []string
	capabilities map[config.Capability]bool
	handler      Handler
}

// Manager routes read/write/subscribe calls to the first registered
// template whose compiled pattern matches the URI. Registration order is
// preserved and significant (spec.md section 4.11).
type Manager struct {
	entries []*entry
}

// New returns an empty resource Manager.
func New() *Manager {
	return &Manager{}
}

// placeholderName matches a {name} segment of a uri_template.
var placeholderName = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Register compiles def.URITemplate into a regexp with named captures: a
// {name} immediately followed by '/' matches one path segment ([^/]+);
// otherwise it matches one or more of any character (.+), which for a
// trailing placeholder is the rest of the string. Literal regex
// metacharacters are escaped before placeholders are substituted back in.
func (m *Manager) Register(def config.ResourceDef, handler Handler) error {
	pattern, names := compileTemplate(def.URITemplate)
	compiled, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return pforgeerrors.NewInvalidConfigError("compile uri_template "+def.URITemplate, err)
	}

	capabilities := make(map[config.Capability]bool, len(def.Capabilities))
	for _, c := range def.Capabilities {
		capabilities[c] = true
	}

	m.entries = append(m.entries, &entry{
		def:          def,
		pattern:      compiled,
		names:        names,
		capabilities: capabilities,
		handler:      handler,
	})
	return nil
}

func compileTemplate(template string) (string, []string) {
	var names []string
	var sb strings.Builder

	matches := placeholderName.FindAllStringSubmatchIndex(template, -1)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		nameStart, nameEnd := m[2], m[3]
		sb.WriteString(regexp.QuoteMeta(template[last:start]))

		name := template[nameStart:nameEnd]
		names = append(names, name)

		followedBySlash := end < len(template) && template[end] == '/'
		if followedBySlash {
			sb.WriteString("(?P<" + name + ">[^/]+)")
		} else {
			sb.WriteString("(?P<" + name + ">.+)")
		}
		last = end
	}
	sb.WriteString(regexp.QuoteMeta(template[last:]))
	return sb.String(), names
}

func (m *Manager) lookup(uri string, op Op) (*entry, map[string]string, error) {
	for _, e := range m.entries {
		match := e.pattern.FindStringSubmatch(uri)
		if match == nil {
			continue
		}

		capability := config.Capability(op)
		if !e.capabilities[capability] {
			return nil, nil, pforgeerrors.NewHandlerError("Resource "+uri+" does not support "+string(op)+" operation", nil)
		}

		captures := make(map[string]string, len(e.names))
		for i, name := range e.pattern.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			captures[name] = match[i]
		}
		return e, captures, nil
	}
	return nil, nil, pforgeerrors.NewHandlerError("No resource matches URI", nil)
}

// Read dispatches a read op against the first matching template.
func (m *Manager) Read(ctx context.Context, uri string) ([]byte, error) {
	e, captures, err := m.lookup(uri, OpRead)
	if err != nil {
		return nil, err
	}
	return e.handler(ctx, OpRead, captures, nil)
}

// Write dispatches a write op, carrying body to the resource's handler.
func (m *Manager) Write(ctx context.Context, uri string, body []byte) ([]byte, error) {
	e, captures, err := m.lookup(uri, OpWrite)
	if err != nil {
		return nil, err
	}
	return e.handler(ctx, OpWrite, captures, body)
}

// Subscribe dispatches a subscribe op against the first matching template.
func (m *Manager) Subscribe(ctx context.Context, uri string) ([]byte, error) {
	e, captures, err := m.lookup(uri, OpSubscribe)
	if err != nil {
		return nil, err
	}
	return e.handler(ctx, OpSubscribe, captures, nil)
}

// ListResources returns the registered resource templates in the real MCP
// vocabulary shape, for introspection by a transport layer.
func (m *Manager) ListResources() []mcp.Resource {
	out := make([]mcp.Resource, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, mcp.Resource{
			URI:  e.def.URITemplate,
			Name: e.def.URITemplate,
		})
	}
	return out
}
