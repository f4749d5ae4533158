// Package httpcall implements C5: a handler that issues one HTTP request
// per call, built from a static endpoint/method/headers/auth declaration
// and a per-call { query, body } input.
package httpcall

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pforge-dev/pforge/pkg/config"
	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
	"github.com/pforge-dev/pforge/pkg/handler"
)

// templatePlaceholder matches a {name} placeholder in an endpoint template,
// the same brace-delimited grammar pkg/resource compiles into a named
// capture group.
var templatePlaceholder = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Input is the per-call payload merged with a tool's static declaration.
// Keys of Query consumed by an endpoint template placeholder are not also
// sent as a literal query string parameter.
type Input struct {
	Query map[string]string `json:"query"`
	Body  any                `json:"body"`
}

// Output is the decoded result of a completed request. Body is the parsed
// JSON response, or an empty object when the response has no JSON body.
// HTTP error statuses are reported here, not as a Handler error: callers
// inspect Status themselves (spec.md section 4.5).
type Output struct {
	Status  int               `json:"status"`
	Body    any               `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Handler issues requests against def.EndpointTemplate using def.Method,
// def.Headers, and def.HTTPAuth.
type Handler struct {
	def    config.ToolDef
	client *http.Client
}

var _ handler.Handler = (*Handler)(nil)

// New builds an httpcall Handler from a ToolDef, using client if non-nil or
// http.DefaultClient otherwise.
func New(def config.ToolDef, client *http.Client) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{def: def, client: client}
}

func (h *Handler) InputSchema() config.ParamSchema  { return nil }
func (h *Handler) OutputSchema() config.ParamSchema { return nil }

// Execute applies the fixed auth-application order from spec.md section
// 4.5: (i) method and URL, (ii) static headers, (iii) auth, (iv) query,
// (v) body.
func (h *Handler) Execute(ctx context.Context, params []byte) ([]byte, error) {
	var in Input
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, pforgeerrors.NewSerializationError("decode http input", err)
		}
	}

	rawURL, remaining := substitute(h.def.EndpointTemplate, in.Query)

	var body io.Reader
	var bodyBytes []byte
	switch {
	case in.Body != nil:
		b, err := json.Marshal(in.Body)
		if err != nil {
			return nil, pforgeerrors.NewSerializationError("encode http body", err)
		}
		bodyBytes = b
		body = bytes.NewReader(b)
	case h.def.BodyTemplate != nil:
		b, err := json.Marshal(interpolateBody(h.def.BodyTemplate, in.Query))
		if err != nil {
			return nil, pforgeerrors.NewSerializationError("encode http body template", err)
		}
		bodyBytes = b
		body = bytes.NewReader(b)
	}

	method := string(h.def.Method)
	if method == "" {
		method = string(config.MethodGet)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, pforgeerrors.NewHandlerError("build request: "+err.Error(), err)
	}

	for k, v := range h.def.Headers {
		req.Header.Set(k, v)
	}

	if err := applyAuth(req, h.def.HTTPAuth); err != nil {
		return nil, err
	}

	if len(remaining) > 0 {
		q := req.URL.Query()
		for k, v := range remaining {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	if bodyBytes != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, pforgeerrors.NewHandlerError("request failed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pforgeerrors.NewIoError("read response body: "+err.Error(), err)
	}

	out := Output{Status: resp.StatusCode, Headers: flattenHeaders(resp.Header)}
	if len(respBytes) > 0 && gjson.ValidBytes(respBytes) {
		out.Body = gjson.ParseBytes(respBytes).Value()
	} else {
		out.Body = map[string]any{}
	}

	return json.Marshal(out)
}

func applyAuth(req *http.Request, auth *config.Auth) error {
	if auth == nil {
		return nil
	}
	switch auth.Kind {
	case config.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case config.AuthBasic:
		token := base64.StdEncoding.EncodeToString([]byte(auth.User + ":" + auth.Password))
		req.Header.Set("Authorization", "Basic "+token)
	case config.AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Key)
	default:
		return pforgeerrors.NewInvalidConfigError("unknown auth kind: "+string(auth.Kind), nil)
	}
	return nil
}

// substitute replaces every {name} placeholder in template with values[name]
// and returns the substituted URL plus the subset of values whose key was
// never referenced by a placeholder (these are attached as literal query
// parameters by the caller).
func substitute(template string, values map[string]string) (string, map[string]string) {
	used := make(map[string]bool)
	out := templatePlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "{"), "}")
		if v, ok := values[name]; ok {
			used[name] = true
			return url.PathEscape(v)
		}
		return match
	})

	remaining := make(map[string]string)
	for k, v := range values {
		if !used[k] {
			remaining[k] = v
		}
	}
	return out, remaining
}

// interpolateBody walks a declared body_template, replacing each {name}
// placeholder found in a string leaf with values[name], using the same
// placeholder grammar substitute applies to the endpoint template. A name
// with no matching value is left as-is.
func interpolateBody(tmpl any, values map[string]string) any {
	switch v := tmpl.(type) {
	case string:
		return templatePlaceholder.ReplaceAllStringFunc(v, func(match string) string {
			name := strings.TrimSuffix(strings.TrimPrefix(match, "{"), "}")
			if val, ok := values[name]; ok {
				return val
			}
			return match
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = interpolateBody(val, values)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = interpolateBody(val, values)
		}
		return out
	default:
		return v
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
