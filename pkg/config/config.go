// Package config defines the validated, in-memory configuration tree the
// runtime core is assembled from. It is a pure data model: no YAML or other
// text-format parsing lives here, by design (the text front end is an
// external collaborator).
package config

import "time"

// ServerMeta describes the server identity carried by a configuration.
type ServerMeta struct {
	Name          string
	Version       string
	TransportKind string
}

// ToolKind discriminates the ToolDef sum type.
type ToolKind string

const (
	ToolKindNative     ToolKind = "native"
	ToolKindSubprocess ToolKind = "subprocess"
	ToolKindHTTP       ToolKind = "http"
	ToolKindPipeline   ToolKind = "pipeline"
)

// HTTPMethod enumerates the methods the HTTP handler may issue.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodDelete HTTPMethod = "DELETE"
	MethodPatch  HTTPMethod = "PATCH"
)

// AuthKind discriminates the HTTP handler's auth sum type.
type AuthKind string

const (
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthAPIKey AuthKind = "api_key"
)

// Auth carries the fields for whichever AuthKind is selected.
type Auth struct {
	Kind AuthKind

	// Bearer
	Token string

	// Basic
	User     string
	Password string

	// ApiKey
	Key    string
	Header string
}

// ErrorPolicy governs how a pipeline step failure is handled.
type ErrorPolicy string

const (
	ErrorPolicyFailFast ErrorPolicy = "fail_fast"
	ErrorPolicyContinue ErrorPolicy = "continue"
)

// PipelineStep is one entry of a Pipeline tool's sequence.
type PipelineStep struct {
	Tool        string
	Input       any
	OutputVar   string
	Condition   string
	ErrorPolicy ErrorPolicy
}

// ToolDef is the sum type over the four handler variants. Kind selects
// which of the variant-specific field groups below is populated; this
// mirrors the teacher's CRD-variant modeling (a discriminant field plus
// validated variant fields) rather than an interface hierarchy, keeping the
// type trivially serializable.
type ToolDef struct {
	Kind        ToolKind
	Name        string
	Description string

	// Native
	HandlerPath string
	ParamSchema ParamSchema
	TimeoutMs   int64

	// Subprocess
	Command   string
	Args      []string
	Cwd       string
	Env       map[string]string
	Streaming bool

	// Http
	EndpointTemplate string
	Method           HTTPMethod
	Headers          map[string]string
	HTTPAuth         *Auth
	BodyTemplate     any

	// Pipeline
	Steps []PipelineStep
}

// Capability is a single operation a resource entry may support.
type Capability string

const (
	CapabilityRead      Capability = "read"
	CapabilityWrite     Capability = "write"
	CapabilitySubscribe Capability = "subscribe"
)

// ResourceDef declares one resource template and its supported operations.
type ResourceDef struct {
	URITemplate  string
	Capabilities []Capability
}

// PromptArgument describes one named argument a prompt template accepts.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
	Default     any
}

// PromptDef declares one named prompt template.
type PromptDef struct {
	Name        string
	Description string
	Template    string
	Arguments   []PromptArgument
}

// StateBackendKind selects the state manager's storage backend.
type StateBackendKind string

const (
	StateBackendMemory     StateBackendKind = "memory"
	StateBackendPersistent StateBackendKind = "persistent"
)

// StateConfig configures the state manager, if the server uses one.
type StateConfig struct {
	BackendKind    StateBackendKind
	Path           string
	CacheCapacity  int64
	Compression    bool
}

// PrimitiveKind enumerates the scalar/composite JSON Schema kinds a
// ParamSchema field may declare.
type PrimitiveKind string

const (
	PrimitiveString  PrimitiveKind = "string"
	PrimitiveInteger PrimitiveKind = "integer"
	PrimitiveFloat   PrimitiveKind = "float"
	PrimitiveBoolean PrimitiveKind = "boolean"
	PrimitiveArray   PrimitiveKind = "array"
	PrimitiveObject  PrimitiveKind = "object"
)

// Validation carries the optional constraints a ParamField may declare.
type Validation struct {
	Min      *float64
	Max      *float64
	Pattern  string
	MinLen   *int
	MaxLen   *int
}

// ParamField is one entry of a ParamSchema.
type ParamField struct {
	PrimitiveKind PrimitiveKind
	Required      bool
	Default       any
	Description   string
	Validation    *Validation
}

// ParamSchema maps field name to its declared shape, per spec.md section 3.
type ParamSchema map[string]ParamField

// Config is the full validated configuration tree consumed by the server
// assembler.
type Config struct {
	ServerMeta ServerMeta
	Tools      []ToolDef
	Resources  []ResourceDef
	Prompts    []PromptDef
	State      *StateConfig
}

// DefaultDialTimeout is a 30-second default dial timeout. No package in this
// module reads it: the HTTP handler uses the *http.Client it is given (or
// http.DefaultClient) and applies no timeout of its own.
const DefaultDialTimeout = 30 * time.Second
