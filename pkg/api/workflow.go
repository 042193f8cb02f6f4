package api

import (
	"fmt"
	"regexp"
	"strings"
)

// SchemaVersion is the single supported value of the top-level `petal`
// field in a workflow definition file.
const SchemaVersion = "1"

// ParamType is the closed set of value types a workflow parameter or
// step input/output may declare.
type ParamType string

const (
	TypeString ParamType = "str"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
	TypePath   ParamType = "path"
	TypeFile   ParamType = "file"
	TypeDir    ParamType = "dir"
	TypeJSON   ParamType = "json"
	TypeSecret ParamType = "secret"
	TypeBytes  ParamType = "bytes"
)

// ParamTypes returns all valid parameter types in declaration order.
func ParamTypes() []ParamType {
	return []ParamType{
		TypeString, TypeInt, TypeFloat, TypeBool, TypePath,
		TypeFile, TypeDir, TypeJSON, TypeSecret, TypeBytes,
	}
}

// Valid reports whether t is a member of the closed type set.
func (t ParamType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypePath,
		TypeFile, TypeDir, TypeJSON, TypeSecret, TypeBytes:
		return true
	}
	return false
}

// CheckValue verifies that v is an acceptable runtime value for type t.
// A nil value is always accepted; requiredness is checked elsewhere.
func CheckValue(t ParamType, v any) error {
	if v == nil {
		return nil
	}
	switch t {
	case TypeString, TypePath, TypeFile, TypeDir, TypeSecret:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected a string for type %q, got %T", t, v)
		}
	case TypeInt:
		switch v.(type) {
		case int, int32, int64:
		default:
			return fmt.Errorf("expected an integer for type %q, got %T", t, v)
		}
	case TypeFloat:
		switch v.(type) {
		case float32, float64, int, int64:
		default:
			return fmt.Errorf("expected a number for type %q, got %T", t, v)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected a boolean for type %q, got %T", t, v)
		}
	case TypeJSON:
		switch v.(type) {
		case map[string]any, []any, string, bool, int, int64, float64:
		default:
			return fmt.Errorf("expected a JSON-compatible value for type %q, got %T", t, v)
		}
	case TypeBytes:
		switch v.(type) {
		case string, []byte:
		default:
			return fmt.Errorf("expected bytes for type %q, got %T", t, v)
		}
	default:
		return fmt.Errorf("unknown type %q", t)
	}
	return nil
}

// ErrorPolicy controls how the executor reacts to a step failure.
type ErrorPolicy string

const (
	PolicyFail  ErrorPolicy = "fail"
	PolicySkip  ErrorPolicy = "skip"
	PolicyRetry ErrorPolicy = "retry"
)

// Valid reports whether p is a known error policy.
func (p ErrorPolicy) Valid() bool {
	switch p {
	case PolicyFail, PolicySkip, PolicyRetry:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of a step during one run.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusRetrying  StepStatus = "retrying"
)

// CachePolicies is the closed set of accepted step cache policies.
var CachePolicies = []string{"auto", "never", "read-only", "write-only"}

// stepAdapters maps each well-known step type (`uses`) to the adapters it
// may run under. Step types absent from this map are tool-defined and not
// adapter-constrained. An empty set means the step type permits no adapter.
var stepAdapters = map[string][]string{
	"shell":   {"process", "docker"},
	"python":  {"process", "docker", "python"},
	"llm":     {"http"},
	"tool":    {"process", "docker", "python", "http"},
	"human":   {},
	"foreach": {},
	"include": {},
}

// AdaptersFor returns the adapters permitted for the given step type and
// whether the step type participates in adapter checking at all.
func AdaptersFor(uses string) ([]string, bool) {
	a, ok := stepAdapters[uses]
	return a, ok
}

// Param declares a workflow input. Params are immutable once a workflow
// has been parsed; the composition phase may only adjust defaults.
type Param struct {
	Type     ParamType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	Default  any       `yaml:"default" json:"default,omitempty"`
	Help     string    `yaml:"help" json:"help,omitempty"`
}

// Validate checks the per-field invariants of a Param.
func (p Param) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("invalid parameter type %q (must be one of %v)", p.Type, ParamTypes())
	}
	if p.Default != nil {
		if err := CheckValue(p.Type, p.Default); err != nil {
			return fmt.Errorf("default value does not match declared type: %w", err)
		}
	}
	return nil
}

// IODecl declares one named input or output of a step.
type IODecl struct {
	// Type is optional at parse time; the validator requires it.
	Type       ParamType      `yaml:"type" json:"type,omitempty"`
	Required   bool           `yaml:"required" json:"required"`
	JSONSchema map[string]any `yaml:"json_schema" json:"json_schema,omitempty"`
	// From is a template or a reference to a prior step's output,
	// e.g. "outputs.report".
	From string `yaml:"from" json:"from,omitempty"`
	// Path names the file backing a materialized value.
	Path string `yaml:"path" json:"path,omitempty"`
}

// Retry governs the executor's retry loop for a single step.
type Retry struct {
	MaxAttempts   int     `yaml:"max_attempts" json:"max_attempts"`
	BackoffFactor float64 `yaml:"backoff_factor" json:"backoff_factor"`
	Jitter        bool    `yaml:"jitter" json:"jitter"`
	// MaxDelay caps the computed backoff, in seconds. Zero means uncapped.
	MaxDelay float64 `yaml:"max_delay" json:"max_delay,omitempty"`
}

// Validate checks the per-field invariants of a Retry config.
func (r Retry) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", r.MaxAttempts)
	}
	if r.BackoffFactor <= 0 {
		return fmt.Errorf("backoff_factor must be > 0, got %g", r.BackoffFactor)
	}
	if r.MaxDelay < 0 {
		return fmt.Errorf("max_delay must be >= 0, got %g", r.MaxDelay)
	}
	return nil
}

// Cache is a step's cache policy declaration.
type Cache struct {
	Policy string `yaml:"policy" json:"policy,omitempty"`
	Key    string `yaml:"key" json:"key,omitempty"`
}

var stepIDPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]*$`)

// Step is one node of the workflow DAG.
type Step struct {
	ID      string            `yaml:"id" json:"id"`
	Uses    string            `yaml:"uses" json:"uses"`
	Needs   []string          `yaml:"needs" json:"needs,omitempty"`
	If      string            `yaml:"if" json:"if,omitempty"`
	Timeout string            `yaml:"timeout" json:"timeout,omitempty"`
	Retries *Retry            `yaml:"retries" json:"retries,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	Inputs  map[string]IODecl `yaml:"inputs" json:"inputs,omitempty"`
	Outputs map[string]IODecl `yaml:"outputs" json:"outputs,omitempty"`
	Cache   *Cache            `yaml:"cache" json:"cache,omitempty"`
	// Resources holds cpu/mem/gpu/network hints; shapes are checked by
	// the validator, not at parse time.
	Resources map[string]any `yaml:"resources" json:"resources,omitempty"`
	Adapter   string         `yaml:"adapter" json:"adapter,omitempty"`
	OnError   ErrorPolicy    `yaml:"if_error" json:"if_error,omitempty"`
	With      map[string]any `yaml:"with" json:"with,omitempty"`
}

// Validate checks the per-field invariants of a Step. Cross-step
// constraints (dependency existence, acyclicity) belong to the validator.
func (s Step) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("step id cannot be empty")
	}
	if !stepIDPattern.MatchString(s.ID) {
		return fmt.Errorf("step id %q does not match %s", s.ID, stepIDPattern)
	}
	if strings.TrimSpace(s.Uses) == "" {
		return fmt.Errorf("step %q: uses cannot be empty", s.ID)
	}
	if s.OnError != "" && !s.OnError.Valid() {
		return fmt.Errorf("step %q: unknown if_error policy %q", s.ID, s.OnError)
	}
	if s.Retries != nil {
		if err := s.Retries.Validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.ID, err)
		}
	}
	return nil
}

// ErrorPolicyOrDefault returns the step's error policy, defaulting to fail.
func (s Step) ErrorPolicyOrDefault() ErrorPolicy {
	if s.OnError == "" {
		return PolicyFail
	}
	return s.OnError
}

// Workflow is the parsed, in-memory form of a Petal definition file.
// It is constructed once by the parser, optionally mutated by the
// composition phase, and treated as read-only afterwards.
type Workflow struct {
	Petal              string            `yaml:"petal" json:"petal"`
	Name               string            `yaml:"name" json:"name"`
	Description        string            `yaml:"description" json:"description,omitempty"`
	Extends            string            `yaml:"extends" json:"extends,omitempty"`
	CompositionEnabled bool              `yaml:"composition_enabled" json:"composition_enabled"`
	Params             map[string]Param  `yaml:"params" json:"params,omitempty"`
	Env                map[string]string `yaml:"env" json:"env,omitempty"`
	Vars               map[string]string `yaml:"vars" json:"vars,omitempty"`
	Steps              []Step            `yaml:"steps" json:"steps"`
	Outputs            []map[string]any  `yaml:"outputs" json:"outputs,omitempty"`
	OnError            []Step            `yaml:"on_error" json:"on_error,omitempty"`
	Artifacts          map[string]any    `yaml:"artifacts" json:"artifacts,omitempty"`
}

// StepByID returns the step with the given id, if declared.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}
