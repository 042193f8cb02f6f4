// Package parser loads Petal workflow definitions from YAML and
// performs the structural checks that do not need the whole DAG:
// schema version gating, typed field conversion, duplicate step ids,
// and static validation of every embedded template and guard
// expression. Graph-level checks live in internal/validate.
package parser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petalflow/petal/pkg/api"
	"github.com/petalflow/petal/pkg/expr"
	"github.com/petalflow/petal/pkg/template"
)

// Extensions are the accepted workflow file extensions.
var Extensions = []string{".petal", ".yaml", ".yml"}

// ParseError reports a structural problem in a workflow definition,
// located by a dotted field path.
type ParseError struct {
	Path string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return e.Path + ": " + e.Msg
}

func perrf(path, format string, args ...any) error {
	return &ParseError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Parser loads and statically checks workflow files.
type Parser struct {
	templates *template.Engine
	exprs     *expr.Evaluator
}

// New creates a Parser.
func New() *Parser {
	return &Parser{
		templates: template.New(),
		exprs:     expr.New(),
	}
}

// ParseFile loads a workflow from disk. The extension must be one of
// .petal, .yaml or .yml.
func (p *Parser) ParseFile(path string) (*api.Workflow, error) {
	ext := strings.ToLower(filepath.Ext(path))
	supported := false
	for _, e := range Extensions {
		if ext == e {
			supported = true
			break
		}
	}
	if !supported {
		return nil, perrf("", "unsupported workflow file extension %q (expected one of %v)", ext, Extensions)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}
	wf, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// ParseString parses a workflow from a YAML string.
func (p *Parser) ParseString(src string) (*api.Workflow, error) {
	return p.ParseBytes([]byte(src))
}

// ParseBytes parses a workflow document, gates on the schema version,
// and runs all per-field and static template checks.
func (p *Parser) ParseBytes(data []byte) (*api.Workflow, error) {
	// Version gate first, so a future-schema file fails with a version
	// message rather than an unknown-field one.
	var versionProbe struct {
		Petal any `yaml:"petal"`
	}
	if err := yaml.Unmarshal(data, &versionProbe); err != nil {
		return nil, perrf("", "invalid YAML: %v", err)
	}
	if versionProbe.Petal == nil {
		return nil, perrf("petal", "missing schema version (expected %q)", api.SchemaVersion)
	}
	version := fmt.Sprintf("%v", versionProbe.Petal)
	if version != api.SchemaVersion {
		return nil, perrf("petal", "unsupported schema version %q (expected %q)", version, api.SchemaVersion)
	}

	var raw rawWorkflow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, perrf("", "invalid workflow document: %v", err)
	}
	wf := raw.toWorkflow(version)

	if strings.TrimSpace(wf.Name) == "" {
		return nil, perrf("name", "workflow name cannot be empty")
	}

	for name, param := range wf.Params {
		if err := param.Validate(); err != nil {
			return nil, perrf("params."+name, "%v", err)
		}
	}

	seen := make(map[string]bool, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)
		if err := step.Validate(); err != nil {
			return nil, perrf(path, "%v", err)
		}
		if seen[step.ID] {
			return nil, perrf(path+".id", "duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if step.Timeout != "" {
			if _, err := time.ParseDuration(step.Timeout); err != nil {
				return nil, perrf(path+".timeout", "invalid timeout %q: %v", step.Timeout, err)
			}
		}
		if err := p.checkStepTemplates(path, step); err != nil {
			return nil, err
		}
	}
	for i := range wf.OnError {
		step := &wf.OnError[i]
		path := fmt.Sprintf("on_error[%d]", i)
		if err := step.Validate(); err != nil {
			return nil, perrf(path, "%v", err)
		}
		if err := p.checkStepTemplates(path, step); err != nil {
			return nil, err
		}
	}

	for name, value := range wf.Vars {
		if ok, msg := p.templates.Validate(value); !ok {
			return nil, perrf("vars."+name, "%s", msg)
		}
	}

	return wf, nil
}

// checkStepTemplates statically validates every template string and
// guard expression embedded in a step.
func (p *Parser) checkStepTemplates(path string, step *api.Step) error {
	if step.If != "" {
		if ok, msg := p.exprs.Validate(step.If); !ok {
			return perrf(path+".if", "%s", msg)
		}
	}
	for k, v := range step.Env {
		if ok, msg := p.templates.Validate(v); !ok {
			return perrf(path+".env."+k, "%s", msg)
		}
	}
	for name, in := range step.Inputs {
		if in.From != "" {
			if ok, msg := p.templates.Validate(in.From); !ok {
				return perrf(path+".inputs."+name+".from", "%s", msg)
			}
		}
		if in.Path != "" {
			if ok, msg := p.templates.Validate(in.Path); !ok {
				return perrf(path+".inputs."+name+".path", "%s", msg)
			}
		}
	}
	for name, out := range step.Outputs {
		if out.Path != "" {
			if ok, msg := p.templates.Validate(out.Path); !ok {
				return perrf(path+".outputs."+name+".path", "%s", msg)
			}
		}
	}
	return p.checkWithTemplates(path+".with", step.With)
}

func (p *Parser) checkWithTemplates(path string, value any) error {
	switch v := value.(type) {
	case string:
		if ok, msg := p.templates.Validate(v); !ok {
			return perrf(path, "%s", msg)
		}
	case map[string]any:
		for k, item := range v {
			if err := p.checkWithTemplates(path+"."+k, item); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range v {
			if err := p.checkWithTemplates(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	}
	return nil
}

// rawWorkflow mirrors api.Workflow but tolerates a scalar schema
// version; everything else decodes straight into the api types.
type rawWorkflow struct {
	Petal              any                  `yaml:"petal"`
	Name               string               `yaml:"name"`
	Description        string               `yaml:"description"`
	Extends            string               `yaml:"extends"`
	CompositionEnabled *bool                `yaml:"composition_enabled"`
	Params             map[string]api.Param `yaml:"params"`
	Env                map[string]string    `yaml:"env"`
	Vars               map[string]string    `yaml:"vars"`
	Steps              []api.Step           `yaml:"steps"`
	Outputs            []map[string]any     `yaml:"outputs"`
	OnError            []api.Step           `yaml:"on_error"`
	Artifacts          map[string]any       `yaml:"artifacts"`
}

func (r rawWorkflow) toWorkflow(version string) *api.Workflow {
	// Composition defaults to enabled.
	composition := true
	if r.CompositionEnabled != nil {
		composition = *r.CompositionEnabled
	}
	return &api.Workflow{
		Petal:              version,
		Name:               r.Name,
		Description:        r.Description,
		Extends:            r.Extends,
		CompositionEnabled: composition,
		Params:             r.Params,
		Env:                r.Env,
		Vars:               r.Vars,
		Steps:              r.Steps,
		Outputs:            r.Outputs,
		OnError:            r.OnError,
		Artifacts:          r.Artifacts,
	}
}
