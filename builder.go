package petal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/petalflow/petal/pkg/api"
)

// Builder constructs workflows programmatically with a fluent API.
// Errors accumulate and surface from Build, so call chains stay clean.
//
//	wf, err := petal.NewBuilder("deploy").
//		Param("region", petal.TypeString, petal.WithRequired()).
//		Step("build", "debug.echo").With("message", "building").Done().
//		Step("release", "debug.echo").Needs("build").Done().
//		Build()
type Builder struct {
	wf   *api.Workflow
	errs []error
}

// NewBuilder starts a workflow with the given name.
func NewBuilder(name string) *Builder {
	b := &Builder{
		wf: &api.Workflow{
			Petal:              api.SchemaVersion,
			Name:               name,
			CompositionEnabled: true,
		},
	}
	if strings.TrimSpace(name) == "" {
		b.errs = append(b.errs, errors.New("workflow name cannot be empty"))
	}
	return b
}

// Description sets the workflow description.
func (b *Builder) Description(text string) *Builder {
	b.wf.Description = text
	return b
}

// ParamOption adjusts a parameter declaration.
type ParamOption func(*api.Param)

// WithRequired marks the parameter required.
func WithRequired() ParamOption {
	return func(p *api.Param) { p.Required = true }
}

// WithDefault sets the parameter default.
func WithDefault(value any) ParamOption {
	return func(p *api.Param) { p.Default = value }
}

// WithHelp sets the parameter help text.
func WithHelp(text string) ParamOption {
	return func(p *api.Param) { p.Help = text }
}

// Param declares a workflow parameter.
func (b *Builder) Param(name string, t ParamType, opts ...ParamOption) *Builder {
	if b.wf.Params == nil {
		b.wf.Params = make(map[string]api.Param)
	}
	if _, exists := b.wf.Params[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("parameter %q declared twice", name))
		return b
	}
	p := api.Param{Type: t}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.Validate(); err != nil {
		b.errs = append(b.errs, fmt.Errorf("parameter %q: %w", name, err))
		return b
	}
	b.wf.Params[name] = p
	return b
}

// Env sets a workflow-level environment variable.
func (b *Builder) Env(key, value string) *Builder {
	if b.wf.Env == nil {
		b.wf.Env = make(map[string]string)
	}
	b.wf.Env[key] = value
	return b
}

// Var declares a workflow var; the value may be a template.
func (b *Builder) Var(name, value string) *Builder {
	if b.wf.Vars == nil {
		b.wf.Vars = make(map[string]string)
	}
	b.wf.Vars[name] = value
	return b
}

// Step starts a step declaration. Finish it with Done.
func (b *Builder) Step(id, uses string) *StepBuilder {
	return &StepBuilder{
		parent: b,
		step:   api.Step{ID: id, Uses: uses},
	}
}

// OnError appends a step to the workflow's failure handler sequence.
func (b *Builder) OnError(step api.Step) *Builder {
	b.wf.OnError = append(b.wf.OnError, step)
	return b
}

// Build finalizes the workflow, returning the first construction error
// or the full set of validation findings.
func (b *Builder) Build() (*api.Workflow, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if valid, findings := Validate(b.wf); !valid {
		return nil, fmt.Errorf("workflow %q failed validation: %s", b.wf.Name, strings.Join(findings, "; "))
	}
	return b.wf, nil
}

// StepBuilder declares a single step inside a Builder chain.
type StepBuilder struct {
	parent *Builder
	step   api.Step
}

// Needs adds dependencies on other steps.
func (s *StepBuilder) Needs(ids ...string) *StepBuilder {
	s.step.Needs = append(s.step.Needs, ids...)
	return s
}

// If sets the step's guard expression.
func (s *StepBuilder) If(expression string) *StepBuilder {
	s.step.If = expression
	return s
}

// With sets one key of the step's with-bag.
func (s *StepBuilder) With(key string, value any) *StepBuilder {
	if s.step.With == nil {
		s.step.With = make(map[string]any)
	}
	s.step.With[key] = value
	return s
}

// Timeout sets the step timeout, e.g. "30s".
func (s *StepBuilder) Timeout(d string) *StepBuilder {
	s.step.Timeout = d
	return s
}

// Retry enables the retry policy for this step.
func (s *StepBuilder) Retry(maxAttempts int, backoffFactor float64) *StepBuilder {
	s.step.OnError = api.PolicyRetry
	s.step.Retries = &api.Retry{MaxAttempts: maxAttempts, BackoffFactor: backoffFactor}
	return s
}

// OnError sets the step's failure policy.
func (s *StepBuilder) OnError(policy ErrorPolicy) *StepBuilder {
	s.step.OnError = policy
	return s
}

// StepEnv sets one step-level environment override; the value may be a
// template.
func (s *StepBuilder) StepEnv(key, value string) *StepBuilder {
	if s.step.Env == nil {
		s.step.Env = make(map[string]string)
	}
	s.step.Env[key] = value
	return s
}

// Input declares a typed step input.
func (s *StepBuilder) Input(name string, decl IODecl) *StepBuilder {
	if s.step.Inputs == nil {
		s.step.Inputs = make(map[string]api.IODecl)
	}
	s.step.Inputs[name] = decl
	return s
}

// Output declares a typed step output.
func (s *StepBuilder) Output(name string, decl IODecl) *StepBuilder {
	if s.step.Outputs == nil {
		s.step.Outputs = make(map[string]api.IODecl)
	}
	s.step.Outputs[name] = decl
	return s
}

// Done validates the step and returns to the workflow builder.
func (s *StepBuilder) Done() *Builder {
	if err := s.step.Validate(); err != nil {
		s.parent.errs = append(s.parent.errs, err)
		return s.parent
	}
	for _, existing := range s.parent.wf.Steps {
		if existing.ID == s.step.ID {
			s.parent.errs = append(s.parent.errs, fmt.Errorf("step %q declared twice", s.step.ID))
			return s.parent
		}
	}
	s.parent.wf.Steps = append(s.parent.wf.Steps, s.step)
	return s.parent
}
