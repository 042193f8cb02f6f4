// Package validate checks whole-workflow invariants that need the full
// DAG: dependency existence, acyclicity, output uniqueness, resource
// shapes and adapter constraints. Unlike the parser, which fails fast
// on the first structural problem, validation accumulates every finding
// so a workflow author sees all of them in one pass.
//
// Validation is read-only and deterministic: validating the same
// workflow twice yields the same findings in the same order.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/petalflow/petal/pkg/api"
	"github.com/petalflow/petal/pkg/expr"
	"github.com/petalflow/petal/pkg/template"
)

var memPattern = regexp.MustCompile(`^\d+[KMGT]i?$`)

// Validator runs whole-workflow validation.
type Validator struct {
	exprs     *expr.Evaluator
	templates *template.Engine
}

// New creates a Validator.
func New() *Validator {
	return &Validator{
		exprs:     expr.New(),
		templates: template.New(),
	}
}

// Validate checks every workflow invariant and returns all findings.
// The boolean is true when no errors were found.
func (v *Validator) Validate(wf *api.Workflow) (bool, []string) {
	var errs []string

	stepIDs := make(map[string]bool, len(wf.Steps))
	for i := range wf.Steps {
		stepIDs[wf.Steps[i].ID] = true
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		if err := step.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
		errs = append(errs, v.checkStep(wf, step)...)
	}
	for i := range wf.OnError {
		step := &wf.OnError[i]
		if err := step.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	varNames := make([]string, 0, len(wf.Vars))
	for name := range wf.Vars {
		varNames = append(varNames, name)
	}
	sort.Strings(varNames)
	for _, name := range varNames {
		if ok, msg := v.templates.Validate(wf.Vars[name]); !ok {
			errs = append(errs, fmt.Sprintf("Workflow var '%s' has an invalid template: %s", name, msg))
		}
	}

	errs = append(errs, checkDependencies(wf, stepIDs)...)
	errs = append(errs, checkCycles(wf)...)
	errs = append(errs, checkOutputUniqueness(wf)...)
	errs = append(errs, v.checkInputReferences(wf)...)

	return len(errs) == 0, errs
}

// checkStep validates everything local to one step that the parser does
// not cover: IO typing, resources, adapters, cache policy, retry
// consistency and the guard expression.
func (v *Validator) checkStep(wf *api.Workflow, step *api.Step) []string {
	var errs []string

	if step.If != "" {
		if ok, msg := v.exprs.Validate(step.If); !ok {
			errs = append(errs, fmt.Sprintf("Step '%s' has an invalid if expression: %s", step.ID, msg))
		}
	}

	for _, name := range sortedIONames(step.Inputs) {
		decl := step.Inputs[name]
		errs = append(errs, checkIODecl(step.ID, "input", name, decl)...)
	}
	for _, name := range sortedIONames(step.Outputs) {
		decl := step.Outputs[name]
		errs = append(errs, checkIODecl(step.ID, "output", name, decl)...)
	}

	errs = append(errs, checkResources(step)...)
	errs = append(errs, checkAdapter(step)...)

	if step.Cache != nil && step.Cache.Policy != "" {
		valid := false
		for _, p := range api.CachePolicies {
			if step.Cache.Policy == p {
				valid = true
				break
			}
		}
		if !valid {
			errs = append(errs, fmt.Sprintf("Step '%s' has invalid cache policy '%s' (must be one of %s)",
				step.ID, step.Cache.Policy, strings.Join(api.CachePolicies, ", ")))
		}
	}

	if step.ErrorPolicyOrDefault() == api.PolicyRetry && step.Retries == nil {
		errs = append(errs, fmt.Sprintf("Step '%s' has if_error: retry but no retries config", step.ID))
	}

	return errs
}

func checkIODecl(stepID, kind, name string, decl api.IODecl) []string {
	var errs []string
	if decl.Type == "" {
		errs = append(errs, fmt.Sprintf("Step '%s' %s '%s' is missing a type", stepID, kind, name))
	} else if !decl.Type.Valid() {
		errs = append(errs, fmt.Sprintf("Step '%s' %s '%s' has invalid type '%s'", stepID, kind, name, decl.Type))
	}
	return errs
}

func checkResources(step *api.Step) []string {
	var errs []string
	if step.Resources == nil {
		return nil
	}
	keys := make([]string, 0, len(step.Resources))
	for k := range step.Resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := step.Resources[key]
		switch key {
		case "cpu":
			f, ok := asNumber(value)
			if !ok || f <= 0 {
				errs = append(errs, fmt.Sprintf("Step '%s' has invalid cpu resource '%v' (must be a positive number)", step.ID, value))
			}
		case "mem":
			s, ok := value.(string)
			if !ok || !memPattern.MatchString(s) {
				errs = append(errs, fmt.Sprintf("Step '%s' has invalid mem resource '%v' (must match %s)", step.ID, value, memPattern))
			}
		case "gpu":
			f, ok := asNumber(value)
			if !ok || f != float64(int64(f)) || f < 0 {
				errs = append(errs, fmt.Sprintf("Step '%s' has invalid gpu resource '%v' (must be a non-negative integer)", step.ID, value))
			}
		case "network":
			if _, ok := value.(bool); !ok {
				errs = append(errs, fmt.Sprintf("Step '%s' has invalid network resource '%v' (must be a boolean)", step.ID, value))
			}
		default:
			errs = append(errs, fmt.Sprintf("Step '%s' has unknown resource '%s'", step.ID, key))
		}
	}
	return errs
}

func checkAdapter(step *api.Step) []string {
	allowed, constrained := api.AdaptersFor(step.Uses)
	if !constrained || step.Adapter == "" {
		return nil
	}
	if len(allowed) == 0 {
		return []string{fmt.Sprintf("Step '%s' of type '%s' does not accept an adapter", step.ID, step.Uses)}
	}
	for _, a := range allowed {
		if step.Adapter == a {
			return nil
		}
	}
	return []string{fmt.Sprintf("Step '%s' adapter '%s' is not allowed for '%s' (must be one of %s)",
		step.ID, step.Adapter, step.Uses, strings.Join(allowed, ", "))}
}

func checkDependencies(wf *api.Workflow, stepIDs map[string]bool) []string {
	var errs []string
	for i := range wf.Steps {
		step := &wf.Steps[i]
		for _, dep := range step.Needs {
			if !stepIDs[dep] {
				errs = append(errs, fmt.Sprintf("Step '%s' depends on missing step '%s'", step.ID, dep))
			}
			if dep == step.ID {
				errs = append(errs, fmt.Sprintf("Step '%s' depends on itself", step.ID))
			}
		}
	}
	return errs
}

// checkCycles runs a DFS over the needs graph in declaration order and
// reports every distinct cycle once, as the path that closes it.
func checkCycles(wf *api.Workflow) []string {
	adjacent := make(map[string][]string, len(wf.Steps))
	var order []string
	for i := range wf.Steps {
		step := &wf.Steps[i]
		order = append(order, step.ID)
		for _, dep := range step.Needs {
			if _, exists := wf.StepByID(dep); exists {
				adjacent[step.ID] = append(adjacent[step.ID], dep)
			}
		}
	}

	var errs []string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var path []string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		inStack[id] = true
		path = append(path, id)

		for _, dep := range adjacent[id] {
			if inStack[dep] {
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				errs = append(errs, "Cycle detected: "+strings.Join(cycle, " -> "))
				continue
			}
			if !visited[dep] {
				visit(dep)
			}
		}

		path = path[:len(path)-1]
		inStack[id] = false
	}

	for _, id := range order {
		if !visited[id] {
			visit(id)
		}
	}
	return errs
}

func checkOutputUniqueness(wf *api.Workflow) []string {
	producer := make(map[string]string)
	var errs []string
	for i := range wf.Steps {
		step := &wf.Steps[i]
		for _, name := range sortedIONames(step.Outputs) {
			if first, taken := producer[name]; taken {
				errs = append(errs, fmt.Sprintf("Output '%s' is produced by multiple steps: %s and %s", name, first, step.ID))
				continue
			}
			producer[name] = step.ID
		}
	}
	return errs
}

// checkInputReferences verifies that plain `from: outputs.<name>`
// references name an output some step actually produces, and that the
// consumer declares a needs dependency on that producer. Templated
// references are resolved at run time and skipped here.
func (v *Validator) checkInputReferences(wf *api.Workflow) []string {
	producer := make(map[string]string)
	for i := range wf.Steps {
		for name := range wf.Steps[i].Outputs {
			producer[name] = wf.Steps[i].ID
		}
	}

	var errs []string
	for i := range wf.Steps {
		step := &wf.Steps[i]
		for _, name := range sortedIONames(step.Inputs) {
			from := step.Inputs[name].From
			if from == "" || strings.Contains(from, "{{") {
				continue
			}
			if !strings.HasPrefix(from, "outputs.") {
				continue
			}
			ref := strings.TrimPrefix(from, "outputs.")
			// outputs.<step>.<field> addresses a step result directly.
			if dot := strings.Index(ref, "."); dot >= 0 {
				stepRef := ref[:dot]
				if _, exists := wf.StepByID(stepRef); !exists {
					errs = append(errs, fmt.Sprintf("Step '%s' input '%s' references missing step '%s'", step.ID, name, stepRef))
					continue
				}
				if !containsString(step.Needs, stepRef) {
					errs = append(errs, fmt.Sprintf("Step '%s' input '%s' uses output of step '%s' but does not declare it in needs", step.ID, name, stepRef))
				}
				continue
			}
			producerID, ok := producer[ref]
			if !ok {
				errs = append(errs, fmt.Sprintf("Step '%s' input '%s' references unknown output '%s'", step.ID, name, ref))
				continue
			}
			if producerID != step.ID && !containsString(step.Needs, producerID) {
				errs = append(errs, fmt.Sprintf("Step '%s' input '%s' uses output '%s' of step '%s' but does not declare it in needs", step.ID, name, ref, producerID))
			}
		}
	}
	return errs
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func sortedIONames(decls map[string]api.IODecl) []string {
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// Summary aggregates validation results for reporting.
type Summary struct {
	Workflow    string   `json:"workflow"`
	Valid       bool     `json:"valid"`
	Steps       int      `json:"steps"`
	Conditional int      `json:"conditional_steps"`
	Inputs      int      `json:"inputs"`
	Outputs     int      `json:"outputs"`
	Errors      []string `json:"errors,omitempty"`

	// Dependencies maps each step id to the steps it needs.
	Dependencies map[string][]string `json:"dependencies,omitempty"`
}

// Summarize validates a workflow and packages the outcome together with
// structural counts and the dependency map.
func (v *Validator) Summarize(wf *api.Workflow) Summary {
	valid, errs := v.Validate(wf)
	s := Summary{
		Workflow: wf.Name,
		Valid:    valid,
		Steps:    len(wf.Steps),
		Errors:   errs,
	}
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.If != "" {
			s.Conditional++
		}
		s.Inputs += len(step.Inputs)
		s.Outputs += len(step.Outputs)
		if len(step.Needs) > 0 {
			if s.Dependencies == nil {
				s.Dependencies = make(map[string][]string)
			}
			s.Dependencies[step.ID] = append([]string{}, step.Needs...)
		}
	}
	return s
}
