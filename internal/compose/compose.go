// Package compose implements workflow composition: resolving `extends:`
// chains into a single flattened workflow, and merging site settings
// (env, parameter overrides, vars) into a workflow before execution.
package compose

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/petalflow/petal/internal/config"
	"github.com/petalflow/petal/pkg/api"
)

// maxExtendsDepth bounds extends chains; deeper chains are almost
// certainly cycles through differently-spelled paths.
const maxExtendsDepth = 10

// Loader parses one workflow file; satisfied by *parser.Parser.
type Loader interface {
	ParseFile(path string) (*api.Workflow, error)
}

// ResolveExtends flattens a workflow's extends chain. The workflow at
// path is loaded, and while it names a parent the parent is loaded and
// merged underneath it (child values win). Extends requires
// composition_enabled on the child.
func ResolveExtends(loader Loader, path string) (*api.Workflow, error) {
	return resolveExtends(loader, path, make(map[string]bool), 0)
}

func resolveExtends(loader Loader, path string, seen map[string]bool, depth int) (*api.Workflow, error) {
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("extends chain exceeds depth %d at %s", maxExtendsDepth, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if seen[abs] {
		return nil, fmt.Errorf("extends cycle detected at %s", path)
	}
	seen[abs] = true

	wf, err := loader.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if wf.Extends == "" {
		return wf, nil
	}
	if !wf.CompositionEnabled {
		return nil, fmt.Errorf("workflow %q uses extends but composition_enabled is false", wf.Name)
	}

	parentPath := wf.Extends
	if !filepath.IsAbs(parentPath) {
		parentPath = filepath.Join(filepath.Dir(path), parentPath)
	}
	parent, err := resolveExtends(loader, parentPath, seen, depth+1)
	if err != nil {
		return nil, fmt.Errorf("resolving parent of %q: %w", wf.Name, err)
	}
	return mergeWorkflows(parent, wf), nil
}

// mergeWorkflows layers a child over its parent. Maps merge with child
// values winning; a child step with the id of a parent step replaces it
// in place, other child steps append in declaration order.
func mergeWorkflows(parent, child *api.Workflow) *api.Workflow {
	merged := &api.Workflow{
		Petal:              child.Petal,
		Name:               child.Name,
		Description:        child.Description,
		CompositionEnabled: child.CompositionEnabled,
		Artifacts:          child.Artifacts,
	}
	if merged.Description == "" {
		merged.Description = parent.Description
	}

	merged.Params = mergeParamMaps(parent.Params, child.Params)
	merged.Env = mergeStringMaps(parent.Env, child.Env)
	merged.Vars = mergeStringMaps(parent.Vars, child.Vars)

	merged.Steps = append([]api.Step{}, parent.Steps...)
	for _, step := range child.Steps {
		replaced := false
		for i := range merged.Steps {
			if merged.Steps[i].ID == step.ID {
				merged.Steps[i] = step
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Steps = append(merged.Steps, step)
		}
	}

	merged.Outputs = parent.Outputs
	if len(child.Outputs) > 0 {
		merged.Outputs = child.Outputs
	}
	merged.OnError = parent.OnError
	if len(child.OnError) > 0 {
		merged.OnError = child.OnError
	}
	return merged
}

// MergeSettings applies site settings to a workflow in place: env and
// vars update child-wins, parameter overrides become new defaults, and
// overrides for undeclared parameters declare them with an inferred
// type.
func MergeSettings(wf *api.Workflow, settings *config.Settings) {
	if settings == nil {
		return
	}

	if len(settings.Env) > 0 && wf.Env == nil {
		wf.Env = make(map[string]string, len(settings.Env))
	}
	for k, v := range settings.Env {
		wf.Env[k] = v
	}

	if len(settings.Vars) > 0 && wf.Vars == nil {
		wf.Vars = make(map[string]string, len(settings.Vars))
	}
	for k, v := range settings.Vars {
		wf.Vars[k] = v
	}

	if len(settings.Params) > 0 && wf.Params == nil {
		wf.Params = make(map[string]api.Param, len(settings.Params))
	}
	names := make([]string, 0, len(settings.Params))
	for name := range settings.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := settings.Params[name]
		if declared, ok := wf.Params[name]; ok {
			declared.Default = value
			wf.Params[name] = declared
			continue
		}
		wf.Params[name] = api.Param{
			Type:    inferType(value),
			Default: value,
			Help:    "Override from config: " + name,
		}
	}
}

func inferType(v any) api.ParamType {
	switch v.(type) {
	case bool:
		return api.TypeBool
	case int, int32, int64:
		return api.TypeInt
	case float32, float64:
		return api.TypeFloat
	case map[string]any, []any:
		return api.TypeJSON
	default:
		return api.TypeString
	}
}

func mergeStringMaps(parent, child map[string]string) map[string]string {
	if parent == nil && child == nil {
		return nil
	}
	out := make(map[string]string, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

func mergeParamMaps(parent, child map[string]api.Param) map[string]api.Param {
	if parent == nil && child == nil {
		return nil
	}
	out := make(map[string]api.Param, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}
