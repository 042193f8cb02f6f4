package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/petalflow/petal/pkg/api"
)

// Registry is a thread-safe name-to-tool table.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry creates a registry pre-populated with the builtin
// tools.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	// Builtins have fixed unique names, Register cannot fail here.
	_ = r.Register(NewEcho())
	_ = r.Register(NewEval())
	return r
}

// Register adds a tool. Registering a second tool under an existing
// name is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q is already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return t, nil
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns the registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateStep checks a step's with-bag against its tool without
// executing it. Unknown tools validate to false.
func (r *Registry) ValidateStep(step *api.Step) bool {
	t, err := r.Get(step.Uses)
	if err != nil {
		return false
	}
	return t.Validate(step)
}

// ExecuteStep resolves and runs the step's tool.
func (r *Registry) ExecuteStep(ctx context.Context, tc Context, step *api.Step) (api.ResultMap, error) {
	t, err := r.Get(step.Uses)
	if err != nil {
		return nil, err
	}
	return t.Execute(ctx, tc, step)
}
