// Package tool defines the contract between the workflow engine and the
// tools steps invoke, plus the registry that holds them.
package tool

import (
	"context"
	"log/slog"

	"github.com/petalflow/petal/pkg/api"
)

// Context carries the per-run environment a tool executes in.
type Context struct {
	// State is the merged evaluation context (params, accumulated state,
	// env and the namespaced views of each).
	State map[string]any
	// RunDir is the working directory of the current run.
	RunDir string
	// Env is the effective environment for the step.
	Env map[string]string
	// Logger is never nil; tools log through it.
	Logger *slog.Logger
}

// ConfigField describes one input a tool accepts in a step's with-bag.
type ConfigField struct {
	Name        string
	Type        api.ParamType
	Required    bool
	Default     any
	Description string
}

// Tool is implemented by anything a step can invoke through `uses:`.
//
// Execute receives the rendered with-bag on the step and returns the
// result map merged into run state. Returning an error marks the step
// failed, subject to its if_error policy.
type Tool interface {
	// Name returns the registry key, e.g. "debug.echo".
	Name() string
	// Config describes the accepted with-bag fields.
	Config() []ConfigField
	// Validate reports whether the step's with-bag is acceptable without
	// executing anything.
	Validate(step *api.Step) bool
	// Execute runs the tool.
	Execute(ctx context.Context, tc Context, step *api.Step) (api.ResultMap, error)
}

// NotFoundError is returned when a step names a tool the registry does
// not hold. It is a step failure, not an engine failure: the step's
// if_error policy decides whether the run dies.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return "Tool not found: " + e.Name }
