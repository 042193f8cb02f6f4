package tool

import (
	"context"
	"time"

	"github.com/petalflow/petal/pkg/api"
	"github.com/petalflow/petal/pkg/expr"
)

// Echo is the debug.echo builtin: it logs a message and echoes its
// inputs back as outputs. Useful for wiring and smoke-testing flows.
type Echo struct{}

// NewEcho creates the debug.echo tool.
func NewEcho() *Echo { return &Echo{} }

func (e *Echo) Name() string { return "debug.echo" }

func (e *Echo) Config() []ConfigField {
	return []ConfigField{
		{Name: "message", Type: api.TypeString, Default: "", Description: "Message to log and echo back"},
		{Name: "level", Type: api.TypeString, Default: "info", Description: "Log level: debug, info, warn or error"},
		{Name: "timestamp", Type: api.TypeBool, Default: false, Description: "Include an RFC 3339 timestamp in the result"},
	}
}

func (e *Echo) Validate(step *api.Step) bool {
	if step.With == nil {
		return true
	}
	if v, ok := step.With["message"]; ok {
		if _, isStr := v.(string); !isStr {
			return false
		}
	}
	if v, ok := step.With["level"]; ok {
		s, isStr := v.(string)
		if !isStr {
			return false
		}
		switch s {
		case "debug", "info", "warn", "error":
		default:
			return false
		}
	}
	return true
}

func (e *Echo) Execute(ctx context.Context, tc Context, step *api.Step) (api.ResultMap, error) {
	message := ""
	level := "info"
	withTimestamp := false
	if step.With != nil {
		if v, ok := step.With["message"].(string); ok {
			message = v
		}
		if v, ok := step.With["level"].(string); ok && v != "" {
			level = v
		}
		if v, ok := step.With["timestamp"].(bool); ok {
			withTimestamp = v
		}
	}

	switch level {
	case "debug":
		tc.Logger.DebugContext(ctx, message, "tool", e.Name())
	case "warn":
		tc.Logger.WarnContext(ctx, message, "tool", e.Name())
	case "error":
		tc.Logger.ErrorContext(ctx, message, "tool", e.Name())
	default:
		tc.Logger.InfoContext(ctx, message, "tool", e.Name())
	}

	result := api.ResultMap{
		"message": message,
		"level":   level,
		"logged":  true,
	}
	if withTimestamp {
		result["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	return result, nil
}

// Eval is the python.eval builtin: it evaluates a guard-language
// expression against caller-supplied globals. Evaluation failures are
// reported in the result map rather than as a step failure, so flows
// can branch on them.
type Eval struct {
	evaluator *expr.Evaluator
}

// NewEval creates the python.eval tool.
func NewEval() *Eval {
	return &Eval{evaluator: expr.New()}
}

func (e *Eval) Name() string { return "python.eval" }

func (e *Eval) Config() []ConfigField {
	return []ConfigField{
		{Name: "expression", Type: api.TypeString, Required: true, Description: "Expression to evaluate"},
		{Name: "globals", Type: api.TypeJSON, Description: "Variables visible to the expression"},
	}
}

func (e *Eval) Validate(step *api.Step) bool {
	if step.With == nil {
		return false
	}
	expression, ok := step.With["expression"].(string)
	if !ok || expression == "" {
		return false
	}
	if v, ok := step.With["globals"]; ok && v != nil {
		if _, isMap := v.(map[string]any); !isMap {
			return false
		}
	}
	return true
}

func (e *Eval) Execute(ctx context.Context, tc Context, step *api.Step) (api.ResultMap, error) {
	expression, _ := step.With["expression"].(string)
	globals := map[string]any{}
	if g, ok := step.With["globals"].(map[string]any); ok {
		globals = g
	}

	value, err := e.evaluator.EvaluateValue(expression, globals)
	if err != nil {
		return api.ResultMap{
			"error":      err.Error(),
			"expression": expression,
		}, nil
	}
	return api.ResultMap{
		"result":     value,
		"expression": expression,
	}, nil
}
