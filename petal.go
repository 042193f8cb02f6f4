package petal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petalflow/petal/internal/compose"
	"github.com/petalflow/petal/internal/config"
	"github.com/petalflow/petal/internal/engine"
	"github.com/petalflow/petal/internal/parser"
	"github.com/petalflow/petal/internal/persistence"
	"github.com/petalflow/petal/internal/validate"
	"github.com/petalflow/petal/pkg/api"
	"github.com/petalflow/petal/pkg/tool"
)

// Re-exported model types, so embedding applications only need this
// package for common use.
type (
	Workflow        = api.Workflow
	Step            = api.Step
	Param           = api.Param
	ParamType       = api.ParamType
	Retry           = api.Retry
	IODecl          = api.IODecl
	ErrorPolicy     = api.ErrorPolicy
	StepStatus      = api.StepStatus
	RunState        = api.RunState
	ExecutionReport = api.ExecutionReport
	Observer        = api.Observer
	RunOptions      = engine.RunOptions
	StepError       = engine.StepError
	Settings        = config.Settings
	Tool            = tool.Tool
	ToolRegistry    = tool.Registry
)

const (
	TypeString = api.TypeString
	TypeInt    = api.TypeInt
	TypeFloat  = api.TypeFloat
	TypeBool   = api.TypeBool
	TypePath   = api.TypePath
	TypeFile   = api.TypeFile
	TypeDir    = api.TypeDir
	TypeJSON   = api.TypeJSON
	TypeSecret = api.TypeSecret
	TypeBytes  = api.TypeBytes

	PolicyFail  = api.PolicyFail
	PolicySkip  = api.PolicySkip
	PolicyRetry = api.PolicyRetry
)

// ParseFile loads a workflow definition, resolving its extends chain.
func ParseFile(path string) (*Workflow, error) {
	return compose.ResolveExtends(parser.New(), path)
}

// ParseString parses a workflow definition from a YAML string. Extends
// is not resolved; use ParseFile for composed workflows.
func ParseString(src string) (*Workflow, error) {
	return parser.New().ParseString(src)
}

// Validate checks a workflow and returns all findings.
func Validate(wf *Workflow) (bool, []string) {
	return validate.New().Validate(wf)
}

// LoadSettings reads a petal.toml settings file.
func LoadSettings(path string) (*Settings, error) {
	return config.Load(path)
}

// ApplySettings merges site settings into a workflow in place.
func ApplySettings(wf *Workflow, settings *Settings) {
	compose.MergeSettings(wf, settings)
}

// Runner ties a tool registry, an engine and optional run history
// together behind one handle.
type Runner struct {
	registry *tool.Registry
	engine   *engine.Engine
	store    persistence.RunStore
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	registry  *tool.Registry
	observer  api.Observer
	logger    *slog.Logger
	historyDB string
}

// WithRegistry replaces the default tool registry.
func WithRegistry(r *tool.Registry) RunnerOption {
	return func(c *runnerConfig) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithObserver attaches an observer to every run.
func WithObserver(o api.Observer) RunnerOption {
	return func(c *runnerConfig) { c.observer = o }
}

// WithLogger sets the logger used by the engine and handed to tools.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(c *runnerConfig) { c.logger = l }
}

// WithHistoryDB persists run reports to a SQLite database at path.
func WithHistoryDB(path string) RunnerOption {
	return func(c *runnerConfig) { c.historyDB = path }
}

// NewRunner creates a Runner. Without options it uses the builtin tool
// registry, no observer and no run history.
func NewRunner(opts ...RunnerOption) (*Runner, error) {
	cfg := runnerConfig{registry: tool.NewDefaultRegistry()}
	for _, opt := range opts {
		opt(&cfg)
	}

	engineOpts := []engine.Option{}
	if cfg.observer != nil {
		engineOpts = append(engineOpts, engine.WithObserver(cfg.observer))
	}
	if cfg.logger != nil {
		engineOpts = append(engineOpts, engine.WithLogger(cfg.logger))
	}

	var store persistence.RunStore
	if cfg.historyDB != "" {
		s, err := persistence.NewSQLiteStore(cfg.historyDB)
		if err != nil {
			return nil, fmt.Errorf("opening run history: %w", err)
		}
		store = s
		engineOpts = append(engineOpts, engine.WithRunStore(s))
	}

	return &Runner{
		registry: cfg.registry,
		engine:   engine.New(cfg.registry, engineOpts...),
		store:    store,
	}, nil
}

// Registry exposes the runner's tool registry for registering custom
// tools.
func (r *Runner) Registry() *tool.Registry { return r.registry }

// Run executes a workflow.
func (r *Runner) Run(ctx context.Context, wf *Workflow, opts RunOptions) (*ExecutionReport, error) {
	return r.engine.Execute(ctx, wf, opts)
}

// Plan dry-runs a workflow, returning the materialized plan without
// invoking any tool.
func (r *Runner) Plan(ctx context.Context, wf *Workflow, opts RunOptions) (*ExecutionReport, error) {
	opts.DryRun = true
	return r.engine.Execute(ctx, wf, opts)
}

// History returns a past run's report by id. Requires WithHistoryDB.
func (r *Runner) History(ctx context.Context, runID string) (*ExecutionReport, error) {
	if r.store == nil {
		return nil, fmt.Errorf("run history is not enabled")
	}
	return r.store.GetRun(ctx, runID)
}

// Runs lists stored run reports, newest first. Requires WithHistoryDB.
func (r *Runner) Runs(ctx context.Context, workflow string, limit int) ([]*ExecutionReport, error) {
	if r.store == nil {
		return nil, fmt.Errorf("run history is not enabled")
	}
	return r.store.ListRuns(ctx, persistence.RunFilter{Workflow: workflow, Limit: limit})
}

// Close releases resources held by the runner.
func (r *Runner) Close() error {
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}
