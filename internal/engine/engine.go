// Package engine executes workflows: it orders steps topologically,
// evaluates guards, renders templates, invokes tools through the
// registry and drives the per-step retry state machine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petalflow/petal/internal/persistence"
	"github.com/petalflow/petal/internal/validate"
	"github.com/petalflow/petal/pkg/api"
	"github.com/petalflow/petal/pkg/expr"
	"github.com/petalflow/petal/pkg/template"
	"github.com/petalflow/petal/pkg/tool"
)

// StepError reports which step aborted a run.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// RunOptions configures a single Execute call.
type RunOptions struct {
	// RunDir is the base directory for per-run working directories.
	// Empty means <cwd>/runs.
	RunDir string
	// DryRun materializes the execution plan without invoking any tool.
	DryRun bool
	// Params are the caller-supplied workflow parameter values.
	Params map[string]any
}

// Engine runs workflows against a tool registry.
type Engine struct {
	registry  *tool.Registry
	templates *template.Engine
	exprs     *expr.Evaluator
	validator *validate.Validator
	observer  api.Observer
	logger    *slog.Logger
	store     persistence.RunStore

	// injectable for tests
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	jitter func(d time.Duration) time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the run observer.
func WithObserver(o api.Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the logger handed to tools and used by the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRunStore enables run-history persistence.
func WithRunStore(s persistence.RunStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithSleep replaces the backoff sleep function.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithJitter replaces the backoff jitter function.
func WithJitter(jitter func(d time.Duration) time.Duration) Option {
	return func(e *Engine) {
		if jitter != nil {
			e.jitter = jitter
		}
	}
}

// New creates an Engine backed by the given tool registry.
func New(registry *tool.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		templates: template.New(),
		exprs:     expr.New(),
		validator: validate.New(),
		observer:  api.NoopObserver{},
		logger:    slog.Default(),
		sleep:     ctxSleep,
		now:       time.Now,
		jitter:    fullJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Execute runs a workflow to completion. On failure the returned report
// (status "failed") captures the partial state, and the error is a
// *StepError for step-level failures.
func (e *Engine) Execute(ctx context.Context, wf *api.Workflow, opts RunOptions) (*api.ExecutionReport, error) {
	if valid, errs := e.validator.Validate(wf); !valid {
		return nil, fmt.Errorf("workflow %q failed validation: %s", wf.Name, strings.Join(errs, "; "))
	}

	params, err := e.resolveParams(wf, opts.Params)
	if err != nil {
		return nil, err
	}

	// The timestamp keeps ids sortable; the suffix keeps runs started
	// within the same second distinct.
	runID := "run_" + e.now().UTC().Format("20060102_150405") + "_" + uuid.NewString()[:8]
	base := opts.RunDir
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving run directory: %w", err)
		}
		base = filepath.Join(cwd, "runs")
	}
	runDir := filepath.Join(base, runID)

	state := api.NewRunState(runID, runDir, wf, params)
	if err := e.renderVars(wf, state); err != nil {
		return nil, err
	}

	order, err := topoOrder(wf)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		report := e.buildPlan(wf, state, order)
		e.saveReport(ctx, report)
		return report, nil
	}

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	startedAt := e.now()
	e.observer.OnRunStart(ctx, state, wf.Name)

	for _, step := range order {
		if err := ctx.Err(); err != nil {
			return e.failRun(ctx, wf, state, startedAt, err)
		}
		if err := e.executeStep(ctx, wf, step, state); err != nil {
			return e.failRun(ctx, wf, state, startedAt, err)
		}
	}

	e.observer.OnRunCompleted(ctx, state)
	report := e.buildReport(wf, state, api.RunCompleted, startedAt)
	e.saveReport(ctx, report)
	return report, nil
}

func (e *Engine) failRun(ctx context.Context, wf *api.Workflow, state *api.RunState, startedAt time.Time, cause error) (*api.ExecutionReport, error) {
	e.runOnError(ctx, wf, state)
	e.observer.OnRunFailed(ctx, state, cause)
	report := e.buildReport(wf, state, api.RunFailed, startedAt)
	e.saveReport(ctx, report)
	return report, cause
}

// resolveParams merges caller values over declared defaults and checks
// requiredness and types.
func (e *Engine) resolveParams(wf *api.Workflow, provided map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(wf.Params))

	names := make([]string, 0, len(wf.Params))
	for name := range wf.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		decl := wf.Params[name]
		value, given := provided[name]
		if !given {
			if decl.Default != nil {
				resolved[name] = decl.Default
				continue
			}
			if decl.Required {
				return nil, fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if err := api.CheckValue(decl.Type, value); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		resolved[name] = value
	}

	for name := range provided {
		if _, declared := wf.Params[name]; !declared {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
	}
	return resolved, nil
}

// renderVars resolves workflow vars once, in sorted name order, against
// the params/env context.
func (e *Engine) renderVars(wf *api.Workflow, state *api.RunState) error {
	names := make([]string, 0, len(wf.Vars))
	for name := range wf.Vars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rendered, err := e.templates.Render(wf.Vars[name], state.Context())
		if err != nil {
			return fmt.Errorf("rendering var %q: %w", name, err)
		}
		state.Vars[name] = rendered
	}
	return nil
}

// executeStep drives one step through its lifecycle. A returned error
// aborts the run; policy-absorbed failures return nil.
func (e *Engine) executeStep(ctx context.Context, wf *api.Workflow, step *api.Step, state *api.RunState) error {
	// A step only runs when every dependency completed; anything else
	// (skipped, failed-but-absorbed) skips it transitively.
	for _, dep := range step.Needs {
		if state.StepStatus[dep] != api.StatusCompleted {
			state.SetStepStatus(step.ID, api.StatusSkipped)
			e.observer.OnStepCompleted(ctx, state, step.ID, api.StatusSkipped, nil, 0)
			return nil
		}
	}

	if step.If != "" {
		pass, err := e.exprs.Evaluate(step.If, state.Context())
		if err != nil {
			return &StepError{StepID: step.ID, Err: fmt.Errorf("evaluating if expression: %w", err)}
		}
		if !pass {
			state.SetStepStatus(step.ID, api.StatusSkipped)
			e.observer.OnStepCompleted(ctx, state, step.ID, api.StatusSkipped, nil, 0)
			return nil
		}
	}

	rendered, err := e.renderStep(step, state)
	if err != nil {
		return &StepError{StepID: step.ID, Err: err}
	}

	// A retries config enables retrying on its own; if_error decides
	// what happens once attempts are exhausted.
	policy := step.ErrorPolicyOrDefault()
	maxAttempts := 1
	if step.Retries != nil {
		maxAttempts = step.Retries.MaxAttempts
	}

	var lastErr error
	start := e.now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state.SetStepStatus(step.ID, api.StatusRunning)
		e.observer.OnStepStart(ctx, state, step.ID, attempt)

		result, err := e.invokeTool(ctx, rendered, state)
		if err == nil {
			state.Update(step.ID, result)
			state.SetStepStatus(step.ID, api.StatusCompleted)
			e.observer.OnStepCompleted(ctx, state, step.ID, api.StatusCompleted, nil, e.now().Sub(start))
			return nil
		}
		lastErr = err

		if attempt < maxAttempts {
			state.SetStepStatus(step.ID, api.StatusRetrying)
			delay := e.backoffDelay(step.Retries, attempt)
			e.logger.WarnContext(ctx, "step retrying",
				"step", step.ID, "attempt", attempt, "delay", delay, "error", err)
			if serr := e.sleep(ctx, delay); serr != nil {
				return &StepError{StepID: step.ID, Err: serr}
			}
		}
	}

	duration := e.now().Sub(start)
	if policy == api.PolicySkip {
		state.SetStepStatus(step.ID, api.StatusSkipped)
		e.logger.WarnContext(ctx, "step failed, skipping", "step", step.ID, "error", lastErr)
		e.observer.OnStepCompleted(ctx, state, step.ID, api.StatusSkipped, lastErr, duration)
		return nil
	}

	state.SetStepStatus(step.ID, api.StatusFailed)
	e.observer.OnStepCompleted(ctx, state, step.ID, api.StatusFailed, lastErr, duration)
	return &StepError{StepID: step.ID, Err: lastErr}
}

// renderStep materializes a copy of the step with its with-bag and env
// overrides rendered against the current run state.
func (e *Engine) renderStep(step *api.Step, state *api.RunState) (*api.Step, error) {
	ctx := state.Context()

	rendered := *step
	if step.With != nil {
		bag, err := e.renderValue(step.With, ctx)
		if err != nil {
			return nil, fmt.Errorf("rendering with: %w", err)
		}
		rendered.With = bag.(map[string]any)
	}
	if step.Env != nil {
		env := make(map[string]string, len(step.Env))
		for k, v := range step.Env {
			rv, err := e.templates.Render(v, ctx)
			if err != nil {
				return nil, fmt.Errorf("rendering env %q: %w", k, err)
			}
			env[k] = rv
		}
		rendered.Env = env
	}
	return &rendered, nil
}

func (e *Engine) renderValue(value any, ctx map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return e.templates.Render(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			rv, err := e.renderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rv, err := e.renderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return value, nil
	}
}

// invokeTool runs the step's tool, enforcing the step timeout when set.
func (e *Engine) invokeTool(ctx context.Context, step *api.Step, state *api.RunState) (api.ResultMap, error) {
	env := make(map[string]string, len(state.Env)+len(step.Env))
	for k, v := range state.Env {
		env[k] = v
	}
	for k, v := range step.Env {
		env[k] = v
	}
	tc := tool.Context{
		State:  state.Context(),
		RunDir: state.RunDir,
		Env:    env,
		Logger: e.logger,
	}

	if step.Timeout == "" {
		return e.registry.ExecuteStep(ctx, tc, step)
	}

	timeout, err := time.ParseDuration(step.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout %q: %w", step.Timeout, err)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result api.ResultMap
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.registry.ExecuteStep(tctx, tc, step)
		done <- outcome{result, err}
	}()

	select {
	case <-tctx.Done():
		if tctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timed out after %s", timeout)
		}
		return nil, tctx.Err()
	case o := <-done:
		return o.result, o.err
	}
}

// backoffDelay computes the wait before the next attempt:
// backoff_factor^attempt seconds, capped at max_delay, with optional
// full jitter.
func (e *Engine) backoffDelay(retry *api.Retry, attempt int) time.Duration {
	if retry == nil {
		return 0
	}
	seconds := 1.0
	for i := 0; i < attempt; i++ {
		seconds *= retry.BackoffFactor
	}
	if retry.MaxDelay > 0 && seconds > retry.MaxDelay {
		seconds = retry.MaxDelay
	}
	delay := time.Duration(seconds * float64(time.Second))
	if retry.Jitter {
		delay = e.jitter(delay)
	}
	return delay
}

// runOnError executes the workflow's on_error sequence best-effort:
// each handler step runs in order and failures are logged, never
// propagated.
func (e *Engine) runOnError(ctx context.Context, wf *api.Workflow, state *api.RunState) {
	for i := range wf.OnError {
		step := &wf.OnError[i]
		rendered, err := e.renderStep(step, state)
		if err != nil {
			e.logger.WarnContext(ctx, "on_error handler render failed", "step", step.ID, "error", err)
			continue
		}
		if _, err := e.invokeTool(ctx, rendered, state); err != nil {
			e.logger.WarnContext(ctx, "on_error handler failed", "step", step.ID, "error", err)
		}
	}
}

func (e *Engine) buildReport(wf *api.Workflow, state *api.RunState, status api.RunStatus, startedAt time.Time) *api.ExecutionReport {
	return &api.ExecutionReport{
		RunID:       state.RunID,
		Workflow:    wf.Name,
		Status:      status,
		RunDir:      state.RunDir,
		State:       state.State,
		StepResults: state.StepResults,
		StepStatus:  state.StepStatus,
		StartedAt:   startedAt,
		FinishedAt:  e.now(),
	}
}

// buildPlan materializes the dry-run plan: the steps in execution order
// with the state keys each would read and write, taken from the IO
// declarations.
func (e *Engine) buildPlan(wf *api.Workflow, state *api.RunState, order []*api.Step) *api.ExecutionReport {
	now := e.now()
	steps := make([]api.PlanStep, 0, len(order))
	for _, step := range order {
		steps = append(steps, api.PlanStep{
			ID:      step.ID,
			Uses:    step.Uses,
			Reads:   sortedIONames(step.Inputs),
			Writes:  sortedIONames(step.Outputs),
			If:      step.If,
			OnError: step.ErrorPolicyOrDefault(),
			Retry:   step.Retries,
			With:    step.With,
		})
	}
	return &api.ExecutionReport{
		RunID:      state.RunID,
		Workflow:   wf.Name,
		Status:     api.RunDryRun,
		RunDir:     state.RunDir,
		Steps:      steps,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func (e *Engine) saveReport(ctx context.Context, report *api.ExecutionReport) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveRun(ctx, report); err != nil {
		e.logger.WarnContext(ctx, "saving run report failed", "run_id", report.RunID, "error", err)
	}
}

func sortedIONames(decls map[string]api.IODecl) []string {
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
