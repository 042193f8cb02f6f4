package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the executor for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay step execution.
type Observer interface {
	// OnRunStart is called once per Execute call, after the run state
	// has been initialized and before the first step runs.
	OnRunStart(ctx context.Context, state *RunState, workflow string)

	// OnRunCompleted is called when a run finishes with every remaining
	// step completed or skipped.
	OnRunCompleted(ctx context.Context, state *RunState)

	// OnRunFailed is called when a run aborts.
	OnRunFailed(ctx context.Context, state *RunState, err error)

	// OnStepStart is called before a step's tool is invoked. For retried
	// steps it fires once per attempt.
	OnStepStart(ctx context.Context, state *RunState, stepID string, attempt int)

	// OnStepCompleted is called after a step settles, for completed,
	// skipped and failed outcomes alike (err != nil on failure).
	OnStepCompleted(ctx context.Context, state *RunState, stepID string, status StepStatus, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, state *RunState, workflow string) {}
func (NoopObserver) OnRunCompleted(ctx context.Context, state *RunState)              {}
func (NoopObserver) OnRunFailed(ctx context.Context, state *RunState, err error)      {}
func (NoopObserver) OnStepStart(ctx context.Context, state *RunState, stepID string, attempt int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, state *RunState, stepID string, status StepStatus, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, state *RunState, workflow string) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, state, workflow)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, state *RunState) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, state)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, state *RunState, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, state, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, state *RunState, stepID string, attempt int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, state, stepID, attempt)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, state *RunState, stepID string, status StepStatus, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, state, stepID, status, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, state *RunState, workflow string) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("workflow", workflow),
		slog.String("run_id", state.RunID),
		slog.String("run_dir", state.RunDir),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, state *RunState) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("run_id", state.RunID),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, state *RunState, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("run_id", state.RunID),
		slog.String("step", state.CurrentStep),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, state *RunState, stepID string, attempt int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("run_id", state.RunID),
		slog.String("step", stepID),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, state *RunState, stepID string, status StepStatus, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("run_id", state.RunID),
		slog.String("step", stepID),
		slog.String("status", string(status)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	stepsCompleted    atomic.Int64
	stepsSkipped      atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64

	StepsCompleted  int64
	StepsSkipped    int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, state *RunState, workflow string) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, state *RunState) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, state *RunState, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, state *RunState, stepID string, status StepStatus, err error, d time.Duration) {
	switch status {
	case StatusCompleted:
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	case StatusSkipped:
		m.stepsSkipped.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     m.runsStarted.Load(),
		RunsCompleted:   m.runsCompleted.Load(),
		RunsFailed:      m.runsFailed.Load(),
		StepsCompleted:  steps,
		StepsSkipped:    m.stepsSkipped.Load(),
		AvgStepDuration: avg,
	}
}
