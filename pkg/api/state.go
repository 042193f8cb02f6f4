package api

// ResultMap is the raw output payload a tool returns for one step.
// Values must be plain data (strings, numbers, booleans, lists, maps).
type ResultMap = map[string]any

// RunState is the mutable execution state of a single run. It is owned
// exclusively by the executor for the duration of one Execute call and
// discarded (or persisted as part of the report) afterwards.
type RunState struct {
	RunID  string
	RunDir string

	// Params and Env are copied from the workflow when the run starts.
	Params map[string]any
	Env    map[string]string
	// Vars holds the workflow vars after one-time template rendering.
	Vars map[string]string

	// State is the flat namespace of accumulated step outputs.
	// On key collision, later steps in execution order win.
	State map[string]any

	StepStatus  map[string]StepStatus
	StepResults map[string]ResultMap

	// CurrentStep is the id of the step currently running, or "".
	CurrentStep string
}

// NewRunState initializes the state for one run. Every declared step
// starts out pending.
func NewRunState(runID, runDir string, wf *Workflow, params map[string]any) *RunState {
	env := make(map[string]string, len(wf.Env))
	for k, v := range wf.Env {
		env[k] = v
	}

	status := make(map[string]StepStatus, len(wf.Steps))
	for _, s := range wf.Steps {
		status[s.ID] = StatusPending
	}

	return &RunState{
		RunID:       runID,
		RunDir:      runDir,
		Params:      params,
		Env:         env,
		Vars:        make(map[string]string),
		State:       make(map[string]any),
		StepStatus:  status,
		StepResults: make(map[string]ResultMap),
	}
}

// Update merges a step's outputs into the shared flat state namespace
// and records the raw result. Last write wins on key collision.
func (s *RunState) Update(stepID string, outputs ResultMap) {
	for k, v := range outputs {
		s.State[k] = v
	}
	s.StepResults[stepID] = outputs
}

// SetStepStatus records a step lifecycle transition.
func (s *RunState) SetStepStatus(stepID string, status StepStatus) {
	s.StepStatus[stepID] = status
	if status == StatusRunning {
		s.CurrentStep = stepID
	} else if s.CurrentStep == stepID {
		s.CurrentStep = ""
	}
}

// Context assembles the resolution context for templates and guard
// expressions. Flat keys merge params, accumulated state, vars, then
// env (later wins, so an env key shadows a same-named var); the four
// namespaces are exposed on top for qualified access like params.name
// or outputs.report.
func (s *RunState) Context() map[string]any {
	ctx := make(map[string]any, len(s.Params)+len(s.State)+len(s.Vars)+len(s.Env)+4)
	for k, v := range s.Params {
		ctx[k] = v
	}
	for k, v := range s.State {
		ctx[k] = v
	}
	for k, v := range s.Vars {
		ctx[k] = v
	}
	for k, v := range s.Env {
		ctx[k] = v
	}

	params := make(map[string]any, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	outputs := make(map[string]any, len(s.State))
	for k, v := range s.State {
		outputs[k] = v
	}
	env := make(map[string]any, len(s.Env))
	for k, v := range s.Env {
		env[k] = v
	}
	vars := make(map[string]any, len(s.Vars))
	for k, v := range s.Vars {
		vars[k] = v
	}

	ctx["params"] = params
	ctx["outputs"] = outputs
	ctx["env"] = env
	ctx["vars"] = vars
	return ctx
}
