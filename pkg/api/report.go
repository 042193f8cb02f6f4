package api

import "time"

// RunStatus is the terminal status of an Execute call.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunDryRun    RunStatus = "dry_run"
)

// PlanStep is one entry of a dry-run execution plan.
type PlanStep struct {
	ID      string         `json:"id"`
	Uses    string         `json:"uses"`
	Reads   []string       `json:"reads"`
	Writes  []string       `json:"writes"`
	If      string         `json:"if,omitempty"`
	OnError ErrorPolicy    `json:"if_error"`
	Retry   *Retry         `json:"retry,omitempty"`
	With    map[string]any `json:"with,omitempty"`
}

// ExecutionReport is the value returned by a successful Execute call.
// A completed run carries the accumulated state and per-step results;
// a dry run carries the materialized plan instead.
type ExecutionReport struct {
	RunID    string    `json:"run_id"`
	Workflow string    `json:"workflow"`
	Status   RunStatus `json:"status"`
	RunDir   string    `json:"run_dir"`

	State       map[string]any        `json:"state,omitempty"`
	StepResults map[string]ResultMap  `json:"step_results,omitempty"`
	StepStatus  map[string]StepStatus `json:"step_status,omitempty"`

	Steps []PlanStep `json:"steps,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
