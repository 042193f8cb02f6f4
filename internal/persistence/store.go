// Package persistence stores finished run reports for later inspection.
// Two implementations are provided: an in-memory store for tests and
// embedded use, and a SQLite-backed store for durable run history.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petalflow/petal/pkg/api"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

// RunFilter narrows ListRuns results. Zero values mean "no constraint".
type RunFilter struct {
	Workflow string
	Status   api.RunStatus
	Since    time.Time
	Limit    int
}

// RunStore persists execution reports.
type RunStore interface {
	// SaveRun stores a finished run report, overwriting any previous
	// report with the same run id.
	SaveRun(ctx context.Context, report *api.ExecutionReport) error

	// GetRun fetches a report by run id. Returns ErrRunNotFound when the
	// id is unknown.
	GetRun(ctx context.Context, runID string) (*api.ExecutionReport, error)

	// ListRuns returns reports matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*api.ExecutionReport, error)

	// Close releases any resources held by the store.
	Close() error
}
