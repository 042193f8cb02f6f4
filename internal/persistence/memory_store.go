package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petalflow/petal/pkg/api"
)

// MemoryStore is an in-memory RunStore. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*api.ExecutionReport
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*api.ExecutionReport)}
}

func (s *MemoryStore) SaveRun(ctx context.Context, report *api.ExecutionReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *report
	s.runs[report.RunID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*api.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *report
	return &cp, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.ExecutionReport
	for _, report := range s.runs {
		if !matches(report, filter) {
			continue
		}
		cp := *report
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func matches(report *api.ExecutionReport, filter RunFilter) bool {
	if filter.Workflow != "" && report.Workflow != filter.Workflow {
		return false
	}
	if filter.Status != "" && report.Status != filter.Status {
		return false
	}
	if !filter.Since.IsZero() && report.StartedAt.Before(filter.Since) {
		return false
	}
	return true
}
