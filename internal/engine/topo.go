package engine

import (
	"fmt"
	"strings"

	"github.com/petalflow/petal/pkg/api"
)

// topoOrder returns the steps in execution order. Among steps whose
// dependencies are all satisfied, declaration order breaks the tie, so
// the order is fully deterministic for a given workflow.
func topoOrder(wf *api.Workflow) ([]*api.Step, error) {
	indegree := make(map[string]int, len(wf.Steps))
	dependents := make(map[string][]string, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		indegree[step.ID] += 0
		for _, dep := range step.Needs {
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	scheduled := make(map[string]bool, len(wf.Steps))
	order := make([]*api.Step, 0, len(wf.Steps))

	for len(order) < len(wf.Steps) {
		picked := false
		for i := range wf.Steps {
			step := &wf.Steps[i]
			if scheduled[step.ID] || indegree[step.ID] != 0 {
				continue
			}
			scheduled[step.ID] = true
			order = append(order, step)
			for _, dependent := range dependents[step.ID] {
				indegree[dependent]--
			}
			picked = true
			break
		}
		if !picked {
			var stuck []string
			for i := range wf.Steps {
				if !scheduled[wf.Steps[i].ID] {
					stuck = append(stuck, wf.Steps[i].ID)
				}
			}
			return nil, fmt.Errorf("workflow %q has a dependency cycle involving: %s",
				wf.Name, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}
