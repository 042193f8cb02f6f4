package petal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalflow/petal/pkg/api"
)

func TestParseStringAndRun(t *testing.T) {
	wf, err := ParseString(`
petal: "1"
name: smoke
steps:
  - id: calc
    uses: python.eval
    with:
      expression: "2 + 2"
  - id: report
    uses: debug.echo
    needs: [calc]
    with:
      message: "result is {{ result }}"
`)
	require.NoError(t, err)

	runner, err := NewRunner()
	require.NoError(t, err)
	defer runner.Close()

	out, err := runner.Run(context.Background(), wf, RunOptions{RunDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, int64(4), out.State["result"])
	assert.Equal(t, "result is 4", out.StepResults["report"]["message"])
}

func TestValidateFacade(t *testing.T) {
	wf := &Workflow{
		Petal: "1",
		Name:  "invalid",
		Steps: []Step{
			{ID: "a", Uses: "debug.echo", Needs: []string{"ghost"}},
		},
	}
	ok, findings := Validate(wf)
	assert.False(t, ok)
	assert.Contains(t, findings, "Step 'a' depends on missing step 'ghost'")
}

func TestRunnerPlan(t *testing.T) {
	wf, err := ParseString(`
petal: "1"
name: planned
steps:
  - id: only
    uses: debug.echo
`)
	require.NoError(t, err)

	runner, err := NewRunner()
	require.NoError(t, err)
	defer runner.Close()

	report, err := runner.Plan(context.Background(), wf, RunOptions{RunDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, api.RunDryRun, report.Status)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, "only", report.Steps[0].ID)
}

func TestRunnerHistory(t *testing.T) {
	runner, err := NewRunner(WithHistoryDB(filepath.Join(t.TempDir(), "history.db")))
	require.NoError(t, err)
	defer runner.Close()

	wf, err := ParseString(`
petal: "1"
name: remembered
steps:
  - id: only
    uses: debug.echo
`)
	require.NoError(t, err)

	report, err := runner.Run(context.Background(), wf, RunOptions{RunDir: t.TempDir()})
	require.NoError(t, err)

	stored, err := runner.History(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "remembered", stored.Workflow)

	runs, err := runner.Runs(context.Background(), "remembered", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].RunID)
}

func TestRunnerHistoryDisabled(t *testing.T) {
	runner, err := NewRunner()
	require.NoError(t, err)
	defer runner.Close()

	_, err = runner.History(context.Background(), "run_x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run history is not enabled")
}

func TestRunnerCustomTool(t *testing.T) {
	runner, err := NewRunner()
	require.NoError(t, err)
	defer runner.Close()

	assert.True(t, runner.Registry().Has("debug.echo"))
	assert.Contains(t, runner.Registry().List(), "python.eval")
}
