package petal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBuildsValidWorkflow(t *testing.T) {
	wf, err := NewBuilder("deploy").
		Description("ship it").
		Param("region", TypeString, WithRequired(), WithHelp("Target region")).
		Param("count", TypeInt, WithDefault(3)).
		Env("STAGE", "prod").
		Var("banner", "deploying to {{ params.region }}").
		Step("build", "debug.echo").
		With("message", "building").
		Timeout("30s").
		Done().
		Step("release", "debug.echo").
		Needs("build").
		If("params.count > 0").
		Retry(3, 2).
		Done().
		Build()
	require.NoError(t, err)

	assert.Equal(t, "1", wf.Petal)
	assert.Equal(t, "deploy", wf.Name)
	assert.True(t, wf.Params["region"].Required)
	assert.Equal(t, 3, wf.Params["count"].Default)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, []string{"build"}, wf.Steps[1].Needs)
	assert.Equal(t, PolicyRetry, wf.Steps[1].OnError)
	require.NotNil(t, wf.Steps[1].Retries)
	assert.Equal(t, 3, wf.Steps[1].Retries.MaxAttempts)
}

func TestBuilderAccumulatesErrors(t *testing.T) {
	_, err := NewBuilder("broken").
		Param("x", TypeInt, WithDefault("not an int")).
		Step("", "debug.echo").Done().
		Step("dup", "debug.echo").Done().
		Step("dup", "debug.echo").Done().
		Build()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `parameter "x"`)
	assert.Contains(t, msg, "step id cannot be empty")
	assert.Contains(t, msg, `step "dup" declared twice`)
}

func TestBuilderRunsValidation(t *testing.T) {
	_, err := NewBuilder("invalid").
		Step("a", "debug.echo").Needs("ghost").Done().
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Step 'a' depends on missing step 'ghost'")
}

func TestBuiltWorkflowRuns(t *testing.T) {
	wf, err := NewBuilder("smoke").
		Step("calc", "python.eval").
		With("expression", "6 * 7").
		Done().
		Build()
	require.NoError(t, err)

	runner, err := NewRunner()
	require.NoError(t, err)
	defer runner.Close()

	report, err := runner.Run(context.Background(), wf, RunOptions{RunDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, int64(42), report.State["result"])
}
