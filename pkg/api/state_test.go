package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextPrecedence(t *testing.T) {
	wf := &Workflow{
		Petal: "1",
		Name:  "ctx",
		Env:   map[string]string{"region": "eu-west-1", "home": "/srv"},
	}
	state := NewRunState("run_x", "/tmp/run_x", wf, map[string]any{
		"region": "from-params",
		"count":  3,
	})
	state.Vars["home"] = "/var/petal"
	state.Vars["release"] = "v2"
	state.Update("build", ResultMap{"region": "from-outputs", "artifact": "app.tar"})

	ctx := state.Context()

	// Flat merge order is params, state, vars, env. Env wins over a
	// same-named var; step outputs win over params.
	assert.Equal(t, "/srv", ctx["home"])
	assert.Equal(t, "eu-west-1", ctx["region"])
	assert.Equal(t, "v2", ctx["release"])
	assert.Equal(t, 3, ctx["count"])
	assert.Equal(t, "app.tar", ctx["artifact"])

	// Qualified access still reaches the shadowed values.
	vars, ok := ctx["vars"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/var/petal", vars["home"])
	params, ok := ctx["params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "from-params", params["region"])
	outputs, ok := ctx["outputs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "from-outputs", outputs["region"])
}

func TestUpdateLastWriteWins(t *testing.T) {
	wf := &Workflow{Petal: "1", Name: "merge"}
	state := NewRunState("run_y", "/tmp/run_y", wf, nil)

	state.Update("a", ResultMap{"shared": 1, "only_a": true})
	state.Update("b", ResultMap{"shared": 2})

	assert.Equal(t, 2, state.State["shared"])
	assert.Equal(t, true, state.State["only_a"])
	assert.Equal(t, ResultMap{"shared": 1, "only_a": true}, state.StepResults["a"])
}
