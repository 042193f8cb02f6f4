package compose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalflow/petal/internal/config"
	"github.com/petalflow/petal/internal/parser"
	"github.com/petalflow/petal/pkg/api"
)

func writeWorkflow(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveExtends(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "base.petal", `
petal: "1"
name: base
description: shared pipeline
env:
  STAGE: dev
vars:
  prefix: base-
steps:
  - id: build
    uses: debug.echo
    with:
      message: base build
  - id: test
    uses: debug.echo
    needs: [build]
`)
	child := writeWorkflow(t, dir, "child.petal", `
petal: "1"
name: child
composition_enabled: true
extends: base.petal
env:
  STAGE: prod
steps:
  - id: build
    uses: debug.echo
    with:
      message: child build
  - id: deploy
    uses: debug.echo
    needs: [test]
`)

	wf, err := ResolveExtends(parser.New(), child)
	require.NoError(t, err)

	assert.Equal(t, "child", wf.Name)
	assert.Equal(t, "shared pipeline", wf.Description)
	assert.Equal(t, "prod", wf.Env["STAGE"])
	assert.Equal(t, "base-", wf.Vars["prefix"])

	require.Len(t, wf.Steps, 3)
	assert.Equal(t, "build", wf.Steps[0].ID)
	assert.Equal(t, "child build", wf.Steps[0].With["message"])
	assert.Equal(t, "test", wf.Steps[1].ID)
	assert.Equal(t, "deploy", wf.Steps[2].ID)
}

func TestResolveExtendsRequiresCompositionEnabled(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "base.petal", `
petal: "1"
name: base
steps: []
`)
	child := writeWorkflow(t, dir, "child.petal", `
petal: "1"
name: child
composition_enabled: false
extends: base.petal
steps: []
`)

	_, err := ResolveExtends(parser.New(), child)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composition_enabled is false")
}

func TestResolveExtendsDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "a.petal", `
petal: "1"
name: a
composition_enabled: true
extends: b.petal
steps: []
`)
	a := filepath.Join(dir, "a.petal")
	writeWorkflow(t, dir, "b.petal", `
petal: "1"
name: b
composition_enabled: true
extends: a.petal
steps: []
`)

	_, err := ResolveExtends(parser.New(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extends cycle detected")
}

func TestResolveWithoutExtends(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "solo.petal", `
petal: "1"
name: solo
steps:
  - id: only
    uses: debug.echo
`)

	wf, err := ResolveExtends(parser.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "solo", wf.Name)
	require.Len(t, wf.Steps, 1)
}

func TestMergeSettings(t *testing.T) {
	wf := &api.Workflow{
		Petal: "1",
		Name:  "configured",
		Params: map[string]api.Param{
			"region": {Type: api.TypeString, Required: true},
		},
		Env: map[string]string{"STAGE": "dev"},
	}
	settings := &config.Settings{
		Env:    map[string]string{"STAGE": "prod", "EXTRA": "1"},
		Vars:   map[string]string{"prefix": "cfg-"},
		Params: map[string]any{"region": "eu-west-1", "dry": true, "workers": 4},
	}

	MergeSettings(wf, settings)

	assert.Equal(t, "prod", wf.Env["STAGE"])
	assert.Equal(t, "1", wf.Env["EXTRA"])
	assert.Equal(t, "cfg-", wf.Vars["prefix"])

	// declared param keeps its type, gains a default
	region := wf.Params["region"]
	assert.Equal(t, api.TypeString, region.Type)
	assert.Equal(t, "eu-west-1", region.Default)

	// undeclared params are declared with inferred types
	dry := wf.Params["dry"]
	assert.Equal(t, api.TypeBool, dry.Type)
	assert.Equal(t, true, dry.Default)
	assert.Equal(t, "Override from config: dry", dry.Help)

	workers := wf.Params["workers"]
	assert.Equal(t, api.TypeInt, workers.Type)
}

func TestMergeSettingsNil(t *testing.T) {
	wf := &api.Workflow{Petal: "1", Name: "untouched"}
	MergeSettings(wf, nil)
	assert.Nil(t, wf.Env)
	assert.Nil(t, wf.Params)
}
