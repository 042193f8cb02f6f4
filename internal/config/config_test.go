package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSettings = `
run_dir = "/var/petal/runs"
history_db = "/var/petal/history.db"

[env]
STAGE = "dev"

[params]
region = "us-east-1"
count = 3

[vars]
prefix = "dev-"

[profiles.prod]
[profiles.prod.env]
STAGE = "prod"
[profiles.prod.params]
region = "eu-west-1"
`

func writeSettings(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "petal.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	s, err := Load(writeSettings(t, sampleSettings))
	require.NoError(t, err)

	assert.Equal(t, "/var/petal/runs", s.RunDir)
	assert.Equal(t, "/var/petal/history.db", s.HistoryDB)
	assert.Equal(t, "dev", s.Env["STAGE"])
	assert.Equal(t, "us-east-1", s.Params["region"])
	assert.EqualValues(t, 3, s.Params["count"])
	assert.Equal(t, "dev-", s.Vars["prefix"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestWithProfile(t *testing.T) {
	s, err := Load(writeSettings(t, sampleSettings))
	require.NoError(t, err)

	prod, err := s.WithProfile("prod")
	require.NoError(t, err)

	assert.Equal(t, "prod", prod.Env["STAGE"])
	assert.Equal(t, "eu-west-1", prod.Params["region"])
	// values absent from the profile keep their base
	assert.EqualValues(t, 3, prod.Params["count"])
	assert.Equal(t, "dev-", prod.Vars["prefix"])

	// base settings are untouched
	assert.Equal(t, "dev", s.Env["STAGE"])
}

func TestWithUnknownProfile(t *testing.T) {
	s, err := Load(writeSettings(t, sampleSettings))
	require.NoError(t, err)

	_, err = s.WithProfile("staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown profile "staging"`)
}
