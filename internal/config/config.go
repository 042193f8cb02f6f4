// Package config loads engine settings from a TOML file. Settings
// provide site-local overrides (environment, parameter defaults, vars)
// that are merged into a workflow before execution, plus named profiles
// that bundle such overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Profile is one named bundle of overrides.
type Profile struct {
	Env    map[string]string `mapstructure:"env"`
	Params map[string]any    `mapstructure:"params"`
	Vars   map[string]string `mapstructure:"vars"`
}

// Settings is the full contents of a petal.toml file.
type Settings struct {
	Env      map[string]string  `mapstructure:"env"`
	Params   map[string]any     `mapstructure:"params"`
	Vars     map[string]string  `mapstructure:"vars"`
	Profiles map[string]Profile `mapstructure:"profiles"`

	// RunDir overrides the base directory for run working directories.
	RunDir string `mapstructure:"run_dir"`
	// HistoryDB is the SQLite file for run history; empty disables it.
	HistoryDB string `mapstructure:"history_db"`
}

// Load reads settings from a TOML file. Environment variables prefixed
// with PETAL_ override file values (PETAL_RUN_DIR, PETAL_HISTORY_DB).
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("PETAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings %s: %w", path, err)
	}
	return &s, nil
}

// WithProfile returns a copy of the settings with the named profile's
// overrides layered on top of the base values.
func (s *Settings) WithProfile(name string) (*Settings, error) {
	profile, ok := s.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	merged := Settings{
		Env:       make(map[string]string, len(s.Env)+len(profile.Env)),
		Params:    make(map[string]any, len(s.Params)+len(profile.Params)),
		Vars:      make(map[string]string, len(s.Vars)+len(profile.Vars)),
		Profiles:  s.Profiles,
		RunDir:    s.RunDir,
		HistoryDB: s.HistoryDB,
	}
	for k, v := range s.Env {
		merged.Env[k] = v
	}
	for k, v := range profile.Env {
		merged.Env[k] = v
	}
	for k, v := range s.Params {
		merged.Params[k] = v
	}
	for k, v := range profile.Params {
		merged.Params[k] = v
	}
	for k, v := range s.Vars {
		merged.Vars[k] = v
	}
	for k, v := range profile.Vars {
		merged.Vars[k] = v
	}
	return &merged, nil
}
