package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Level string `yaml:"level"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SB_SET", "value")
	t.Setenv("SB_EMPTY", "")

	assert.Equal(t, "value", ExpandEnv("${SB_SET}"))
	assert.Equal(t, "value", ExpandEnv("$SB_SET"))
	assert.Equal(t, "value", ExpandEnv("${SB_SET:-fallback}"))
	assert.Equal(t, "fallback", ExpandEnv("${SB_EMPTY:-fallback}"))
	assert.Equal(t, "fallback", ExpandEnv("${SB_UNSET_VAR:-fallback}"))
	assert.Equal(t, "", ExpandEnv("${SB_UNSET_VAR}"))
	assert.Equal(t, "America/New_York", ExpandEnv("${SB_UNSET_VAR:-America/New_York}"))
}

func TestLoad(t *testing.T) {
	t.Setenv("SB_PORT", "9090")
	path := writeFile(t, "name: ${SB_NAME:-surveybox}\nport: ${SB_PORT}\nlevel: info\n")

	var cfg sample
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, sample{Name: "surveybox", Port: 9090, Level: "info"}, cfg)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeFile(t, "name: x\n")
	var cfg sample
	err := Load(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port is required")
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg sample
	assert.Error(t, Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg))
}

func TestLoadWithDefaults(t *testing.T) {
	def := writeFile(t, "port: 1\n")
	var cfg sample
	require.NoError(t, LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), def, &cfg))
	assert.Equal(t, 1, cfg.Port)

	assert.Error(t, LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), "", &cfg))
}
