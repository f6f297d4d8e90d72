package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpolymath/januskey/internal/fsmodel"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, fsmodel.MetaDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MinPasses)
	assert.Equal(t, "info", cfg.Verbosity)
	assert.False(t, cfg.Delta)
	assert.Zero(t, cfg.MaxHistory)
}

func TestLoadFromFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "min_passes: 5\nverbosity: debug\ndelta: true\nmax_history: 1000\n")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MinPasses)
	assert.Equal(t, "debug", cfg.Verbosity)
	assert.True(t, cfg.Delta)
	assert.Equal(t, 1000, cfg.MaxHistory)
}

func TestSchemaRejectsLowPasses(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "min_passes: 2\n")

	_, err := Load(root)
	assert.Error(t, err, "passes below the DoD floor must not validate")
}

func TestSchemaRejectsUnknownVerbosity(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "verbosity: loud\n")

	_, err := Load(root)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvMinPasses, "7")
	t.Setenv(EnvVerbosity, "warn")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MinPasses)
	assert.Equal(t, "warn", cfg.Verbosity)
}

func TestEnvMinPassesBelowFloorRejected(t *testing.T) {
	t.Setenv(EnvMinPasses, "1")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestUnknownEnvIgnored(t *testing.T) {
	t.Setenv("JANUSKEY_SOMETHING_ELSE", "whatever")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestRootResolution(t *testing.T) {
	got, err := Root("/explicit")
	require.NoError(t, err)
	assert.Equal(t, "/explicit", got)

	t.Setenv(EnvRoot, "/from-env")
	got, err = Root("")
	require.NoError(t, err)
	assert.Equal(t, "/from-env", got)
}
