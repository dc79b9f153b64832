package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Nil config.
	require.Error(t, Validate(nil))

	// Missing model name.
	cfg := Default()
	cfg.ModelName = ""
	require.Error(t, Validate(cfg))

	// Bad port.
	cfg = Default()
	cfg.OllamaPort = -1
	require.Error(t, Validate(cfg))

	// Bad URL.
	cfg = Default()
	cfg.ModelURL = "not a url"
	require.Error(t, Validate(cfg))

	// Defaults validate cleanly.
	require.NoError(t, Validate(Default()))
}

// TestValidateFillsDefaults ensures zero-valued timeouts and paths are defaulted.
func TestValidateFillsDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.InstallRoot = ""
	cfg.HTTPTimeout = 0
	cfg.StartupTimeout = 0

	require.NoError(t, Validate(cfg))
	require.NotEmpty(t, cfg.InstallRoot)
	require.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	require.Equal(t, DefaultStartupTimeout, cfg.StartupTimeout)
}

// TestLoadMissingFileUsesDefaults ensures a missing settings file is not fatal.
func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultModelName, cfg.ModelName)
	require.Equal(t, DefaultOllamaPort, cfg.OllamaPort)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := Default()
	cfg.InstallRoot = filepath.Join(dir, "stack")
	cfg.ModelName = "tinyllama-local"
	cfg.OpenWebUIPort = 3456

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.InstallRoot, loaded.InstallRoot)
	require.Equal(t, "tinyllama-local", loaded.ModelName)
	require.Equal(t, 3456, loaded.OpenWebUIPort)
}

// TestLayoutPaths verifies the directory tree derives from the install root.
func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.InstallRoot = filepath.Join("tmp", "stack")
	l := NewLayout(cfg)

	require.Equal(t, filepath.Join("tmp", "stack", "downloads"), l.Downloads())
	require.Equal(t, filepath.Join("tmp", "stack", "models", "Modelfile"), l.Modelfile())
	require.Contains(t, l.All(), l.Logs())
}
