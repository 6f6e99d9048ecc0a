package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, "listen_address: \"0.0.0.0:9000\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddress)
	assert.Equal(t, Defaults().Watermark, cfg.Watermark)
	assert.Equal(t, Defaults().Detector, cfg.Detector)
}

func TestLoadPreservesExplicitWatermark(t *testing.T) {
	path := writeConfig(t, "listen_address: \"0.0.0.0:9000\"\nwatermark:\n  k: 6\n  h: 5\n  l: 2\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Watermark{K: 6, H: 5, L: 2}, cfg.Watermark)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
