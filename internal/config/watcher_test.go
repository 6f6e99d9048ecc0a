package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadRejectsWatermarkChange(t *testing.T) {
	path := writeConfig(t, "listen_address: \"0.0.0.0:9000\"\nwatermark:\n  k: 10\n  h: 8\n  l: 1\n")

	w, err := NewWatcher(path, Watermark{K: 10, H: 8, L: 1})
	require.NoError(t, err)
	defer w.watcher.Close()

	// Rewrite the file with a different watermark; reload must keep the
	// original fixed value instead of adopting the file's.
	require.NoError(t, os.WriteFile(path, []byte("listen_address: \"0.0.0.0:9000\"\nwatermark:\n  k: 20\n  h: 15\n  l: 3\n"), 0o644))

	require.NoError(t, w.reload())

	select {
	case cfg := <-w.Updates():
		assert.Equal(t, Watermark{K: 10, H: 8, L: 1}, cfg.Watermark)
	default:
		t.Fatal("expected a reloaded config on the updates channel")
	}
}

func TestReloadAcceptsDetectorChange(t *testing.T) {
	path := writeConfig(t, "listen_address: \"0.0.0.0:9000\"\ndetector:\n  probe_period_seconds: 1\n  probe_timeout_seconds: 1\n  failure_threshold: 5\n")

	w, err := NewWatcher(path, Defaults().Watermark)
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte("listen_address: \"0.0.0.0:9000\"\ndetector:\n  probe_period_seconds: 2\n  probe_timeout_seconds: 2\n  failure_threshold: 8\n"), 0o644))
	require.NoError(t, w.reload())

	select {
	case cfg := <-w.Updates():
		assert.Equal(t, 8, cfg.Detector.FailureThreshold)
	default:
		t.Fatal("expected a reloaded config on the updates channel")
	}
}
