package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "9410", cfg.Server.Port)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 4096, cfg.Pipeline.UnitSize)
	assert.Equal(t, 128, cfg.Pipeline.MaxDepth)
	assert.True(t, cfg.Pipeline.ZeroCopy)
	assert.Equal(t, 100<<20, cfg.Pipeline.MapCeiling)
	assert.Equal(t, "map", cfg.Consumer.Mode)
	assert.Equal(t, time.Second, cfg.Consumer.WaitTimeout)
	assert.Equal(t, 10, cfg.Consumer.ErrorThreshold)
	assert.Equal(t, 3, cfg.Consumer.ReopenAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Consumer.HealthInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TFSD_PIPELINE_UNIT_SIZE", "8192")
	t.Setenv("TFSD_PIPELINE_MAX_DEPTH", "64")
	t.Setenv("TFSD_PIPELINE_ZERO_COPY", "false")
	t.Setenv("TFSD_CONSUMER_CONSUME_MODE", "read")
	t.Setenv("TFSD_CONSUMER_WAIT_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8192, cfg.Pipeline.UnitSize)
	assert.Equal(t, 64, cfg.Pipeline.MaxDepth)
	assert.False(t, cfg.Pipeline.ZeroCopy)
	assert.Equal(t, "read", cfg.Consumer.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Consumer.WaitTimeout)

	// Untouched fields keep their tag defaults.
	assert.Equal(t, "9410", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Consumer.ErrorThreshold)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tfsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  unit_size: 16384
  max_depth: 32
consumer:
  mode: read
  error_threshold: 5
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 16384, cfg.Pipeline.UnitSize)
	assert.Equal(t, 32, cfg.Pipeline.MaxDepth)
	assert.Equal(t, "read", cfg.Consumer.Mode)
	assert.Equal(t, 5, cfg.Consumer.ErrorThreshold)

	// Sections the file omits keep their environment defaults.
	assert.Equal(t, "9410", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: [not a map"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()
	require.NotNil(t, cfg)
	assert.Equal(t, 4096, cfg.Pipeline.UnitSize)
}
