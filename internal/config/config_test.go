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
	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 3, cfg.Pipeline.StageMaxAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9999"
queue:
  workers: 8
  max_attempts: 5
pipeline:
  stage_timeout_sec: 30
logging:
  level: debug
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30, cfg.Pipeline.StageTimeoutSec)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unspecified values keep their defaults.
	assert.Equal(t, Default().Queue.LeaseSec, cfg.Queue.LeaseSec)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_NormalizesBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queue:
  workers: -1
pipeline:
  stage_max_attempts: 0
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Queue.Workers, cfg.Queue.Workers)
	assert.Equal(t, Default().Pipeline.StageMaxAttempts, cfg.Pipeline.StageMaxAttempts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(listenAddrEnv, ":7070")
	t.Setenv(primaryAPIKeyEnv, "sk-primary")
	t.Setenv(logLevelEnv, "warn")

	cfg := Load()
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "sk-primary", cfg.Providers.Primary.APIKey)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestPipelineTimeouts(t *testing.T) {
	cfg := PipelineConfig{StageTimeoutSec: 90, CallTimeoutSec: 45}
	assert.Equal(t, 90*time.Second, cfg.StageTimeout())
	assert.Equal(t, 45*time.Second, cfg.CallTimeout())
}
