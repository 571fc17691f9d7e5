package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pensieved/pensieve/internal/config"
	"github.com/pensieved/pensieve/internal/logger"
)

func createTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.WatchDir = filepath.Join(dataDir, "captures")
	cfg.Entities.Enabled = false
	cfg.Retention.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.AI.Profiles = []config.AIProfile{
		{ID: "primary", Provider: "anthropic", APIKey: "test-key", Priority: 10},
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	return log
}

func TestDaemonNew(t *testing.T) {
	cfg := createTestConfig(t)
	log := createTestLogger(t)

	d, err := New(cfg, log)
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.NotNil(t, d.GetPipeline())
	assert.NotNil(t, d.GetRecords())
	assert.Nil(t, d.GetEntityStore())
	assert.Equal(t, cfg, d.GetConfig())

	status := d.Status()
	assert.False(t, status.Running)
	assert.Zero(t, status.Uptime)

	d.closeStores()
}

func TestDaemonStartStop(t *testing.T) {
	cfg := createTestConfig(t)
	log := createTestLogger(t)

	d, err := New(cfg, log)
	require.NoError(t, err)

	require.NoError(t, d.Start())

	status := d.Status()
	assert.True(t, status.Running)
	assert.False(t, status.StartTime.IsZero())

	// PID file exists while running
	pid, err := ReadPIDFile(cfg.PIDFilePath())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, d.lifecycle.IsRunning())

	// Double start is rejected
	assert.Error(t, d.Start())

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)

	_, err = ReadPIDFile(cfg.PIDFilePath())
	assert.True(t, os.IsNotExist(err))

	// Double stop is rejected
	assert.Error(t, d.Stop())
}

func TestDaemonEntitiesEnabled(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.Entities.Enabled = true
	log := createTestLogger(t)

	d, err := New(cfg, log)
	require.NoError(t, err)

	// No openai profile: store opens without an embedder
	assert.NotNil(t, d.GetEntityStore())

	d.closeStores()
}

func TestProcessRunning(t *testing.T) {
	assert.True(t, ProcessRunning(os.Getpid()))
	assert.False(t, ProcessRunning(1<<30))
}
