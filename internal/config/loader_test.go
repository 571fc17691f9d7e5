package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderMissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "pensieve.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Batch.Size)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.WatchDir)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoaderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pensieve.json")
	content := `{
		"watch_dir": "/screens/incoming",
		"data_dir": "` + dir + `",
		"capture": {"threshold": 4, "window_size": 50},
		"batch": {"size": 3, "timeout_seconds": 5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/screens/incoming", cfg.WatchDir)
	assert.Equal(t, 4, cfg.Capture.Threshold)
	assert.Equal(t, 50, cfg.Capture.WindowSize)
	assert.Equal(t, 3, cfg.Batch.Size)
	assert.Equal(t, 5, cfg.Batch.TimeoutSeconds)

	// Unset values keep their defaults.
	assert.Equal(t, 5, cfg.Batch.MaxRawCaptures)
	assert.Equal(t, filepath.Join(dir, "pensieve.log"), cfg.Logging.File)
}

func TestLoaderSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pensieve.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.WatchDir = "/screens"
	cfg.Batch.Size = 7
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "/screens", loaded.WatchDir)
	assert.Equal(t, 7, loaded.Batch.Size)
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "records.db"), cfg.RecordsDBPath())
	assert.Equal(t, filepath.Join("/data", "entities.db"), cfg.EntitiesDBPath())
	assert.Equal(t, filepath.Join("/data", "pensieve.pid"), cfg.PIDFilePath())
}
