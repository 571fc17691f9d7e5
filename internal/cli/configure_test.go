package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pensieved/pensieve/internal/config"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("writes config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "pensieve.json")

		cmd := GetRootCmd()
		cmd.SetArgs([]string{
			"--config", configPath,
			"configure",
			"--anthropic-key", "test-key",
			"--watch-dir", filepath.Join(tmpDir, "captures"),
			"--data-dir", tmpDir,
		})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		_, err = os.Stat(configPath)
		require.NoError(t, err)

		cfg, err := config.Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, tmpDir, cfg.DataDir)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "anthropic", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, "test-key", cfg.AI.Profiles[0].APIKey)
	})

	t.Run("rejects config without credentials", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "pensieve.json")

		cmd := GetRootCmd()
		cmd.SetArgs([]string{
			"--config", configPath,
			"configure",
			"--anthropic-key", "",
			"--watch-dir", filepath.Join(tmpDir, "captures"),
			"--data-dir", tmpDir,
		})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		assert.Error(t, err)
	})
}

func TestSetProfile(t *testing.T) {
	cfg := config.DefaultConfig()

	setProfile(cfg, "anthropic", "key-1", 10)
	require.Len(t, cfg.AI.Profiles, 1)

	// Same provider updates in place
	setProfile(cfg, "anthropic", "key-2", 10)
	require.Len(t, cfg.AI.Profiles, 1)
	assert.Equal(t, "key-2", cfg.AI.Profiles[0].APIKey)

	setProfile(cfg, "openai", "key-3", 5)
	require.Len(t, cfg.AI.Profiles, 2)
}
