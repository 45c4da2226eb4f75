package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		loader := NewLoader(filepath.Join(tmpDir, "missing.json"))

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Agent.MaxStepsPerTask)
		assert.Equal(t, "http://localhost:11434", cfg.Ollama.Host)
	})

	t.Run("loads values from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "stepwise.json")

		content := `{
			"agent": {"max_steps_per_task": 20, "step_increment": 5},
			"ollama": {"host": "http://ollama.local:11434", "model": "llama3"},
			"data_dir": "` + tmpDir + `"
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, 20, cfg.Agent.MaxStepsPerTask)
		assert.Equal(t, 5, cfg.Agent.StepIncrement)
		assert.Equal(t, "http://ollama.local:11434", cfg.Ollama.Host)
		assert.Equal(t, "llama3", cfg.Ollama.Model)

		// Unset fields keep defaults.
		assert.Equal(t, 3, cfg.Agent.MemoryTopK)
		assert.Equal(t, "nomic-embed-text", cfg.Ollama.EmbeddingModel)
	})

	t.Run("derives paths from data_dir", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "stepwise.json")

		content := `{"data_dir": "` + tmpDir + `"}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(tmpDir, "stepwise.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "keys.json"), cfg.Gemini.KeysFile)
		assert.Equal(t, filepath.Join(tmpDir, "agent_memory"), cfg.Memory.Dir)
		assert.Equal(t, filepath.Join(tmpDir, "agent_tools"), cfg.Tools.Dir)
		assert.Equal(t, filepath.Join(tmpDir, "workspace"), cfg.WorkspacePath)
	})

	t.Run("malformed file returns error", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "stepwise.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "stepwise.json")

	cfg := DefaultConfig()
	cfg.Agent.MaxStepsPerTask = 15
	cfg.DataDir = tmpDir

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 15, loaded.Agent.MaxStepsPerTask)
}

func TestGetConfigPath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		loader := NewLoader("/tmp/custom.json")
		assert.Equal(t, "/tmp/custom.json", loader.GetConfigPath())
	})

	t.Run("default path under home", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.Contains(t, path, ".stepwise")
		assert.Contains(t, path, "stepwise.json")
	})
}
