package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "docker", cfg.Sandbox.Backend)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout())
	assert.Equal(t, "gpt-3.5-turbo", cfg.LLM.OpenAIModel)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-6)
}

func TestLoadConfigYAMLOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
port: 9090
sandbox:
  backend: process
  default_timeout_ms: 1500
llm:
  provider: ollama
  ollama_model: llama3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "process", cfg.Sandbox.Backend)
	assert.Equal(t, 1500*time.Millisecond, cfg.Sandbox.Timeout())
	assert.Equal(t, 256, cfg.Sandbox.MaxMemoryMB, "unset fields keep defaults")
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.OLLAMAModel)
}

func TestLoadConfigEnvOverridesYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "port: 9090\n")
	t.Setenv("PYBUDDY_PORT", "7070")
	t.Setenv("PYBUDDY_SANDBOX_BACKEND", "process")
	t.Setenv("DEEPSEEK_API_KEY", "sk-deep")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "process", cfg.Sandbox.Backend)
	assert.Equal(t, "sk-deep", cfg.LLM.APIKey("DeepSeek"))
	assert.Empty(t, cfg.LLM.APIKey("ollama"))
}

func TestLoadConfigNormalizesNames(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "log_format: JSON\nsandbox:\n  backend: Docker\nllm:\n  provider: \" Ollama\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "docker", cfg.Sandbox.Backend)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("bad int env", func(t *testing.T) {
		t.Setenv("PYBUDDY_TIMEOUT_MS", "soon")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "PYBUDDY_TIMEOUT_MS")
	})

	t.Run("unknown backend", func(t *testing.T) {
		path := writeConfig(t, "sandbox:\n  backend: vm\n")
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, `unknown sandbox backend "vm"`)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestSlogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "DEBUG"
	assert.Equal(t, "DEBUG", cfg.SlogLevel().String())
	cfg.LogLevel = "bogus"
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
}
