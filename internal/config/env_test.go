package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/errkind"
)

func TestEnv(t *testing.T) {
	ResetEnv()
	t.Setenv("LLMROUTER_HOME", "/tmp/router-home")
	t.Setenv("LLMROUTER_DEBUG", "1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	defer ResetEnv()

	env := Env()

	assert.Equal(t, "/tmp/router-home", env.Home)
	assert.True(t, env.Debug)
	assert.Equal(t, "sk-test", env.OpenAIKey)
	assert.Equal(t, "http://gpu-box:11434", env.OllamaHost)
}

func TestEnvSingleton(t *testing.T) {
	ResetEnv()
	defer ResetEnv()

	assert.Same(t, Env(), Env())
}

func TestResolveHome(t *testing.T) {
	ResetEnv()
	defer ResetEnv()

	assert.Equal(t, "/explicit", ResolveHome("/explicit"))

	t.Setenv("LLMROUTER_HOME", "/from-env")
	ResetEnv()
	assert.Equal(t, "/from-env", ResolveHome(""))

	t.Setenv("LLMROUTER_HOME", "")
	ResetEnv()
	assert.Equal(t, ".llmrouter", filepath.Base(ResolveHome("")))
}

func TestPaths(t *testing.T) {
	p := NewPaths("/home/u/.llmrouter")

	assert.Equal(t, "/home/u/.llmrouter/config.json", p.ConfigFile)
	assert.Equal(t, "/home/u/.llmrouter/sessions.db", p.Database)
	assert.Equal(t, "/home/u/.llmrouter/logs/llmrouter.log", p.LogFile)
	assert.Equal(t, "/home/u/.llmrouter/templates/x.yaml", p.Path("templates", "x.yaml"))
}

func TestEnsure(t *testing.T) {
	p := NewPaths(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, p.Ensure())

	for _, dir := range []string{p.Home, p.Templates, p.Workflows, p.Logs} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoadDefaults(t *testing.T) {
	ResetEnv()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("LLAMA_CLI", "")
	defer ResetEnv()

	loaded, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultTokenBudget, loaded.Config.TokenBudget)
	assert.Nil(t, loaded.Providers.OpenAI)
	assert.Nil(t, loaded.Providers.Anthropic)
	require.NotNil(t, loaded.Providers.Ollama)
	assert.Equal(t, DefaultOllamaURL, loaded.Providers.Ollama.BaseURL)
	require.NotNil(t, loaded.Providers.LlamaCpp)
	assert.Equal(t, DefaultLlamaBinary, loaded.Providers.LlamaCpp.Binary)
	assert.Equal(t, DefaultTimeoutSeconds, loaded.Providers.LlamaCpp.TimeoutSeconds)
}

func TestLoadFiles(t *testing.T) {
	ResetEnv()
	t.Setenv("ANTHROPIC_API_KEY", "")
	defer ResetEnv()

	home := t.TempDir()
	writeFile(t, filepath.Join(home, "config.json"), `{
  "base_dir": "/src",
  "default_model": "qwen-coder",
  "auto_confirm": true,
  "token_budget": 2000,
  "models": [{"id": "mine", "name": "Mine", "backend": "daemon", "locator": "mine:latest", "categories": ["general"], "context_window": 8192}]
}`)
	writeFile(t, filepath.Join(home, "providers.json"), `{
  "anthropic": {"api_key": "ak", "timeout_seconds": 30},
  "llamacpp": {"binary": "/opt/llama-cli", "models_dir": "/models", "wsl": false}
}`)

	loaded, err := Load(home)
	require.NoError(t, err)

	assert.Equal(t, "/src", loaded.Config.BaseDir)
	assert.True(t, loaded.Config.AutoConfirm)
	assert.Equal(t, 2000, loaded.Config.TokenBudget)
	require.Len(t, loaded.Config.Models, 1)
	assert.Equal(t, "mine:latest", loaded.Config.Models[0].Locator)

	require.NotNil(t, loaded.Providers.Anthropic)
	assert.Equal(t, "ak", loaded.Providers.Anthropic.APIKey)
	assert.Equal(t, 30, loaded.Providers.Anthropic.TimeoutSeconds)
	assert.Equal(t, DefaultAnthropicURL, loaded.Providers.Anthropic.BaseURL)
	assert.Equal(t, "/opt/llama-cli", loaded.Providers.LlamaCpp.Binary)
	assert.False(t, *loaded.Providers.LlamaCpp.WSL)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	ResetEnv()
	defer ResetEnv()

	home := t.TempDir()
	writeFile(t, filepath.Join(home, "providers.json"), `{"ollama": {"base_url": "http://x", "colour": "red"}}`)

	_, err := Load(home)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindConfig))
}

func TestLoadRejectsBadBackend(t *testing.T) {
	ResetEnv()
	defer ResetEnv()

	home := t.TempDir()
	writeFile(t, filepath.Join(home, "config.json"), `{"models": [{"id": "x", "backend": "carrier-pigeon"}]}`)

	_, err := Load(home)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestDotEnvFallback(t *testing.T) {
	ResetEnv()
	os.Unsetenv("OPENAI_API_KEY")
	defer func() {
		os.Unsetenv("OPENAI_API_KEY")
		ResetEnv()
	}()

	home := t.TempDir()
	writeFile(t, filepath.Join(home, ".env"), "OPENAI_API_KEY=sk-from-dotenv\n")

	loaded, err := Load(home)
	require.NoError(t, err)
	require.NotNil(t, loaded.Providers.OpenAI)
	assert.Equal(t, "sk-from-dotenv", loaded.Providers.OpenAI.APIKey)
	assert.Equal(t, DefaultOpenAIURL, loaded.Providers.OpenAI.BaseURL)
}

func TestConfigSaveAtomic(t *testing.T) {
	p := NewPaths(t.TempDir())
	cfg := Config{DefaultModel: "m", TokenBudget: 100, AutoConfirm: true}
	require.NoError(t, cfg.Save(p))

	ResetEnv()
	defer ResetEnv()
	loaded, err := Load(p.Home)
	require.NoError(t, err)
	assert.Equal(t, cfg.DefaultModel, loaded.Config.DefaultModel)
	assert.True(t, loaded.Config.AutoConfirm)

	entries, err := os.ReadDir(p.Home)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
