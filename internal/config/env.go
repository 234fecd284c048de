// Package config provides centralized configuration management.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// RouterEnv holds the environment variables the router consults.
type RouterEnv struct {
	// Home overrides the home directory (LLMROUTER_HOME)
	Home string

	// Debug enables debug-level logging (LLMROUTER_DEBUG)
	Debug bool

	// NoColor disables colored output (NO_COLOR)
	NoColor bool

	// OpenAIKey is the OpenAI-compatible API key (OPENAI_API_KEY)
	OpenAIKey string

	// OpenAIBaseURL overrides the OpenAI base URL (OPENAI_BASE_URL)
	OpenAIBaseURL string

	// AnthropicKey is the Anthropic API key (ANTHROPIC_API_KEY)
	AnthropicKey string

	// AnthropicBaseURL overrides the Anthropic API base URL (ANTHROPIC_BASE_URL)
	AnthropicBaseURL string

	// OllamaHost is the inference daemon address (OLLAMA_HOST)
	OllamaHost string

	// LlamaBinary overrides the native inference binary (LLAMA_CLI)
	LlamaBinary string
}

var (
	env     *RouterEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call. Call LoadDotEnv first so that
// values from <home>/.env are visible.
func Env() *RouterEnv {
	envOnce.Do(func() {
		env = &RouterEnv{
			Home:             os.Getenv("LLMROUTER_HOME"),
			Debug:            os.Getenv("LLMROUTER_DEBUG") == "1",
			NoColor:          os.Getenv("NO_COLOR") != "",
			OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
			AnthropicKey:     os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			OllamaHost:       os.Getenv("OLLAMA_HOST"),
			LlamaBinary:      os.Getenv("LLAMA_CLI"),
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

// Paths holds the router's file layout under one home directory.
type Paths struct {
	// Home is the router home directory (~/.llmrouter)
	Home string

	// ConfigFile is config.json
	ConfigFile string

	// ProvidersFile is providers.json
	ProvidersFile string

	// PreferencesFile is preferences.json
	PreferencesFile string

	// EnvFile is the .env credentials file
	EnvFile string

	// Templates holds prompt templates (*.yaml)
	Templates string

	// Workflows holds workflow definitions (*.yaml)
	Workflows string

	// Database is the session store (sessions.db)
	Database string

	// Logs is the log directory
	Logs string

	// LogFile is the interactive-mode log file
	LogFile string
}

// ResolveHome picks the home directory: explicit flag, then
// LLMROUTER_HOME, then ~/.llmrouter.
func ResolveHome(flag string) string {
	if flag != "" {
		return flag
	}
	if h := Env().Home; h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".llmrouter")
}

// NewPaths lays out the files under home.
func NewPaths(home string) *Paths {
	return &Paths{
		Home:            home,
		ConfigFile:      filepath.Join(home, "config.json"),
		ProvidersFile:   filepath.Join(home, "providers.json"),
		PreferencesFile: filepath.Join(home, "preferences.json"),
		EnvFile:         filepath.Join(home, ".env"),
		Templates:       filepath.Join(home, "templates"),
		Workflows:       filepath.Join(home, "workflows"),
		Database:        filepath.Join(home, "sessions.db"),
		Logs:            filepath.Join(home, "logs"),
		LogFile:         filepath.Join(home, "logs", "llmrouter.log"),
	}
}

// Path returns a path under the home directory.
func (p *Paths) Path(parts ...string) string {
	return filepath.Join(append([]string{p.Home}, parts...)...)
}

// Ensure creates the home directory tree.
func (p *Paths) Ensure() error {
	for _, dir := range []string{p.Home, p.Templates, p.Workflows, p.Logs} {
		if err := EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// OnWindows reports whether the native backend should tunnel through WSL
// by default.
func OnWindows() bool {
	return runtime.GOOS == "windows"
}
