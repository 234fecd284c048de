package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

// Defaults applied when a file omits a value.
const (
	DefaultTokenBudget    = 4096
	DefaultTimeoutSeconds = 120
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultOpenAIURL      = "https://api.openai.com/v1"
	DefaultAnthropicURL   = "https://api.anthropic.com"
	DefaultLlamaBinary    = "llama-cli"
)

// Config is config.json.
type Config struct {
	BaseDir      string                   `json:"base_dir"`
	DefaultModel string                   `json:"default_model"`
	AutoConfirm  bool                     `json:"auto_confirm"`
	TokenBudget  int                      `json:"token_budget"`
	Models       []domain.ModelDescriptor `json:"models"`
}

// ChatProvider configures an OpenAI-compatible or Anthropic endpoint.
type ChatProvider struct {
	APIKey             string   `json:"api_key"`
	BaseURL            string   `json:"base_url"`
	TimeoutSeconds     int      `json:"timeout_seconds"`
	DefaultTemperature *float64 `json:"default_temperature"`
}

// DaemonProvider configures the local inference daemon.
type DaemonProvider struct {
	BaseURL            string   `json:"base_url"`
	TimeoutSeconds     int      `json:"timeout_seconds"`
	DefaultTemperature *float64 `json:"default_temperature"`
}

// NativeProvider configures the local inference binary.
type NativeProvider struct {
	Binary             string   `json:"binary"`
	ModelsDir          string   `json:"models_dir"`
	TimeoutSeconds     int      `json:"timeout_seconds"`
	DefaultTemperature *float64 `json:"default_temperature"`
	WSL                *bool    `json:"wsl"`
}

// Providers is providers.json.
type Providers struct {
	OpenAI    *ChatProvider   `json:"openai"`
	Anthropic *ChatProvider   `json:"anthropic"`
	Ollama    *DaemonProvider `json:"ollama"`
	LlamaCpp  *NativeProvider `json:"llamacpp"`
}

// Loaded bundles everything read from the home directory.
type Loaded struct {
	Paths     *Paths
	Config    Config
	Providers Providers
}

// Load reads .env, config.json and providers.json under home. Missing
// files yield defaults; malformed files and unknown keys are ConfigErrors.
func Load(home string) (*Loaded, error) {
	paths := NewPaths(home)
	if err := LoadDotEnv(paths.EnvFile); err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := decodeFile(paths.ConfigFile, &cfg); err != nil {
		return nil, err
	}
	if cfg.TokenBudget < 0 {
		return nil, errkind.Newf(errkind.KindConfig, "load config", "token_budget must be positive, got %d", cfg.TokenBudget)
	}
	for i, m := range cfg.Models {
		if m.ID == "" {
			return nil, errkind.Newf(errkind.KindConfig, "load config", "models[%d]: id is required", i)
		}
		if !m.Backend.Valid() {
			return nil, errkind.Newf(errkind.KindConfig, "load config", "models[%d]: unknown backend %q", i, m.Backend)
		}
	}

	var prov Providers
	if err := decodeFile(paths.ProvidersFile, &prov); err != nil {
		return nil, err
	}
	prov.applyDefaults(Env())

	cfg.applyDefaults()
	return &Loaded{Paths: paths, Config: cfg, Providers: prov}, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path without overriding variables
// already set in the process environment, then refreshes Env().
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errkind.Config("load .env", err)
	}
	ResetEnv()
	return nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errkind.Config("read "+path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errkind.Config("parse "+path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.TokenBudget == 0 {
		c.TokenBudget = DefaultTokenBudget
	}
}

func (p *Providers) applyDefaults(e *RouterEnv) {
	if p.OpenAI == nil && e.OpenAIKey != "" {
		p.OpenAI = &ChatProvider{}
	}
	if p.OpenAI != nil {
		p.OpenAI.fill(e.OpenAIKey, e.OpenAIBaseURL, DefaultOpenAIURL)
	}
	if p.Anthropic == nil && e.AnthropicKey != "" {
		p.Anthropic = &ChatProvider{}
	}
	if p.Anthropic != nil {
		p.Anthropic.fill(e.AnthropicKey, e.AnthropicBaseURL, DefaultAnthropicURL)
	}
	if p.Ollama == nil {
		p.Ollama = &DaemonProvider{}
	}
	if p.Ollama.BaseURL == "" {
		p.Ollama.BaseURL = firstNonEmpty(e.OllamaHost, DefaultOllamaURL)
	}
	if p.Ollama.TimeoutSeconds <= 0 {
		p.Ollama.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if p.LlamaCpp == nil {
		p.LlamaCpp = &NativeProvider{}
	}
	if p.LlamaCpp.Binary == "" {
		p.LlamaCpp.Binary = firstNonEmpty(e.LlamaBinary, DefaultLlamaBinary)
	}
	if p.LlamaCpp.TimeoutSeconds <= 0 {
		p.LlamaCpp.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if p.LlamaCpp.WSL == nil {
		wsl := OnWindows()
		p.LlamaCpp.WSL = &wsl
	}
}

func (c *ChatProvider) fill(envKey, envURL, defURL string) {
	if c.APIKey == "" {
		c.APIKey = envKey
	}
	if c.BaseURL == "" {
		c.BaseURL = firstNonEmpty(envURL, defURL)
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Save writes config.json atomically.
func (c Config) Save(paths *Paths) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errkind.Config("encode config", err)
	}
	if err := WriteFileAtomic(paths.ConfigFile, append(data, '\n')); err != nil {
		return errkind.Config("write config", err)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file beside path and renames it
// into place.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
