package backend

import (
	"net/http"

	"github.com/joss/llmrouter/internal/config"
	"github.com/joss/llmrouter/internal/exec"
	"github.com/joss/llmrouter/internal/tokens"
	"github.com/joss/llmrouter/pkg/llm"
)

// Factory builds the adapter set from providers.json.
type Factory struct {
	httpClient HTTPClient
	runner     exec.Runner
	estimator  tokens.Estimator
}

// Option modifies factory configuration.
type Option func(*Factory)

// WithHTTPClient sets the HTTP client shared by the HTTP adapters.
func WithHTTPClient(client HTTPClient) Option {
	return func(f *Factory) { f.httpClient = client }
}

// WithRunner sets the subprocess runner for the native adapter.
func WithRunner(r exec.Runner) Option {
	return func(f *Factory) { f.runner = r }
}

// WithEstimator overrides the token estimator of every adapter.
func WithEstimator(e tokens.Estimator) Option {
	return func(f *Factory) { f.estimator = e }
}

// NewFactory creates a factory.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		httpClient: &http.Client{},
		runner:     exec.Default,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build creates one adapter per configured provider. The daemon and
// native adapters are always registered, on their default endpoint and
// binary when unconfigured; the chat adapters only when their section
// exists.
func (f *Factory) Build(p config.Providers) *llm.AdapterSet {
	set := llm.NewAdapterSet()

	daemon := p.Ollama
	if daemon == nil {
		daemon = &config.DaemonProvider{BaseURL: config.DefaultOllamaURL, TimeoutSeconds: config.DefaultTimeoutSeconds}
	}
	d := NewDaemon(daemon.BaseURL, daemon.TimeoutSeconds, daemon.DefaultTemperature, f.httpClient)
	d.estimator = f.pick(tokens.Default)
	set.Register(d)

	native := p.LlamaCpp
	if native == nil {
		native = &config.NativeProvider{Binary: config.DefaultLlamaBinary, TimeoutSeconds: config.DefaultTimeoutSeconds}
	}
	wsl := config.OnWindows()
	if native.WSL != nil {
		wsl = *native.WSL
	}
	n := NewNative(native.Binary, native.ModelsDir, wsl, native.TimeoutSeconds, native.DefaultTemperature, f.runner)
	n.estimator = f.pick(tokens.Default)
	set.Register(n)

	if p.OpenAI != nil {
		o := NewOpenAI(p.OpenAI.APIKey, p.OpenAI.BaseURL, p.OpenAI.TimeoutSeconds, p.OpenAI.DefaultTemperature, f.httpClient)
		o.estimator = f.pick(tokens.NewTiktoken(""))
		set.Register(o)
	}
	if p.Anthropic != nil {
		a := NewAnthropic(p.Anthropic.APIKey, p.Anthropic.BaseURL, p.Anthropic.TimeoutSeconds, p.Anthropic.DefaultTemperature, f.httpClient)
		a.estimator = f.pick(tokens.Default)
		set.Register(a)
	}
	return set
}

func (f *Factory) pick(def tokens.Estimator) tokens.Estimator {
	if f.estimator != nil {
		return f.estimator
	}
	return def
}
