package backend

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joss/llmrouter/internal/domain"
)

// Daemon executes requests against an Ollama-compatible local daemon.
type Daemon struct {
	base
	baseURL string
	client  HTTPClient
}

// NewDaemon creates a daemon adapter.
func NewDaemon(baseURL string, timeoutSeconds int, defaultTemp *float64, client HTTPClient) *Daemon {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Daemon{
		base:    newBase("backend.daemon", timeoutSeconds, defaultTemp),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (d *Daemon) Kind() domain.BackendKind { return domain.BackendDaemon }

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	NumCtx      *int     `json:"num_ctx,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"models"`
}

// Execute posts to /api/generate without streaming.
func (d *Daemon) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	start := time.Now()
	if ctx.Err() != nil {
		return d.cancelled(req, start)
	}
	p := d.params(req)

	body := ollamaGenerateRequest{
		Model:  locator(req.Model),
		Prompt: req.Prompt,
		System: req.System,
		Options: ollamaOptions{
			Temperature: p.Temperature,
			TopP:        p.TopP,
			TopK:        p.TopK,
			NumPredict:  p.MaxTokens,
			Stop:        p.Stop,
			NumCtx:      p.ContextWindow,
		},
	}

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	var out ollamaGenerateResponse
	if err := doJSON(callCtx, d.client, http.MethodPost, d.baseURL+"/api/generate", nil, body, &out); err != nil {
		return d.failure(ctx, req, start, err)
	}
	return d.success(req, start, out.Response, out.PromptEvalCount, out.EvalCount)
}

// ListModels returns the tags the daemon has pulled.
func (d *Daemon) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	var tags ollamaTagsResponse
	if err := doJSON(callCtx, d.client, http.MethodGet, d.baseURL+"/api/tags", nil, nil, &tags); err != nil {
		return nil, err
	}
	models := make([]domain.ModelDescriptor, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, discovered(domain.BackendDaemon, m.Name))
	}
	return models, nil
}

// ValidateConfig checks that the daemon answers.
func (d *Daemon) ValidateConfig(ctx context.Context) error {
	_, err := d.ListModels(ctx)
	return err
}

// locator is the backend-side model name.
func locator(m domain.ModelDescriptor) string {
	if m.Locator != "" {
		return m.Locator
	}
	return m.ID
}
