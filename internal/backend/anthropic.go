package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"

	// The messages API requires max_tokens.
	anthropicDefaultMaxTokens = 1024
)

// Anthropic executes requests against the Anthropic messages API.
type Anthropic struct {
	base
	apiKey  string
	baseURL string
	client  HTTPClient
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(apiKey, baseURL string, timeoutSeconds int, defaultTemp *float64, client HTTPClient) *Anthropic {
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	return &Anthropic{
		base:    newBase("backend.anthropic", timeoutSeconds, defaultTemp),
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

func (a *Anthropic) Kind() domain.BackendKind { return domain.BackendAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *Anthropic) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// Execute sends one messages request.
func (a *Anthropic) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	start := time.Now()
	if ctx.Err() != nil {
		return a.cancelled(req, start)
	}
	p := a.params(req)

	body := anthropicRequest{
		Model:         locator(req.Model),
		MaxTokens:     p.MaxTokensOr(anthropicDefaultMaxTokens),
		System:        req.System,
		Messages:      []anthropicMessage{{Role: "user", Content: req.Prompt}},
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		TopK:          p.TopK,
		StopSequences: p.Stop,
	}

	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	var out anthropicResponse
	if err := doJSON(callCtx, a.client, http.MethodPost, a.baseURL+"/v1/messages", a.headers(), body, &out); err != nil {
		return a.failure(ctx, req, start, err)
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 && len(out.Content) == 0 {
		return a.failure(ctx, req, start, errors.New("response contained no content"))
	}
	return a.success(req, start, text.String(), out.Usage.InputTokens, out.Usage.OutputTokens)
}

// ListModels returns the models the API advertises.
func (a *Anthropic) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	var out anthropicModelsResponse
	if err := doJSON(callCtx, a.client, http.MethodGet, a.baseURL+"/v1/models", a.headers(), nil, &out); err != nil {
		return nil, err
	}
	models := make([]domain.ModelDescriptor, 0, len(out.Data))
	for _, m := range out.Data {
		models = append(models, discovered(domain.BackendAnthropic, m.ID))
	}
	return models, nil
}

// ValidateConfig requires a key and a reachable endpoint.
func (a *Anthropic) ValidateConfig(ctx context.Context) error {
	if a.apiKey == "" {
		return errkind.Newf(errkind.KindConfig, "anthropic", "api key not set (providers.json anthropic.api_key or ANTHROPIC_API_KEY)")
	}
	if _, err := a.ListModels(ctx); err != nil {
		return errkind.Backend("anthropic", err)
	}
	return nil
}
