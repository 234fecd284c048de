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

const openaiAPIURL = "https://api.openai.com/v1"

// OpenAI executes requests against an OpenAI-compatible chat API.
type OpenAI struct {
	base
	apiKey  string
	baseURL string
	client  HTTPClient
}

// NewOpenAI creates an OpenAI-compatible adapter. baseURL may point at
// the API root, at /v1, or directly at /chat/completions.
func NewOpenAI(apiKey, baseURL string, timeoutSeconds int, defaultTemp *float64, client HTTPClient) *OpenAI {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAI{
		base:    newBase("backend.openai", timeoutSeconds, defaultTemp),
		apiKey:  apiKey,
		baseURL: normalizeOpenAIBase(baseURL),
		client:  client,
	}
}

// normalizeOpenAIBase returns the /v1 root.
func normalizeOpenAIBase(u string) string {
	if u == "" {
		return openaiAPIURL
	}
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}

func (o *OpenAI) Kind() domain.BackendKind { return domain.BackendOpenAI }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openaiModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (o *OpenAI) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

// Execute sends a single non-streaming chat completion.
func (o *OpenAI) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	start := time.Now()
	if ctx.Err() != nil {
		return o.cancelled(req, start)
	}
	p := o.params(req)

	body := openaiRequest{
		Model:       locator(req.Model),
		Messages:    chatMessages(req),
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		Stop:        p.Stop,
	}

	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	var out openaiResponse
	if err := doJSON(callCtx, o.client, http.MethodPost, o.baseURL+"/chat/completions", o.headers(), body, &out); err != nil {
		return o.failure(ctx, req, start, err)
	}
	if len(out.Choices) == 0 {
		return o.failure(ctx, req, start, errors.New("response contained no choices"))
	}

	var pt, ct int
	if out.Usage != nil {
		pt, ct = out.Usage.PromptTokens, out.Usage.CompletionTokens
	}
	return o.success(req, start, out.Choices[0].Message.Content, pt, ct)
}

// ListModels returns the models the endpoint advertises.
func (o *OpenAI) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	callCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	var out openaiModelsResponse
	if err := doJSON(callCtx, o.client, http.MethodGet, o.baseURL+"/models", o.headers(), nil, &out); err != nil {
		return nil, err
	}
	models := make([]domain.ModelDescriptor, 0, len(out.Data))
	for _, m := range out.Data {
		models = append(models, discovered(domain.BackendOpenAI, m.ID))
	}
	return models, nil
}

// ValidateConfig requires a key and a reachable endpoint.
func (o *OpenAI) ValidateConfig(ctx context.Context) error {
	if o.apiKey == "" {
		return errkind.Newf(errkind.KindConfig, "openai", "api key not set (providers.json openai.api_key or OPENAI_API_KEY)")
	}
	if _, err := o.ListModels(ctx); err != nil {
		return errkind.Backend("openai", err)
	}
	return nil
}

func chatMessages(req domain.ExecutionRequest) []openaiMessage {
	var msgs []openaiMessage
	if req.System != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.System})
	}
	return append(msgs, openaiMessage{Role: "user", Content: req.Prompt})
}
