// Package backend implements the adapters that execute requests against
// local binaries, a local inference daemon and remote chat APIs.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/tokens"
)

// HTTPClient interface for HTTP requests (enables testing)
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Verify http.Client implements HTTPClient
var _ HTTPClient = (*http.Client)(nil)

// maxErrorBody bounds how much of a failed response is kept in a message.
const maxErrorBody = 512

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// base carries the settings every adapter shares.
type base struct {
	timeout     time.Duration
	defaultTemp *float64
	estimator   tokens.Estimator
	log         *logging.Logger
}

func newBase(component string, timeoutSeconds int, defaultTemp *float64) base {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 120
	}
	return base{
		timeout:     time.Duration(timeoutSeconds) * time.Second,
		defaultTemp: defaultTemp,
		estimator:   tokens.Default,
		log:         logging.New(component),
	}
}

// params merges adapter default < descriptor recommended < request.
func (b base) params(req domain.ExecutionRequest) domain.Params {
	return domain.Params{Temperature: b.defaultTemp}.
		Merge(req.Model.Recommended).
		Merge(req.Params)
}

func (b base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

func (b base) cancelled(req domain.ExecutionRequest, start time.Time) domain.ExecutionResult {
	return domain.ExecutionResult{
		ModelID:  req.Model.ID,
		Status:   domain.StatusCancelled,
		Error:    "cancelled",
		Duration: time.Since(start),
	}
}

// failure classifies err against the caller's context: cancellation of
// parent wins, then the adapter timeout, then err itself.
func (b base) failure(parent context.Context, req domain.ExecutionRequest, start time.Time, err error) domain.ExecutionResult {
	if parent.Err() != nil {
		return b.cancelled(req, start)
	}
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("timed out after %ds", int(b.timeout.Seconds()))
	}
	b.log.Warn("execute_failed", logging.Fields{"model": req.Model.ID}, err)
	return domain.ExecutionResult{
		ModelID:  req.Model.ID,
		Status:   domain.StatusError,
		Error:    msg,
		Duration: time.Since(start),
	}
}

// success builds an ok result, estimating token counts the backend did
// not report.
func (b base) success(req domain.ExecutionRequest, start time.Time, text string, promptTokens, completionTokens int) domain.ExecutionResult {
	res := domain.ExecutionResult{
		ModelID:          req.Model.ID,
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Status:           domain.StatusOK,
		Duration:         time.Since(start),
	}
	if res.PromptTokens <= 0 {
		res.PromptTokens = b.estimator.Count(req.System) + b.estimator.Count(req.Prompt)
		res.TokensEstimated = true
	}
	if res.CompletionTokens <= 0 {
		res.CompletionTokens = b.estimator.Count(text)
		res.TokensEstimated = true
	}
	b.log.Debug("execute_done", logging.Fields{
		"model":             req.Model.ID,
		"prompt_tokens":     res.PromptTokens,
		"completion_tokens": res.CompletionTokens,
		"estimated":         res.TokensEstimated,
		"duration_ms":       res.Duration.Milliseconds(),
	})
	return res
}

// doJSON sends body (nil for GET) and decodes a 2xx response into out.
// Non-2xx responses become *StatusError with the message pulled from the
// body by errMessage.
func doJSON(ctx context.Context, client HTTPClient, method, url string, headers map[string]string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errMessage extracts {"error": "..."} or {"error": {"message": "..."}},
// falling back to the raw body.
func errMessage(body []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return msg
}

// discovered builds a descriptor for a model the registry does not know.
func discovered(kind domain.BackendKind, id string) domain.ModelDescriptor {
	return domain.ModelDescriptor{
		ID:         id,
		Name:       id,
		Backend:    kind,
		Locator:    id,
		Categories: []domain.Category{domain.CategoryGeneral},
	}
}
