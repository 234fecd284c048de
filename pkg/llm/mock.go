package llm

import (
	"context"
	"sync"
	"time"

	"github.com/joss/llmrouter/internal/domain"
)

// MockAdapter implements Adapter for testing.
type MockAdapter struct {
	mu sync.Mutex

	// BackendKind is reported by Kind.
	BackendKind domain.BackendKind

	// Requests records every Execute call.
	Requests []domain.ExecutionRequest

	// Models is returned by ListModels.
	Models []domain.ModelDescriptor

	// Handler, when set, produces the result for a request. Otherwise the
	// prompt is echoed back with status ok.
	Handler func(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult

	// ConfigErr is returned by ValidateConfig.
	ConfigErr error
}

// NewMockAdapter creates an echoing mock for kind.
func NewMockAdapter(kind domain.BackendKind) *MockAdapter {
	return &MockAdapter{BackendKind: kind}
}

func (m *MockAdapter) Kind() domain.BackendKind { return m.BackendKind }

func (m *MockAdapter) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ModelDescriptor(nil), m.Models...), nil
}

func (m *MockAdapter) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	handler := m.Handler
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.ExecutionResult{ModelID: req.Model.ID, Status: domain.StatusCancelled, Error: err.Error()}
	}
	if handler != nil {
		return handler(ctx, req)
	}
	return domain.ExecutionResult{
		ModelID:          req.Model.ID,
		Text:             "echo: " + req.Prompt,
		PromptTokens:     len(req.Prompt),
		CompletionTokens: len(req.Prompt) + 6,
		Duration:         time.Millisecond,
		Status:           domain.StatusOK,
	}
}

func (m *MockAdapter) ValidateConfig(ctx context.Context) error { return m.ConfigErr }

// Calls returns the number of Execute calls so far.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request.
func (m *MockAdapter) LastRequest() (domain.ExecutionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return domain.ExecutionRequest{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}
