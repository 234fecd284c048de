// Package llm defines the contract every backend adapter implements.
package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/joss/llmrouter/internal/domain"
)

// Adapter executes requests against one backend family.
type Adapter interface {
	Kind() domain.BackendKind

	// ListModels returns the models the backend can serve right now.
	ListModels(ctx context.Context) ([]domain.ModelDescriptor, error)

	// Execute runs one request. Backend failures are reported in the
	// result's Status and Error, never as a Go error.
	Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult

	// ValidateConfig checks credentials and reachability.
	ValidateConfig(ctx context.Context) error
}

// AdapterSet holds all available adapters keyed by backend kind.
type AdapterSet struct {
	adapters map[domain.BackendKind]Adapter
}

func NewAdapterSet(adapters ...Adapter) *AdapterSet {
	s := &AdapterSet{adapters: make(map[domain.BackendKind]Adapter)}
	for _, a := range adapters {
		s.Register(a)
	}
	return s
}

func (s *AdapterSet) Register(a Adapter) {
	s.adapters[a.Kind()] = a
}

func (s *AdapterSet) Get(kind domain.BackendKind) (Adapter, bool) {
	a, ok := s.adapters[kind]
	return a, ok
}

// For returns the adapter serving a model.
func (s *AdapterSet) For(m domain.ModelDescriptor) (Adapter, error) {
	a, ok := s.adapters[m.Backend]
	if !ok {
		return nil, fmt.Errorf("no %s backend configured for model %s", m.Backend, m.ID)
	}
	return a, nil
}

// List returns the adapters ordered by kind.
func (s *AdapterSet) List() []Adapter {
	result := make([]Adapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Kind() < result[j].Kind() })
	return result
}

// Health is one adapter's ValidateConfig outcome.
type Health struct {
	Kind domain.BackendKind
	Err  error
}

// ValidateAll checks every adapter.
func (s *AdapterSet) ValidateAll(ctx context.Context) []Health {
	var out []Health
	for _, a := range s.List() {
		out = append(out, Health{Kind: a.Kind(), Err: a.ValidateConfig(ctx)})
	}
	return out
}
