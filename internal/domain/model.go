// Package domain defines the core entities of the dispatch pipeline.
package domain

import (
	"sort"
	"time"
)

// BackendKind identifies the adapter family that executes a model.
type BackendKind string

const (
	BackendNative    BackendKind = "native"
	BackendDaemon    BackendKind = "daemon"
	BackendOpenAI    BackendKind = "openai"
	BackendAnthropic BackendKind = "anthropic"
)

// Valid reports whether k names a known backend.
func (k BackendKind) Valid() bool {
	switch k {
	case BackendNative, BackendDaemon, BackendOpenAI, BackendAnthropic:
		return true
	}
	return false
}

// Category is a prompt classification used by the selector.
type Category string

const (
	CategoryCoding    Category = "coding"
	CategoryMath      Category = "math"
	CategoryCreative  Category = "creative"
	CategoryResearch  Category = "research"
	CategoryReasoning Category = "reasoning"
	CategoryGeneral   Category = "general"
)

// Categories lists every category in lexicographic order.
func Categories() []Category {
	cats := []Category{
		CategoryCoding, CategoryCreative, CategoryGeneral,
		CategoryMath, CategoryReasoning, CategoryResearch,
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// ModelDescriptor describes a dispatchable model. Immutable during a run.
type ModelDescriptor struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Backend       BackendKind          `json:"backend"`
	Locator       string               `json:"locator"`
	Categories    []Category           `json:"categories"`
	Affinity      map[Category]float64 `json:"affinity,omitempty"`
	Recommended   Params               `json:"recommended,omitempty"`
	ContextWindow int                  `json:"context_window"`
}

// Advertises reports whether the model declares the category.
func (m ModelDescriptor) Advertises(c Category) bool {
	for _, mc := range m.Categories {
		if mc == c {
			return true
		}
	}
	return false
}

// AffinityFor returns the declared affinity, defaulting to 0.5 for
// advertised categories without an explicit score.
func (m ModelDescriptor) AffinityFor(c Category) float64 {
	if a, ok := m.Affinity[c]; ok {
		return a
	}
	if m.Advertises(c) {
		return 0.5
	}
	return 0
}

// ExecutionRequest is one dispatch, consumed once by an adapter.
type ExecutionRequest struct {
	Model  ModelDescriptor
	Prompt string
	System string
	Params Params
}

// ResultStatus is the outcome class of a dispatch.
type ResultStatus string

const (
	StatusOK        ResultStatus = "ok"
	StatusError     ResultStatus = "error"
	StatusCancelled ResultStatus = "cancelled"
)

// ExecutionResult is the normalized outcome of a dispatch.
type ExecutionResult struct {
	ModelID          string        `json:"model_id"`
	Text             string        `json:"text"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TokensEstimated  bool          `json:"tokens_estimated,omitempty"`
	Duration         time.Duration `json:"duration"`
	Status           ResultStatus  `json:"status"`
	Error            string        `json:"error,omitempty"`
}

// Failed reports whether the backend returned an error.
func (r ExecutionResult) Failed() bool { return r.Status == StatusError }

// Cancelled reports whether the dispatch was abandoned by cancellation.
func (r ExecutionResult) Cancelled() bool { return r.Status == StatusCancelled }

// Preference is a remembered category to model association.
type Preference struct {
	Category Category `json:"category"`
	ModelID  string   `json:"model_id"`
}
