package catalog

import "github.com/joss/llmrouter/internal/domain"

func cats(cs ...domain.Category) []domain.Category { return cs }

// Builtin returns the models known without any configuration.
func Builtin() []domain.ModelDescriptor {
	return []domain.ModelDescriptor{
		{
			ID:            "qwen2.5-coder-7b",
			Name:          "Qwen2.5 Coder 7B (GGUF)",
			Backend:       domain.BackendNative,
			Locator:       "qwen2.5-coder-7b-instruct-q4_k_m.gguf",
			Categories:    cats(domain.CategoryCoding, domain.CategoryReasoning),
			Affinity:      map[domain.Category]float64{domain.CategoryCoding: 0.9, domain.CategoryReasoning: 0.5},
			Recommended:   domain.Params{Temperature: domain.Float(0.2), TopP: domain.Float(0.9)},
			ContextWindow: 32768,
		},
		{
			ID:            "llama3.1-8b",
			Name:          "Llama 3.1 8B Instruct (GGUF)",
			Backend:       domain.BackendNative,
			Locator:       "Meta-Llama-3.1-8B-Instruct-Q4_K_M.gguf",
			Categories:    cats(domain.CategoryGeneral, domain.CategoryCreative),
			Affinity:      map[domain.Category]float64{domain.CategoryGeneral: 0.7, domain.CategoryCreative: 0.6},
			Recommended:   domain.Params{Temperature: domain.Float(0.7)},
			ContextWindow: 8192,
		},
		{
			ID:            "deepseek-r1",
			Name:          "DeepSeek R1 8B",
			Backend:       domain.BackendDaemon,
			Locator:       "deepseek-r1:8b",
			Categories:    cats(domain.CategoryReasoning, domain.CategoryMath),
			Affinity:      map[domain.Category]float64{domain.CategoryReasoning: 0.9, domain.CategoryMath: 0.8},
			Recommended:   domain.Params{Temperature: domain.Float(0.6)},
			ContextWindow: 32768,
		},
		{
			ID:            "qwen2-math",
			Name:          "Qwen2 Math 7B",
			Backend:       domain.BackendDaemon,
			Locator:       "qwen2-math:7b",
			Categories:    cats(domain.CategoryMath),
			Affinity:      map[domain.Category]float64{domain.CategoryMath: 0.9},
			Recommended:   domain.Params{Temperature: domain.Float(0.1)},
			ContextWindow: 4096,
		},
		{
			ID:            "mistral-7b",
			Name:          "Mistral 7B Instruct",
			Backend:       domain.BackendDaemon,
			Locator:       "mistral:7b",
			Categories:    cats(domain.CategoryGeneral, domain.CategoryResearch, domain.CategoryCreative),
			Affinity:      map[domain.Category]float64{domain.CategoryGeneral: 0.6, domain.CategoryResearch: 0.6, domain.CategoryCreative: 0.5},
			ContextWindow: 32768,
		},
		{
			ID:            "gpt-4o",
			Name:          "GPT-4o",
			Backend:       domain.BackendOpenAI,
			Locator:       "gpt-4o",
			Categories:    cats(domain.CategoryCoding, domain.CategoryCreative, domain.CategoryGeneral, domain.CategoryMath, domain.CategoryReasoning, domain.CategoryResearch),
			Affinity:      map[domain.Category]float64{domain.CategoryCoding: 0.85, domain.CategoryCreative: 0.8, domain.CategoryGeneral: 0.9, domain.CategoryMath: 0.8, domain.CategoryReasoning: 0.8, domain.CategoryResearch: 0.85},
			ContextWindow: 128000,
		},
		{
			ID:            "gpt-4o-mini",
			Name:          "GPT-4o Mini",
			Backend:       domain.BackendOpenAI,
			Locator:       "gpt-4o-mini",
			Categories:    cats(domain.CategoryGeneral, domain.CategoryCoding, domain.CategoryResearch),
			Affinity:      map[domain.Category]float64{domain.CategoryGeneral: 0.75, domain.CategoryCoding: 0.7, domain.CategoryResearch: 0.65},
			ContextWindow: 128000,
		},
		{
			ID:            "claude-sonnet",
			Name:          "Claude Sonnet 4",
			Backend:       domain.BackendAnthropic,
			Locator:       "claude-sonnet-4-20250514",
			Categories:    cats(domain.CategoryCoding, domain.CategoryCreative, domain.CategoryGeneral, domain.CategoryReasoning, domain.CategoryResearch),
			Affinity:      map[domain.Category]float64{domain.CategoryCoding: 0.95, domain.CategoryCreative: 0.9, domain.CategoryGeneral: 0.85, domain.CategoryReasoning: 0.9, domain.CategoryResearch: 0.85},
			Recommended:   domain.Params{MaxTokens: domain.Int(4096)},
			ContextWindow: 200000,
		},
		{
			ID:            "claude-haiku",
			Name:          "Claude Haiku 3.5",
			Backend:       domain.BackendAnthropic,
			Locator:       "claude-3-5-haiku-20241022",
			Categories:    cats(domain.CategoryGeneral, domain.CategoryResearch),
			Affinity:      map[domain.Category]float64{domain.CategoryGeneral: 0.7, domain.CategoryResearch: 0.6},
			Recommended:   domain.Params{MaxTokens: domain.Int(2048)},
			ContextWindow: 200000,
		},
	}
}

// BuiltinDefaults prefers local models.
func BuiltinDefaults() map[domain.Category]string {
	return map[domain.Category]string{
		domain.CategoryCoding:    "qwen2.5-coder-7b",
		domain.CategoryMath:      "qwen2-math",
		domain.CategoryCreative:  "llama3.1-8b",
		domain.CategoryResearch:  "mistral-7b",
		domain.CategoryReasoning: "deepseek-r1",
		domain.CategoryGeneral:   "llama3.1-8b",
	}
}
