package templates

import "github.com/joss/llmrouter/internal/domain"

// Builtins are available without any template files.
func Builtins() []domain.PromptTemplate {
	return []domain.PromptTemplate{
		{
			Name:      "code-review",
			Category:  domain.CategoryCoding,
			Variables: []string{"input", "focus"},
			System:    "You are a meticulous senior reviewer. Be specific and cite line numbers.",
			Body:      "Review the following code. Focus on {focus}.\n\n{input}",
			Source:    "builtin",
		},
		{
			Name:      "explain",
			Category:  domain.CategoryGeneral,
			Variables: []string{"input"},
			Body:      "Explain the following clearly and concisely:\n\n{input}",
			Source:    "builtin",
		},
		{
			Name:      "summarize",
			Category:  domain.CategoryResearch,
			Variables: []string{"input"},
			System:    "Summarize faithfully. Do not add facts that are not in the text.",
			Body:      "Summarize in five bullet points:\n\n{input}",
			Source:    "builtin",
		},
		{
			Name:      "unit-tests",
			Category:  domain.CategoryCoding,
			Variables: []string{"input", "framework"},
			Body:      "Write unit tests using {framework} for:\n\n{input}",
			Source:    "builtin",
		},
	}
}
