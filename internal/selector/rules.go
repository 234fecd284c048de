package selector

import "github.com/joss/llmrouter/internal/domain"

// Keyword weights.
const (
	WeightHigh   = 3
	WeightMedium = 2
	WeightLow    = 1
)

// DefaultCeiling is two high-weight hits.
const DefaultCeiling = 2 * WeightHigh

// Rules are one category's keyword sets. Multi-word keywords match as
// phrases.
type Rules struct {
	Category domain.Category
	High     []string
	Medium   []string
	Low      []string
	// Ceiling is the score that maps to confidence 1.0 (DefaultCeiling if 0).
	// It is a saturation point, not the sum of every keyword's weight.
	Ceiling int
}

func (r Rules) ceiling() int {
	if r.Ceiling > 0 {
		return r.Ceiling
	}
	return DefaultCeiling
}

// DefaultRules is the built-in keyword table.
func DefaultRules() []Rules {
	return []Rules{
		{
			Category: domain.CategoryCoding,
			High: []string{
				"code", "function", "bug", "debug", "compile", "refactor", "python", "javascript",
				"typescript", "golang", "rust", "java", "c++", "c#", "sql", "regex", "api", "stack trace",
			},
			Medium: []string{
				"class", "method", "script", "variable", "loop", "array", "library", "framework",
				"json", "unit test", "implement", "program", "exception", "endpoint", "query",
			},
			Low: []string{"file", "error", "test", "build", "syntax", "module", "server", "install"},
		},
		{
			Category: domain.CategoryMath,
			High: []string{
				"math", "mathematics", "equation", "integral", "derivative", "theorem", "calculus",
				"algebra", "matrix", "probability",
			},
			Medium: []string{
				"calculate", "compute", "solve", "formula", "statistics", "geometry", "prime",
				"fraction", "percentage", "factorial", "logarithm", "fibonacci",
			},
			Low: []string{"number", "numbers", "sum", "average", "total", "square", "ratio"},
		},
		{
			Category: domain.CategoryCreative,
			High: []string{
				"poem", "poetry", "story", "short story", "novel", "lyrics", "haiku", "fiction",
				"screenplay", "limerick",
			},
			Medium: []string{
				"creative", "character", "plot", "imagine", "narrative", "metaphor", "song",
				"dialogue", "rhyme", "fantasy",
			},
			Low: []string{"write", "describe", "tale", "style", "tone"},
		},
		{
			Category: domain.CategoryResearch,
			High: []string{
				"research", "sources", "citation", "citations", "literature review", "paper",
				"survey", "evidence", "peer reviewed",
			},
			Medium: []string{
				"history", "compare", "analysis", "analyze", "summarize", "overview", "study",
				"findings", "benchmark",
			},
			Low: []string{"facts", "information", "report", "article", "data", "explain"},
		},
		{
			Category: domain.CategoryReasoning,
			High: []string{
				"logic", "puzzle", "riddle", "deduce", "reasoning", "step by step", "paradox",
				"syllogism", "brain teaser",
			},
			Medium: []string{
				"argument", "infer", "conclude", "hypothesis", "strategy", "tradeoff", "tradeoffs",
				"pros and cons", "plan", "decision",
			},
			Low: []string{"why", "think", "consider", "decide", "should", "because"},
		},
		{
			Category: domain.CategoryGeneral,
		},
	}
}
