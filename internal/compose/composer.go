// Package compose assembles the final prompt text from context blocks,
// an optional template and the operator's prompt, within a token budget.
package compose

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/tokens"
)

// Separator divides the context blocks from the prompt.
const Separator = "---"

// InputVar is filled from the raw prompt when a template declares it and
// no value is supplied.
const InputVar = "input"

// Input is one composition request. Budget <= 0 disables the limit.
type Input struct {
	Prompt   string
	System   string
	Items    []domain.ContextItem
	Template *domain.PromptTemplate
	Vars     map[string]string
	Budget   int
}

// Composition is the text handed to an adapter.
type Composition struct {
	// Text is the user message: blocks, separator, prompt.
	Text string
	// System is the system portion, never truncated.
	System string
	// Prompt is the (template-expanded) prompt, carried verbatim.
	Prompt   string
	Included []string
	Dropped  []string
	// Tokens is the estimated cost of System plus Text.
	Tokens int
}

// Request builds the execution request for model.
func (c Composition) Request(model domain.ModelDescriptor, params domain.Params) domain.ExecutionRequest {
	return domain.ExecutionRequest{Model: model, Prompt: c.Text, System: c.System, Params: params}
}

// Composer applies the estimator to compositions.
type Composer struct {
	est tokens.Estimator
}

// New creates a composer. A nil estimator means the canonical one.
func New(est tokens.Estimator) *Composer {
	if est == nil {
		est = tokens.Default
	}
	return &Composer{est: est}
}

// Estimator returns the estimator in use.
func (c *Composer) Estimator() tokens.Estimator { return c.est }

// Item builds a context item and prices its formatted block.
func (c *Composer) Item(kind domain.ContextKind, label, content, language string) domain.ContextItem {
	if language == "" {
		language = DetectLanguage(label)
	}
	it := domain.ContextItem{Kind: kind, Label: label, Content: content, Language: language}
	it.Tokens = c.est.Count(FormatBlock(it))
	return it
}

// Inline builds an inline context item.
func (c *Composer) Inline(label, content string) domain.ContextItem {
	return c.Item(domain.ContextInline, label, content, "text")
}

// FormatBlock renders one item as a labeled fenced block.
func FormatBlock(it domain.ContextItem) string {
	lang := it.Language
	if lang == "" {
		lang = "text"
	}
	body := strings.TrimRight(it.Content, "\n")
	return fmt.Sprintf("### %s (%s)\n```%s\n%s\n```", it.Label, lang, lang, body)
}

// Compose expands the template, then keeps as many leading context blocks
// as fit in the budget. The prompt and system portion are never cut.
func (c *Composer) Compose(in Input) (Composition, error) {
	system, prompt := in.System, in.Prompt
	if in.Template != nil {
		var err error
		system, prompt, err = Expand(*in.Template, in.Vars, in.Prompt)
		if err != nil {
			return Composition{}, err
		}
		if in.System != "" {
			system = in.System
		}
	}

	fixed := c.est.Count(system) + c.est.Count(prompt)
	if in.Budget > 0 && fixed > in.Budget {
		return Composition{}, errkind.Newf(errkind.KindResolution, "compose",
			"prompt exceeds token budget (%d > %d)", fixed, in.Budget)
	}

	blocks := make([]string, 0, len(in.Items))
	costs := make([]int, 0, len(in.Items))
	total := fixed
	for _, it := range in.Items {
		b := FormatBlock(it)
		cost := it.Tokens
		if cost <= 0 {
			cost = c.est.Count(b)
		}
		blocks = append(blocks, b)
		costs = append(costs, cost)
		total += cost
	}

	keep := len(blocks)
	if in.Budget > 0 {
		for keep > 0 && total > in.Budget {
			keep--
			total -= costs[keep]
		}
	}

	comp := Composition{System: system, Prompt: prompt, Tokens: total}
	for i, it := range in.Items {
		if i < keep {
			comp.Included = append(comp.Included, it.Label)
		} else {
			comp.Dropped = append(comp.Dropped, it.Label)
		}
	}

	if keep == 0 {
		comp.Text = prompt
	} else {
		comp.Text = strings.Join(blocks[:keep], "\n\n") + "\n\n" + Separator + "\n\n" + prompt
	}
	return comp, nil
}

var placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand substitutes the template's declared variables in body and
// system. Undeclared {names} are left as written. A raw prompt the body
// does not already carry is appended after it, so the operator's text
// always reaches the backend.
func Expand(t domain.PromptTemplate, vars map[string]string, rawPrompt string) (system, body string, err error) {
	values := make(map[string]string, len(t.Variables))
	for _, v := range t.Variables {
		val, ok := vars[v]
		if !ok && v == InputVar && rawPrompt != "" {
			val, ok = rawPrompt, true
		}
		if !ok {
			return "", "", errkind.Newf(errkind.KindResolution, "expand template",
				"template %q: missing value for {%s}", t.Name, v)
		}
		values[v] = val
	}
	sub := func(s string) string {
		return placeholderRE.ReplaceAllStringFunc(s, func(m string) string {
			if val, ok := values[m[1:len(m)-1]]; ok {
				return val
			}
			return m
		})
	}
	body = sub(t.Body)
	if rawPrompt != "" && !strings.Contains(body, rawPrompt) {
		body = strings.TrimRight(body, "\n") + "\n\n" + rawPrompt
	}
	return sub(t.System), body, nil
}
