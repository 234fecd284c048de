// Package selector classifies a prompt into a category and ranks the
// models that serve it.
package selector

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/joss/llmrouter/internal/catalog"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

const (
	// LowConfidence is the threshold below which the prompt is general.
	LowConfidence = 0.35
	// TieMargin is how close to the top a category must be to compete in
	// the lexicographic tie-break.
	TieMargin = 0.05
)

// Preferences is the preference source the selector reads and writes.
type Preferences interface {
	Get(cat domain.Category) (string, bool)
	Set(ctx context.Context, cat domain.Category, modelID string) error
}

// Selection is the outcome of Select.
type Selection struct {
	Category   domain.Category
	Confidence float64
	// Low is set when no category reached LowConfidence.
	Low bool
	// Preferred is set when rank 1 came from a remembered preference.
	Preferred bool
	Ranked    []domain.ModelDescriptor
}

// Top returns the rank-1 model.
func (s Selection) Top() (domain.ModelDescriptor, bool) {
	if len(s.Ranked) == 0 {
		return domain.ModelDescriptor{}, false
	}
	return s.Ranked[0], true
}

// Score is one category's breakdown.
type Score struct {
	Category   domain.Category
	Score      int
	Confidence float64
	Matches    []string
}

// Selector scores prompts. It has no side effects except Remember.
type Selector struct {
	catalog *catalog.Catalog
	prefs   Preferences
	rules   []compiledRules
}

type weighted struct {
	phrase string
	weight int
}

type compiledRules struct {
	category domain.Category
	keywords []weighted
	ceiling  int
}

// New creates a selector with the default keyword table. prefs may be nil.
func New(cat *catalog.Catalog, prefs Preferences) *Selector {
	return NewWithRules(cat, prefs, DefaultRules())
}

// NewWithRules creates a selector with a custom keyword table.
func NewWithRules(cat *catalog.Catalog, prefs Preferences, rules []Rules) *Selector {
	s := &Selector{catalog: cat, prefs: prefs}
	for _, r := range rules {
		cr := compiledRules{category: r.Category, ceiling: r.ceiling()}
		seen := map[string]bool{}
		add := func(words []string, w int) {
			for _, kw := range words {
				p := normalize(kw)
				if p == " " || seen[p] {
					continue
				}
				seen[p] = true
				cr.keywords = append(cr.keywords, weighted{phrase: p, weight: w})
			}
		}
		add(r.High, WeightHigh)
		add(r.Medium, WeightMedium)
		add(r.Low, WeightLow)
		s.rules = append(s.rules, cr)
	}
	sort.Slice(s.rules, func(i, j int) bool { return s.rules[i].category < s.rules[j].category })
	return s
}

var tokenRE = regexp.MustCompile(`[\p{L}\p{N}_+#]+`)

// normalize lowercases text into space-separated tokens padded with a
// space on each side, so " kw " matches whole words and phrases.
func normalize(text string) string {
	return " " + strings.Join(tokenRE.FindAllString(strings.ToLower(text), -1), " ") + " "
}

// Scores returns every category's score ordered by category.
func (s *Selector) Scores(prompt string) []Score {
	text := normalize(prompt)
	out := make([]Score, 0, len(s.rules))
	for _, r := range s.rules {
		sc := Score{Category: r.category}
		for _, kw := range r.keywords {
			if strings.Contains(text, kw.phrase) {
				sc.Score += kw.weight
				sc.Matches = append(sc.Matches, strings.TrimSpace(kw.phrase))
			}
		}
		capped := sc.Score
		if capped > r.ceiling {
			capped = r.ceiling
		}
		sc.Confidence = float64(capped) / float64(r.ceiling)
		out = append(out, sc)
	}
	return out
}

// Select classifies prompt and ranks candidate models. Never fails.
func (s *Selector) Select(prompt string) Selection {
	if strings.TrimSpace(prompt) == "" {
		sel := Selection{Category: domain.CategoryGeneral, Low: true}
		if m, ok := s.catalog.DefaultFor(domain.CategoryGeneral); ok {
			sel.Ranked = []domain.ModelDescriptor{m}
		}
		return sel
	}

	scores := s.Scores(prompt)
	top := 0.0
	for _, sc := range scores {
		if sc.Confidence > top {
			top = sc.Confidence
		}
	}

	// scores are in lexicographic order: the first within the margin wins.
	chosen := domain.CategoryGeneral
	for _, sc := range scores {
		if top-sc.Confidence <= TieMargin {
			chosen = sc.Category
			break
		}
	}

	sel := Selection{Category: chosen, Confidence: top}
	if top < LowConfidence {
		sel.Category = domain.CategoryGeneral
		sel.Low = true
	}
	sel.Ranked, sel.Preferred = s.rank(sel.Category)
	return sel
}

// Rank orders the candidates for a category without scoring a prompt.
func (s *Selector) Rank(cat domain.Category) []domain.ModelDescriptor {
	ranked, _ := s.rank(cat)
	return ranked
}

func (s *Selector) rank(cat domain.Category) ([]domain.ModelDescriptor, bool) {
	var first domain.ModelDescriptor
	var have, preferred bool

	if s.prefs != nil {
		if id, ok := s.prefs.Get(cat); ok {
			if m, ok := s.catalog.Get(id); ok && m.Advertises(cat) {
				first, have, preferred = m, true, true
			}
		}
	}
	if !have {
		first, have = s.catalog.DefaultFor(cat)
	}

	var ranked []domain.ModelDescriptor
	if have {
		ranked = append(ranked, first)
	}
	for _, m := range s.catalog.Advertising(cat) {
		if have && m.ID == first.ID {
			continue
		}
		ranked = append(ranked, m)
	}
	return ranked, preferred
}

// Remember stores a preference after explicit operator confirmation.
func (s *Selector) Remember(ctx context.Context, cat domain.Category, modelID string) error {
	if s.prefs == nil {
		return errkind.Newf(errkind.KindConfig, "remember", "no preference store configured")
	}
	m, err := s.catalog.Resolve(modelID)
	if err != nil {
		return err
	}
	if !m.Advertises(cat) {
		return errkind.Newf(errkind.KindResolution, "remember", "model %q does not advertise category %s", modelID, cat)
	}
	return s.prefs.Set(ctx, cat, modelID)
}
