package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/catalog"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

type memPrefs map[domain.Category]string

func (m memPrefs) Get(cat domain.Category) (string, bool) {
	id, ok := m[cat]
	return id, ok
}

func (m memPrefs) Set(_ context.Context, cat domain.Category, id string) error {
	m[cat] = id
	return nil
}

func TestSelectCoding(t *testing.T) {
	s := New(catalog.Default(), nil)

	sel := s.Select("Write a Python function to compute Fibonacci numbers")

	assert.Equal(t, domain.CategoryCoding, sel.Category)
	assert.GreaterOrEqual(t, sel.Confidence, 0.9)
	assert.False(t, sel.Low)
	top, ok := sel.Top()
	require.True(t, ok)
	assert.True(t, top.Advertises(domain.CategoryCoding))
	assert.Equal(t, "qwen2.5-coder-7b", top.ID)
}

func TestSelectCodingWinsWithoutTieBreak(t *testing.T) {
	s := New(catalog.Default(), nil)

	scores := s.Scores("Write a Python function to compute Fibonacci numbers")
	coding := scoreFor(scores, domain.CategoryCoding)
	math := scoreFor(scores, domain.CategoryMath)

	assert.Equal(t, 1.0, coding.Confidence)
	assert.Greater(t, coding.Confidence-math.Confidence, TieMargin)
}

func TestSelectLowConfidenceFallback(t *testing.T) {
	s := New(catalog.Default(), nil)

	sel := s.Select("Tell me something interesting")

	assert.Equal(t, domain.CategoryGeneral, sel.Category)
	assert.Less(t, sel.Confidence, LowConfidence)
	assert.True(t, sel.Low)
	assert.False(t, sel.Preferred)
	require.NotEmpty(t, sel.Ranked)
	for _, m := range sel.Ranked {
		assert.True(t, m.Advertises(domain.CategoryGeneral))
	}
}

func TestSelectEmptyPrompt(t *testing.T) {
	s := New(catalog.Default(), nil)

	for _, p := range []string{"", "   \n\t"} {
		sel := s.Select(p)
		assert.Equal(t, domain.CategoryGeneral, sel.Category)
		assert.Equal(t, 0.0, sel.Confidence)
		require.Len(t, sel.Ranked, 1)
		assert.Equal(t, "llama3.1-8b", sel.Ranked[0].ID)
	}
}

func TestSelectDeterministicAndBounded(t *testing.T) {
	s := New(catalog.Default(), nil)
	prompts := []string{
		"Solve this integral and explain the derivative step by step",
		"Write a haiku about rust",
		"Compare the research evidence on sleep, with citations",
		"Why should I pick this strategy? Think about the logic puzzle",
		"fix the sql query bug in my golang api endpoint",
		"???",
	}
	for _, p := range prompts {
		first := s.Select(p)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, s.Select(p), p)
		}
		assert.GreaterOrEqual(t, first.Confidence, 0.0)
		assert.LessOrEqual(t, first.Confidence, 1.0)
		for _, sc := range s.Scores(p) {
			assert.GreaterOrEqual(t, sc.Confidence, 0.0)
			assert.LessOrEqual(t, sc.Confidence, 1.0)
		}
	}
}

func TestTieBreakLexicographic(t *testing.T) {
	rules := []Rules{
		{Category: domain.CategoryReasoning, High: []string{"alpha"}},
		{Category: domain.CategoryMath, High: []string{"beta"}},
	}
	s := NewWithRules(catalog.Default(), nil, rules)

	sel := s.Select("alpha beta")
	assert.Equal(t, domain.CategoryMath, sel.Category)
}

func TestDistinctKeywordsCountOnce(t *testing.T) {
	s := New(catalog.Default(), nil)
	once := scoreFor(s.Scores("poem"), domain.CategoryCreative)
	many := scoreFor(s.Scores("poem poem POEM, poem!"), domain.CategoryCreative)
	assert.Equal(t, once.Score, many.Score)
	assert.Equal(t, []string{"poem"}, many.Matches)
}

func TestWholeWordAndPhraseMatching(t *testing.T) {
	s := New(catalog.Default(), nil)

	assert.Zero(t, scoreFor(s.Scores("decoded the encoder"), domain.CategoryCoding).Score)
	assert.Contains(t, scoreFor(s.Scores("walk me through it Step-by-Step"), domain.CategoryReasoning).Matches, "step by step")
	assert.Contains(t, scoreFor(s.Scores("port this to C++ please"), domain.CategoryCoding).Matches, "c++")
}

func TestPreferenceOverride(t *testing.T) {
	prefs := memPrefs{domain.CategoryCoding: "claude-sonnet"}
	s := New(catalog.Default(), prefs)

	sel := s.Select("debug this python function")

	require.Equal(t, domain.CategoryCoding, sel.Category)
	assert.True(t, sel.Preferred)
	assert.Equal(t, "claude-sonnet", sel.Ranked[0].ID)

	seen := map[string]bool{}
	for _, m := range sel.Ranked {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
		assert.True(t, m.Advertises(domain.CategoryCoding))
	}
}

func TestPreferenceIgnoredWhenNotAdvertised(t *testing.T) {
	prefs := memPrefs{domain.CategoryCoding: "qwen2-math"}
	s := New(catalog.Default(), prefs)

	sel := s.Select("debug this python function")

	assert.False(t, sel.Preferred)
	assert.Equal(t, "qwen2.5-coder-7b", sel.Ranked[0].ID)
}

func TestRanksFollowAffinity(t *testing.T) {
	s := New(catalog.Default(), nil)
	ranked := s.Rank(domain.CategoryCoding)

	require.True(t, len(ranked) > 2)
	assert.Equal(t, "qwen2.5-coder-7b", ranked[0].ID)
	for i := 2; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].AffinityFor(domain.CategoryCoding), ranked[i].AffinityFor(domain.CategoryCoding))
	}
}

func TestRemember(t *testing.T) {
	prefs := memPrefs{}
	s := New(catalog.Default(), prefs)
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, domain.CategoryMath, "deepseek-r1"))
	assert.Equal(t, "deepseek-r1", prefs[domain.CategoryMath])

	err := s.Remember(ctx, domain.CategoryMath, "claude-haiku")
	assert.True(t, errkind.Is(err, errkind.KindResolution))

	err = s.Remember(ctx, domain.CategoryMath, "no-such-model")
	assert.True(t, errkind.Is(err, errkind.KindResolution))

	assert.Error(t, New(catalog.Default(), nil).Remember(ctx, domain.CategoryMath, "deepseek-r1"))
}

func scoreFor(scores []Score, cat domain.Category) Score {
	for _, sc := range scores {
		if sc.Category == cat {
			return sc
		}
	}
	return Score{}
}
