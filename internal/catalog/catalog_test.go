package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

func TestBuiltinDefaultsAdvertise(t *testing.T) {
	c := Default()
	for cat, id := range BuiltinDefaults() {
		m, ok := c.Get(id)
		require.True(t, ok, id)
		assert.True(t, m.Advertises(cat), "%s should advertise %s", id, cat)
	}
}

func TestBuiltinIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Builtin() {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		assert.True(t, m.Backend.Valid())
	}
}

func TestAdvertisingOrder(t *testing.T) {
	c := New([]domain.ModelDescriptor{
		{ID: "b", Categories: []domain.Category{domain.CategoryMath}, Affinity: map[domain.Category]float64{domain.CategoryMath: 0.5}},
		{ID: "a", Categories: []domain.Category{domain.CategoryMath}},
		{ID: "c", Categories: []domain.Category{domain.CategoryMath}, Affinity: map[domain.Category]float64{domain.CategoryMath: 0.9}},
		{ID: "d", Categories: []domain.Category{domain.CategoryCoding}},
	}, nil)

	var ids []string
	for _, m := range c.Advertising(domain.CategoryMath) {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestDefaultForFallbacks(t *testing.T) {
	c := New([]domain.ModelDescriptor{
		{ID: "gen", Categories: []domain.Category{domain.CategoryGeneral}},
		{ID: "code", Categories: []domain.Category{domain.CategoryCoding}},
	}, map[domain.Category]string{domain.CategoryCoding: "missing"})

	m, ok := c.DefaultFor(domain.CategoryCoding)
	require.True(t, ok)
	assert.Equal(t, "code", m.ID)

	m, ok = c.DefaultFor(domain.CategoryMath)
	require.True(t, ok)
	assert.Equal(t, "gen", m.ID)

	_, ok = New(nil, nil).DefaultFor(domain.CategoryGeneral)
	assert.False(t, ok)
}

func TestAddAndMerge(t *testing.T) {
	c := Default()
	c.Add(domain.ModelDescriptor{ID: "gpt-4o", Backend: domain.BackendOpenAI, Locator: "gpt-4o-2024-11-20", Categories: []domain.Category{domain.CategoryCoding}})
	m, _ := c.Get("gpt-4o")
	assert.Equal(t, "gpt-4o-2024-11-20", m.Locator)

	added := c.Merge([]domain.ModelDescriptor{
		{ID: "gpt-4o", Locator: "ignored"},
		{ID: "phi3:mini", Backend: domain.BackendDaemon},
	})
	assert.Equal(t, 1, added)
	m, ok := c.Get("phi3:mini")
	require.True(t, ok)
	assert.Equal(t, []domain.Category{domain.CategoryGeneral}, m.Categories)
	m, _ = c.Get("gpt-4o")
	assert.Equal(t, "gpt-4o-2024-11-20", m.Locator)
}

func TestResolveUnknown(t *testing.T) {
	_, err := Default().Resolve("nope")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindResolution))
}

func TestSetDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.SetDefault(domain.CategoryCoding, "claude-sonnet"))
	m, _ := c.DefaultFor(domain.CategoryCoding)
	assert.Equal(t, "claude-sonnet", m.ID)

	assert.Error(t, c.SetDefault(domain.CategoryMath, "claude-haiku"))
	assert.Error(t, c.SetDefault(domain.CategoryMath, "nope"))
}

func TestSearch(t *testing.T) {
	c := Default()
	assert.Len(t, c.Search(""), len(Builtin()))

	res := c.Search("claude")
	require.NotEmpty(t, res)
	for _, m := range res[:2] {
		assert.Equal(t, domain.BackendAnthropic, m.Backend)
	}

	assert.Empty(t, c.Search("zzzzqqq"))
}
