package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/store"
)

type fakeSource struct {
	facts []store.MessageFact
	gen   uint64
	calls int
}

func (f *fakeSource) AggregateForAnalytics(_ context.Context, since time.Time) ([]store.MessageFact, error) {
	f.calls++
	var out []store.MessageFact
	for _, x := range f.facts {
		if since.IsZero() || !x.CreatedAt.Before(since) {
			out = append(out, x)
		}
	}
	return out, nil
}

func (f *fakeSource) Generation() uint64 { return f.gen }

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func fact(model, status, cat string, ms int64, hour int) store.MessageFact {
	return store.MessageFact{
		ModelID:          model,
		Status:           status,
		Category:         cat,
		DurationMs:       ms,
		TokensPrompt:     10,
		TokensCompletion: 20,
		CreatedAt:        base.Add(time.Duration(hour-10) * time.Hour),
	}
}

func TestPercentileNearestRank(t *testing.T) {
	vals := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, int64(100), Percentile(vals, 95))
	assert.Equal(t, int64(50), Percentile(vals, 50))
	assert.Equal(t, int64(10), Percentile(vals, 1))
	assert.Equal(t, int64(10), Percentile(vals, 0))
	assert.Equal(t, int64(0), Percentile(nil, 95))

	twenty := make([]int64, 20)
	for i := range twenty {
		twenty[i] = int64(i + 1)
	}
	assert.Equal(t, int64(19), Percentile(twenty, 95))
}

func TestAggregate(t *testing.T) {
	facts := []store.MessageFact{
		fact("a", "ok", "coding", 100, 9),
		fact("a", "ok", "coding", 300, 9),
		fact("a", "error", "math", 200, 14),
		fact("a", "cancelled", "", 1000, 14),
		fact("b", "ok", "creative", 50, 23),
	}
	rep := Aggregate(facts, time.UTC)

	assert.Equal(t, 5, rep.Total)
	require.Len(t, rep.Models, 2)
	a := rep.Models[0]
	assert.Equal(t, "a", a.ModelID)
	assert.Equal(t, 4, a.Runs)
	assert.Equal(t, 2, a.Succeeded)
	assert.Equal(t, 1, a.Failed)
	assert.Equal(t, 1, a.Cancelled)
	assert.InDelta(t, 2.0/3.0, a.SuccessRate, 1e-9, "cancelled runs are excluded from the rate")
	assert.InDelta(t, 400.0, a.MeanMs, 1e-9)
	assert.InDelta(t, 250.0, a.MedianMs, 1e-9)
	assert.Equal(t, int64(1000), a.P95Ms)
	assert.Equal(t, 40, a.TokensPrompt)
	assert.Equal(t, 80, a.TokensCompletion)
	assert.Equal(t, []CategoryCount{{"coding", 2}, {"math", 1}}, a.TopCategories)

	assert.Equal(t, 2, rep.Hourly[9])
	assert.Equal(t, 2, rep.Hourly[14])
	assert.Equal(t, 1, rep.Hourly[23])

	assert.Equal(t, rep, Aggregate(facts, time.UTC), "deterministic")
}

func TestAggregateHourUsesLocation(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	rep := Aggregate([]store.MessageFact{fact("a", "ok", "", 1, 23)}, loc)
	assert.Equal(t, 1, rep.Hourly[1])
}

func TestReportCachesPerGeneration(t *testing.T) {
	src := &fakeSource{facts: []store.MessageFact{fact("a", "ok", "coding", 100, 10)}}
	r := NewReader(src)
	r.Location = time.UTC
	ctx := context.Background()

	first, err := r.Report(ctx, 0)
	require.NoError(t, err)
	_, err = r.Report(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	src.facts = append(src.facts, fact("b", "ok", "math", 10, 11))
	src.gen++
	second, err := r.Report(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, 2, second.Total)
}

func TestReportWindow(t *testing.T) {
	src := &fakeSource{facts: []store.MessageFact{
		fact("old", "ok", "", 1, 1),
		fact("new", "ok", "", 1, 10),
	}}
	r := NewReader(src)
	r.now = func() time.Time { return base.Add(time.Hour) }

	rep, err := r.Report(context.Background(), 3*time.Hour)
	require.NoError(t, err)
	require.Len(t, rep.Models, 1)
	assert.Equal(t, "new", rep.Models[0].ModelID)
	assert.Equal(t, base.Add(-2*time.Hour), rep.Since)
}

func TestWindowedReportAgesOut(t *testing.T) {
	src := &fakeSource{facts: []store.MessageFact{fact("a", "ok", "", 1, 10)}}
	r := NewReader(src)
	ctx := context.Background()

	r.now = func() time.Time { return base.Add(30 * time.Minute) }
	rep, err := r.Report(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Total)

	r.now = func() time.Time { return base.Add(30*time.Minute + 20*time.Second) }
	_, err = r.Report(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "same minute is served from cache")

	r.now = func() time.Time { return base.Add(5 * time.Hour) }
	rep, err = r.Report(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Total)
	assert.Equal(t, 2, src.calls)
}

func TestCompare(t *testing.T) {
	src := &fakeSource{facts: []store.MessageFact{
		fact("a", "ok", "", 100, 10),
		fact("b", "error", "", 300, 10),
	}}
	r := NewReader(src)
	got, err := r.Compare(context.Background(), []string{"b", "missing", "a"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ModelID)
	assert.Equal(t, 1, got[0].Failed)
	assert.Equal(t, ModelStats{ModelID: "missing"}, got[1])
	assert.Equal(t, 1.0, got[2].SuccessRate)
}

func TestReportFromStore(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	r := NewReader(db)
	empty, err := r.Report(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)

	sess, err := db.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	_, err = db.AppendMessages(ctx, sess.ID,
		domain.Message{Role: domain.RoleUser, Content: "q", ModelID: "gpt-4o"},
		domain.Message{Role: domain.RoleAssistant, Content: "a", ModelID: "gpt-4o", Status: domain.StatusOK, DurationMs: 420},
	)
	require.NoError(t, err)

	rep, err := r.Report(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Total, "append invalidates the cached report")
	assert.Equal(t, int64(420), rep.Model("gpt-4o").P95Ms)
}
