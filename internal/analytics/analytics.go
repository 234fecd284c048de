// Package analytics summarizes recorded dispatches per model: outcome
// counts, latency percentiles, token totals, and an hourly histogram.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/store"
)

// Source supplies assistant-message facts. The session store implements it.
type Source interface {
	AggregateForAnalytics(ctx context.Context, since time.Time) ([]store.MessageFact, error)
	Generation() uint64
}

// CategoryCount is how often a model served a category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ModelStats aggregates one model's runs.
type ModelStats struct {
	ModelID          string          `json:"model_id"`
	Runs             int             `json:"runs"`
	Succeeded        int             `json:"succeeded"`
	Failed           int             `json:"failed"`
	Cancelled        int             `json:"cancelled"`
	SuccessRate      float64         `json:"success_rate"`
	MeanMs           float64         `json:"mean_ms"`
	MedianMs         float64         `json:"median_ms"`
	P95Ms            int64           `json:"p95_ms"`
	TokensPrompt     int             `json:"tokens_prompt"`
	TokensCompletion int             `json:"tokens_completion"`
	TopCategories    []CategoryCount `json:"top_categories"`
}

// Report is the analytics view over a window.
type Report struct {
	Window time.Duration `json:"window"`
	Since  time.Time     `json:"since"`
	Total  int           `json:"total"`
	Models []ModelStats  `json:"models"`
	Hourly [24]int       `json:"hourly"`
}

// Model returns the stats for id, or zero stats if it never ran.
func (r Report) Model(id string) ModelStats {
	for _, m := range r.Models {
		if m.ModelID == id {
			return m
		}
	}
	return ModelStats{ModelID: id}
}

// TopCategoriesLimit bounds ModelStats.TopCategories.
const TopCategoriesLimit = 3

// Reader computes reports and caches them per store generation.
type Reader struct {
	src   Source
	cache *lru.Cache[string, Report]
	group singleflight.Group
	log   *logging.Logger

	// Location buckets the hourly histogram. Defaults to time.Local.
	Location *time.Location

	now func() time.Time
}

// NewReader creates a reader with a small report cache.
func NewReader(src Source) *Reader {
	cache, _ := lru.New[string, Report](32)
	return &Reader{src: src, cache: cache, log: logging.New("analytics"), now: time.Now}
}

// Report aggregates every assistant message in the last window, or all
// of them when window is zero.
func (r *Reader) Report(ctx context.Context, window time.Duration) (Report, error) {
	// Windowed reports start on a minute boundary so a cached report ages
	// out with its window.
	var since time.Time
	if window > 0 {
		since = r.now().Add(-window).Truncate(time.Minute)
	}
	key := fmt.Sprintf("report|%d|%d|%d", window, since.UnixMilli(), r.src.Generation())
	if rep, ok := r.cache.Get(key); ok {
		return rep, nil
	}
	// Concurrent misses for the same key share one aggregation.
	v, err, _ := r.group.Do(key, func() (any, error) {
		facts, err := r.src.AggregateForAnalytics(ctx, since)
		if err != nil {
			return Report{}, err
		}
		rep := Aggregate(facts, r.location())
		rep.Window = window
		rep.Since = since
		r.cache.Add(key, rep)
		r.log.Debug("report_computed", logging.Fields{"facts": len(facts), "models": len(rep.Models)})
		return rep, nil
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

// Compare returns stats for ids in the given order. Models without runs
// appear with zero counts.
func (r *Reader) Compare(ctx context.Context, ids []string, window time.Duration) ([]ModelStats, error) {
	rep, err := r.Report(ctx, window)
	if err != nil {
		return nil, err
	}
	out := make([]ModelStats, 0, len(ids))
	for _, id := range ids {
		out = append(out, rep.Model(id))
	}
	return out, nil
}

func (r *Reader) location() *time.Location {
	if r.Location != nil {
		return r.Location
	}
	return time.Local
}

// Aggregate computes a report from facts. Models are ordered by run
// count, then id.
func Aggregate(facts []store.MessageFact, loc *time.Location) Report {
	type acc struct {
		stats     ModelStats
		durations []int64
		cats      map[string]int
	}
	byModel := map[string]*acc{}
	var rep Report
	for _, f := range facts {
		a := byModel[f.ModelID]
		if a == nil {
			a = &acc{stats: ModelStats{ModelID: f.ModelID}, cats: map[string]int{}}
			byModel[f.ModelID] = a
		}
		a.stats.Runs++
		switch domain.ResultStatus(f.Status) {
		case domain.StatusOK:
			a.stats.Succeeded++
		case domain.StatusCancelled:
			a.stats.Cancelled++
		default:
			a.stats.Failed++
		}
		a.stats.TokensPrompt += f.TokensPrompt
		a.stats.TokensCompletion += f.TokensCompletion
		a.durations = append(a.durations, f.DurationMs)
		if f.Category != "" {
			a.cats[f.Category]++
		}
		rep.Hourly[f.CreatedAt.In(loc).Hour()]++
		rep.Total++
	}

	for _, a := range byModel {
		s := a.stats
		if decided := s.Succeeded + s.Failed; decided > 0 {
			s.SuccessRate = float64(s.Succeeded) / float64(decided)
		}
		s.MeanMs, s.MedianMs, s.P95Ms = latency(a.durations)
		s.TopCategories = topCategories(a.cats, TopCategoriesLimit)
		rep.Models = append(rep.Models, s)
	}
	sort.Slice(rep.Models, func(i, j int) bool {
		if rep.Models[i].Runs != rep.Models[j].Runs {
			return rep.Models[i].Runs > rep.Models[j].Runs
		}
		return rep.Models[i].ModelID < rep.Models[j].ModelID
	})
	return rep
}

// latency returns the mean, median, and nearest-rank 95th percentile.
func latency(ds []int64) (mean, median float64, p95 int64) {
	if len(ds) == 0 {
		return 0, 0, 0
	}
	sorted := append([]int64(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, d := range sorted {
		sum += d
	}
	n := len(sorted)
	mean = float64(sum) / float64(n)
	if n%2 == 1 {
		median = float64(sorted[n/2])
	} else {
		median = float64(sorted[n/2-1]+sorted[n/2]) / 2
	}
	return mean, median, Percentile(sorted, 95)
}

// Percentile is the nearest-rank percentile of sorted values.
func Percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func topCategories(counts map[string]int, limit int) []CategoryCount {
	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
