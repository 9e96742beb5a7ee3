package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
	"github.com/AI-static/Aether/internal/task"
)

func trendHit(title, url string, liked float64) map[string]any {
	return map[string]any{"title": title, "url": url, "liked_count": liked}
}

func TestTrendScanRanksAndDigests(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	r := newRig(now)

	hitA := trendHit("Alpha", "https://xhs.example/a", 5)
	hitA["author"] = "ana"
	hitB := trendHit("Bravo", "https://xhs.example/b", 50)
	hitC := trendHit("Charlie", "https://xhs.example/c", 500)

	r.router.searchFn = func(_ platform.Platform, keyword string, limit int) ([]map[string]any, error) {
		switch keyword {
		case "camping":
			return []map[string]any{hitA, hitB}, nil
		case "camping beginner":
			// hitA again: the scan must dedupe by URL.
			return []map[string]any{hitC, hitA}, nil
		case "camping review":
			return nil, errors.New("rate limited")
		}
		return nil, errors.New("unexpected keyword " + keyword)
	}

	longDesc := strings.Repeat("野营指南", 60)
	r.router.extractFn = func(urls []string, _ platform.Platform) []content.ExtractionResult {
		return []content.ExtractionResult{
			{SourceURL: "https://xhs.example/c", Success: true, Data: map[string]any{
				"title":         "Charlie in full",
				"desc":          longDesc,
				"interact_info": map[string]any{"liked_count": float64(600)},
				"images":        []any{map[string]any{"url": "https://img.example/c"}},
			}},
			{SourceURL: "https://xhs.example/b", Success: false, Error: "blocked"},
			{SourceURL: "https://xhs.example/a", Success: true, Data: map[string]any{
				"desc": "short camp note",
			}},
		}
	}

	unit := NewTrendScan(r.deps(), TrendConfig{Angles: []string{"beginner", "review"}})
	tk := r.startTask(t, "trend-1", TypeTrendScan, map[string]any{"keyword": "camping"})

	require.NoError(t, r.exec.Run(context.Background(), tk, unit, 0))

	stored := r.stored(t, "trend-1")
	require.Equal(t, task.StatusCompleted, stored.Status)
	require.Equal(t, 100, stored.Progress)
	require.Equal(t, []string{"expand_keywords", "search_keywords", "fetch_details", "compose_digest"}, stepNames(stored))

	require.Equal(t, []string{"camping", "camping beginner", "camping review"}, tk.Result["keywords"])
	require.Equal(t, 3, tk.Result["total_hits"])
	require.Equal(t, now.Format(time.RFC3339), tk.Result["generated_at"])

	digest, ok := tk.Result["digest"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, digest, 3)

	first := digest[0]
	require.Equal(t, 1, first["rank"])
	require.Equal(t, "Charlie in full", first["title"])
	require.Equal(t, float64(600), first["liked_count"])
	require.Equal(t, "https://img.example/c", first["cover"])
	require.Equal(t, 203, len([]rune(first["excerpt"].(string))))

	second := digest[1]
	require.Equal(t, "Bravo", second["title"], "failed detail falls back to the search hit")
	require.Equal(t, float64(50), second["liked_count"])
	require.NotContains(t, second, "excerpt")

	third := digest[2]
	require.Equal(t, "Alpha", third["title"])
	require.Equal(t, "ana", third["author"])
	require.Equal(t, "short camp note", third["excerpt"])
	require.Equal(t, float64(5), third["liked_count"])

	searchLog := logStep(t, stored, 2)
	perKeyword, ok := searchLog.Output["per_keyword"].(map[string]any)
	require.True(t, ok)
	failure, ok := perKeyword["camping review"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "rate limited", failure["error"])

	detailLog := logStep(t, stored, 3)
	require.Equal(t, float64(2), detailLog.Output["fetched"])
	require.Equal(t, float64(1), detailLog.Output["failed"])

	require.Equal(t, [][]string{{"https://xhs.example/c", "https://xhs.example/b", "https://xhs.example/a"}}, r.router.extractURLs)
}

func TestTrendScanExplicitKeywordsOverrideAngles(t *testing.T) {
	t.Parallel()

	r := newRig(time.Now().UTC())
	var searched []string
	r.router.searchFn = func(_ platform.Platform, keyword string, _ int) ([]map[string]any, error) {
		searched = append(searched, keyword)
		return []map[string]any{trendHit(keyword, "https://xhs.example/"+keyword, 1)}, nil
	}
	r.router.extractFn = func([]string, platform.Platform) []content.ExtractionResult { return nil }

	unit := NewTrendScan(r.deps(), TrendConfig{Angles: []string{"beginner"}})
	tk := r.startTask(t, "trend-kw", TypeTrendScan, map[string]any{
		"keyword":  "camping",
		"keywords": []any{"tents", "stoves"},
	})

	require.NoError(t, r.exec.Run(context.Background(), tk, unit, 0))
	require.Equal(t, []string{"tents", "stoves"}, searched)
}

func TestTrendScanReplaysFromSharedContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newRig(time.Now().UTC())
	unit := NewTrendScan(r.deps(), TrendConfig{})
	tk := r.startTask(t, "trend-replay", TypeTrendScan, map[string]any{"keyword": "camping"})

	hits := []map[string]any{
		trendHit("Charlie", "https://xhs.example/c", 500),
		trendHit("Bravo", "https://xhs.example/b", 50),
	}
	require.NoError(t, r.exec.UpdateContext(ctx, tk, "step_1_keywords", []string{"camping"}))
	require.NoError(t, r.exec.UpdateContext(ctx, tk, "step_2_hits", hits))
	require.NoError(t, r.exec.UpdateContext(ctx, tk, "step_3_details", map[string]any{
		"https://xhs.example/c": map[string]any{"title": "Charlie cached"},
	}))

	// Round-trip through the store so the cached values arrive in decoded
	// JSON shapes, the way a restarted worker sees them.
	reloaded := r.stored(t, "trend-replay")
	result, err := unit.Run(ctx, r.exec, reloaded)
	require.NoError(t, err)

	search, extract, _, _ := r.router.calls()
	require.Zero(t, search)
	require.Zero(t, extract)
	require.Equal(t, 2, result["total_hits"])
	digest, ok := result["digest"].([]map[string]any)
	require.True(t, ok)
	require.Equal(t, "Charlie cached", digest[0]["title"])
}

func TestTrendScanRequiresKeyword(t *testing.T) {
	t.Parallel()

	r := newRig(time.Now().UTC())
	unit := NewTrendScan(r.deps(), TrendConfig{})
	tk := r.startTask(t, "trend-empty", TypeTrendScan, nil)

	_, err := unit.Run(context.Background(), r.exec, tk)
	require.ErrorIs(t, err, content.ErrInvalidInput)
}

func TestTrendScanRejectsUnknownPlatform(t *testing.T) {
	t.Parallel()

	r := newRig(time.Now().UTC())
	unit := NewTrendScan(r.deps(), TrendConfig{})
	tk := r.startTask(t, "trend-pf", TypeTrendScan, map[string]any{
		"keyword":  "camping",
		"platform": "myspace",
	})

	_, err := unit.Run(context.Background(), r.exec, tk)
	require.ErrorIs(t, err, content.ErrInvalidInput)
}

func TestTrendScanFailsWhenEverySearchFails(t *testing.T) {
	t.Parallel()

	r := newRig(time.Now().UTC())
	r.router.searchFn = func(platform.Platform, string, int) ([]map[string]any, error) {
		return nil, errors.New("blocked")
	}
	unit := NewTrendScan(r.deps(), TrendConfig{})
	tk := r.startTask(t, "trend-fail", TypeTrendScan, map[string]any{"keyword": "camping"})

	require.NoError(t, r.exec.Run(context.Background(), tk, unit, 0))

	stored := r.stored(t, "trend-fail")
	require.Equal(t, task.StatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	require.Contains(t, stored.Error.Message, "no results")
}

func TestRankByEngagement(t *testing.T) {
	t.Parallel()

	hits := []map[string]any{
		{"url": "a", "liked_count": float64(3)},
		{"url": "b", "interact_info": map[string]any{"liked_count": float64(40)}},
		{"url": "c", "liked_count": float64(40)},
		{"url": "d"},
	}
	ranked := rankByEngagement(hits, 3)
	require.Len(t, ranked, 3)
	require.Equal(t, "b", ranked[0]["url"], "ties keep input order")
	require.Equal(t, "c", ranked[1]["url"])
	require.Equal(t, "a", ranked[2]["url"])
	require.Equal(t, "a", hits[0]["url"], "input slice order is untouched")
}
