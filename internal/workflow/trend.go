package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
	"github.com/AI-static/Aether/internal/task"
)

// TrendConfig bounds one scan. Zero values fall back to the platform's
// conservative defaults.
type TrendConfig struct {
	Platform platform.Platform
	// SearchLimit caps hits fetched per keyword.
	SearchLimit int
	// TopN is the size of the ranked digest.
	TopN int
	// MaxKeywords caps the expanded keyword list.
	MaxKeywords int
	// Angles are appended to the core keyword to fan the search out across
	// perspectives, e.g. "beginner" or "review". Callers can override them
	// per task with a keywords param.
	Angles []string
	// DetailConcurrency bounds in-flight detail pages.
	DetailConcurrency int
}

func (c TrendConfig) withDefaults() TrendConfig {
	if c.Platform == "" {
		c.Platform = platform.Xiaohongshu
	}
	if c.SearchLimit < 1 {
		c.SearchLimit = 10
	}
	if c.TopN < 1 {
		c.TopN = 10
	}
	if c.MaxKeywords < 1 {
		c.MaxKeywords = 3
	}
	if c.DetailConcurrency < 1 {
		c.DetailConcurrency = 2
	}
	return c
}

// TrendScan searches a platform across an expanded keyword set, ranks the
// hits by engagement, pulls details for the leaders, and stores a ranked
// digest as the task result.
type TrendScan struct {
	deps Deps
	cfg  TrendConfig
}

// NewTrendScan builds the unit.
func NewTrendScan(deps Deps, cfg TrendConfig) *TrendScan {
	return &TrendScan{deps: deps.withDefaults(), cfg: cfg.withDefaults()}
}

// Run implements task.UnitOfWork.
func (w *TrendScan) Run(ctx context.Context, exec *task.Executor, t *task.Task) (map[string]any, error) {
	keyword := stringParam(t.Params, "keyword", "")
	if keyword == "" {
		return nil, fmt.Errorf("trend scan: keyword param is required: %w", content.ErrInvalidInput)
	}
	pf, err := platform.Parse(stringParam(t.Params, "platform", string(w.cfg.Platform)))
	if err != nil {
		return nil, fmt.Errorf("trend scan: %w: %w", err, content.ErrInvalidInput)
	}
	limit := intParam(t.Params, "limit", w.cfg.SearchLimit)

	keywords, err := w.expandStep(ctx, exec, t, keyword)
	if err != nil {
		return nil, err
	}

	hits, err := w.searchStep(ctx, exec, t, pf, keywords, limit)
	if err != nil {
		return nil, err
	}

	ranked := rankByEngagement(hits, w.cfg.TopN)

	details, err := w.detailStep(ctx, exec, t, pf, ranked)
	if err != nil {
		return nil, err
	}

	digest := composeDigest(ranked, details)
	if err := exec.LogStep(ctx, t, 4, "compose_digest", nil,
		map[string]any{"entries": len(digest)}); err != nil {
		return nil, err
	}
	if err := exec.SetProgress(ctx, t, 100); err != nil {
		return nil, err
	}

	return map[string]any{
		"keyword":      keyword,
		"keywords":     keywords,
		"platform":     string(pf),
		"total_hits":   len(hits),
		"digest":       digest,
		"generated_at": w.deps.Clock.Now().UTC().Format(time.RFC3339),
	}, nil
}

// expandStep fans the core keyword out. An explicit keywords param wins over
// the configured angles.
func (w *TrendScan) expandStep(ctx context.Context, exec *task.Executor, t *task.Task, keyword string) ([]string, error) {
	if cached, ok := contextStrings(t, "step_1_keywords"); ok {
		return cached, nil
	}

	keywords := stringListParam(t.Params, "keywords")
	if len(keywords) == 0 {
		keywords = []string{keyword}
		for _, angle := range w.cfg.Angles {
			keywords = append(keywords, keyword+" "+angle)
		}
	}
	if len(keywords) > w.cfg.MaxKeywords {
		keywords = keywords[:w.cfg.MaxKeywords]
	}

	if err := exec.UpdateContext(ctx, t, "step_1_keywords", keywords); err != nil {
		return nil, err
	}
	if err := exec.LogStep(ctx, t, 1, "expand_keywords",
		map[string]any{"keyword": keyword},
		map[string]any{"keywords": keywords}); err != nil {
		return nil, err
	}
	return keywords, exec.SetProgress(ctx, t, 10)
}

// searchStep runs one platform search per keyword and flattens the hits.
// A keyword whose search fails is reported in the step log and skipped; a
// scan where every keyword fails has nothing to rank and fails the task.
func (w *TrendScan) searchStep(ctx context.Context, exec *task.Executor, t *task.Task, pf platform.Platform, keywords []string, limit int) ([]map[string]any, error) {
	if cached, ok := contextMaps(t, "step_2_hits"); ok {
		return cached, nil
	}

	var hits []map[string]any
	perKeyword := map[string]any{}
	for _, kw := range keywords {
		results, err := w.deps.Router.SearchAndExtract(ctx, pf, kw, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if callerFault(err) {
				return nil, err
			}
			w.deps.Logger.Warn("keyword search failed",
				zap.String("task_id", t.ID),
				zap.String("keyword", kw),
				zap.Error(err))
			perKeyword[kw] = map[string]any{"error": err.Error()}
			continue
		}
		perKeyword[kw] = len(results)
		hits = append(hits, results...)
	}
	if len(hits) == 0 {
		return nil, errors.New("search produced no results for any keyword")
	}
	hits = dedupeByURL(hits)

	if err := exec.UpdateContext(ctx, t, "step_2_hits", hits); err != nil {
		return nil, err
	}
	if err := exec.LogStep(ctx, t, 2, "search_keywords",
		map[string]any{"keywords": keywords, "limit": limit},
		map[string]any{"total_hits": len(hits), "per_keyword": perKeyword}); err != nil {
		return nil, err
	}
	return hits, exec.SetProgress(ctx, t, 40)
}

// detailStep pulls full content for the ranked hits. Per-URL failures are
// data: the digest falls back to the search-hit fields for those URLs.
func (w *TrendScan) detailStep(ctx context.Context, exec *task.Executor, t *task.Task, pf platform.Platform, ranked []map[string]any) (map[string]map[string]any, error) {
	if cached, ok := contextMap(t, "step_3_details"); ok {
		return splitDetailMap(cached), nil
	}

	urls := make([]string, 0, len(ranked))
	for _, hit := range ranked {
		if u := itemURL(hit); u != "" {
			urls = append(urls, u)
		}
	}
	details := make(map[string]map[string]any, len(urls))
	failed := 0
	if len(urls) > 0 {
		stream, err := w.deps.Router.Extract(ctx, urls, pf, w.cfg.DetailConcurrency)
		if err != nil {
			return nil, fmt.Errorf("fetch details: %w", err)
		}
		for res := range stream {
			if !res.Success {
				failed++
				continue
			}
			details[res.SourceURL] = res.Data
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	stored := make(map[string]any, len(details))
	for u, d := range details {
		stored[u] = d
	}
	if err := exec.UpdateContext(ctx, t, "step_3_details", stored); err != nil {
		return nil, err
	}
	if err := exec.LogStep(ctx, t, 3, "fetch_details",
		map[string]any{"urls": len(urls)},
		map[string]any{"fetched": len(details), "failed": failed}); err != nil {
		return nil, err
	}
	return details, exec.SetProgress(ctx, t, 80)
}

// rankByEngagement orders hits by like count, best first, and cuts to topN.
func rankByEngagement(hits []map[string]any, topN int) []map[string]any {
	ranked := make([]map[string]any, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		return engagement(ranked[i]) > engagement(ranked[j])
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

func composeDigest(ranked []map[string]any, details map[string]map[string]any) []map[string]any {
	digest := make([]map[string]any, 0, len(ranked))
	for i, hit := range ranked {
		url := itemURL(hit)
		detail := details[url]

		title := firstString(detail, hit, "title")
		desc := firstString(detail, hit, "desc")
		if desc == "" {
			desc = firstString(detail, hit, "content")
		}

		entry := map[string]any{
			"rank":        i + 1,
			"title":       title,
			"url":         url,
			"liked_count": bestEngagement(detail, hit),
		}
		if desc != "" {
			entry["excerpt"] = excerpt(desc, 200)
		}
		if cover := coverImage(detail); cover != "" {
			entry["cover"] = cover
		}
		if author := firstString(detail, hit, "author"); author != "" {
			entry["author"] = author
		}
		digest = append(digest, entry)
	}
	return digest
}

func dedupeByURL(hits []map[string]any) []map[string]any {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, hit := range hits {
		u := itemURL(hit)
		if u != "" && seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, hit)
	}
	return out
}

func splitDetailMap(stored map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(stored))
	for u, v := range stored {
		if m, ok := v.(map[string]any); ok {
			out[u] = m
		}
	}
	return out
}

func firstString(detail, hit map[string]any, key string) string {
	if detail != nil {
		if s, ok := detail[key].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := hit[key].(string); ok && s != "" {
		return s
	}
	return ""
}

func bestEngagement(detail, hit map[string]any) float64 {
	if n := engagement(detail); n > 0 {
		return n
	}
	return engagement(hit)
}

func coverImage(detail map[string]any) string {
	if detail == nil {
		return ""
	}
	images, ok := detail["images"].([]any)
	if !ok || len(images) == 0 {
		return ""
	}
	switch first := images[0].(type) {
	case string:
		return first
	case map[string]any:
		s, _ := first["url"].(string)
		return s
	}
	return ""
}

func callerFault(err error) bool {
	return errors.Is(err, content.ErrInvalidInput) ||
		errors.Is(err, content.ErrUnsupportedPlatform) ||
		errors.Is(err, content.ErrUnsupportedOperation)
}
