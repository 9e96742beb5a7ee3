package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
	"github.com/AI-static/Aether/internal/task"
)

// HarvestConfig bounds one harvest.
type HarvestConfig struct {
	Platform platform.Platform
	// RecentDays is the recency window; notes published inside it count as
	// new.
	RecentDays int
	// DetailBatch is how many detail pages are fetched per round while
	// walking down the note list.
	DetailBatch int
	// DetailConcurrency bounds in-flight detail pages.
	DetailConcurrency int
}

func (c HarvestConfig) withDefaults() HarvestConfig {
	if c.Platform == "" {
		c.Platform = platform.Xiaohongshu
	}
	if c.RecentDays < 1 {
		c.RecentDays = 7
	}
	if c.DetailBatch < 1 {
		c.DetailBatch = 2
	}
	if c.DetailConcurrency < 1 {
		c.DetailConcurrency = 2
	}
	return c
}

// CreatorHarvest lists one creator's content, keeps what was published
// inside the recency window, and archives the bundle to the blob store. The
// result records the archive URI alongside per-note summaries.
type CreatorHarvest struct {
	deps Deps
	cfg  HarvestConfig
}

// NewCreatorHarvest builds the unit.
func NewCreatorHarvest(deps Deps, cfg HarvestConfig) *CreatorHarvest {
	return &CreatorHarvest{deps: deps.withDefaults(), cfg: cfg.withDefaults()}
}

// Run implements task.UnitOfWork.
func (w *CreatorHarvest) Run(ctx context.Context, exec *task.Executor, t *task.Task) (map[string]any, error) {
	creatorID := stringParam(t.Params, "creator_id", "")
	if creatorID == "" {
		return nil, fmt.Errorf("creator harvest: creator_id param is required: %w", content.ErrInvalidInput)
	}
	pf, err := platform.Parse(stringParam(t.Params, "platform", string(w.cfg.Platform)))
	if err != nil {
		return nil, fmt.Errorf("creator harvest: %w: %w", err, content.ErrInvalidInput)
	}
	windowDays := intParam(t.Params, "recent_days", w.cfg.RecentDays)
	if windowDays < 1 {
		windowDays = w.cfg.RecentDays
	}

	notes, err := w.harvestStep(ctx, exec, t, pf, creatorID)
	if err != nil {
		return nil, err
	}

	recent, last, err := w.filterStep(ctx, exec, t, pf, notes, windowDays)
	if err != nil {
		return nil, err
	}

	date := w.deps.Clock.Now().UTC().Format("2006-01-02")
	uri, err := w.archiveStep(ctx, exec, t, pf, creatorID, date, windowDays, notes, recent, last)
	if err != nil {
		return nil, err
	}
	if err := exec.SetProgress(ctx, t, 100); err != nil {
		return nil, err
	}

	summaries := make([]map[string]any, 0, len(recent))
	for _, note := range recent {
		summaries = append(summaries, noteSummary(note))
	}
	result := map[string]any{
		"creator_id":   creatorID,
		"platform":     string(pf),
		"date":         date,
		"window_days":  windowDays,
		"total_notes":  len(notes),
		"recent_count": len(recent),
		"recent":       summaries,
		"archive_uri":  uri,
	}
	if last != nil {
		result["last_note"] = noteSummary(last)
	}
	return result, nil
}

func (w *CreatorHarvest) harvestStep(ctx context.Context, exec *task.Executor, t *task.Task, pf platform.Platform, creatorID string) ([]map[string]any, error) {
	if cached, ok := contextMaps(t, "step_1_notes"); ok {
		return cached, nil
	}

	notes, err := w.deps.Router.Harvest(ctx, pf, creatorID, content.HarvestOptions{
		Limit: intParam(t.Params, "limit", 0),
	})
	if err != nil {
		return nil, fmt.Errorf("harvest creator %s: %w", creatorID, err)
	}

	if err := exec.UpdateContext(ctx, t, "step_1_notes", notes); err != nil {
		return nil, err
	}
	if err := exec.LogStep(ctx, t, 1, "harvest_content",
		map[string]any{"creator_id": creatorID, "platform": string(pf)},
		map[string]any{"total_notes": len(notes)}); err != nil {
		return nil, err
	}
	return notes, exec.SetProgress(ctx, t, 30)
}

// filterStep walks the note list, newest first, keeping notes published
// inside the window. Publish times come from the listing when it carries a
// parseable one; otherwise the walk pulls note details in small batches to
// read them, and stops at the first note older than the window. That first
// stale note is reported as the creator's previous publication.
func (w *CreatorHarvest) filterStep(ctx context.Context, exec *task.Executor, t *task.Task, pf platform.Platform, notes []map[string]any, windowDays int) ([]map[string]any, map[string]any, error) {
	if cached, ok := contextMaps(t, "step_2_recent"); ok {
		last, _ := contextMap(t, "step_2_last")
		return cached, last, nil
	}

	cutoff := w.deps.Clock.Now().UTC().AddDate(0, 0, -windowDays)
	details := make(map[string]map[string]any)

	var recent []map[string]any
	var last map[string]any
	unknown := 0

	for i, note := range notes {
		merged := note
		published, ok := publishTime(note)
		if !ok {
			if u := itemURL(note); u != "" {
				if _, fetched := details[u]; !fetched {
					if err := w.fetchDetailBatch(ctx, pf, notes[i:], details); err != nil {
						return nil, nil, err
					}
				}
				if detail := details[u]; detail != nil {
					merged = mergeNote(note, detail)
					published, ok = publishTime(detail)
				}
			}
		}
		if !ok {
			unknown++
			continue
		}
		if published.After(cutoff) {
			recent = append(recent, merged)
			continue
		}
		// First note past the window ends the walk: the list is newest
		// first, so everything below is older still.
		last = merged
		break
	}

	if recent == nil {
		recent = []map[string]any{}
	}
	if err := exec.UpdateContext(ctx, t, "step_2_recent", recent); err != nil {
		return nil, nil, err
	}
	if last != nil {
		if err := exec.UpdateContext(ctx, t, "step_2_last", last); err != nil {
			return nil, nil, err
		}
	}
	if err := exec.LogStep(ctx, t, 2, "filter_recent",
		map[string]any{"window_days": windowDays},
		map[string]any{"recent": len(recent), "unknown_time": unknown, "last_seen": last != nil}); err != nil {
		return nil, nil, err
	}
	return recent, last, exec.SetProgress(ctx, t, 70)
}

// fetchDetailBatch extracts details for the next few URL-bearing notes and
// caches them by URL. Per-URL failures leave gaps; the caller treats a gap
// as an unknown publish time.
func (w *CreatorHarvest) fetchDetailBatch(ctx context.Context, pf platform.Platform, pending []map[string]any, details map[string]map[string]any) error {
	batch := make([]string, 0, w.cfg.DetailBatch)
	for _, note := range pending {
		u := itemURL(note)
		if u == "" {
			continue
		}
		if _, ok := details[u]; ok {
			continue
		}
		batch = append(batch, u)
		if len(batch) == w.cfg.DetailBatch {
			break
		}
	}
	if len(batch) == 0 {
		return nil
	}

	stream, err := w.deps.Router.Extract(ctx, batch, pf, w.cfg.DetailConcurrency)
	if err != nil {
		return fmt.Errorf("fetch note details: %w", err)
	}
	for res := range stream {
		if res.Success {
			details[res.SourceURL] = res.Data
		} else {
			w.deps.Logger.Warn("note detail failed",
				zap.String("url", res.SourceURL),
				zap.String("error", res.Error))
			details[res.SourceURL] = nil
		}
	}
	return ctx.Err()
}

func (w *CreatorHarvest) archiveStep(ctx context.Context, exec *task.Executor, t *task.Task, pf platform.Platform, creatorID, date string, windowDays int, notes, recent []map[string]any, last map[string]any) (string, error) {
	if cached, ok := contextString(t, "step_3_archive"); ok {
		return cached, nil
	}
	if w.deps.Blobs == nil {
		return "", errors.New("creator harvest: blob store not configured")
	}

	bundle := map[string]any{
		"creator_id":   creatorID,
		"platform":     string(pf),
		"date":         date,
		"window_days":  windowDays,
		"total_notes":  len(notes),
		"recent_count": len(recent),
		"recent_notes": recent,
	}
	if last != nil {
		bundle["last_note"] = last
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal harvest bundle: %w", err)
	}

	digest := w.deps.Hash.Sum(data)
	path := fmt.Sprintf("harvest/%s/%s/%s-%s.json", pf, creatorID, date, digest[:8])
	uri, err := w.deps.Blobs.PutObject(ctx, path, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("archive harvest bundle: %w", err)
	}

	if err := exec.UpdateContext(ctx, t, "step_3_archive", uri); err != nil {
		return "", err
	}
	if err := exec.LogStep(ctx, t, 3, "archive_bundle",
		map[string]any{"path": path},
		map[string]any{"uri": uri, "bytes": len(data)}); err != nil {
		return "", err
	}
	return uri, exec.SetProgress(ctx, t, 90)
}

// mergeNote overlays detail fields onto the listing entry without mutating
// either.
func mergeNote(note, detail map[string]any) map[string]any {
	merged := make(map[string]any, len(note)+len(detail))
	for k, v := range note {
		merged[k] = v
	}
	for k, v := range detail {
		merged[k] = v
	}
	return merged
}

func noteSummary(note map[string]any) map[string]any {
	summary := map[string]any{
		"title":       firstString(note, nil, "title"),
		"liked_count": engagement(note),
	}
	if u := itemURL(note); u != "" {
		summary["url"] = u
	}
	if ts, ok := publishTime(note); ok {
		summary["published_at"] = ts.UTC().Format(time.RFC3339)
	}
	if desc, ok := note["desc"].(string); ok && desc != "" {
		summary["excerpt"] = excerpt(desc, 150)
	}
	return summary
}

// publishTime reads a publish timestamp from the mixed shapes the platforms
// produce: epoch seconds or milliseconds under "time", or a handful of
// string layouts under "publish_time". Relative phrases ("3天前") do not
// parse and leave the note's age unknown.
func publishTime(m map[string]any) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	for _, key := range []string{"time", "publish_time", "published_at"} {
		switch v := m[key].(type) {
		case float64:
			return fromEpoch(v), true
		case int:
			return fromEpoch(float64(v)), true
		case int64:
			return fromEpoch(float64(v)), true
		case string:
			if ts, ok := parseTimeString(v); ok {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func fromEpoch(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}

func parseTimeString(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
