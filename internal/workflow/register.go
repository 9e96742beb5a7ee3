package workflow

import (
	"github.com/AI-static/Aether/internal/platform"
	"github.com/AI-static/Aether/internal/task"
)

// Task types served by this package.
const (
	TypeTrendScan       = "trend_scan"
	TypeCreatorHarvest  = "creator_harvest"
	TypeAssistedPublish = "assisted_publish"
)

// Config carries the per-unit tuning Register applies.
type Config struct {
	Trend   TrendConfig
	Harvest HarvestConfig
	Publish PublishConfig
}

// Register wires all three units into the catalog with their listing
// metadata. Savings figures are the configured estimates of manual minutes
// one completed run replaces.
func Register(catalog *task.Catalog, deps Deps, cfg Config) error {
	trend := NewTrendScan(deps, cfg.Trend)
	harvest := NewCreatorHarvest(deps, cfg.Harvest)
	publish := NewAssistedPublish(deps, cfg.Publish)

	entries := []struct {
		info task.WorkflowInfo
		unit task.UnitOfWork
	}{
		{
			info: task.WorkflowInfo{
				ID:          TypeTrendScan,
				DisplayName: "Trend Scan",
				Description: "Search a platform across an expanded keyword set and rank the top content by engagement",
				Platform:    string(platform.Xiaohongshu),
				Icon:        "fas fa-chart-line",
				Tags:        []string{"Trend", "Analysis"},
				Params: map[string]any{
					"keyword": map[string]any{
						"type":        "string",
						"required":    true,
						"description": "core keyword to expand and search",
						"placeholder": "weekend camping",
					},
					"keywords": map[string]any{
						"type":        "list[string]",
						"required":    false,
						"description": "explicit keyword list, overrides expansion",
					},
					"limit": map[string]any{
						"type":        "int",
						"required":    false,
						"description": "hits fetched per keyword",
						"default":     10,
						"min":         1,
						"max":         50,
					},
				},
				TimeoutSeconds: 600,
				SavingsMinutes: 85,
			},
			unit: trend,
		},
		{
			info: task.WorkflowInfo{
				ID:          TypeCreatorHarvest,
				DisplayName: "Creator Harvest",
				Description: "Collect a creator's recent content and archive the bundle",
				Platform:    string(platform.Xiaohongshu),
				Icon:        "fas fa-user-astronaut",
				Tags:        []string{"Monitor", "Creator"},
				Params: map[string]any{
					"creator_id": map[string]any{
						"type":        "string",
						"required":    true,
						"description": "platform-internal creator id",
						"placeholder": "5c4c5848000000001200de55",
					},
					"recent_days": map[string]any{
						"type":        "int",
						"required":    false,
						"description": "recency window in days",
						"default":     7,
						"min":         1,
						"max":         30,
					},
					"limit": map[string]any{
						"type":        "int",
						"required":    false,
						"description": "cap on notes listed, zero for all",
					},
				},
				TimeoutSeconds: 600,
				SavingsMinutes: 25,
			},
			unit: harvest,
		},
		{
			info: task.WorkflowInfo{
				ID:          TypeAssistedPublish,
				DisplayName: "Assisted Publish",
				Description: "Draft, pick images, review, and publish with human checkpoints",
				Platform:    string(platform.Xiaohongshu),
				Icon:        "fas fa-paper-plane",
				Tags:        []string{"Publish", "Assisted"},
				Params: map[string]any{
					"title": map[string]any{
						"type":        "string",
						"required":    false,
						"description": "post title",
					},
					"content": map[string]any{
						"type":        "string",
						"required":    true,
						"description": "post body",
					},
					"images": map[string]any{
						"type":        "list[string]",
						"required":    false,
						"description": "candidate image URLs offered for selection",
					},
					"tags": map[string]any{
						"type":        "list[string]",
						"required":    false,
						"description": "platform tags",
					},
					"context_id": map[string]any{
						"type":        "string",
						"required":    false,
						"description": "authenticated browser context from a prior login",
					},
				},
				TimeoutSeconds: 900,
				SavingsMinutes: 40,
			},
			unit: publish,
		},
	}

	for _, entry := range entries {
		if err := catalog.Register(entry.info, entry.unit); err != nil {
			return err
		}
	}
	return nil
}
