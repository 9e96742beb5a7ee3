// Package wechat implements the 微信公众号 connector. Article pages sit behind
// ad overlays and lazy-render their stats, so every extraction starts with a
// best-effort dismiss-and-scroll action before the structured pass runs.
package wechat

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/connector"
	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
)

const (
	// Account history renders from the legacy profile_ext endpoint, keyed by
	// the account's biz id.
	harvestURLFormat = "https://mp.weixin.qq.com/mp/profile_ext?action=home&__biz=%s"

	// Article search goes through Sogou; type=2 scopes results to articles.
	searchURLFormat = "https://weixin.sogou.com/weixin?type=2&query=%s"

	popupDismissInstruction = "如果有弹窗或广告，关闭它们，然后滑动到文章最下边。"
	articleInstruction      = "提取公众号文章：标题、作者、发布时间、阅读量、点赞数、评论数、分享数、内容摘要和要点"
	historyInstruction      = "提取该公众号的历史文章列表，包括标题、摘要、发布时间和链接"
	searchInstruction       = "提取搜索结果中的公众号文章列表，包括标题、公众号名称、摘要、发布时间和链接"
)

// statFields are the only article fields monitoring diffs. Body edits are
// rare and noisy to compare; engagement counters are what callers watch.
var statFields = []string{"read_count", "like_count", "comment_count", "share_count"}

// Connector serves WeChat official-account articles.
type Connector struct {
	*connector.Base
}

var _ content.Connector = (*Connector)(nil)

// New builds the connector. opts seeds every session it opens.
func New(opts content.SessionOptions, deps connector.Deps) *Connector {
	return &Connector{Base: connector.NewBase(platform.Wechat, opts, deps)}
}

// Capabilities reports the supported operations. Publishing and cookie login
// have no article-page equivalent here.
func (c *Connector) Capabilities() []content.Capability {
	return []content.Capability{
		content.CapExtract,
		content.CapMonitor,
		content.CapHarvest,
		content.CapSearch,
	}
}

// ExtractContentStream extracts every article URL through one shared session.
func (c *Connector) ExtractContentStream(ctx context.Context, urls []string, concurrency int) (<-chan content.ExtractionResult, error) {
	return c.StreamExtract(ctx, urls, concurrency, c.extractArticle)
}

// MonitorChanges re-extracts each article on the interval and reports diffs
// restricted to the engagement counters.
func (c *Connector) MonitorChanges(ctx context.Context, urls []string, interval time.Duration) (<-chan content.ChangeEvent, error) {
	return c.StreamChanges(ctx, urls, interval, c.monitorExtract)
}

func (c *Connector) extractArticle(ctx context.Context, page content.Page, _ string) (map[string]any, error) {
	if err := page.Act(ctx, popupDismissInstruction); err != nil {
		c.Logger().Debug("popup dismissal failed", zap.Error(err))
	}
	return page.Extract(ctx, articleInstruction, articleSchema())
}

func (c *Connector) monitorExtract(ctx context.Context, page content.Page, pageURL string) (map[string]any, error) {
	data, err := c.extractArticle(ctx, page, pageURL)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]any, len(statFields))
	for _, field := range statFields {
		if v, ok := data[field]; ok {
			stats[field] = v
		}
	}
	return stats, nil
}

// HarvestUserContent lists an account's published articles, newest first,
// truncated to opts.Limit. userID is the account's biz id.
func (c *Connector) HarvestUserContent(ctx context.Context, userID string, opts content.HarvestOptions) ([]map[string]any, error) {
	if userID == "" {
		return nil, fmt.Errorf("harvest: account biz id is required: %w", content.ErrInvalidInput)
	}
	var articles []map[string]any
	target := fmt.Sprintf(harvestURLFormat, url.QueryEscape(userID))
	err := c.VisitPage(ctx, target, func(ctx context.Context, page content.Page) error {
		data, err := page.Extract(ctx, historyInstruction, articleListSchema())
		if err != nil {
			return err
		}
		articles = connector.ClampItems(connector.ItemsField(data, "articles"), opts.Limit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("harvest %s: %w", userID, err)
	}
	c.Logger().Info("harvested account history",
		zap.String("biz_id", userID),
		zap.Int("count", len(articles)))
	return articles, nil
}

// SearchAndExtract finds articles for keyword via Sogou's article search.
func (c *Connector) SearchAndExtract(ctx context.Context, keyword string, limit int) ([]map[string]any, error) {
	if keyword == "" {
		return nil, fmt.Errorf("search: keyword is required: %w", content.ErrInvalidInput)
	}
	var results []map[string]any
	target := fmt.Sprintf(searchURLFormat, url.QueryEscape(keyword))
	err := c.VisitPage(ctx, target, func(ctx context.Context, page content.Page) error {
		data, err := page.Extract(ctx, searchInstruction, articleListSchema())
		if err != nil {
			return err
		}
		results = connector.ClampItems(connector.ItemsField(data, "articles"), limit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	return results, nil
}

// ExtractByCreator is harvest keyed by the account biz id.
func (c *Connector) ExtractByCreator(ctx context.Context, creatorID string, limit int) ([]map[string]any, error) {
	return c.HarvestUserContent(ctx, creatorID, content.HarvestOptions{Limit: limit})
}

func articleSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":         map[string]any{"type": "string", "description": "文章标题"},
			"author":        map[string]any{"type": "string", "description": "作者或公众号名称"},
			"publish_time":  map[string]any{"type": "string", "description": "发布时间"},
			"read_count":    map[string]any{"type": "integer", "description": "阅读量"},
			"like_count":    map[string]any{"type": "integer", "description": "点赞数"},
			"comment_count": map[string]any{"type": "integer", "description": "评论数"},
			"share_count":   map[string]any{"type": "integer", "description": "分享数"},
			"main_point":    map[string]any{"type": "string", "description": "内容摘要"},
			"key_points": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"pic_urls": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

func articleListSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"articles": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":        map[string]any{"type": "string"},
						"account":      map[string]any{"type": "string"},
						"digest":       map[string]any{"type": "string"},
						"publish_time": map[string]any{"type": "string"},
						"url":          map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}
