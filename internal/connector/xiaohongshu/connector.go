// Package xiaohongshu implements the 小红书 connector. Notes carry a
// server-rendered state payload that covers most extractions without an AI
// pass; everything else falls back to the provider's structured extraction.
package xiaohongshu

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/connector"
	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
)

const (
	homeURL    = "https://www.xiaohongshu.com"
	publishURL = "https://creator.xiaohongshu.com/publish/publish"

	cookieDomain   = ".xiaohongshu.com"
	avatarSelector = `[data-testid="avatar"]`

	profileURLFormat = "https://www.xiaohongshu.com/user/profile/%s"
	searchURLFormat  = "https://www.xiaohongshu.com/search_result?keyword=%s"

	loginVerifyTimeout = 5 * time.Second
)

// Connector serves the xiaohongshu platform with the full capability set.
type Connector struct {
	*connector.Base
}

var _ content.Connector = (*Connector)(nil)

// New builds the connector. opts seeds every session it opens.
func New(opts content.SessionOptions, deps connector.Deps) *Connector {
	return &Connector{Base: connector.NewBase(platform.Xiaohongshu, opts, deps)}
}

// Capabilities reports the supported operations.
func (c *Connector) Capabilities() []content.Capability {
	return []content.Capability{
		content.CapExtract,
		content.CapMonitor,
		content.CapHarvest,
		content.CapPublish,
		content.CapLogin,
		content.CapSearch,
	}
}

// ExtractContentStream extracts every URL through one shared session,
// dispatching on URL shape: note detail, user profile, or anything else.
func (c *Connector) ExtractContentStream(ctx context.Context, urls []string, concurrency int) (<-chan content.ExtractionResult, error) {
	return c.StreamExtract(ctx, urls, concurrency, c.extractPage)
}

// MonitorChanges re-extracts each URL on the interval and reports snapshot
// diffs.
func (c *Connector) MonitorChanges(ctx context.Context, urls []string, interval time.Duration) (<-chan content.ChangeEvent, error) {
	return c.StreamChanges(ctx, urls, interval, c.extractPage)
}

func (c *Connector) extractPage(ctx context.Context, page content.Page, pageURL string) (map[string]any, error) {
	switch {
	case strings.Contains(pageURL, "/explore/"):
		return c.extractNoteDetail(ctx, page)
	case strings.Contains(pageURL, "/user/profile/"):
		return c.extractUserNotes(ctx, page)
	default:
		return page.Extract(ctx, generalInstruction, nil)
	}
}

// extractNoteDetail prefers the embedded note payload and only spends an AI
// extraction when the fast path comes up empty.
func (c *Connector) extractNoteDetail(ctx context.Context, page content.Page) (map[string]any, error) {
	var raw map[string]any
	if err := page.EvaluateInto(ctx, initialStateExpr, &raw); err != nil {
		c.Logger().Debug("initial state unavailable", zap.Error(err))
	} else if note := processNoteDetail(raw); note != nil {
		return note, nil
	}
	return page.Extract(ctx, noteInstruction, noteSchema())
}

func (c *Connector) extractUserNotes(ctx context.Context, page content.Page) (map[string]any, error) {
	return page.Extract(ctx, userNotesInstruction, userNotesSchema())
}

// HarvestUserContent lists a user's notes from their profile page, newest
// first, truncated to opts.Limit.
func (c *Connector) HarvestUserContent(ctx context.Context, userID string, opts content.HarvestOptions) ([]map[string]any, error) {
	if userID == "" {
		return nil, fmt.Errorf("harvest: user id is required: %w", content.ErrInvalidInput)
	}
	var notes []map[string]any
	err := c.VisitPage(ctx, fmt.Sprintf(profileURLFormat, userID), func(ctx context.Context, page content.Page) error {
		data, err := c.extractUserNotes(ctx, page)
		if err != nil {
			return err
		}
		notes = connector.ClampItems(connector.ItemsField(data, "notes"), opts.Limit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("harvest %s: %w", userID, err)
	}
	c.Logger().Info("harvested user notes",
		zap.String("user_id", userID),
		zap.Int("count", len(notes)))
	return notes, nil
}

// SearchAndExtract drives the search results page for keyword and extracts
// the top notes.
func (c *Connector) SearchAndExtract(ctx context.Context, keyword string, limit int) ([]map[string]any, error) {
	if keyword == "" {
		return nil, fmt.Errorf("search: keyword is required: %w", content.ErrInvalidInput)
	}
	var results []map[string]any
	target := fmt.Sprintf(searchURLFormat, url.QueryEscape(keyword))
	err := c.VisitPage(ctx, target, func(ctx context.Context, page content.Page) error {
		data, err := page.Extract(ctx, searchInstruction, searchSchema())
		if err != nil {
			return err
		}
		results = connector.ClampItems(connector.ItemsField(data, "results"), limit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	return results, nil
}

// ExtractByCreator is harvest keyed by creator id; creator ids map directly
// onto profile URLs.
func (c *Connector) ExtractByCreator(ctx context.Context, creatorID string, limit int) ([]map[string]any, error) {
	return c.HarvestUserContent(ctx, creatorID, content.HarvestOptions{Limit: limit})
}

// PublishContent drives the creator-studio publish flow. The session is
// always reopened first so a login context supplied with the request takes
// effect before the studio loads.
func (c *Connector) PublishContent(ctx context.Context, req content.PublishRequest) (content.PublishReceipt, error) {
	if err := c.InitSession(ctx, req.ContextID); err != nil {
		return content.PublishReceipt{}, err
	}
	err := c.VisitPage(ctx, publishURL, func(ctx context.Context, page content.Page) error {
		return page.Act(ctx, publishInstruction(req))
	})
	if err != nil {
		return content.PublishReceipt{}, fmt.Errorf("publish: %w", err)
	}
	c.Logger().Info("note published", zap.String("content_type", req.Kind))
	return content.PublishReceipt{Success: true, Message: "发布成功"}, nil
}

// publishInstruction assembles the studio action. Wording follows the note
// kind: image notes upload media, video notes pick the video tab, plain text
// falls through to a text note.
func publishInstruction(req content.PublishRequest) string {
	tags := strings.Join(req.Tags, ", ")
	switch {
	case req.Kind == "image" && len(req.Images) > 0:
		return fmt.Sprintf("发布图文笔记：标题「%s」，正文「%s」，上传图片：%s，添加标签：%s",
			req.Title, req.Body, strings.Join(req.Images, ", "), tags)
	case req.Kind == "video":
		return fmt.Sprintf("发布视频笔记：标题「%s」，简介「%s」，添加标签：%s",
			req.Title, req.Body, tags)
	default:
		return fmt.Sprintf("发布文字笔记：标题「%s」，正文「%s」，添加标签：%s",
			req.Title, req.Body, tags)
	}
}

// LoginWithCookies registers an authenticated browsing context for later
// publishes. Cookies without a domain default to the platform domain.
func (c *Connector) LoginWithCookies(ctx context.Context, creds content.LoginCredentials) (string, error) {
	cookies := make([]content.Cookie, len(creds.Cookies))
	for i, ck := range creds.Cookies {
		if ck.Domain == "" {
			ck.Domain = cookieDomain
		}
		cookies[i] = ck
	}
	creds.Cookies = cookies
	return c.CookieLogin(ctx, creds, connector.LoginParams{
		HomeURL:        homeURL,
		VerifySelector: avatarSelector,
		VerifyTimeout:  loginVerifyTimeout,
	})
}
