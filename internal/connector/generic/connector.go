// Package generic implements the catch-all connector. URLs no platform
// identifier claims get probed with a plain HTTP fetch first; only pages
// that look script-rendered spend a browser session and an AI extraction.
package generic

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/connector"
	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/events"
	"github.com/AI-static/Aether/internal/platform"
)

const pageInstruction = "提取网页的主要内容，包括标题、正文、重要信息和数据"

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Config tunes the static probe.
type Config struct {
	// UserAgent is sent with static fetches.
	UserAgent string
	// FetchTimeout bounds one static fetch.
	FetchTimeout time.Duration
	// MinHTMLBytes is the body size under which a page is assumed to be a
	// client-rendered shell.
	MinHTMLBytes int
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.MinHTMLBytes <= 0 {
		c.MinHTMLBytes = 2048
	}
	return c
}

// Connector serves every URL the platform identifiers do not claim.
type Connector struct {
	*connector.Base
	fetcher  *staticFetcher
	detector *renderDetector
}

var _ content.Connector = (*Connector)(nil)

// New builds the connector. opts seeds browser sessions for promoted pages.
func New(opts content.SessionOptions, cfg Config, deps connector.Deps) *Connector {
	cfg = cfg.withDefaults()
	return &Connector{
		Base:     connector.NewBase(platform.Generic, opts, deps),
		fetcher:  newStaticFetcher(cfg.UserAgent, cfg.FetchTimeout),
		detector: newRenderDetector(cfg.MinHTMLBytes),
	}
}

// ExtractContentStream extracts every URL in the batch, static-first. A
// browser session is opened lazily, only when some page promotes, and
// released once the batch drains.
func (c *Connector) ExtractContentStream(ctx context.Context, urls []string, concurrency int) (<-chan content.ExtractionResult, error) {
	return c.StreamFunc(ctx, urls, concurrency, c.extractOne), nil
}

// MonitorChanges re-extracts each URL on the interval through a browser and
// reports snapshot diffs. Monitoring targets change because of scripts more
// often than not, so the static probe is skipped here.
func (c *Connector) MonitorChanges(ctx context.Context, urls []string, interval time.Duration) (<-chan content.ChangeEvent, error) {
	return c.StreamChanges(ctx, urls, interval, func(ctx context.Context, page content.Page, _ string) (map[string]any, error) {
		return page.Extract(ctx, pageInstruction, nil)
	})
}

func (c *Connector) extractOne(ctx context.Context, url string) content.ExtractionResult {
	start := c.Now()
	res := c.runExtract(ctx, url)
	outcome := events.OutcomeSuccess
	note := ""
	if !res.Success {
		outcome = events.OutcomeFailure
		note = res.Error
	}
	c.EmitExtract(outcome, start, note)
	return res
}

func (c *Connector) runExtract(ctx context.Context, url string) content.ExtractionResult {
	if err := c.Pace(ctx); err != nil {
		return content.Failure(url, err)
	}
	page, err := c.fetcher.Fetch(ctx, url)
	if err == nil && page.StatusCode < 400 && !c.detector.needsBrowser(page.Body) {
		data, perr := parseStatic(page.Body)
		if perr == nil && hasSubstance(data) {
			data["render"] = "static"
			return content.ExtractionResult{SourceURL: url, Success: true, Data: data}
		}
	}
	if err != nil {
		c.Logger().Debug("static fetch failed, promoting to browser",
			zap.String("url", url),
			zap.Error(err))
	}
	return c.browserExtract(ctx, url)
}

// browserExtract is the promotion path: a shared lazy session, one tab per
// URL, AI extraction with the general instruction.
func (c *Connector) browserExtract(ctx context.Context, url string) content.ExtractionResult {
	sess, err := c.EnsureSession(ctx)
	if err != nil {
		return content.Failure(url, content.NewSessionError("acquire", err))
	}
	page, err := sess.NewPage(ctx)
	if err != nil {
		return content.Failure(url, fmt.Errorf("open page: %w", err))
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		return content.Failure(url, fmt.Errorf("navigate: %w", err))
	}
	data, err := page.Extract(ctx, pageInstruction, nil)
	if err != nil {
		return content.Failure(url, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	data["render"] = "browser"
	return content.ExtractionResult{SourceURL: url, Success: true, Data: data}
}
