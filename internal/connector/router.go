package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
)

// RouterConfig bounds batch sizes, concurrency clamping, and monitoring
// cadence. Zero values fall back to conservative defaults.
type RouterConfig struct {
	// DefaultConcurrency applies when the caller supplies none. Serial by
	// default to respect anti-automation limits on target sites.
	DefaultConcurrency int
	MaxConcurrency     int
	MaxBatchSize       int
	MinMonitorInterval time.Duration
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.DefaultConcurrency < 1 {
		c.DefaultConcurrency = 1
	}
	if c.MaxConcurrency < c.DefaultConcurrency {
		c.MaxConcurrency = c.DefaultConcurrency
	}
	if c.MaxBatchSize < 1 {
		c.MaxBatchSize = 50
	}
	if c.MinMonitorInterval <= 0 {
		c.MinMonitorInterval = 30 * time.Second
	}
	return c
}

// Router resolves which connectors serve a request, fans multi-platform
// batches out, and merges the streamed results back to the caller.
type Router struct {
	registry *Registry
	cfg      RouterConfig
	logger   *zap.Logger
}

// NewRouter builds a Router over registry.
func NewRouter(registry *Registry, cfg RouterConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{registry: registry, cfg: cfg.withDefaults(), logger: logger}
}

// Extract streams one result per URL. With an explicit platform the whole
// batch goes to that connector; otherwise URLs are grouped by detected
// platform and each group's stream is drained in sequence. There is no
// ordering guarantee across groups, and concurrency bounds in-flight pages
// within each connector call, not globally.
func (rt *Router) Extract(ctx context.Context, urls []string, pf platform.Platform, concurrency int) (<-chan content.ExtractionResult, error) {
	if err := rt.validateBatch(urls); err != nil {
		return nil, err
	}
	concurrency = rt.clampConcurrency(concurrency)

	if pf != "" {
		conn, err := rt.registry.Get(pf)
		if err != nil {
			return nil, err
		}
		return conn.ExtractContentStream(ctx, urls, concurrency)
	}

	groups := platform.GroupByPlatform(urls)
	ordered, conns, err := rt.resolveGroups(groups)
	if err != nil {
		return nil, err
	}

	out := make(chan content.ExtractionResult)
	go func() {
		defer close(out)
		for _, gpf := range ordered {
			rt.drainGroup(ctx, conns[gpf], groups[gpf], concurrency, out)
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return out, nil
}

// drainGroup streams one platform group to completion. A stream that cannot
// start (session failure) degrades to per-URL failure results so the batch
// still yields one result per URL.
func (rt *Router) drainGroup(ctx context.Context, conn content.Connector, urls []string, concurrency int, out chan<- content.ExtractionResult) {
	stream, err := conn.ExtractContentStream(ctx, urls, concurrency)
	if err != nil {
		rt.logger.Warn("platform stream failed to start",
			zap.String("platform", string(conn.Platform())),
			zap.Error(err))
		for _, u := range urls {
			select {
			case out <- content.Failure(u, err):
			case <-ctx.Done():
				return
			}
		}
		return
	}
	for res := range stream {
		select {
		case out <- res:
		case <-ctx.Done():
			return
		}
	}
}

// Monitor streams change events for the URLs. Multi-platform batches merge
// the per-platform infinite streams concurrently; the merged stream closes
// once ctx ends and every connector loop has wound down.
func (rt *Router) Monitor(ctx context.Context, urls []string, pf platform.Platform, interval time.Duration) (<-chan content.ChangeEvent, error) {
	if err := rt.validateBatch(urls); err != nil {
		return nil, err
	}
	if interval < rt.cfg.MinMonitorInterval {
		interval = rt.cfg.MinMonitorInterval
	}

	if pf != "" {
		conn, err := rt.registry.Get(pf)
		if err != nil {
			return nil, err
		}
		return conn.MonitorChanges(ctx, urls, interval)
	}

	groups := platform.GroupByPlatform(urls)
	ordered, conns, err := rt.resolveGroups(groups)
	if err != nil {
		return nil, err
	}

	mctx, cancel := context.WithCancel(ctx)
	streams := make([]<-chan content.ChangeEvent, 0, len(ordered))
	for _, gpf := range ordered {
		stream, err := conns[gpf].MonitorChanges(mctx, groups[gpf], interval)
		if err != nil {
			cancel()
			return nil, err
		}
		streams = append(streams, stream)
	}

	out := make(chan content.ChangeEvent)
	var wg sync.WaitGroup
	for _, stream := range streams {
		wg.Add(1)
		go func(s <-chan content.ChangeEvent) {
			defer wg.Done()
			for evt := range s {
				select {
				case out <- evt:
				case <-mctx.Done():
					return
				}
			}
		}(stream)
	}
	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()
	return out, nil
}

// Harvest lists a user's content on one platform.
func (rt *Router) Harvest(ctx context.Context, pf platform.Platform, userID string, opts content.HarvestOptions) ([]map[string]any, error) {
	if userID == "" {
		return nil, fmt.Errorf("harvest: user id is required: %w", content.ErrInvalidInput)
	}
	conn, err := rt.registry.Get(pf)
	if err != nil {
		return nil, err
	}
	return conn.HarvestUserContent(ctx, userID, opts)
}

// Publish pushes content to one platform. The connector establishes a fresh
// session, bound to the request's saved login context when present, before
// any page work.
func (rt *Router) Publish(ctx context.Context, pf platform.Platform, req content.PublishRequest) (content.PublishReceipt, error) {
	if req.Body == "" && len(req.Images) == 0 {
		return content.PublishReceipt{}, fmt.Errorf("publish: empty content: %w", content.ErrInvalidInput)
	}
	conn, err := rt.registry.Get(pf)
	if err != nil {
		return content.PublishReceipt{}, err
	}
	return conn.PublishContent(ctx, req)
}

// Login registers an authenticated browser context on one platform and
// returns its durable identifier.
func (rt *Router) Login(ctx context.Context, pf platform.Platform, creds content.LoginCredentials) (string, error) {
	conn, err := rt.registry.Get(pf)
	if err != nil {
		return "", err
	}
	return conn.LoginWithCookies(ctx, creds)
}

// SearchAndExtract runs a platform search and extracts the top hits.
func (rt *Router) SearchAndExtract(ctx context.Context, pf platform.Platform, keyword string, limit int) ([]map[string]any, error) {
	if keyword == "" {
		return nil, fmt.Errorf("search: keyword is required: %w", content.ErrInvalidInput)
	}
	conn, err := rt.registry.Get(pf)
	if err != nil {
		return nil, err
	}
	return conn.SearchAndExtract(ctx, keyword, limit)
}

// ExtractByCreator lists a creator's content by platform-internal id.
func (rt *Router) ExtractByCreator(ctx context.Context, pf platform.Platform, creatorID string, limit int) ([]map[string]any, error) {
	if creatorID == "" {
		return nil, fmt.Errorf("extract by creator: creator id is required: %w", content.ErrInvalidInput)
	}
	conn, err := rt.registry.Get(pf)
	if err != nil {
		return nil, err
	}
	return conn.ExtractByCreator(ctx, creatorID, limit)
}

// PlatformInfo describes one routable platform for discovery endpoints.
type PlatformInfo struct {
	Platform     platform.Platform    `json:"platform"`
	Capabilities []content.Capability `json:"capabilities"`
}

// Platforms lists every platform the registry can serve together with its
// declared capabilities.
func (rt *Router) Platforms() []PlatformInfo {
	infos := make([]PlatformInfo, 0, len(platform.All()))
	for _, pf := range platform.All() {
		conn, err := rt.registry.Get(pf)
		if err != nil {
			continue
		}
		infos = append(infos, PlatformInfo{Platform: pf, Capabilities: conn.Capabilities()})
	}
	return infos
}

// resolveGroups orders the grouped platforms deterministically and resolves
// every connector up front: platform resolution failures abort the whole
// request before any stream starts.
func (rt *Router) resolveGroups(groups map[platform.Platform][]string) ([]platform.Platform, map[platform.Platform]content.Connector, error) {
	ordered := make([]platform.Platform, 0, len(groups))
	for _, pf := range platform.All() {
		if _, ok := groups[pf]; ok {
			ordered = append(ordered, pf)
		}
	}
	conns := make(map[platform.Platform]content.Connector, len(ordered))
	for _, pf := range ordered {
		conn, err := rt.registry.Get(pf)
		if err != nil {
			return nil, nil, err
		}
		conns[pf] = conn
	}
	return ordered, conns, nil
}

func (rt *Router) validateBatch(urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("batch is empty: %w", content.ErrInvalidInput)
	}
	if len(urls) > rt.cfg.MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds limit of %d: %w", len(urls), rt.cfg.MaxBatchSize, content.ErrInvalidInput)
	}
	return nil
}

func (rt *Router) clampConcurrency(c int) int {
	if c < 1 {
		return rt.cfg.DefaultConcurrency
	}
	if c > rt.cfg.MaxConcurrency {
		return rt.cfg.MaxConcurrency
	}
	return c
}
