package connector

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
)

// StreamChanges drives the shared monitoring loop: every interval it
// re-extracts all urls serially, diffs each against its last-seen snapshot,
// and emits one ChangeEvent per URL that changed. The first sweep only
// records baselines. The loop runs until ctx ends; the session is released
// on exit so an abandoned stream never leaks a live browser.
func (b *Base) StreamChanges(ctx context.Context, urls []string, interval time.Duration, extract PageExtractFunc) (<-chan content.ChangeEvent, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("monitor: empty url batch: %w", content.ErrInvalidInput)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("monitor: interval must be positive: %w", content.ErrInvalidInput)
	}

	out := make(chan content.ChangeEvent)
	go func() {
		defer close(out)
		defer b.ReleaseSession()
		snapshots := make(map[string]map[string]any, len(urls))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			b.sweep(ctx, urls, snapshots, out, extract)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

// sweep extracts every URL once and emits events for changed snapshots. A
// failed poll keeps the previous snapshot so transient extraction errors do
// not fire phantom changes.
func (b *Base) sweep(ctx context.Context, urls []string, snapshots map[string]map[string]any, out chan<- content.ChangeEvent, extract PageExtractFunc) {
	for _, url := range urls {
		if ctx.Err() != nil {
			return
		}
		sess, err := b.EnsureSession(ctx)
		if err != nil {
			b.deps.Logger.Warn("monitor sweep: session unavailable",
				zap.String("platform", string(b.platform)),
				zap.Error(err))
			return
		}
		res := b.extractOne(ctx, sess, url, extract)
		if !res.Success {
			b.deps.Logger.Debug("monitor sweep: poll failed",
				zap.String("url", url),
				zap.String("error", res.Error))
			continue
		}
		prev, seen := snapshots[url]
		snapshots[url] = res.Data
		if !seen {
			continue
		}
		changed := DiffFields(prev, res.Data)
		if len(changed) == 0 {
			continue
		}
		evt := content.ChangeEvent{
			URL:           url,
			ChangedFields: changed,
			Timestamp:     b.deps.Clock.Now(),
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// DiffFields compares two snapshots field by field over the union of their
// keys. Values compare by deep equality, so a structural change inside one
// field reports as a single whole-field change.
func DiffFields(prev, next map[string]any) map[string]content.FieldChange {
	changed := make(map[string]content.FieldChange)
	for k, ov := range prev {
		nv, ok := next[k]
		if !ok || !reflect.DeepEqual(ov, nv) {
			changed[k] = content.FieldChange{Old: ov, New: nv}
		}
	}
	for k, nv := range next {
		if _, ok := prev[k]; !ok {
			changed[k] = content.FieldChange{Old: nil, New: nv}
		}
	}
	return changed
}
