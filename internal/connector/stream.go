package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/events"
)

// PageExtractFunc turns one navigated page into structured data. The page is
// already on url when the func runs.
type PageExtractFunc func(ctx context.Context, page content.Page, url string) (map[string]any, error)

// ExtractFunc runs one URL end to end and reports the outcome as a result.
// Connectors that manage their own per-URL pipeline plug in here.
type ExtractFunc func(ctx context.Context, url string) content.ExtractionResult

// StreamExtract drives the shared streaming-extraction engine: one session
// for the whole batch, at most concurrency pages in flight, results
// delivered in completion order rather than submission order. The channel
// closes after the last result, once the session has been released; release
// runs even when per-URL work fails. Cancelling ctx stops issuing work;
// URLs never started yield no result.
func (b *Base) StreamExtract(ctx context.Context, urls []string, concurrency int, extract PageExtractFunc) (<-chan content.ExtractionResult, error) {
	if len(urls) == 0 {
		out := make(chan content.ExtractionResult)
		close(out)
		return out, nil
	}
	sess, err := b.EnsureSession(ctx)
	if err != nil {
		return nil, content.NewSessionError("acquire", err)
	}
	run := func(ctx context.Context, url string) content.ExtractionResult {
		return b.extractOne(ctx, sess, url, extract)
	}
	return b.StreamFunc(ctx, urls, concurrency, run), nil
}

// StreamFunc is the fan-out chassis under StreamExtract: bounded in-flight
// work, completion-order delivery, session release (if one was opened) before
// the channel closes. Connectors that acquire sessions lazily per URL use it
// directly.
func (b *Base) StreamFunc(ctx context.Context, urls []string, concurrency int, run ExtractFunc) <-chan content.ExtractionResult {
	out := make(chan content.ExtractionResult)
	if len(urls) == 0 {
		close(out)
		return out
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(urls) {
		concurrency = len(urls)
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	go func() {
		defer close(out)
		defer b.ReleaseSession()
		var wg sync.WaitGroup
		for _, url := range urls {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				defer sem.Release(1)
				res := run(ctx, u)
				select {
				case out <- res:
				case <-ctx.Done():
				}
			}(url)
		}
		wg.Wait()
	}()
	return out
}

// extractOne runs the full per-URL pipeline and reports the outcome as an
// extraction event. Failures come back as data, never as an error.
func (b *Base) extractOne(ctx context.Context, sess content.Session, url string, extract PageExtractFunc) content.ExtractionResult {
	start := b.deps.Clock.Now()
	res := b.runExtract(ctx, sess, url, extract)
	outcome := events.OutcomeSuccess
	note := ""
	if !res.Success {
		outcome = events.OutcomeFailure
		note = res.Error
	}
	b.EmitExtract(outcome, start, note)
	return res
}

// EmitExtract reports one extraction completion for this platform. Exposed
// for connectors that drive their own extraction loop.
func (b *Base) EmitExtract(outcome events.Outcome, start time.Time, note string) {
	now := b.deps.Clock.Now()
	b.deps.Emitter.Emit(events.Event{
		TS:       now,
		Kind:     events.KindExtractDone,
		Platform: string(b.platform),
		Outcome:  outcome,
		Dur:      now.Sub(start),
		Note:     note,
	})
}

func (b *Base) runExtract(ctx context.Context, sess content.Session, url string, extract PageExtractFunc) content.ExtractionResult {
	if err := b.Pace(ctx); err != nil {
		return content.Failure(url, err)
	}
	page, err := sess.NewPage(ctx)
	if err != nil {
		return content.Failure(url, fmt.Errorf("open page: %w", err))
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		return content.Failure(url, fmt.Errorf("navigate: %w", err))
	}
	data, err := extract(ctx, page, url)
	if err != nil {
		return content.Failure(url, err)
	}
	return content.ExtractionResult{SourceURL: url, Success: true, Data: data}
}
