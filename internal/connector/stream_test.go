package connector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/events"
	"github.com/AI-static/Aether/internal/platform"
)

func collectResults(t *testing.T, stream <-chan content.ExtractionResult) []content.ExtractionResult {
	t.Helper()
	var out []content.ExtractionResult
	timeout := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-stream:
			if !ok {
				return out
			}
			out = append(out, res)
		case <-timeout:
			t.Fatalf("timed out draining stream after %d results", len(out))
		}
	}
}

func echoExtract(ctx context.Context, page content.Page, url string) (map[string]any, error) {
	return map[string]any{"url": url}, nil
}

func TestStreamExtractYieldsOneResultPerURL(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	urls := []string{
		"https://www.xiaohongshu.com/explore/1",
		"https://www.xiaohongshu.com/explore/2",
		"https://www.xiaohongshu.com/explore/3",
		"https://www.xiaohongshu.com/explore/4",
		"https://www.xiaohongshu.com/explore/5",
	}

	stream, err := base.StreamExtract(context.Background(), urls, 3, echoExtract)
	require.NoError(t, err)
	results := collectResults(t, stream)

	require.Len(t, results, len(urls))
	seen := make(map[string]int)
	for _, res := range results {
		seen[res.SourceURL]++
		require.True(t, res.Success)
		require.Equal(t, res.SourceURL, res.Data["url"])
	}
	for _, u := range urls {
		require.Equal(t, 1, seen[u], "every URL appears exactly once")
	}
	require.True(t, opener.session(0).closed(), "the batch session must be torn down at the end")
}

func TestStreamExtractFailuresAreData(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	urls := []string{
		"https://www.xiaohongshu.com/explore/ok-1",
		"https://www.xiaohongshu.com/explore/broken",
		"https://www.xiaohongshu.com/explore/ok-2",
	}

	stream, err := base.StreamExtract(context.Background(), urls, 1, func(ctx context.Context, page content.Page, url string) (map[string]any, error) {
		if url == urls[1] {
			return nil, errors.New("provider could not parse page")
		}
		return map[string]any{"title": "ok"}, nil
	})
	require.NoError(t, err)
	results := collectResults(t, stream)

	require.Len(t, results, 3)
	var successes, failures int
	for _, res := range results {
		if res.Success {
			successes++
			continue
		}
		failures++
		require.Equal(t, urls[1], res.SourceURL)
		require.NotEmpty(t, res.Error)
	}
	require.Equal(t, 2, successes)
	require.Equal(t, 1, failures)
}

func TestStreamExtractYieldsInCompletionOrder(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	slow := "https://www.xiaohongshu.com/explore/slow"
	fast := "https://www.xiaohongshu.com/explore/fast"

	release := make(chan struct{})
	stream, err := base.StreamExtract(context.Background(), []string{slow, fast}, 2, func(ctx context.Context, page content.Page, url string) (map[string]any, error) {
		if url == slow {
			<-release
		}
		return map[string]any{"url": url}, nil
	})
	require.NoError(t, err)

	first := <-stream
	require.Equal(t, fast, first.SourceURL, "first-finished must be first-out even when submitted second")
	close(release)
	second := <-stream
	require.Equal(t, slow, second.SourceURL)

	_, open := <-stream
	require.False(t, open)
}

func TestStreamExtractBoundsInFlightPages(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://www.xiaohongshu.com/explore/%d", i)
	}

	var inFlight, maxInFlight int32
	track := func(ctx context.Context, page content.Page, url string) (map[string]any, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return map[string]any{}, nil
	}

	stream, err := base.StreamExtract(context.Background(), urls, 2, track)
	require.NoError(t, err)
	results := collectResults(t, stream)

	require.Len(t, results, len(urls))
	require.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}

func TestStreamExtractDefaultsToSerial(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	urls := []string{
		"https://www.xiaohongshu.com/explore/a",
		"https://www.xiaohongshu.com/explore/b",
		"https://www.xiaohongshu.com/explore/c",
	}

	var inFlight, maxInFlight int32
	track := func(ctx context.Context, page content.Page, url string) (map[string]any, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return map[string]any{}, nil
	}

	stream, err := base.StreamExtract(context.Background(), urls, 0, track)
	require.NoError(t, err)
	results := collectResults(t, stream)

	require.Len(t, results, len(urls))
	require.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight), "zero concurrency falls back to serial extraction")
}

func TestStreamExtractSessionFailureAbortsOperation(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{err: errors.New("no capacity")}
	base := newTestBase(opener)

	_, err := base.StreamExtract(context.Background(), []string{"https://www.xiaohongshu.com/explore/1"}, 1, echoExtract)
	require.Error(t, err)

	var sessErr *content.SessionError
	require.ErrorAs(t, err, &sessErr)
	require.Contains(t, err.Error(), "no capacity")
}

func TestStreamExtractStopsIssuingWorkAfterCancel(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	started := make(chan struct{})
	blocking := func(c context.Context, page content.Page, url string) (map[string]any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-c.Done()
		return nil, c.Err()
	}

	urls := []string{
		"https://www.xiaohongshu.com/explore/1",
		"https://www.xiaohongshu.com/explore/2",
		"https://www.xiaohongshu.com/explore/3",
	}
	stream, err := base.StreamExtract(ctx, urls, 1, blocking)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first extraction never started")
	}
	cancel()

	results := collectResults(t, stream)
	require.LessOrEqual(t, len(results), 1, "URLs never started yield no result after cancellation")
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "no further URLs may start once the context ends")
	require.True(t, opener.session(0).closed(), "cancellation must still release the session")
}

func TestStreamExtractEmptyBatch(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)

	stream, err := base.StreamExtract(context.Background(), nil, 4, echoExtract)
	require.NoError(t, err)
	require.Empty(t, collectResults(t, stream))
	require.Zero(t, opener.openCount(), "an empty batch must not open a session")
}

func TestStreamExtractEmitsExtractionEvents(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	emitter := &recordingEmitter{}
	base := NewBase(platform.Xiaohongshu, content.SessionOptions{}, Deps{Opener: opener, Emitter: emitter})

	urls := []string{
		"https://www.xiaohongshu.com/explore/ok",
		"https://www.xiaohongshu.com/explore/broken",
	}
	stream, err := base.StreamExtract(context.Background(), urls, 1, func(ctx context.Context, page content.Page, url string) (map[string]any, error) {
		if url == urls[1] {
			return nil, errors.New("boom")
		}
		return map[string]any{}, nil
	})
	require.NoError(t, err)
	collectResults(t, stream)

	var opens, closes int
	outcomes := make(map[events.Outcome]int)
	emitter.mu.Lock()
	for _, evt := range emitter.evts {
		switch evt.Kind {
		case events.KindSessionOpen:
			opens++
		case events.KindSessionClose:
			closes++
		case events.KindExtractDone:
			outcomes[evt.Outcome]++
		}
	}
	emitter.mu.Unlock()

	require.Equal(t, 1, opens)
	require.Equal(t, 1, closes)
	require.Equal(t, 1, outcomes[events.OutcomeSuccess])
	require.Equal(t, 1, outcomes[events.OutcomeFailure])
}
