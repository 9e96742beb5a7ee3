package connector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AI-static/Aether/internal/content"
)

func receiveChange(t *testing.T, stream <-chan content.ChangeEvent) content.ChangeEvent {
	t.Helper()
	select {
	case evt, ok := <-stream:
		require.True(t, ok, "stream closed before a change arrived")
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change event")
		return content.ChangeEvent{}
	}
}

func TestStreamChangesEmitsOnFieldChange(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "https://www.xiaohongshu.com/explore/note-1"
	var polls int32
	stream, err := base.StreamChanges(ctx, []string{url}, 20*time.Millisecond, func(c context.Context, page content.Page, u string) (map[string]any, error) {
		if atomic.AddInt32(&polls, 1) == 1 {
			return map[string]any{"like_count": 10, "title": "morning routine"}, nil
		}
		return map[string]any{"like_count": 12, "title": "morning routine"}, nil
	})
	require.NoError(t, err)

	evt := receiveChange(t, stream)
	require.Equal(t, url, evt.URL)
	require.Len(t, evt.ChangedFields, 1, "only the changed field appears in the event")
	change, ok := evt.ChangedFields["like_count"]
	require.True(t, ok)
	require.Equal(t, 10, change.Old)
	require.Equal(t, 12, change.New)
	require.False(t, evt.Timestamp.IsZero())
}

func TestStreamChangesSilentWhenUnchanged(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := base.StreamChanges(ctx, []string{"https://www.xiaohongshu.com/explore/static"}, 15*time.Millisecond, func(c context.Context, page content.Page, u string) (map[string]any, error) {
		return map[string]any{"like_count": 10}, nil
	})
	require.NoError(t, err)

	// Several sweeps' worth of identical snapshots produce nothing.
	select {
	case evt, ok := <-stream:
		if ok {
			t.Fatalf("unexpected change event: %+v", evt)
		}
		t.Fatal("stream closed unexpectedly")
	case <-time.After(120 * time.Millisecond):
	}
}

func TestStreamChangesFailedPollKeepsSnapshot(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var polls int32
	stream, err := base.StreamChanges(ctx, []string{"https://www.xiaohongshu.com/explore/flaky"}, 15*time.Millisecond, func(c context.Context, page content.Page, u string) (map[string]any, error) {
		switch atomic.AddInt32(&polls, 1) {
		case 1:
			return map[string]any{"like_count": 10}, nil
		case 2:
			return nil, errors.New("transient provider error")
		default:
			return map[string]any{"like_count": 11}, nil
		}
	})
	require.NoError(t, err)

	evt := receiveChange(t, stream)
	change := evt.ChangedFields["like_count"]
	require.Equal(t, 10, change.Old, "the failed poll must not erase the baseline")
	require.Equal(t, 11, change.New)
}

func TestStreamChangesCancellationReleasesSession(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	base := newTestBase(opener)
	ctx, cancel := context.WithCancel(context.Background())

	polled := make(chan struct{})
	var once int32
	stream, err := base.StreamChanges(ctx, []string{"https://www.xiaohongshu.com/explore/leak-check"}, time.Hour, func(c context.Context, page content.Page, u string) (map[string]any, error) {
		if atomic.AddInt32(&once, 1) == 1 {
			close(polled)
		}
		return map[string]any{"ok": true}, nil
	})
	require.NoError(t, err)

	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("baseline sweep never ran")
	}
	cancel()
	select {
	case _, ok := <-stream:
		require.False(t, ok, "the stream must close after cancellation")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
	require.True(t, opener.session(0).closed(), "an abandoned monitor must not leak its session")
}

// TestStreamChangesStopReleasesGoroutines runs without t.Parallel so the leak
// check only sees this test's goroutines.
func TestStreamChangesStopReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	base := newTestBase(&fakeOpener{})
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := base.StreamChanges(ctx, []string{"https://www.xiaohongshu.com/explore/goroutines"}, 10*time.Millisecond, echoExtract)
	require.NoError(t, err)

	cancel()
	for range stream { // drain until the loop shuts down
	}
}

func TestStreamChangesRejectsBadInput(t *testing.T) {
	t.Parallel()

	base := newTestBase(&fakeOpener{})
	ctx := context.Background()

	_, err := base.StreamChanges(ctx, nil, time.Minute, echoExtract)
	require.ErrorIs(t, err, content.ErrInvalidInput)

	_, err = base.StreamChanges(ctx, []string{"https://example.org"}, 0, echoExtract)
	require.ErrorIs(t, err, content.ErrInvalidInput)
}

func TestDiffFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		prev map[string]any
		next map[string]any
		want map[string]content.FieldChange
	}{
		{
			name: "identical snapshots",
			prev: map[string]any{"like_count": 10, "title": "a"},
			next: map[string]any{"like_count": 10, "title": "a"},
			want: map[string]content.FieldChange{},
		},
		{
			name: "changed value",
			prev: map[string]any{"like_count": 10},
			next: map[string]any{"like_count": 11},
			want: map[string]content.FieldChange{"like_count": {Old: 10, New: 11}},
		},
		{
			name: "added field",
			prev: map[string]any{"title": "a"},
			next: map[string]any{"title": "a", "comment_count": 3},
			want: map[string]content.FieldChange{"comment_count": {Old: nil, New: 3}},
		},
		{
			name: "removed field",
			prev: map[string]any{"title": "a", "tags": []any{"x"}},
			next: map[string]any{"title": "a"},
			want: map[string]content.FieldChange{"tags": {Old: []any{"x"}, New: nil}},
		},
		{
			name: "structural change reports one whole-field change",
			prev: map[string]any{"tags": []any{"a", "b"}},
			next: map[string]any{"tags": []any{"b", "a"}},
			want: map[string]content.FieldChange{"tags": {Old: []any{"a", "b"}, New: []any{"b", "a"}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, DiffFields(tc.prev, tc.next))
		})
	}
}
