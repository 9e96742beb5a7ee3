package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, chunk := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		require.True(t, strings.HasPrefix(chunk, "data: "), "chunk %q lacks data prefix", chunk)
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &frame))
		out = append(out, frame)
	}
	return out
}

func TestWriterSpeaksWireFormat(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.Send(Start("extraction started", map[string]any{"url_count": 2})))
	require.NoError(t, w.Send(Result(
		map[string]any{"source_url": "https://a.example", "success": true},
		Progress{Current: 1, Total: 2, SuccessCount: 1},
	)))
	require.NoError(t, w.Send(Complete("extraction finished: 1/2 succeeded", Summary{
		Total:        2,
		SuccessCount: 1,
		FailedCount:  1,
	})))

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	require.True(t, rec.Flushed)

	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	require.Equal(t, "start", frames[0]["type"])
	require.Equal(t, map[string]any{"url_count": float64(2)}, frames[0]["config"])
	require.Equal(t, "result", frames[1]["type"])
	require.Equal(t, map[string]any{
		"current":       float64(1),
		"total":         float64(2),
		"success_count": float64(1),
	}, frames[1]["progress"])
	require.Equal(t, "complete", frames[2]["type"])
	require.Equal(t, map[string]any{
		"total":         float64(2),
		"success_count": float64(1),
		"failed_count":  float64(1),
	}, frames[2]["summary"])
}

func TestErrorFrameOmitsEmptyDetail(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	require.NoError(t, w.Send(Error("boom", "")))

	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	require.Equal(t, "error", frames[0]["type"])
	require.Equal(t, "boom", frames[0]["message"])
	_, hasDetail := frames[0]["detail"]
	require.False(t, hasDetail)
}

func TestMonitorFrames(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	require.NoError(t, w.Send(Ack("monitoring 1 url", map[string]any{"interval": 60})))
	require.NoError(t, w.Send(Change(map[string]any{
		"url":            "https://a.example",
		"changed_fields": map[string]any{"like_count": map[string]any{"old": 1, "new": 2}},
	})))

	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	require.Equal(t, "ack", frames[0]["type"])
	require.Equal(t, "change", frames[1]["type"])
	require.Equal(t, "https://a.example", frames[1]["data"].(map[string]any)["url"])
}

// plainWriter strips the Flush method so Send must tolerate its absence.
type plainWriter struct {
	header http.Header
	body   strings.Builder
}

func (p *plainWriter) Header() http.Header         { return p.header }
func (p *plainWriter) Write(b []byte) (int, error) { return p.body.Write(b) }
func (p *plainWriter) WriteHeader(int)             {}

func TestWriterWithoutFlusher(t *testing.T) {
	t.Parallel()

	pw := &plainWriter{header: make(http.Header)}
	w := NewWriter(pw)
	require.NoError(t, w.Send(Start("ok", nil)))
	require.Contains(t, pw.body.String(), `"type":"start"`)
}
