// Package stream writes the server-sent event frames the streaming routes
// speak: `data: <json>\n\n` per frame, flushed as soon as it is written so a
// slow extraction surfaces results one at a time.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Frame types. An extraction stream runs start → result* → complete, with
// error replacing the remainder on failure; a monitor stream runs ack →
// change* until the client disconnects.
const (
	TypeStart    = "start"
	TypeResult   = "result"
	TypeComplete = "complete"
	TypeError    = "error"
	TypeAck      = "ack"
	TypeChange   = "change"
)

// Progress counts streamed results against the requested total.
type Progress struct {
	Current      int `json:"current"`
	Total        int `json:"total"`
	SuccessCount int `json:"success_count"`
}

// Summary closes an extraction stream with final counts.
type Summary struct {
	Total        int `json:"total"`
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
}

// Frame is one SSE payload. Only the fields matching its type are set.
type Frame struct {
	Type     string    `json:"type"`
	Message  string    `json:"message,omitempty"`
	Config   any       `json:"config,omitempty"`
	Data     any       `json:"data,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Summary  *Summary  `json:"summary,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Start announces an accepted extraction, echoing the effective request
// config back to the caller.
func Start(message string, config any) Frame {
	return Frame{Type: TypeStart, Message: message, Config: config}
}

// Result carries one finished extraction.
func Result(data any, p Progress) Frame {
	return Frame{Type: TypeResult, Data: data, Progress: &p}
}

// Complete closes the stream with a human-readable message and counts.
func Complete(message string, s Summary) Frame {
	return Frame{Type: TypeComplete, Message: message, Summary: &s}
}

// Error reports a failure; detail is optional elaboration.
func Error(message, detail string) Frame {
	return Frame{Type: TypeError, Message: message, Detail: detail}
}

// Ack confirms a monitor subscription before the first change arrives.
func Ack(message string, config any) Frame {
	return Frame{Type: TypeAck, Message: message, Config: config}
}

// Change carries one observed content change.
func Change(data any) Frame {
	return Frame{Type: TypeChange, Data: data}
}

// Writer emits frames over one HTTP response.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter marks the response as an event stream and captures the flusher
// when the underlying writer has one.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Send writes one frame and flushes it to the client.
func (s *Writer) Send(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
