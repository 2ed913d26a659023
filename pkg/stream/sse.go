package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Event names written on the wire.
const (
	EventChunk  = "chunk"
	EventNotice = "notice"
	EventDone   = "done"
	EventError  = "error"
)

var errNoFlush = errors.New("response writer does not support flushing")

// ChunkData is the payload of a chunk event.
type ChunkData struct {
	Text string `json:"text"`
}

// NoticeData is the payload of a notice event.
type NoticeData struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// sseWriter frames events onto an http.ResponseWriter. It is used by a
// single goroutine per response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlush
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) chunk(text string) error {
	return s.send(EventChunk, ChunkData{Text: text})
}

func (s *sseWriter) done() error {
	return s.send(EventDone, struct{}{})
}
