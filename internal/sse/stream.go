package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

const (
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// Stream writes server-sent events for one request. A stream carries
// any number of chunk events followed by exactly one terminal event,
// complete or error. Sends after the terminal event are rejected.
type Stream struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	flusher  http.Flusher
	terminal bool
}

// New prepares the response for event streaming. It fails when the
// underlying writer cannot flush, since buffered SSE defeats the
// point.
func New(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Stream{w: w, flusher: flusher}, nil
}

// Chunk sends one content delta.
func (s *Stream) Chunk(delta string) error {
	return s.send(EventChunk, map[string]any{"delta": delta}, false)
}

// Complete sends the terminal success event.
func (s *Stream) Complete(payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	return s.send(EventComplete, payload, true)
}

// Error sends the terminal failure event. kind is the machine-readable
// failure category; details may carry structured context.
func (s *Stream) Error(kind string, message string, details map[string]any) error {
	payload := map[string]any{"kind": kind, "message": message}
	if len(details) > 0 {
		payload["details"] = details
	}
	return s.send(EventError, payload, true)
}

// Terminated reports whether a terminal event has been sent.
func (s *Stream) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

func (s *Stream) send(event string, payload map[string]any, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return fmt.Errorf("stream already terminated")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		// The client is gone; further sends are pointless.
		s.terminal = true
		return err
	}
	s.flusher.Flush()

	if terminal {
		s.terminal = true
	}
	return nil
}
