package sse

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStreamChunksThenSingleTerminalEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := New(rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Chunk("hello "); err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if err := s.Chunk("world"); err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if err := s.Complete(map[string]any{"done": true}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if err := s.Chunk("late"); err == nil {
		t.Fatal("chunk after terminal event must fail")
	}
	if err := s.Error("timeout", "too late", nil); err == nil {
		t.Fatal("second terminal event must fail")
	}

	body := rec.Body.String()
	if got := strings.Count(body, "event: chunk"); got != 2 {
		t.Fatalf("chunk events: want=2 got=%d", got)
	}
	if got := strings.Count(body, "event: complete"); got != 1 {
		t.Fatalf("complete events: want=1 got=%d", got)
	}
	if strings.Contains(body, "event: error") {
		t.Fatal("error event leaked after completion")
	}
	if strings.Contains(body, "late") {
		t.Fatal("post-terminal chunk leaked into the body")
	}
}

func TestStreamErrorCarriesKindAndDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := New(rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.Error("insufficient_credits", "insufficient credits", map[string]any{"required": 5, "available": 2})
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if s.Terminated() != true {
		t.Fatal("stream should be terminated")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Fatal("missing error event")
	}
	if !strings.Contains(body, `"kind":"insufficient_credits"`) {
		t.Fatalf("missing kind in payload: %s", body)
	}
	if !strings.Contains(body, `"required":5`) {
		t.Fatalf("missing details in payload: %s", body)
	}
}

func TestStreamSetsEventStreamHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, err := New(rec); err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type: got=%q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("cache control: got=%q", got)
	}
}
