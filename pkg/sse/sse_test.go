package sse

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docsage/docsage/pkg/types"
)

func TestNewWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)
	if sw == nil {
		t.Fatal("expected non-nil Writer from httptest.ResponseRecorder")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if conn := rec.Header().Get("Connection"); conn != "keep-alive" {
		t.Errorf("Connection = %q, want keep-alive", conn)
	}
}

// nonFlushWriter does not implement http.Flusher.
type nonFlushWriter struct {
	http.ResponseWriter
}

func TestNewWriter_NoFlusher(t *testing.T) {
	sw := NewWriter(&nonFlushWriter{})
	if sw != nil {
		t.Error("expected nil Writer when ResponseWriter does not support Flusher")
	}
}

func TestSendContent(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	if err := sw.SendContent("hello "); err != nil {
		t.Fatalf("SendContent: %v", err)
	}

	var evt ContentEvent
	decodeFrame(t, rec.Body.String(), 0, &evt)
	if evt.Type != TypeContent {
		t.Errorf("type = %q, want %q", evt.Type, TypeContent)
	}
	if evt.Content != "hello " {
		t.Errorf("content = %q, want %q", evt.Content, "hello ")
	}
}

func TestSendCitations(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	citations := []types.Citation{
		{Source: "https://example.com/doc", ChunkIndex: 2},
	}
	if err := sw.SendCitations(citations); err != nil {
		t.Fatalf("SendCitations: %v", err)
	}

	var evt CitationsEvent
	decodeFrame(t, rec.Body.String(), 0, &evt)
	if evt.Type != TypeCitations {
		t.Errorf("type = %q, want %q", evt.Type, TypeCitations)
	}
	if len(evt.Citations) != 1 || evt.Citations[0].Source != "https://example.com/doc" {
		t.Errorf("unexpected citations: %v", evt.Citations)
	}
}

func TestSendCitations_NilBecomesEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	if err := sw.SendCitations(nil); err != nil {
		t.Fatalf("SendCitations: %v", err)
	}

	if !strings.Contains(rec.Body.String(), `"citations":[]`) {
		t.Errorf("nil citations should serialize as an empty array, got %s", rec.Body.String())
	}
}

func TestSendError(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	if err := sw.SendError("embedding timed out", true); err != nil {
		t.Fatalf("SendError: %v", err)
	}

	var evt ErrorEvent
	decodeFrame(t, rec.Body.String(), 0, &evt)
	if evt.Message != "embedding timed out" {
		t.Errorf("message = %q, want %q", evt.Message, "embedding timed out")
	}
	if !evt.Recoverable {
		t.Error("expected recoverable error")
	}
}

func TestSendProgress(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	if err := sw.SendProgress(55, "analyzing"); err != nil {
		t.Fatalf("SendProgress: %v", err)
	}

	var evt ProgressEvent
	decodeFrame(t, rec.Body.String(), 0, &evt)
	if evt.Progress != 55 {
		t.Errorf("progress = %d, want 55", evt.Progress)
	}
	if evt.Step != "analyzing" {
		t.Errorf("step = %q, want analyzing", evt.Step)
	}
}

func TestAnswerStreamOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	_ = sw.SendContent("The answer")
	_ = sw.SendContent(" is 42.")
	_ = sw.SendCitations([]types.Citation{{Source: "doc", ChunkIndex: 0}})
	_ = sw.SendMetadata(512, 0.0003, "mistral-small-latest")
	_ = sw.SendDone()

	frames := splitFrames(t, rec.Body.String())
	wantTypes := []string{TypeContent, TypeContent, TypeCitations, TypeMetadata, TypeDone}
	if len(frames) != len(wantTypes) {
		t.Fatalf("frames = %d, want %d", len(frames), len(wantTypes))
	}
	for i, want := range wantTypes {
		var evt struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(frames[i]), &evt); err != nil {
			t.Fatalf("unmarshal frame %d: %v", i, err)
		}
		if evt.Type != want {
			t.Errorf("frame %d type = %q, want %q", i, evt.Type, want)
		}
	}
}

func TestFrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewWriter(rec)

	_ = sw.SendDone()

	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Errorf("frame should start with 'data: ', got %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("frame should end with blank line, got %q", body)
	}
	if strings.Contains(body, "event:") {
		t.Error("frames must be data-only")
	}
}

// splitFrames returns the JSON payload of each data frame in order.
func splitFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, part := range strings.Split(body, "\n\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, "data: ") {
			t.Fatalf("unexpected frame %q", part)
		}
		frames = append(frames, strings.TrimPrefix(part, "data: "))
	}
	return frames
}

// decodeFrame unmarshals the nth data frame into v.
func decodeFrame(t *testing.T, body string, n int, v interface{}) {
	t.Helper()
	frames := splitFrames(t, body)
	if n >= len(frames) {
		t.Fatalf("frame %d not found in:\n%s", n, body)
	}
	if err := json.Unmarshal([]byte(frames[n]), v); err != nil {
		t.Fatalf("unmarshal frame %d: %v", n, err)
	}
}
