// Package sse provides Server-Sent Events support for streaming
// answers and ingest progress to clients. Frames are data-only:
// "data: <json>\n\n" with a type field inside the body.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/docsage/docsage/pkg/types"
)

// Event types carried in the data payload.
const (
	TypeContent   = "content"
	TypeCitations = "citations"
	TypeMetadata  = "metadata"
	TypeDone      = "done"
	TypeError     = "error"
)

// ContentEvent carries one answer delta.
type ContentEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CitationsEvent carries the deduplicated source list.
type CitationsEvent struct {
	Type      string           `json:"type"`
	Citations []types.Citation `json:"citations"`
}

// MetadataEvent carries final token and cost accounting.
type MetadataEvent struct {
	Type   string  `json:"type"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Model  string  `json:"model"`
}

// DoneEvent terminates an answer stream.
type DoneEvent struct {
	Type string `json:"type"`
}

// ErrorEvent reports a failure mid-stream.
type ErrorEvent struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// ProgressEvent reports ingest progress.
type ProgressEvent struct {
	Progress int    `json:"progress"`
	Step     string `json:"step"`
}

// Writer wraps an http.ResponseWriter for SSE output.
// It sets the required headers and provides methods to send typed events.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares the response for SSE streaming.
// Returns nil if the ResponseWriter does not support flushing.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}
}

// SendContent emits one answer delta.
func (s *Writer) SendContent(content string) error {
	return s.Send(ContentEvent{Type: TypeContent, Content: content})
}

// SendCitations emits the citations list.
func (s *Writer) SendCitations(citations []types.Citation) error {
	if citations == nil {
		citations = []types.Citation{}
	}
	return s.Send(CitationsEvent{Type: TypeCitations, Citations: citations})
}

// SendMetadata emits final token/cost accounting.
func (s *Writer) SendMetadata(tokens int, cost float64, model string) error {
	return s.Send(MetadataEvent{Type: TypeMetadata, Tokens: tokens, Cost: cost, Model: model})
}

// SendDone terminates the stream.
func (s *Writer) SendDone() error {
	return s.Send(DoneEvent{Type: TypeDone})
}

// SendError emits an error event.
func (s *Writer) SendError(message string, recoverable bool) error {
	return s.Send(ErrorEvent{Type: TypeError, Message: message, Recoverable: recoverable})
}

// SendProgress emits an ingest progress event.
func (s *Writer) SendProgress(progress int, step string) error {
	return s.Send(ProgressEvent{Progress: progress, Step: step})
}

// Send writes a single data-only SSE frame and flushes.
func (s *Writer) Send(data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
