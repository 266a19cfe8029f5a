package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docsage/docsage/pkg/costs"
	"github.com/docsage/docsage/pkg/types"
)

// fakeReranker reverses the candidates and keeps topK.
type fakeReranker struct {
	topK  int
	calls int
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, candidates []types.ScoredPoint) ([]types.ScoredPoint, error) {
	f.calls++
	out := make([]types.ScoredPoint, len(candidates))
	for i, c := range candidates {
		out[len(candidates)-1-i] = c
	}
	if f.topK > 0 && len(out) > f.topK {
		out = out[:f.topK]
	}
	return out, nil
}

// fakeRouter returns a canned response and records the prompt.
type fakeRouter struct {
	content string
	chunks  []string
	err     error
	prompt  string
}

func (f *fakeRouter) Chat(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return &types.LLMResponse{
		Content: f.content,
		Usage:   types.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		Cost:    types.Cost{TotalCost: 0.001},
		Model:   "fake-model",
	}, nil
}

func (f *fakeRouter) ChatStream(ctx context.Context, prompt string, emit func(string) error) (*types.LLMResponse, error) {
	f.prompt = prompt
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.LLMResponse{
		Usage: types.Usage{TotalTokens: 120},
		Cost:  types.Cost{TotalCost: 0.001},
		Model: "fake-model",
	}, nil
}

// recordingSink captures the ordered stream events.
type recordingSink struct {
	events  []string
	content string
}

func (s *recordingSink) SendContent(content string) error {
	s.events = append(s.events, "content")
	s.content += content
	return nil
}

func (s *recordingSink) SendCitations(citations []types.Citation) error {
	s.events = append(s.events, "citations")
	return nil
}

func (s *recordingSink) SendMetadata(tokens int, cost float64, model string) error {
	s.events = append(s.events, "metadata")
	return nil
}

func (s *recordingSink) SendDone() error {
	s.events = append(s.events, "done")
	return nil
}

func (s *recordingSink) SendError(message string, recoverable bool) error {
	s.events = append(s.events, "error:"+message)
	return nil
}

func scored(source string, index int, text string) types.ScoredPoint {
	return types.ScoredPoint{
		Point: types.Point{
			ID:      ChunkID(text, source),
			Payload: types.Chunk{Text: text, Source: source, ChunkIndex: index},
		},
		Score: 0.9,
	}
}

func TestAsk(t *testing.T) {
	store := newFakeStore()
	store.queryResult = []types.ScoredPoint{
		scored("source-a", 0, "alpha text"),
		scored("source-a", 1, "beta text"),
		scored("source-b", 0, "gamma text"),
	}
	router := &fakeRouter{content: `{"answer": "42 is the answer"}`}
	tracker := costs.New(time.Hour)

	s := NewService(&fakeEmbedder{}, store, &fakeReranker{topK: 3}, router, tracker, nil, nil, 20)

	result, err := s.Ask(context.Background(), "what is the answer?", types.FilterContext{}, "sess-1")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if result.Answer != "42 is the answer" {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Tokens != 120 {
		t.Errorf("tokens = %d, want 120", result.Tokens)
	}

	// Citations come from the pre-rerank list, deduped by source.
	want := []types.Citation{
		{Source: "source-a", ChunkIndex: 0},
		{Source: "source-b", ChunkIndex: 0},
	}
	if len(result.Citations) != len(want) {
		t.Fatalf("citations = %v, want %v", result.Citations, want)
	}
	for i, c := range want {
		if result.Citations[i] != c {
			t.Errorf("citation %d = %v, want %v", i, result.Citations[i], c)
		}
	}

	// Session accounting happened.
	session, err := tracker.Get("sess-1")
	if err != nil {
		t.Fatalf("tracker.Get: %v", err)
	}
	if session.TotalTokens != 120 || session.Requests != 1 {
		t.Errorf("session = %+v", session)
	}
}

func TestAsk_NoResults(t *testing.T) {
	store := newFakeStore()
	router := &fakeRouter{content: "should not be called"}

	s := NewService(&fakeEmbedder{}, store, &fakeReranker{}, router, nil, nil, nil, 20)

	result, err := s.Ask(context.Background(), "anything at all?", types.FilterContext{}, "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Answer != NoInfoAnswer {
		t.Errorf("answer = %q, want the no-info answer", result.Answer)
	}
	if result.Citations == nil || len(result.Citations) != 0 {
		t.Errorf("citations = %v, want empty non-nil", result.Citations)
	}
	if router.prompt != "" {
		t.Error("LLM must not be called when retrieval is empty")
	}
}

func TestAsk_RawFallbackAnswer(t *testing.T) {
	store := newFakeStore()
	store.queryResult = []types.ScoredPoint{scored("src", 0, "some text")}
	router := &fakeRouter{content: "just plain text, no JSON"}

	s := NewService(&fakeEmbedder{}, store, &fakeReranker{}, router, nil, nil, nil, 20)

	result, err := s.Ask(context.Background(), "what is this?", types.FilterContext{}, "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Answer != "just plain text, no JSON" {
		t.Errorf("answer = %q, want raw content", result.Answer)
	}
}

func TestChatStream_EventOrder(t *testing.T) {
	store := newFakeStore()
	store.queryResult = []types.ScoredPoint{scored("src", 0, "some text")}
	router := &fakeRouter{chunks: []string{"The ", "answer."}}
	sink := &recordingSink{}

	s := NewService(&fakeEmbedder{}, store, &fakeReranker{}, router, nil, nil, nil, 20)

	if err := s.ChatStream(context.Background(), "what is this?", types.FilterContext{}, "", sink); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	want := []string{"content", "content", "citations", "metadata", "done"}
	if len(sink.events) != len(want) {
		t.Fatalf("events = %v, want %v", sink.events, want)
	}
	for i, e := range want {
		if sink.events[i] != e {
			t.Errorf("event %d = %q, want %q", i, sink.events[i], e)
		}
	}
	if sink.content != "The answer." {
		t.Errorf("streamed content = %q", sink.content)
	}
}

func TestChatStream_NoResults(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}

	s := NewService(&fakeEmbedder{}, store, &fakeReranker{}, &fakeRouter{}, nil, nil, nil, 20)

	if err := s.ChatStream(context.Background(), "anything at all?", types.FilterContext{}, "", sink); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0] != "error:"+NoInfoAnswer {
		t.Errorf("events = %v, want a single no-info error event", sink.events)
	}
}

func TestChatStream_RouterError(t *testing.T) {
	store := newFakeStore()
	store.queryResult = []types.ScoredPoint{scored("src", 0, "some text")}
	router := &fakeRouter{chunks: []string{"partial "}, err: errors.New("stream broke")}
	sink := &recordingSink{}

	s := NewService(&fakeEmbedder{}, store, &fakeReranker{}, router, nil, nil, nil, 20)

	if err := s.ChatStream(context.Background(), "what is this?", types.FilterContext{}, "", sink); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	last := sink.events[len(sink.events)-1]
	if last != "error:stream broke" {
		t.Errorf("last event = %q, want the error event", last)
	}
	for _, e := range sink.events[:len(sink.events)-1] {
		if e != "content" {
			t.Errorf("unexpected event %q before terminal error", e)
		}
	}
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"json", `{"answer": "yes"}`, "yes"},
		{"json with whitespace", "  {\"answer\": \"yes\"}\n", "yes"},
		{"plain text", "just text", "just text"},
		{"empty answer field", `{"answer": ""}`, `{"answer": ""}`},
		{"malformed json", `{"answer": "unterminated`, `{"answer": "unterminated`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseAnswer(tt.content); got != tt.want {
				t.Errorf("parseAnswer(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestBuildCitations_DedupesInOrder(t *testing.T) {
	points := []types.ScoredPoint{
		scored("b-source", 3, "b text"),
		scored("a-source", 0, "a text"),
		scored("b-source", 7, "b text two"),
	}
	citations := buildCitations(points)
	want := []types.Citation{
		{Source: "b-source", ChunkIndex: 3},
		{Source: "a-source", ChunkIndex: 0},
	}
	if len(citations) != len(want) {
		t.Fatalf("citations = %v, want %v", citations, want)
	}
	for i, c := range want {
		if citations[i] != c {
			t.Errorf("citation %d = %v, want %v", i, citations[i], c)
		}
	}
}
