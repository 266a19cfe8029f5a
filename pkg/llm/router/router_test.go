package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docsage/docsage/pkg/types"
)

var errProvider = errors.New("provider down")

// fakeProvider is a scriptable llm.Provider.
type fakeProvider struct {
	name   string
	fail   bool
	calls  int
	chunks []string

	// failAfterChunks makes ChatStream emit the chunks and then fail.
	failAfterChunks bool
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func (f *fakeProvider) Chat(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	f.calls++
	if f.fail {
		return nil, errProvider
	}
	return &types.LLMResponse{Content: f.name + " answer", Provider: f.name}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, prompt string, emit func(string) error) (*types.LLMResponse, error) {
	f.calls++
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return nil, err
		}
	}
	if f.fail || f.failAfterChunks {
		return nil, errProvider
	}
	return &types.LLMResponse{Provider: f.name}, nil
}

func newTestRouter(primary, fallback *fakeProvider) *Router {
	return New(primary, fallback, Config{FailureThreshold: 3, OpenTimeout: 60 * time.Second}, nil, nil)
}

func TestChat_PrimaryHealthy(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	fallback := &fakeProvider{name: "fallback"}
	r := newTestRouter(primary, fallback)

	resp, err := r.Chat(context.Background(), "q")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Provider != "primary" {
		t.Errorf("provider = %q, want primary", resp.Provider)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
	if r.State() != Closed {
		t.Errorf("state = %v, want Closed", r.State())
	}
}

func TestChat_PrimaryFailureUsesFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback"}
	r := newTestRouter(primary, fallback)

	resp, err := r.Chat(context.Background(), "q")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Provider != "fallback" {
		t.Errorf("provider = %q, want fallback", resp.Provider)
	}
	if r.State() != Closed {
		t.Errorf("one failure should not open the breaker, state = %v", r.State())
	}
}

func TestChat_OpensAfterThreshold(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback"}
	r := newTestRouter(primary, fallback)

	for i := 0; i < 3; i++ {
		if _, err := r.Chat(context.Background(), "q"); err != nil {
			t.Fatalf("Chat %d: %v", i, err)
		}
	}
	if r.State() != Open {
		t.Fatalf("state = %v, want Open after 3 failures", r.State())
	}
	if primary.calls != 3 {
		t.Errorf("primary calls = %d, want 3", primary.calls)
	}

	// While open, the primary is bypassed entirely.
	if _, err := r.Chat(context.Background(), "q"); err != nil {
		t.Fatalf("Chat while open: %v", err)
	}
	if primary.calls != 3 {
		t.Errorf("primary calls = %d after open-state request, want 3", primary.calls)
	}
	if fallback.calls != 4 {
		t.Errorf("fallback calls = %d, want 4", fallback.calls)
	}
}

func TestChat_ProbeAfterOpenTimeout(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback"}
	r := newTestRouter(primary, fallback)

	current := time.Unix(1000, 0)
	r.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		_, _ = r.Chat(context.Background(), "q")
	}
	if r.State() != Open {
		t.Fatalf("state = %v, want Open", r.State())
	}

	// Heal the primary and advance past the open timeout.
	primary.fail = false
	current = current.Add(61 * time.Second)

	resp, err := r.Chat(context.Background(), "q")
	if err != nil {
		t.Fatalf("probe Chat: %v", err)
	}
	if resp.Provider != "primary" {
		t.Errorf("probe should hit primary, got %q", resp.Provider)
	}
	if r.State() != Closed {
		t.Errorf("state = %v after successful probe, want Closed", r.State())
	}
}

func TestChat_FailedProbeReopens(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback"}
	r := newTestRouter(primary, fallback)

	current := time.Unix(1000, 0)
	r.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		_, _ = r.Chat(context.Background(), "q")
	}

	current = current.Add(61 * time.Second)
	if _, err := r.Chat(context.Background(), "q"); err != nil {
		t.Fatalf("probe Chat: %v", err)
	}
	if r.State() != Open {
		t.Fatalf("state = %v after failed probe, want Open", r.State())
	}

	// The fresh open window keeps the primary bypassed.
	current = current.Add(30 * time.Second)
	primaryCalls := primary.calls
	_, _ = r.Chat(context.Background(), "q")
	if primary.calls != primaryCalls {
		t.Error("primary should not be called within the new open window")
	}
}

func TestChat_SerializedProbe(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback"}
	r := newTestRouter(primary, fallback)

	current := time.Unix(1000, 0)
	r.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		_, _ = r.Chat(context.Background(), "q")
	}
	current = current.Add(61 * time.Second)

	// First call becomes the probe; a second concurrent-style call in
	// HALF-OPEN must go to the fallback.
	usePrimary, probing := r.beforeRequest()
	if !usePrimary || !probing {
		t.Fatalf("first request should probe, got usePrimary=%v probing=%v", usePrimary, probing)
	}
	usePrimary, probing = r.beforeRequest()
	if usePrimary || probing {
		t.Errorf("second request during probe should fall back, got usePrimary=%v probing=%v", usePrimary, probing)
	}
}

func TestChatStream_FallbackBeforeFirstChunk(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback", chunks: []string{"fb"}}
	r := newTestRouter(primary, fallback)

	var got []string
	resp, err := r.ChatStream(context.Background(), "q", func(c string) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Provider != "fallback" {
		t.Errorf("provider = %q, want fallback", resp.Provider)
	}
	if len(got) != 1 || got[0] != "fb" {
		t.Errorf("chunks = %v, want [fb]", got)
	}
}

func TestChatStream_NoSwitchAfterPartialOutput(t *testing.T) {
	primary := &fakeProvider{name: "primary", chunks: []string{"partial "}, failAfterChunks: true}
	fallback := &fakeProvider{name: "fallback", chunks: []string{"fb"}}
	r := newTestRouter(primary, fallback)

	var got []string
	_, err := r.ChatStream(context.Background(), "q", func(c string) error {
		got = append(got, c)
		return nil
	})
	if err == nil {
		t.Fatal("expected error after partial output")
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times after partial output, want 0", fallback.calls)
	}
	if len(got) != 1 || got[0] != "partial " {
		t.Errorf("chunks = %v, want the partial primary output only", got)
	}
	if r.State() != Closed {
		t.Errorf("single stream failure should count toward the threshold only, state = %v", r.State())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{HalfOpen, "half-open"},
		{Open, "open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
