// Package router selects between the primary and fallback chat
// providers behind a circuit breaker.
package router

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/llm"
	"github.com/docsage/docsage/pkg/metrics"
	"github.com/docsage/docsage/pkg/telemetry"
	"github.com/docsage/docsage/pkg/types"
)

// State is the circuit breaker state.
type State int

// Circuit breaker states.
const (
	Closed State = iota
	HalfOpen
	Open
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	}
	return "unknown"
}

// Default breaker parameters.
const (
	DefaultFailureThreshold = 3
	DefaultOpenTimeout      = 60 * time.Second
)

// Config holds router configuration.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens
	// the breaker (default 3).
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open before probing
	// the primary again (default 60s).
	OpenTimeout time.Duration
}

// Router routes chat calls to the primary provider while the breaker
// is closed and to the fallback otherwise.
type Router struct {
	primary  llm.Provider
	fallback llm.Provider
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracing  *telemetry.Provider

	mu            sync.Mutex
	state         State
	failureCount  int
	openedAt      time.Time
	probeInFlight bool

	now func() time.Time
}

// New creates a router over a primary and fallback provider.
func New(primary, fallback llm.Provider, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Router {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		state:    Closed,
		now:      time.Now,
	}
	r.setGauge(Closed)
	return r
}

// SetTracing attaches span instrumentation to provider calls.
func (r *Router) SetTracing(p *telemetry.Provider) {
	r.tracing = p
}

// State returns the current breaker state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Chat routes a blocking completion.
func (r *Router) Chat(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	usePrimary, probing := r.beforeRequest()
	if !usePrimary {
		return r.callFallback(ctx, prompt)
	}

	start := r.now()
	callCtx, span := r.startSpan(ctx, r.primary, false)
	resp, err := r.primary.Chat(callCtx, prompt)
	finishSpan(span, resp, err)
	if err != nil {
		r.onPrimaryFailure(probing, err)
		r.recordLLM(r.primary, "error", r.now().Sub(start))
		return r.callFallback(ctx, prompt)
	}

	r.onPrimarySuccess(probing)
	r.recordLLM(r.primary, "success", r.now().Sub(start))
	return resp, nil
}

// ChatStream routes a streaming completion. The provider decision is
// made before any chunk is yielded; once the primary has emitted a
// chunk the router never switches providers mid-stream.
func (r *Router) ChatStream(ctx context.Context, prompt string, emit func(content string) error) (*types.LLMResponse, error) {
	usePrimary, probing := r.beforeRequest()
	if !usePrimary {
		return r.streamFallback(ctx, prompt, emit)
	}

	emitted := false
	wrapped := func(content string) error {
		emitted = true
		return emit(content)
	}

	start := r.now()
	callCtx, span := r.startSpan(ctx, r.primary, true)
	resp, err := r.primary.ChatStream(callCtx, prompt, wrapped)
	finishSpan(span, resp, err)
	if err != nil {
		r.onPrimaryFailure(probing, err)
		r.recordLLM(r.primary, "error", r.now().Sub(start))
		if emitted {
			// The caller has seen partial output; surface the error
			// rather than restarting on the fallback.
			return nil, err
		}
		return r.streamFallback(ctx, prompt, emit)
	}

	r.onPrimarySuccess(probing)
	r.recordLLM(r.primary, "success", r.now().Sub(start))
	return resp, nil
}

// beforeRequest decides the route under the lock. Returns whether the
// primary should be used and whether this call is the half-open probe.
func (r *Router) beforeRequest() (usePrimary, probing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Closed:
		return true, false

	case Open:
		if r.now().Sub(r.openedAt) < r.cfg.OpenTimeout {
			return false, false
		}
		r.transition(HalfOpen)
		r.probeInFlight = true
		return true, true

	case HalfOpen:
		if r.probeInFlight {
			// Another request is already probing; stay on fallback.
			return false, false
		}
		r.probeInFlight = true
		return true, true
	}
	return true, false
}

// onPrimarySuccess records a successful primary call.
func (r *Router) onPrimarySuccess(probing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if probing {
		r.probeInFlight = false
		r.transition(Closed)
		r.failureCount = 0
		r.logger.Info("circuit_closed", zap.String("reason", "probe_succeeded"))
		return
	}
	r.failureCount = 0
}

// onPrimaryFailure records a failed primary call and advances the
// breaker.
func (r *Router) onPrimaryFailure(probing bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if probing {
		r.probeInFlight = false
		r.openedAt = r.now()
		r.transition(Open)
		r.logger.Warn("circuit_reopened",
			zap.Error(err),
			zap.Duration("open_timeout", r.cfg.OpenTimeout))
		return
	}

	r.failureCount++
	if r.state == Closed && r.failureCount >= r.cfg.FailureThreshold {
		r.openedAt = r.now()
		r.transition(Open)
		r.logger.Warn("circuit_opened",
			zap.Int("failure_count", r.failureCount),
			zap.Error(err))
	}
}

// transition moves to a new state and updates metrics. Caller holds
// the lock.
func (r *Router) transition(next State) {
	if r.state == next {
		return
	}
	r.state = next
	r.setGauge(next)
	if r.metrics != nil {
		r.metrics.CircuitChanges.WithLabelValues(next.String()).Inc()
	}
}

func (r *Router) setGauge(s State) {
	if r.metrics == nil {
		return
	}
	switch s {
	case Closed:
		r.metrics.LLMCircuitState.Set(metrics.CircuitClosed)
	case HalfOpen:
		r.metrics.LLMCircuitState.Set(metrics.CircuitHalfOpen)
	case Open:
		r.metrics.LLMCircuitState.Set(metrics.CircuitOpen)
	}
}

func (r *Router) callFallback(ctx context.Context, prompt string) (*types.LLMResponse, error) {
	r.noteFallback()
	start := r.now()
	ctx, span := r.startSpan(ctx, r.fallback, false)
	resp, err := r.fallback.Chat(ctx, prompt)
	finishSpan(span, resp, err)
	if err != nil {
		r.recordLLM(r.fallback, "error", r.now().Sub(start))
		return nil, err
	}
	r.recordLLM(r.fallback, "fallback", r.now().Sub(start))
	return resp, nil
}

func (r *Router) streamFallback(ctx context.Context, prompt string, emit func(content string) error) (*types.LLMResponse, error) {
	r.noteFallback()
	start := r.now()
	ctx, span := r.startSpan(ctx, r.fallback, true)
	resp, err := r.fallback.ChatStream(ctx, prompt, emit)
	finishSpan(span, resp, err)
	if err != nil {
		r.recordLLM(r.fallback, "error", r.now().Sub(start))
		return nil, err
	}
	r.recordLLM(r.fallback, "fallback", r.now().Sub(start))
	return resp, nil
}

func (r *Router) noteFallback() {
	if r.metrics != nil {
		r.metrics.LLMFallbackTotal.Inc()
	}
	r.logger.Info("llm_fallback_used",
		zap.String("provider", r.fallback.Name()),
		zap.String("model", r.fallback.Model()))
}

func (r *Router) recordLLM(p llm.Provider, status string, d time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordLLMRequest(p.Name(), p.Model(), status, d)
}

// startSpan opens an llm span for one provider call.
func (r *Router) startSpan(ctx context.Context, p llm.Provider, streaming bool) (context.Context, trace.Span) {
	if r.tracing == nil {
		return ctx, nil
	}
	return r.tracing.StartLLM(ctx, p.Name(), p.Model(), streaming)
}

func finishSpan(span trace.Span, resp *types.LLMResponse, err error) {
	if span == nil {
		return
	}
	if err != nil {
		telemetry.RecordError(span, err)
	} else if resp != nil {
		telemetry.RecordUsage(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Cost.TotalCost)
	}
	span.End()
}
