package rag

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/costs"
	"github.com/docsage/docsage/pkg/embedding"
	"github.com/docsage/docsage/pkg/metrics"
	"github.com/docsage/docsage/pkg/telemetry"
	"github.com/docsage/docsage/pkg/types"
	"github.com/docsage/docsage/pkg/vectorstore"
)

// DefaultTopK is the retrieval limit before reranking.
const DefaultTopK = 20

// Reranker reorders retrieval candidates by cross-encoder score.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []types.ScoredPoint) ([]types.ScoredPoint, error)
}

// ChatRouter routes chat calls through the provider breaker.
type ChatRouter interface {
	Chat(ctx context.Context, prompt string) (*types.LLMResponse, error)
	ChatStream(ctx context.Context, prompt string, emit func(content string) error) (*types.LLMResponse, error)
}

// StreamSink receives the ordered events of a streaming answer.
type StreamSink interface {
	SendContent(content string) error
	SendCitations(citations []types.Citation) error
	SendMetadata(tokens int, cost float64, model string) error
	SendDone() error
	SendError(message string, recoverable bool) error
}

// AskResult is the non-streaming answer with its accounting.
type AskResult struct {
	Answer    string           `json:"answer"`
	Citations []types.Citation `json:"citations"`
	Tokens    int              `json:"tokens"`
	Cost      float64          `json:"cost"`
	Model     string           `json:"model,omitempty"`
}

// Service orchestrates the ask and streaming-chat pipelines.
type Service struct {
	embedder embedding.Provider
	store    vectorstore.Store
	reranker Reranker
	router   ChatRouter
	tracker  *costs.Tracker
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracing  *telemetry.Provider
	topK     int

	now func() time.Time
}

// NewService creates the ask/chat orchestrator.
func NewService(embedder embedding.Provider, store vectorstore.Store, reranker Reranker, router ChatRouter, tracker *costs.Tracker, logger *zap.Logger, m *metrics.Metrics, topK int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{
		embedder: embedder,
		store:    store,
		reranker: reranker,
		router:   router,
		tracker:  tracker,
		logger:   logger,
		metrics:  m,
		topK:     topK,
		now:      time.Now,
	}
}

// SetTracing attaches span instrumentation to the pipeline stages.
func (s *Service) SetTracing(p *telemetry.Provider) {
	s.tracing = p
}

// Retrieve runs the embed+search half of the pipeline without the LLM.
func (s *Service) Retrieve(ctx context.Context, text string, filter types.FilterContext) ([]types.ScoredPoint, error) {
	vector, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, vector, filter)
}

// Ask answers a question from the indexed corpus.
func (s *Service) Ask(ctx context.Context, question string, filter types.FilterContext, sessionID string) (*AskResult, error) {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.PipelineDuration.WithLabelValues("ask").Observe(s.now().Sub(start).Seconds())
		}
	}()

	vector, err := s.embedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	retrieved, err := s.search(ctx, vector, filter)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		return &AskResult{Answer: NoInfoAnswer, Citations: []types.Citation{}}, nil
	}

	top, err := s.rerank(ctx, question, retrieved)
	if err != nil {
		return nil, err
	}

	prompt := RenderJSONPrompt(BuildContext(top), question)
	resp, err := s.router.Chat(ctx, prompt)
	if err != nil {
		return nil, err
	}

	answer := parseAnswer(resp.Content)
	citations := buildCitations(retrieved)
	s.accountUsage(sessionID, resp)

	return &AskResult{
		Answer:    answer,
		Citations: citations,
		Tokens:    resp.Usage.TotalTokens,
		Cost:      resp.Cost.TotalCost,
		Model:     resp.Model,
	}, nil
}

// ChatStream answers a question as an ordered event stream:
// content* -> citations -> metadata -> done, or a single error event
// when retrieval finds nothing.
func (s *Service) ChatStream(ctx context.Context, question string, filter types.FilterContext, sessionID string, sink StreamSink) error {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.PipelineDuration.WithLabelValues("chat_stream").Observe(s.now().Sub(start).Seconds())
		}
	}()

	vector, err := s.embedQuery(ctx, question)
	if err != nil {
		return sink.SendError(err.Error(), true)
	}

	retrieved, err := s.search(ctx, vector, filter)
	if err != nil {
		return sink.SendError(err.Error(), false)
	}
	if len(retrieved) == 0 {
		return sink.SendError(NoInfoAnswer, false)
	}

	top, err := s.rerank(ctx, question, retrieved)
	if err != nil {
		return sink.SendError(err.Error(), true)
	}

	prompt := RenderStreamPrompt(BuildContext(top), question)
	resp, err := s.router.ChatStream(ctx, prompt, func(content string) error {
		return sink.SendContent(content)
	})
	if err != nil {
		return sink.SendError(err.Error(), false)
	}

	if err := sink.SendCitations(buildCitations(retrieved)); err != nil {
		return err
	}
	s.accountUsage(sessionID, resp)
	if err := sink.SendMetadata(resp.Usage.TotalTokens, resp.Cost.TotalCost, resp.Model); err != nil {
		return err
	}
	return sink.SendDone()
}

// embedQuery embeds the question with the query encoding variant.
func (s *Service) embedQuery(ctx context.Context, question string) (types.HybridVector, error) {
	if s.tracing != nil {
		var span trace.Span
		ctx, span = s.tracing.StartEmbedding(ctx, 1, true)
		defer span.End()
	}

	start := s.now()
	vector, err := s.embedder.Embed(ctx, question, true)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordEmbedding("query", status, s.now().Sub(start))
	}
	return vector, err
}

// search runs hybrid retrieval with instrumentation.
func (s *Service) search(ctx context.Context, vector types.HybridVector, filter types.FilterContext) ([]types.ScoredPoint, error) {
	if s.tracing != nil {
		var span trace.Span
		ctx, span = s.tracing.StartRetrieval(ctx, s.topK)
		defer span.End()
	}

	start := s.now()
	points, err := s.store.Query(ctx, vector, s.topK, filter)
	if s.metrics != nil {
		s.metrics.VectorSearchDuration.Observe(s.now().Sub(start).Seconds())
		if err == nil {
			s.metrics.ChunksRetrieved.Observe(float64(len(points)))
		}
	}
	return points, err
}

// rerank reorders candidates by cross-encoder score.
func (s *Service) rerank(ctx context.Context, question string, candidates []types.ScoredPoint) ([]types.ScoredPoint, error) {
	if s.tracing != nil {
		var span trace.Span
		ctx, span = s.tracing.StartRerank(ctx, len(candidates))
		defer span.End()
	}
	return s.reranker.Rerank(ctx, question, candidates)
}

// accountUsage accumulates the call onto the session and global
// metrics.
func (s *Service) accountUsage(sessionID string, resp *types.LLMResponse) {
	if s.metrics != nil {
		s.metrics.RecordLLMUsage(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Cost.TotalCost)
	}
	if s.tracker != nil && sessionID != "" {
		s.tracker.Add(sessionID, resp.Usage.TotalTokens, resp.Cost.TotalCost)
	}
	s.logger.Info("llm_usage_recorded",
		zap.String("model", resp.Model),
		zap.String("provider", resp.Provider),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Float64("total_cost", resp.Cost.TotalCost))
}

// parseAnswer extracts the answer field from the model's JSON reply,
// falling back to the raw content when parsing fails.
func parseAnswer(content string) string {
	var parsed struct {
		Answer string `json:"answer"`
	}
	trimmed := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Answer != "" {
		return parsed.Answer
	}
	return trimmed
}

// buildCitations deduplicates sources in first-seen order from the
// pre-rerank result list.
func buildCitations(points []types.ScoredPoint) []types.Citation {
	seen := make(map[string]bool, len(points))
	citations := make([]types.Citation, 0, len(points))
	for _, p := range points {
		if seen[p.Payload.Source] {
			continue
		}
		seen[p.Payload.Source] = true
		citations = append(citations, types.Citation{
			Source:     p.Payload.Source,
			ChunkIndex: p.Payload.ChunkIndex,
		})
	}
	return citations
}
