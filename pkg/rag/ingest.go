package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/embedding"
	"github.com/docsage/docsage/pkg/metrics"
	"github.com/docsage/docsage/pkg/telemetry"
	"github.com/docsage/docsage/pkg/types"
	"github.com/docsage/docsage/pkg/vectorstore"
)

// Embedding batch parameters.
const (
	embedBatchSize = 20

	// Per-batch timeout floor; the budget scales with batch size.
	embedTimeoutFloor = 60 * time.Second
	embedPerText      = 500 * time.Millisecond
)

// ProgressFunc reports ingest progress as a percentage and step label.
type ProgressFunc func(progress int, step string)

// Engine runs the ingest pipeline: deterministic IDs, diff against the
// store, reclaim, batched embedding, and upsert.
type Engine struct {
	embedder embedding.Provider
	store    vectorstore.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracing  *telemetry.Provider

	now func() time.Time
}

// NewEngine creates an ingest engine.
func NewEngine(embedder embedding.Provider, store vectorstore.Store, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		embedder: embedder,
		store:    store,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// SetTracing attaches span instrumentation to ingest runs.
func (e *Engine) SetTracing(p *telemetry.Provider) {
	e.tracing = p
}

// Ingest writes chunks for a source. Calling it twice with identical
// input produces the same stored state; re-ingesting a source removes
// every point a previous run wrote that this run did not.
func (e *Engine) Ingest(ctx context.Context, chunks []string, source, domain, topic string, progress ProgressFunc) (result types.IngestResult, err error) {
	if len(chunks) == 0 {
		return types.IngestResult{}, nil
	}
	if progress == nil {
		progress = func(int, string) {}
	}

	domain = strings.ToLower(strings.TrimSpace(domain))
	topic = strings.ToLower(strings.TrimSpace(topic))

	if e.tracing != nil {
		var span trace.Span
		ctx, span = e.tracing.StartIngest(ctx, source, len(chunks))
		defer span.End()
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			}
		}()
	}

	start := e.now()
	result, err = e.ingest(ctx, chunks, source, domain, topic, progress)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordIngest(status, result.New+result.Updated)
		e.metrics.PipelineDuration.WithLabelValues("ingest").Observe(e.now().Sub(start).Seconds())
	}
	if err != nil {
		e.logger.Error("ingest_failed",
			zap.String("source", source),
			zap.Int("chunks", len(chunks)),
			zap.Error(err))
		return result, err
	}

	e.logger.Info("ingest_completed",
		zap.String("source", source),
		zap.String("domain", domain),
		zap.String("topic", topic),
		zap.Int("processed", result.ChunksProcessed),
		zap.Int("new", result.New),
		zap.Int("updated", result.Updated),
		zap.Duration("elapsed", e.now().Sub(start)))
	return result, nil
}

func (e *Engine) ingest(ctx context.Context, chunks []string, source, domain, topic string, progress ProgressFunc) (types.IngestResult, error) {
	// Deterministic IDs, position-aligned with the input.
	ids := make([]string, len(chunks))
	for i, text := range chunks {
		ids[i] = ChunkID(text, source)
	}

	progress(50, "analyzing")

	stored, err := e.store.Retrieve(ctx, ids)
	if err != nil {
		return types.IngestResult{}, fmt.Errorf("retrieve failed: %w", err)
	}
	storedByID := make(map[string]types.Point, len(stored))
	for _, p := range stored {
		storedByID[p.ID] = p
	}

	// Every point produced by this run carries the same timestamp.
	writeTS := e.now().Unix()

	var newIdx, existingIdx []int
	for i, id := range ids {
		if _, ok := storedByID[id]; ok {
			existingIdx = append(existingIdx, i)
		} else {
			newIdx = append(newIdx, i)
		}
	}

	progress(55, fmt.Sprintf("found %d new, %d existing chunks", len(newIdx), len(existingIdx)))

	// Reclaim before any write so at most one version per ID ever
	// coexists; points this run asserts are re-written below with the
	// fresh timestamp.
	if err := e.store.DeleteOld(ctx, source, writeTS); err != nil {
		return types.IngestResult{}, fmt.Errorf("reclaim failed: %w", err)
	}

	// Embed new chunks in input order, batch by batch.
	newPoints := make([]types.Point, 0, len(newIdx))
	for batchStart := 0; batchStart < len(newIdx); batchStart += embedBatchSize {
		batchEnd := batchStart + embedBatchSize
		if batchEnd > len(newIdx) {
			batchEnd = len(newIdx)
		}
		batch := newIdx[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, idx := range batch {
			texts[i] = chunks[idx]
		}

		vectors, err := e.embedBatch(ctx, texts)
		if err != nil {
			return types.IngestResult{}, err
		}
		if len(vectors) != len(texts) {
			return types.IngestResult{}, embedding.ErrMismatch
		}

		for i, idx := range batch {
			newPoints = append(newPoints, types.Point{
				ID:     ids[idx],
				Vector: vectors[i],
				Payload: types.Chunk{
					Text:       chunks[idx],
					Source:     source,
					Domain:     domain,
					Topic:      topic,
					ChunkIndex: idx,
					IngestedAt: writeTS,
				},
			})
		}

		progress(60, fmt.Sprintf("embedded batch %d/%d",
			batchStart/embedBatchSize+1, (len(newIdx)+embedBatchSize-1)/embedBatchSize))
	}

	if len(newPoints) > 0 {
		if err := e.store.Insert(ctx, newPoints); err != nil {
			return types.IngestResult{}, fmt.Errorf("insert failed: %w", err)
		}
	}

	// Touch existing points: keep the stored vector, refresh the
	// payload from the current input so chunk_index and the timestamp
	// reflect this run.
	progress(85, "updating existing chunks")
	touched := make([]types.Point, 0, len(existingIdx))
	for _, idx := range existingIdx {
		prior := storedByID[ids[idx]]
		touched = append(touched, types.Point{
			ID:     ids[idx],
			Vector: prior.Vector,
			Payload: types.Chunk{
				Text:       chunks[idx],
				Source:     source,
				Domain:     domain,
				Topic:      topic,
				ChunkIndex: idx,
				IngestedAt: writeTS,
			},
		})
	}

	progress(95, "storing")
	if len(touched) > 0 {
		if err := e.store.Insert(ctx, touched); err != nil {
			return types.IngestResult{}, fmt.Errorf("touch failed: %w", err)
		}
	}

	return types.IngestResult{
		ChunksProcessed: len(chunks),
		New:             len(newIdx),
		Updated:         len(existingIdx),
	}, nil
}

// embedBatch runs one passage batch off the request goroutine with a
// budget of max(60s, 2 * 0.5s per text).
func (e *Engine) embedBatch(ctx context.Context, texts []string) ([]types.HybridVector, error) {
	budget := time.Duration(len(texts)) * embedPerText * 2
	if budget < embedTimeoutFloor {
		budget = embedTimeoutFloor
	}

	batchCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type embedResult struct {
		vectors []types.HybridVector
		err     error
	}
	ch := make(chan embedResult, 1)

	start := e.now()
	go func() {
		vectors, err := e.embedder.EmbedBatch(batchCtx, texts, false)
		ch <- embedResult{vectors, err}
	}()

	select {
	case <-batchCtx.Done():
		if e.metrics != nil {
			e.metrics.RecordEmbedding("passage", "timeout", e.now().Sub(start))
		}
		return nil, fmt.Errorf("%w after %.1f minutes", embedding.ErrTimeout, budget.Minutes())
	case r := <-ch:
		if e.metrics != nil {
			status := "success"
			if r.err != nil {
				status = "error"
			}
			e.metrics.RecordEmbedding("passage", status, e.now().Sub(start))
		}
		if r.err != nil {
			return nil, r.err
		}
		return r.vectors, nil
	}
}

// Store exposes the engine's vector store for collaborators that need
// direct retrieval.
func (e *Engine) Store() vectorstore.Store {
	return e.store
}
