package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/api"
	"github.com/docsage/docsage/pkg/costs"
	"github.com/docsage/docsage/pkg/extract"
	"github.com/docsage/docsage/pkg/jobs"
	"github.com/docsage/docsage/pkg/llm/router"
	"github.com/docsage/docsage/pkg/logging"
	"github.com/docsage/docsage/pkg/metrics"
	"github.com/docsage/docsage/pkg/rag"
	"github.com/docsage/docsage/pkg/rerank"
	"github.com/docsage/docsage/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docsage HTTP API",
	Long: `Starts the HTTP server exposing ingest, ask, and job endpoints.

Example:
  docsage serve --port 8000

The server exposes:
  POST /rag/ingest           - Synchronous URL ingest
  POST /rag/ingest-stream    - URL ingest with SSE progress
  POST /rag/ingest-pdf       - Synchronous PDF ingest
  POST /rag/ingest/job       - Queued URL ingest
  GET  /rag/job/{job_id}     - Job status
  POST /rag/retrieve         - Hybrid retrieval
  POST /rag/ask              - Question answering
  POST /rag/ask-stream       - Streaming answer (SSE)
  GET  /rag/costs/{session}  - Session cost lookup
  GET  /health               - Health check
  GET  /metrics              - Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "HTTP server port (overrides config)")
	serveCmd.Flags().String("host", "", "HTTP server host (overrides config)")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Exporter:    cfg.Telemetry.Tracing.Exporter,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		SampleRate:  cfg.Telemetry.Tracing.SampleRate,
		ServiceName: "docsage",
		Insecure:    cfg.Telemetry.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	m := metrics.New()

	store, err := buildVectorStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rdb, err := buildRedis(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	embedder, err := buildEmbedder(cfg, true)
	if err != nil {
		return err
	}

	reranker, err := rerank.NewClient(rerank.Config{
		BaseURL: cfg.Rerank.URL,
		TopK:    cfg.Rerank.TopK,
	})
	if err != nil {
		return err
	}

	primary, err := buildProvider(cfg.LLM.Primary)
	if err != nil {
		return fmt.Errorf("primary provider: %w", err)
	}
	fallback, err := buildProvider(cfg.LLM.Fallback)
	if err != nil {
		return fmt.Errorf("fallback provider: %w", err)
	}
	chatRouter := router.New(primary, fallback, router.Config{
		FailureThreshold: cfg.LLM.FailureThreshold,
		OpenTimeout:      cfg.LLM.OpenTimeout,
	}, logger, m)
	chatRouter.SetTracing(tracing)

	tracker := costs.New(cfg.Costs.SessionTTL)
	engine := rag.NewEngine(embedder, store, logger, m)
	engine.SetTracing(tracing)
	ragService := rag.NewService(embedder, store, reranker, chatRouter, tracker, logger, m, cfg.Retriever.TopK)
	ragService.SetTracing(tracing)

	jobService := jobs.NewService(rdb)
	queue := jobs.NewQueue(rdb)

	server := api.NewServer(api.Config{
		RAG:       ragService,
		Engine:    engine,
		Fetcher:   extract.NewFetcher(),
		Jobs:      jobService,
		Queue:     queue,
		Tracker:   tracker,
		Logger:    logger,
		Metrics:   m,
		Tracing:   tracing,
		UploadDir: cfg.Jobs.SharedUploadDir,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_started",
			zap.String("addr", addr),
			zap.String("primary", primary.Model()),
			zap.String("fallback", fallback.Model()))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server_stopped")
	return nil
}
