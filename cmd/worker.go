package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/extract"
	"github.com/docsage/docsage/pkg/jobs"
	"github.com/docsage/docsage/pkg/logging"
	"github.com/docsage/docsage/pkg/metrics"
	"github.com/docsage/docsage/pkg/rag"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background ingest worker pool",
	Long: `Starts the worker pool that executes queued ingest jobs.

Workers block on the Redis job queue, fetch and chunk the document,
run the ingest pipeline, and record progress on the job record.

Example:
  docsage worker --parallelism 4`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Int("parallelism", 0, "number of concurrent workers (overrides config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("parallelism"); n > 0 {
		cfg.Jobs.Parallelism = n
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Passage embedding traffic is never cached.
	embedder, err := buildEmbedder(cfg, false)
	if err != nil {
		return err
	}

	engine := rag.NewEngine(embedder, store, logger, m)
	jobService := jobs.NewService(rdb)
	queue := jobs.NewQueue(rdb)

	worker := jobs.NewWorker(queue, jobService, extract.NewFetcher(), engine, logger, m, cfg.Jobs.Parallelism)

	logger.Info("worker_started", zap.Int("parallelism", cfg.Jobs.Parallelism))
	worker.Run(ctx)
	logger.Info("worker_stopped")
	return nil
}
