package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/docsage/docsage/pkg/extract"
	"github.com/docsage/docsage/pkg/logging"
	"github.com/docsage/docsage/pkg/rag"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <url>",
	Short: "Ingest one document from a URL",
	Long: `Fetches, chunks, embeds, and indexes a single document.

Example:
  docsage ingest https://go.dev/doc/effective_go --domain engineering --topic go`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("domain", "general", "domain label for the chunks")
	ingestCmd.Flags().String("topic", "unknown", "topic label for the chunks")
}

func runIngest(cmd *cobra.Command, args []string) error {
	url := args[0]
	domain, _ := cmd.Flags().GetString("domain")
	topic, _ := cmd.Flags().GetString("topic")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Keep CLI output clean unless asked otherwise.
	level := cfg.Logging.Level
	if !cfg.Telemetry.Tracing.Enabled && level == "info" {
		level = "warn"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "console"})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildVectorStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	embedder, err := buildEmbedder(cfg, false)
	if err != nil {
		return err
	}

	engine := rag.NewEngine(embedder, store, logger, nil)

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("extracting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	_ = bar.Set(10)

	chunks, err := extract.NewFetcher().FromURL(ctx, url)
	if err != nil {
		return err
	}
	bar.Describe("cleaning")
	_ = bar.Set(30)

	progress := func(p int, step string) {
		bar.Describe(step)
		_ = bar.Set(p)
	}
	result, err := engine.Ingest(ctx, chunks, url, domain, topic, progress)
	if err != nil {
		return err
	}
	_ = bar.Finish()

	fmt.Printf("Ingested %s\n", url)
	fmt.Printf("  Chunks: %d (%d new, %d updated)\n",
		result.ChunksProcessed, result.New, result.Updated)
	return nil
}
