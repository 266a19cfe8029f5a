package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/cache"
	"github.com/docsage/docsage/pkg/config"
	"github.com/docsage/docsage/pkg/embedding"
	"github.com/docsage/docsage/pkg/embedding/tei"
	"github.com/docsage/docsage/pkg/llm"
	"github.com/docsage/docsage/pkg/llm/mistral"
	"github.com/docsage/docsage/pkg/llm/ollama"
	"github.com/docsage/docsage/pkg/vectorstore"
	qdstore "github.com/docsage/docsage/pkg/vectorstore/qdrant"
)

// Vector store connect retries at startup.
const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// buildVectorStore connects to Qdrant and ensures the collection
// exists, retrying before giving up.
func buildVectorStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	store, err := qdstore.NewClient(qdstore.Config{
		Host:       cfg.Retriever.Host,
		GRPCPort:   cfg.Retriever.GRPCPort,
		Collection: cfg.Retriever.Collection,
		APIKey:     cfg.Retriever.APIKey,
		UseTLS:     cfg.Retriever.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store client: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = store.EnsureCollection(ctx)
		if err == nil {
			return store, nil
		}
		if attempt >= connectAttempts {
			break
		}
		logger.Warn("vector_store_connect_retry",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(connectBackoff):
		case <-ctx.Done():
			_ = store.Close()
			return nil, ctx.Err()
		}
	}

	_ = store.Close()
	return nil, fmt.Errorf("vector store not reachable after %d attempts: %w", connectAttempts, err)
}

func buildRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		DB:   cfg.Redis.DB,
	}), nil
}

// buildEmbedder creates the sidecar client, optionally fronted by the
// query-embedding cache.
func buildEmbedder(cfg *config.Config, cached bool) (embedding.Provider, error) {
	client, err := tei.NewClient(tei.Config{
		BaseURL:  cfg.Embedding.URL,
		Timeout:  cfg.Embedding.TimeoutBasis,
		MaxBatch: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	if !cached {
		return client, nil
	}
	return embedding.NewCachedProvider(client, cache.Config{
		MaxSize:    int64(cfg.Embedding.CacheSize),
		DefaultTTL: cfg.Embedding.CacheTTL,
	}), nil
}

func buildProvider(pcfg config.ProviderConfig) (llm.Provider, error) {
	switch pcfg.Provider {
	case "mistral", "":
		return mistral.NewClient(mistral.Config{
			APIKey:  pcfg.APIKey,
			Model:   pcfg.Model,
			BaseURL: pcfg.URL,
		})
	case "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL: pcfg.URL,
			Model:   pcfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q (supported: mistral, ollama)", pcfg.Provider)
	}
}
