package cli

import (
	"fmt"
	"os"
	"time"

	"wikirag/internal/chunker"
	"wikirag/internal/config"
	"wikirag/internal/domain"
	"wikirag/internal/embedding"
	"wikirag/internal/embedding/openai"
	"wikirag/internal/llm"
	"wikirag/internal/loader"
	"wikirag/internal/loader/confluence"
	"wikirag/internal/retry"
	"wikirag/internal/vectorstore"
	"wikirag/internal/vectorstore/memory"
	"wikirag/internal/vectorstore/qdrant"
	"wikirag/internal/vectorstore/sqlite"
)

func buildStore(cfg *config.AppConfig) (vectorstore.Store, error) {
	switch cfg.Store.Type {
	case "sqlite":
		return sqlite.NewStore(cfg.Store.Path)
	case "memory":
		return memory.NewStore(), nil
	case "qdrant":
		qc := cfg.Store.Qdrant
		if qc == nil || qc.URL == "" || qc.Collection == "" {
			return nil, fmt.Errorf("qdrant store needs url and collection: %w", domain.ErrValidation)
		}
		return qdrant.NewStore(qdrant.Config{
			URL:        qc.URL,
			APIKey:     qc.APIKey,
			Collection: qc.Collection,
			Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown store type %q: %w", cfg.Store.Type, domain.ErrValidation)
	}
}

func buildLoader(cfg *config.AppConfig) (loader.Loader, error) {
	username := os.Getenv(cfg.Confluence.UsernameEnv)
	apiKey := os.Getenv(cfg.Confluence.APIKeyEnv)
	return confluence.NewClient(confluence.Config{
		BaseURL:           cfg.Confluence.BaseURL,
		Username:          username,
		APIKey:            apiKey,
		Timeout:           time.Duration(cfg.Confluence.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Confluence.RequestsPerSecond,
		Burst:             cfg.Confluence.Burst,
	}, log)
}

func buildEmbedder(cfg *config.AppConfig) (embedding.Embedder, error) {
	return openai.NewClient(openai.Config{
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    os.Getenv(cfg.Embedder.APIKeyEnv),
		Model:     cfg.Embedder.Model,
		Timeout:   time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
		BatchSize: cfg.Embedder.BatchSize,
	})
}

func buildGenerator(cfg *config.AppConfig) (llm.Generator, error) {
	return llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
	})
}

func buildChunker(cfg *config.AppConfig) chunker.Chunker {
	return chunker.NewWindowChunker(cfg.Chunker.MaxTokens, cfg.Chunker.OverlapTokens, cfg.Chunker.MinTokens)
}

func buildRetryPolicy(cfg *config.AppConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Ingest.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Ingest.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Ingest.MaxDelayMS) * time.Millisecond,
	}
}
