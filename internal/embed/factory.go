package embed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Aman-CERP/newsline/internal/config"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings (offline, deterministic).
	ProviderStatic ProviderType = "static"
)

// NewEmbedder builds the configured embedder wrapped in a query cache.
// NEWSLINE_EMBED_CACHE=false disables the cache.
// An Ollama failure is returned as-is; static and Ollama vectors live in
// different spaces and must not share an index.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)
	case ProviderOllama, "":
		oc := DefaultOllamaConfig()
		if cfg.Host != "" {
			oc.Host = cfg.Host
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.MaxSequenceChars > 0 {
			oc.MaxSequenceChars = cfg.MaxSequenceChars
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		embedder, err = NewOllamaEmbedder(ctx, oc)
		if err != nil {
			return nil, fmt.Errorf("ollama embeddings unavailable: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q (expected ollama or static)", cfg.Provider)
	}

	if isCacheDisabled() {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv(config.EnvPrefix + "EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
