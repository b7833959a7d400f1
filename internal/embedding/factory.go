package embedding

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Config selects and configures an embedder.
type Config struct {
	Provider string
	Model    string
	Version  string
	CacheTTL time.Duration
}

// New builds the configured embedder wrapped in a TTL cache. API keys are
// read from the environment.
func New(ctx context.Context, cfg Config) (*CachedEmbedder, error) {
	var (
		base Embedder
		err  error
	)

	switch cfg.Provider {
	case "", "hash":
		base = NewHashEmbedder(DefaultHashDimensions)
	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		base, err = NewGeminiEmbedder(ctx, apiKey, cfg.Model, cfg.Version)
	case "openai":
		base, err = NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), cfg.Model, cfg.Version)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewCachedEmbedder(base, cfg.CacheTTL), nil
}
