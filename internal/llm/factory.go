package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
)

// Config holds reasoning provider settings.
type Config struct {
	Provider      string
	APIKey        string
	FastModel     string
	AccurateModel string
	RetryDelays   []time.Duration
	Temperature   float64
	MaxTokens     int
	RateLimit     int
}

// DefaultModels returns the fast and accurate model for a provider.
func DefaultModels(provider string) (fast, accurate string) {
	switch strings.ToLower(provider) {
	case "openai":
		return "gpt-4o-mini", "gpt-4o"
	case "gemini":
		return "gemini-1.5-flash", "gemini-1.5-pro"
	default:
		return "claude-3-5-haiku-latest", "claude-sonnet-4-5"
	}
}

func (c Config) withDefaults() Config {
	fast, accurate := DefaultModels(c.Provider)
	if c.FastModel == "" {
		c.FastModel = fast
	}
	if c.AccurateModel == "" {
		c.AccurateModel = accurate
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.RetryDelays == nil {
		c.RetryDelays = common.DefaultServiceDelays
	}
	return c
}

// NewClient creates a raw provider client from the configuration.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg)
	case "anthropic", "":
		return newAnthropicClient(cfg)
	case "gemini":
		return newGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
}

// New builds a Reasoner for the configured provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Reasoner, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewReasoner(client, cfg, logger), nil
}
