// Package config resolves application settings from the config file, the
// environment and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/ledgerline/internal/classifier"
	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/llm"
	"github.com/Veraticus/ledgerline/internal/memory"
	"github.com/Veraticus/ledgerline/internal/selector"
	"github.com/Veraticus/ledgerline/internal/storage"
)

// EnvPrefix is the prefix of environment variables that override config keys.
const EnvPrefix = "LEDGERLINE"

// Config is the fully resolved application configuration.
type Config struct {
	Logging     LoggingConfig
	Database    DatabaseConfig
	LLM         llm.Config
	Embedding   embedding.Config
	Classifier  classifier.Config
	Selector    selector.Config
	Batch       engine.Config
	PostgresURL string
	// MemoryThreshold is the similarity at which a learned decision is
	// applied without reasoning.
	MemoryThreshold float64
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path   string
	Driver string
}

// DefaultDatabasePath returns ~/.local/share/ledgerline/ledgerline.db.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledgerline.db"
	}
	return filepath.Join(home, ".local", "share", "ledgerline", "ledgerline.db")
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.path", DefaultDatabasePath())
	v.SetDefault("database.driver", storage.DriverCGO)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.cache_ttl", time.Hour)

	classifierDefaults := classifier.DefaultConfig()
	v.SetDefault("classifier.top_k", classifierDefaults.TopK)
	v.SetDefault("classifier.family_review_threshold", classifierDefaults.FamilyReviewThreshold)
	v.SetDefault("classifier.subfamily_widen_threshold", classifierDefaults.SubfamilyWidenThreshold)
	v.SetDefault("classifier.code_review_threshold", classifierDefaults.CodeReviewThreshold)
	v.SetDefault("classifier.max_adjacent", classifierDefaults.MaxAdjacent)

	v.SetDefault("memory.auto_apply_threshold", memory.DefaultAutoApplyThreshold)

	selectorDefaults := selector.DefaultConfig()
	v.SetDefault("selector.materiality_amount", selectorDefaults.MaterialityAmount.String())
	v.SetDefault("selector.threshold", selectorDefaults.Threshold)
	v.SetDefault("selector.subfamily_confidence_floor", selectorDefaults.SubfamilyConfidenceFloor)
	v.SetDefault("selector.force_accurate_on_low_subfamily", selectorDefaults.ForceAccurateOnLowSubfamily)

	v.SetDefault("batch.workers", engine.DefaultWorkers)
	v.SetDefault("batch.run_timeout", engine.DefaultRunTimeout)
}

// ExpandPath expands a leading ~ and $VAR references in path.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + strings.TrimPrefix(path, "~")
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// LoadDotEnv loads provider keys from .env files into the environment. A
// missing file is not an error; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(ExpandPath(path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load resolves the configuration from v. Values come from the config file,
// LEDGERLINE_ environment variables and bound flags, in viper's precedence;
// provider API keys fall back to the providers' usual environment variables.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Database: DatabaseConfig{
			Path:   ExpandPath(v.GetString("database.path")),
			Driver: v.GetString("database.driver"),
		},
		Embedding: embedding.Config{
			Provider: strings.ToLower(v.GetString("embedding.provider")),
			Model:    v.GetString("embedding.model"),
			Version:  v.GetString("embedding.version"),
			CacheTTL: v.GetDuration("embedding.cache_ttl"),
		},
		Classifier: classifier.Config{
			FamilyReviewThreshold:   v.GetFloat64("classifier.family_review_threshold"),
			SubfamilyWidenThreshold: v.GetFloat64("classifier.subfamily_widen_threshold"),
			CodeReviewThreshold:     v.GetFloat64("classifier.code_review_threshold"),
			MaxAdjacent:             v.GetInt("classifier.max_adjacent"),
			TopK:                    v.GetInt("classifier.top_k"),
		},
		Batch: engine.Config{
			Workers:    v.GetInt("batch.workers"),
			RunTimeout: v.GetDuration("batch.run_timeout"),
		},
		PostgresURL:     v.GetString("catalog.postgres_url"),
		MemoryThreshold: v.GetFloat64("memory.auto_apply_threshold"),
	}

	if _, err := common.ParseLevel(cfg.Logging.Level); err != nil {
		return Config{}, err
	}

	switch cfg.Database.Driver {
	case storage.DriverCGO, storage.DriverPureGo:
	default:
		return Config{}, fmt.Errorf("%w: database.driver must be %s or %s, got %q",
			common.ErrInvalidConfig, storage.DriverCGO, storage.DriverPureGo, cfg.Database.Driver)
	}

	llmCfg, err := loadLLM(v)
	if err != nil {
		return Config{}, err
	}
	cfg.LLM = llmCfg

	selectorCfg, err := loadSelector(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Selector = selectorCfg

	if cfg.Batch.Workers <= 0 {
		return Config{}, fmt.Errorf("%w: batch.workers must be positive", common.ErrInvalidConfig)
	}
	if cfg.MemoryThreshold <= 0 || cfg.MemoryThreshold > 1 {
		return Config{}, fmt.Errorf("%w: memory.auto_apply_threshold must be in (0, 1]", common.ErrInvalidConfig)
	}

	return cfg, nil
}

func loadLLM(v *viper.Viper) (llm.Config, error) {
	cfg := llm.Config{
		Provider:      strings.ToLower(v.GetString("llm.provider")),
		APIKey:        v.GetString("llm.api_key"),
		FastModel:     v.GetString("llm.fast_model"),
		AccurateModel: v.GetString("llm.accurate_model"),
		Temperature:   v.GetFloat64("llm.temperature"),
		MaxTokens:     v.GetInt("llm.max_tokens"),
		RateLimit:     v.GetInt("llm.rate_limit"),
	}

	// Check the provider-specific config key, then the provider's own
	// environment variable.
	if cfg.APIKey == "" {
		switch cfg.Provider {
		case "anthropic":
			cfg.APIKey = firstNonEmpty(v.GetString("llm.anthropic_api_key"), os.Getenv("ANTHROPIC_API_KEY"))
		case "openai":
			cfg.APIKey = firstNonEmpty(v.GetString("llm.openai_api_key"), os.Getenv("OPENAI_API_KEY"))
		case "gemini":
			cfg.APIKey = firstNonEmpty(v.GetString("llm.gemini_api_key"), os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		default:
			return llm.Config{}, fmt.Errorf("%w: unsupported LLM provider %q", common.ErrInvalidConfig, cfg.Provider)
		}
	}

	if raw := v.GetStringSlice("batch.retry_delays"); len(raw) > 0 {
		delays := make([]time.Duration, 0, len(raw))
		for _, s := range raw {
			d, err := time.ParseDuration(strings.TrimSpace(s))
			if err != nil {
				return llm.Config{}, fmt.Errorf("%w: batch.retry_delays: %v", common.ErrInvalidConfig, err)
			}
			delays = append(delays, d)
		}
		cfg.RetryDelays = delays
	}

	return cfg, nil
}

func loadSelector(v *viper.Viper) (selector.Config, error) {
	materiality, err := decimal.NewFromString(v.GetString("selector.materiality_amount"))
	if err != nil {
		return selector.Config{}, fmt.Errorf("%w: selector.materiality_amount: %v", common.ErrInvalidConfig, err)
	}
	return selector.Config{
		MaterialityAmount:           materiality,
		Threshold:                   v.GetFloat64("selector.threshold"),
		SubfamilyConfidenceFloor:    v.GetFloat64("selector.subfamily_confidence_floor"),
		ForceAccurateOnLowSubfamily: v.GetBool("selector.force_accurate_on_low_subfamily"),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
