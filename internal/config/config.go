// Package config loads runtime settings from CHAT_* environment variables and
// an optional YAML file named by CHAT_CONFIG_FILE. Environment values win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix  = "CHAT"
	envFileKey = "CHAT_CONFIG_FILE"
)

const (
	keyTableName             = "table_name"
	keyParamPrefix           = "param_prefix"
	keyOpenAIBaseURL         = "openai_base_url"
	keyCompletionModel       = "completion_model"
	keyEmbeddingModel        = "embedding_model"
	keyMaxConversationTokens = "max_conversation_tokens"
	keyCacheSimilarityScore  = "cache_similarity_score"
	keyCacheTTL              = "cache_ttl"
	keyEmbeddingDimensions   = "embedding_dimensions"
	keyEmbeddingCacheSize    = "embedding_cache_size"
	keyEmbeddingCacheTTL     = "embedding_cache_ttl"
	keySaveMaxAttempts       = "save_max_attempts"
	keyLogLevel              = "log_level"
)

// Config holds every tunable of the service.
type Config struct {
	TableName   string
	ParamPrefix string

	OpenAIBaseURL   string
	CompletionModel string
	EmbeddingModel  string

	MaxConversationTokens int
	CacheSimilarityScore  float64
	CacheTTL              time.Duration
	EmbeddingDimensions   int
	EmbeddingCacheSize    int
	EmbeddingCacheTTL     time.Duration
	SaveMaxAttempts       int

	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyOpenAIBaseURL, "https://api.openai.com/v1")
	v.SetDefault(keyCompletionModel, "gpt-4o-mini")
	v.SetDefault(keyEmbeddingModel, "text-embedding-3-small")
	v.SetDefault(keyMaxConversationTokens, 4000)
	v.SetDefault(keyCacheSimilarityScore, 0.99)
	v.SetDefault(keyCacheTTL, 24*time.Hour)
	v.SetDefault(keyEmbeddingDimensions, 1536)
	v.SetDefault(keyEmbeddingCacheSize, 1024)
	v.SetDefault(keyEmbeddingCacheTTL, time.Hour)
	v.SetDefault(keySaveMaxAttempts, 3)
	v.SetDefault(keyLogLevel, "info")
}

// Load reads the configuration and validates it.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(envFileKey); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Config{
		TableName:             strings.TrimSpace(v.GetString(keyTableName)),
		ParamPrefix:           strings.TrimRight(strings.TrimSpace(v.GetString(keyParamPrefix)), "/"),
		OpenAIBaseURL:         strings.TrimRight(v.GetString(keyOpenAIBaseURL), "/"),
		CompletionModel:       v.GetString(keyCompletionModel),
		EmbeddingModel:        v.GetString(keyEmbeddingModel),
		MaxConversationTokens: v.GetInt(keyMaxConversationTokens),
		CacheSimilarityScore:  v.GetFloat64(keyCacheSimilarityScore),
		CacheTTL:              v.GetDuration(keyCacheTTL),
		EmbeddingDimensions:   v.GetInt(keyEmbeddingDimensions),
		EmbeddingCacheSize:    v.GetInt(keyEmbeddingCacheSize),
		EmbeddingCacheTTL:     v.GetDuration(keyEmbeddingCacheTTL),
		SaveMaxAttempts:       v.GetInt(keySaveMaxAttempts),
		LogLevel:              v.GetString(keyLogLevel),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.TableName == "" {
		errs = append(errs, errors.New("table_name is required"))
	}
	if c.ParamPrefix == "" {
		errs = append(errs, errors.New("param_prefix is required"))
	}
	if c.MaxConversationTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_conversation_tokens must be positive, got %d", c.MaxConversationTokens))
	}
	if c.CacheSimilarityScore < -1 || c.CacheSimilarityScore > 1 {
		errs = append(errs, fmt.Errorf("cache_similarity_score must be within [-1,1], got %v", c.CacheSimilarityScore))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL))
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding_dimensions must be positive, got %d", c.EmbeddingDimensions))
	}
	if c.SaveMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("save_max_attempts must be positive, got %d", c.SaveMaxAttempts))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
