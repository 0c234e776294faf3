// Package app wires the chat service from configuration. It is shared by the
// Lambda entrypoint and the chatctl CLI.
package app

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"semantic-chat/internal/config"
	"semantic-chat/internal/embedcache"
	"semantic-chat/internal/integrations/openai"
	"semantic-chat/internal/integrations/paramstore"
	"semantic-chat/internal/metrics"
	"semantic-chat/internal/repository"
	"semantic-chat/internal/tokenizer"
	"semantic-chat/internal/usecase"
	"semantic-chat/internal/vectorcache"
)

// App holds the wired service and the registry its metrics are recorded on.
type App struct {
	Chat     *usecase.ChatService
	Registry *promclient.Registry
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.TrimSpace(level) != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("app: log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("app: build logger: %w", err)
	}
	return logger, nil
}

// New connects to AWS with the default credential chain and builds the chat
// service described by cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: parameter store: %w", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName)
	if err != nil {
		return nil, fmt.Errorf("app: repository: %w", err)
	}
	return Wire(cfg, store, store, params, logger)
}

// Wire builds the service on top of an already connected store and secret
// source. Cache entries are persisted to cacheRows; a nil cacheRows keeps the
// semantic cache local to this process.
func Wire(cfg config.Config, store usecase.SessionStore, cacheRows vectorcache.Backing, secrets openai.SecretGetter, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, err := openai.NewClient(secrets, cfg.ParamPrefix,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModels(cfg.CompletionModel, cfg.EmbeddingModel),
		openai.WithEmbeddingDimensions(cfg.EmbeddingDimensions),
		openai.WithLogger(logger.Named("openai")),
	)
	if err != nil {
		return nil, fmt.Errorf("app: openai client: %w", err)
	}
	embedder, err := embedcache.New(engine, cfg.EmbeddingCacheSize, cfg.EmbeddingCacheTTL, logger.Named("embedcache"))
	if err != nil {
		return nil, fmt.Errorf("app: embedding cache: %w", err)
	}
	vectors, err := vectorcache.New(cfg.EmbeddingDimensions, cfg.CacheTTL,
		vectorcache.WithBacking(cacheRows),
		vectorcache.WithLogger(logger.Named("vectorcache")),
	)
	if err != nil {
		return nil, fmt.Errorf("app: vector store: %w", err)
	}
	cache, err := usecase.NewSemanticCache(embedder, vectors, cfg.CacheSimilarityScore)
	if err != nil {
		return nil, fmt.Errorf("app: semantic cache: %w", err)
	}

	registry := promclient.NewRegistry()
	recorder, err := metrics.NewRecorder("", registry)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	chat, err := usecase.NewChatService(store, cache, engine, tokenizer.New(),
		usecase.WithMaxConversationTokens(cfg.MaxConversationTokens),
		usecase.WithSaveMaxAttempts(cfg.SaveMaxAttempts),
		usecase.WithRecorder(recorder),
		usecase.WithLogger(logger.Named("chat")),
	)
	if err != nil {
		return nil, fmt.Errorf("app: chat service: %w", err)
	}
	return &App{Chat: chat, Registry: registry}, nil
}
