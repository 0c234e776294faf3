package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"semantic-chat/handler"
	"semantic-chat/internal/app"
	"semantic-chat/internal/config"
)

func main() {
	root := NewRootCommand(connect)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// connect wires the service against the configured AWS resources.
func connect(ctx context.Context, verbose bool) (handler.ChatUseCase, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	} else if level == "info" {
		level = "warn"
	}
	logger, err := app.NewLogger(level)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	logger.Debug("chat service ready", zap.String("table", cfg.TableName))
	return a.Chat, func() { _ = logger.Sync() }, nil
}
