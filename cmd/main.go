package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"semantic-chat/handler"
	"semantic-chat/internal/app"
	"semantic-chat/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// ---- Service ----
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to wire chat service", zap.Error(err))
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Chat,
		handler.WithGatherer(a.Registry),
		handler.WithLogger(logger.Named("handler")),
	)
	if err != nil {
		logger.Fatal("failed to create handler", zap.Error(err))
	}

	lambda.Start(h.Handle)
}
