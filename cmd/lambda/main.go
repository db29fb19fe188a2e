// Package main is the entry point for the translation router Lambda function.
// Each instance runs the engine in-process and keeps its cache warm across
// invocations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/backend"
	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/engine"
	"github.com/pricofy/translation-router/internal/handler"
	"github.com/pricofy/translation-router/internal/logging"
)

var (
	h      *handler.Handler
	warmer *Warmer
	logger *zap.Logger
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err = logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	tr, err := backend.New(ctx, cfg.Backend, logger)
	if err != nil {
		logger.Fatal("backend init failed", zap.Error(err))
	}
	store, err := engine.OpenStore(cfg.Cache)
	if err != nil {
		logger.Fatal("cache store init failed", zap.Error(err))
	}

	eng := engine.New(cfg, tr, store, logger)
	eng.Start(ctx)
	h = handler.New(eng, logger)
	go h.Run(ctx)
	warmer = NewWarmer(tr, eng, cfg.Warmup, cfg.Backend.Lambda.Region, logger)

	lambda.Start(handleRequest)
}

func handleRequest(ctx context.Context, event json.RawMessage) (interface{}, error) {
	// Warmup detection (MUST be first - before any other processing)
	if warmup, ok := IsWarmupEvent(event); ok {
		return warmer.Handle(ctx, warmup)
	}

	var req handler.Request
	if err := json.Unmarshal(event, &req); err != nil {
		return nil, err
	}
	return h.Handle(ctx, req)
}
