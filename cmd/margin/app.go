package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/kalambet/margin/internal/config"
	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/profile"
	"github.com/kalambet/margin/internal/recommend"
	"github.com/kalambet/margin/internal/storage"
)

// app is the set of services shared by the HTTP server and the MCP server.
type app struct {
	store       *storage.Store
	repo        *storage.Repository
	profiles    *profile.Manager
	discussions *discussion.Orchestrator
	recommender *recommend.Generator
	logger      *slog.Logger
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)
	return logger
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	completer, err := llm.Detect(ctx, llm.DetectConfig{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		OpenAIKey:  cfg.LLM.OpenAIAPIKey,
		GeminiKey:  cfg.LLM.GeminiAPIKey,
		Timeout:    cfg.LLM.Timeout,
		HTTPClient: &http.Client{},
	})
	if err != nil {
		return nil, fmt.Errorf("configuring completion provider: %w", err)
	}
	completer = llm.WithTemperature(completer, cfg.LLM.Temperature)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	repo := storage.NewRepository(store)

	profiles := profile.NewManager(repo, profile.NewSynthesizer(completer, logger), logger)
	return &app{
		store:       store,
		repo:        repo,
		profiles:    profiles,
		discussions: discussion.New(completer, repo, profiles, logger),
		recommender: recommend.New(completer, repo, profiles, logger),
		logger:      logger,
	}, nil
}

// Close waits for pending history writes, then closes storage.
func (a *app) Close() {
	a.discussions.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
}
