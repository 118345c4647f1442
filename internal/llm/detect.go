package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DetectConfig holds the settings used to choose a completion backend.
type DetectConfig struct {
	Provider   string
	Model      string
	BaseURL    string
	OpenAIKey  string
	GeminiKey  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Detect returns the completion backend named by cfg.Provider. When no
// provider is named, the first backend with an API key wins, OpenAI first.
// Ollama needs no key and is only used when named.
func Detect(ctx context.Context, cfg DetectConfig) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		switch {
		case cfg.OpenAIKey != "":
			provider = providerOpenAI
		case cfg.GeminiKey != "":
			provider = providerGemini
		default:
			return nil, fmt.Errorf("no completion provider configured: set an OpenAI or Gemini API key")
		}
	}

	switch provider {
	case providerOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key", provider)
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     cfg.OpenAIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}), nil
	case providerGemini:
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key", provider)
		}
		c, err := NewGeminiClient(ctx, GeminiConfig{
			APIKey:     cfg.GeminiKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case providerOllama:
		return NewOllamaClient(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q (want openai, gemini or ollama)", cfg.Provider)
	}
}
