package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	providerOpenAI     = "openai"
	defaultOpenAIModel = "gpt-4o"
	openRouterHost     = "openrouter.ai"
	openRouterReferer  = "https://github.com/kalambet/margin"
	openRouterAppTitle = "margin"
)

// OpenAIClient completes chat requests against the OpenAI API or any
// OpenAI-compatible endpoint (OpenRouter, a local Ollama /v1).
type OpenAIClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewOpenAIClient builds a client with automatic retries disabled.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		if strings.Contains(cfg.BaseURL, openRouterHost) {
			opts = append(opts,
				option.WithHeader("HTTP-Referer", openRouterReferer),
				option.WithHeader("X-Title", openRouterAppTitle),
			)
		}
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: cfg.Timeout,
		logger:  slog.Default(),
	}
}

// Complete sends messages and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(params.temperature()),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		perr := &ProviderError{Provider: providerOpenAI, Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			perr.StatusCode = apiErr.StatusCode
		}
		return "", perr
	}
	c.logger.Debug("completion finished", "provider", providerOpenAI, "model", c.model, "duration_ms", time.Since(start).Milliseconds())

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: providerOpenAI, Err: ErrNoChoices}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &ProviderError{Provider: providerOpenAI, Err: ErrEmptyContent}
	}
	return content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
