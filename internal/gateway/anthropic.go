package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// AnthropicGateway uses the Messages API. The SDK's own retries are disabled;
// WithRetry owns the retry policy.
type AnthropicGateway struct {
	client      anthropic.Client
	model       anthropic.Model
	temperature float64
	maxTokens   int64
}

func NewAnthropicGateway(cfg AnthropicConfig) (*AnthropicGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Field: "api_key"}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, &ConfigurationError{Field: "model"}
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &AnthropicGateway{
		client:      anthropic.NewClient(opts...),
		model:       anthropic.Model(model),
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

func (g *AnthropicGateway) Invoke(ctx context.Context, directive, instruction string) (string, error) {
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(g.temperature),
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: directive},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(instruction)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", statusError(ProviderAnthropic, apiErr.StatusCode, truncate(apiErr.RawJSON(), maxErrorBody))
		}
		return "", &Error{Provider: ProviderAnthropic, Err: fmt.Errorf("create message: %w", err)}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", &Error{Provider: ProviderAnthropic, StatusCode: http.StatusOK, Err: ErrEmptyResponse}
	}
	return text.String(), nil
}
