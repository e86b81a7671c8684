package gateway

import (
	"fmt"
	"log/slog"

	"github.com/sqlcrew/sqlcrew/internal/config"
)

// New builds the configured provider wrapped with retries and metrics.
func New(cfg config.ModelConfig, logger *slog.Logger) (Gateway, error) {
	var (
		base Gateway
		err  error
	)
	switch cfg.Provider {
	case config.ModelProviderOpenAI:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOpenAIBaseURL
		}
		base, err = NewOpenAIGateway(OpenAIConfig{
			BaseURL:     baseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case config.ModelProviderAnthropic:
		base, err = NewAnthropicGateway(AnthropicConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, &ConfigurationError{Field: "provider", Reason: fmt.Sprintf("%q is not supported", cfg.Provider)}
	}
	if err != nil {
		return nil, fmt.Errorf("create %s gateway: %w", cfg.Provider, err)
	}

	retrying := WithRetry(base, RetryConfig{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Logger:          logger,
	})
	return Instrument(retrying, cfg.Provider), nil
}
