package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com"

	maxErrorBody = 512
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAIGateway talks to any OpenAI-compatible /v1/chat/completions endpoint.
type OpenAIGateway struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, &ConfigurationError{Field: "base_url"}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Field: "api_key"}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, &ConfigurationError{Field: "model"}
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OpenAIGateway{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      client,
	}, nil
}

func (g *OpenAIGateway) Invoke(ctx context.Context, directive, instruction string) (string, error) {
	body, err := json.Marshal(g.payload(directive, instruction))
	if err != nil {
		return "", &Error{Provider: ProviderOpenAI, Err: fmt.Errorf("marshal chat payload: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Provider: ProviderOpenAI, Err: fmt.Errorf("build chat request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", &Error{Provider: ProviderOpenAI, Err: fmt.Errorf("request chat completion: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Err: fmt.Errorf("read chat response body: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return "", statusError(ProviderOpenAI, resp.StatusCode, truncate(string(rawRespBody), maxErrorBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", &Error{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: no choices", ErrMalformedResponse)}
	}

	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &Error{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Err: ErrEmptyResponse}
	}
	return content, nil
}

func (g *OpenAIGateway) payload(directive, instruction string) map[string]any {
	payload := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "system", "content": directive},
			{"role": "user", "content": instruction},
		},
		"temperature": g.temperature,
	}
	if g.maxTokens > 0 {
		payload["max_tokens"] = g.maxTokens
	}
	return payload
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
