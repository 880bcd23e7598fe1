package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/typelesshq/typeless-core/internal/config"
)

type openaiProvider struct {
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
}

func newOpenAIProvider(cfg config.EnhancerConfig) Provider {
	endpoint := cfg.Endpoint
	if endpoint == "" || strings.Contains(endpoint, "11434") {
		endpoint = "https://api.openai.com"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openaiProvider{
		endpoint:    strings.TrimRight(endpoint, "/"),
		apiKey:      cfg.APIKey,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (p *openaiProvider) Name() string { return "openai" }

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

func (p *openaiProvider) Enhance(ctx context.Context, text, instruction string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("openai api key not configured")
	}
	payload := openaiChatRequest{
		Model: p.model,
		Messages: []openaiMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: text},
		},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai http %d: %s", resp.StatusCode, string(b))
	}

	var parsed openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
