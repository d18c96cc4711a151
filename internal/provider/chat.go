package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contentforge/contentforge/internal/config"
)

// Per-1K-token price used for cost accounting when the backend does
// not report cost itself.
const defaultCostPer1KTokens = 0.01

// ChatClient implements Generator backed by OpenAI-compatible chat
// completion APIs.
type ChatClient struct {
	name       string
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ Generator = (*ChatClient)(nil)

// NewChatClient builds a generation client from configuration.
func NewChatClient(name string, cfg config.GeneratorConfig, timeout time.Duration) *ChatClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatClient{
		name:     name,
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *ChatClient) Name() string { return c.name }

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// Generate posts the prompt as a chat completion request.
func (c *ChatClient) Generate(ctx context.Context, prompt GenerationPrompt) (Generation, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return Generation{}, &FatalError{Err: fmt.Errorf("generator %s misconfigured", c.name)}
	}

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": prompt.System},
			{"role": "user", "content": prompt.User},
		},
	}
	if prompt.MaxTokens > 0 {
		payload["max_tokens"] = prompt.MaxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Generation{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Generation{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Generation{}, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Generation{}, classifyStatus(resp.StatusCode,
			fmt.Errorf("generator %s: %s: %s", c.name, resp.Status, strings.TrimSpace(string(raw))))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Generation{}, &TransientError{Err: fmt.Errorf("decode chat response: %w", err)}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Generation{}, &TransientError{Err: fmt.Errorf("generator %s returned empty completion", c.name)}
	}

	tokens := parsed.Usage.TotalTokens
	return Generation{
		Text:       parsed.Choices[0].Message.Content,
		TokensUsed: tokens,
		CostUSD:    float64(tokens) / 1000 * defaultCostPer1KTokens,
		Model:      parsed.Model,
	}, nil
}
