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
	"github.com/contentforge/contentforge/internal/model"
)

// EntityClient implements EntityProvider over the knowledge/entity
// enrichment HTTP API.
type EntityClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

var _ EntityProvider = (*EntityClient)(nil)

func NewEntityClient(cfg config.EndpointConfig, timeout time.Duration) *EntityClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EntityClient{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Entities posts the text and returns extracted entities.
func (c *EntityClient) Entities(ctx context.Context, text string) ([]model.Entity, error) {
	var out struct {
		Entities []model.Entity `json:"entities"`
	}
	in := struct {
		Text string `json:"text"`
	}{Text: text}
	if err := postJSON(ctx, c.httpClient, c.url, c.apiKey, in, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// CitationClient implements CitationProvider over the source lookup
// HTTP API.
type CitationClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

var _ CitationProvider = (*CitationClient)(nil)

func NewCitationClient(cfg config.EndpointConfig, timeout time.Duration) *CitationClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CitationClient{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Citations posts the topic and claims and returns candidate sources.
func (c *CitationClient) Citations(ctx context.Context, topic string, claims []string) ([]model.Citation, error) {
	var out struct {
		Citations []model.Citation `json:"citations"`
	}
	in := struct {
		Topic  string   `json:"topic"`
		Claims []string `json:"claims,omitempty"`
	}{Topic: topic, Claims: claims}
	if err := postJSON(ctx, c.httpClient, c.url, c.apiKey, in, &out); err != nil {
		return nil, err
	}
	return out.Citations, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return classifyStatus(resp.StatusCode,
			fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
