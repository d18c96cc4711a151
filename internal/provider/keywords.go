package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/contentforge/contentforge/internal/config"
	"github.com/contentforge/contentforge/internal/model"
)

// KeywordClient implements KeywordMetricsProvider over the SEO metrics
// HTTP API. Responses are cached briefly and concurrent lookups for the
// same keyword set are deduplicated, since several jobs on the same
// topic tend to arrive together.
type KeywordClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	group    singleflight.Group
	mu       sync.Mutex
	cache    map[string]keywordCacheEntry
	cacheTTL time.Duration
}

type keywordCacheEntry struct {
	metrics   []model.KeywordMetrics
	expiresAt time.Time
}

var _ KeywordMetricsProvider = (*KeywordClient)(nil)

// NewKeywordClient builds a metrics client from configuration.
func NewKeywordClient(cfg config.EndpointConfig, timeout time.Duration) *KeywordClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &KeywordClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      make(map[string]keywordCacheEntry),
		cacheTTL:   5 * time.Minute,
	}
}

// Metrics returns difficulty/volume data for the keyword list.
func (c *KeywordClient) Metrics(ctx context.Context, keywords []string, locale string) ([]model.KeywordMetrics, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	key := cacheKey(keywords, locale)
	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.metrics, nil
	}
	c.mu.Unlock()

	result, err, _ := c.group.Do(key, func() (any, error) {
		metrics, err := c.fetchMetrics(ctx, keywords, locale)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = keywordCacheEntry{metrics: metrics, expiresAt: time.Now().Add(c.cacheTTL)}
		c.mu.Unlock()
		return metrics, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]model.KeywordMetrics), nil
}

func (c *KeywordClient) fetchMetrics(ctx context.Context, keywords []string, locale string) ([]model.KeywordMetrics, error) {
	body := struct {
		Keywords []string `json:"keywords"`
		Locale   string   `json:"locale,omitempty"`
	}{Keywords: keywords, Locale: locale}

	var out struct {
		Metrics []model.KeywordMetrics `json:"metrics"`
	}
	if err := c.postJSON(ctx, c.baseURL+"/metrics", body, &out); err != nil {
		return nil, err
	}
	return out.Metrics, nil
}

// CompetitorURLs returns the top competing page URLs for the topic.
func (c *KeywordClient) CompetitorURLs(ctx context.Context, topic string, locale string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/serp?q=%s&locale=%s",
		c.baseURL, url.QueryEscape(topic), url.QueryEscape(locale))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, classifyStatus(resp.StatusCode,
			fmt.Errorf("serp lookup: %s: %s", resp.Status, strings.TrimSpace(string(raw))))
	}

	var out struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode serp response: %w", err)}
	}
	return out.URLs, nil
}

func (c *KeywordClient) postJSON(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return classifyStatus(resp.StatusCode,
			fmt.Errorf("keyword metrics: %s: %s", resp.Status, strings.TrimSpace(string(raw))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Err: fmt.Errorf("decode metrics response: %w", err)}
	}
	return nil
}

func (c *KeywordClient) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func cacheKey(keywords []string, locale string) string {
	sorted := make([]string, len(keywords))
	copy(sorted, keywords)
	sort.Strings(sorted)
	return locale + "|" + strings.Join(sorted, ",")
}
