// Package classifier assigns topical categories to paper titles.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/paper-harvester/internal/crawler"
)

// HTTPClient talks to an external classification service.
type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ crawler.Classifier = (*HTTPClient)(nil)

// NewHTTPClient creates a reusable client. A non-positive timeout defaults to 30s.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Classify posts the title to /classify and returns the reported category.
func (c *HTTPClient) Classify(ctx context.Context, title string) (string, error) {
	payload := map[string]any{"title": title}
	var resp struct {
		Category string `json:"category"`
	}
	if err := c.post(ctx, "/classify", payload, &resp); err != nil {
		return "", err
	}
	category := strings.TrimSpace(resp.Category)
	if category == "" {
		return "", errors.New("empty category in response")
	}
	return category, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}
