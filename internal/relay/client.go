package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/graphsnap/graphsnap/internal/models"
)

// Client is the HTTP client for the store's message surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a store client. The HTTP client is deliberately separate
// from any intercepted client so forwarded requests are never re-captured.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Ingest forwards a capture batch to the store.
func (c *Client) Ingest(ctx context.Context, req models.IngestRequest) error {
	return c.post(ctx, "/api/ingest", req)
}

// ReportPageContext reports the currently open relation page to the store.
func (c *Client) ReportPageContext(ctx context.Context, page models.PageContext) error {
	return c.post(ctx, "/api/page-context", page)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store returned status %d", resp.StatusCode)
	}

	var status models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !status.Success {
		return fmt.Errorf("store rejected request: %s", status.Error)
	}

	return nil
}
