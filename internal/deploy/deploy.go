// Package deploy publishes finished pages to the page host.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/config"
)

// Page is one page to publish.
type Page struct {
	Title       string
	Description string
	HTML        string
}

type createRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	HTMLContent   string `json:"html_content"`
	ExpiresInDays int    `json:"expires_in_days"`
}

type createResponse struct {
	URL string `json:"url"`
}

type Client struct {
	baseURL   string
	accessKey string
	expires   int
	retries   int
	backoff   time.Duration
	client    *http.Client
}

func New(cfg config.DeployConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		accessKey: cfg.AccessKey,
		expires:   cfg.ExpiresInDays,
		retries:   max(cfg.Retries, 1),
		backoff:   cfg.Backoff,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Publish uploads the page and returns its public URL. Failed attempts are
// retried with exponential backoff; the final error wraps ErrDeployFailed.
func (c *Client) Publish(ctx context.Context, page Page) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: deploy url not configured", agent.ErrDeployFailed)
	}
	if c.accessKey == "" {
		return "", fmt.Errorf("%w: access key not configured", agent.ErrDeployFailed)
	}

	var errs []error
	wait := c.backoff
	for attempt := 1; attempt <= c.retries; attempt++ {
		url, err := c.create(ctx, page)
		if err == nil {
			slog.Info("page deployed", "url", url, "attempt", attempt)
			return url, nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		slog.Warn("deploy attempt failed", "attempt", attempt, "error", err)

		if attempt == c.retries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return "", fmt.Errorf("%w: %w", agent.ErrDeployFailed, errors.Join(errs...))
}

func (c *Client) create(ctx context.Context, page Page) (string, error) {
	body, err := json.Marshal(createRequest{
		Title:         page.Title,
		Description:   page.Description,
		HTMLContent:   page.HTML,
		ExpiresInDays: c.expires,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.URL == "" {
		return "", errors.New("response carries no url")
	}
	return out.URL, nil
}

// Healthy reports whether the page host answers its health probe.
func (c *Client) Healthy(ctx context.Context) bool {
	if c.baseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
