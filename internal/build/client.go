// Package build talks to the project compiler and turns its output into a
// deployable page.
package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mtzanidakis/webforge/internal/config"
)

// Result is the outcome of one compile.
type Result struct {
	Success   bool     `json:"success"`
	Output    string   `json:"output"`
	Error     string   `json:"error,omitempty"`
	Externals []string `json:"externals,omitempty"`
}

// Message returns the bundle on success and the compiler error otherwise.
func (r *Result) Message() string {
	if r.Success {
		return r.Output
	}
	return r.Error
}

type Client struct {
	baseURL string
	client  *http.Client
}

func New(cfg config.BuildConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type request struct {
	Files map[string]string `json:"files"`
	Env   map[string]string `json:"env,omitempty"`
}

type checkResponse struct {
	Diagnostics string `json:"diagnostics"`
}

// Check type-checks the project and returns the diagnostics text, empty
// when the project is clean.
func (c *Client) Check(ctx context.Context, files, env map[string]string) (string, error) {
	var resp checkResponse
	if err := c.post(ctx, "/check", request{Files: files, Env: env}, &resp); err != nil {
		return "", fmt.Errorf("check: %w", err)
	}
	return resp.Diagnostics, nil
}

// Compile bundles the project. A failed build is reported in the result,
// not as an error.
func (c *Client) Compile(ctx context.Context, files, env map[string]string) (*Result, error) {
	var resp Result
	if err := c.post(ctx, "/compile", request{Files: files, Env: env}, &resp); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
