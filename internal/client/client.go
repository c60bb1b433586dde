// Package client calls the Cloudflare Workers AI REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Cloudflare API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// ErrNotConfigured is returned when no account id or API token is set.
var ErrNotConfigured = errors.New("workers ai client not configured")

// ImageGenerator produces a base64 encoded image from a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, model, prompt string, steps int) (string, error)
}

// apiError is one entry of the errors array in a Cloudflare response.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type runResponse struct {
	Result struct {
		Image string `json:"image"`
	} `json:"result"`
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
}

// Client wraps the Workers AI run endpoint.
type Client struct {
	baseURL   string
	accountID string
	apiToken  string
	http      *http.Client
}

// Option configures the client.
type Option func(*Client)

// NewClient creates a new Workers AI client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithAccountID sets the Cloudflare account.
func WithAccountID(id string) Option {
	return func(c *Client) { c.accountID = id }
}

// WithAPIToken sets the bearer token.
func WithAPIToken(token string) Option {
	return func(c *Client) { c.apiToken = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// Available returns true if credentials are configured.
func (c *Client) Available() bool {
	return c.accountID != "" && c.apiToken != ""
}

// GenerateImage runs a text-to-image model and returns the base64 image.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string, steps int) (string, error) {
	if !c.Available() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(map[string]any{"prompt": prompt, "steps": steps})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/accounts/%s/ai/run/%s", c.baseURL, url.PathEscape(c.accountID), model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", model, err)
	}
	defer resp.Body.Close()

	var out runResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && len(out.Errors) > 0 {
			return "", fmt.Errorf("run %s: HTTP %d: %s", model, resp.StatusCode, out.Errors[0].Message)
		}
		return "", fmt.Errorf("run %s: HTTP %d", model, resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}
	if out.Result.Image == "" {
		return "", fmt.Errorf("run %s: response has no image", model)
	}
	return out.Result.Image, nil
}
