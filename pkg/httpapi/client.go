// Package httpapi is the authenticated JSON HTTP client shared by every
// component that talks to the signaling server's REST surface: login is
// handled by pkg/authtoken, this package attaches the bearer token, retries
// exactly once on a 401, and never lets a transport error escape as a panic.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nuvion/edge-agent/pkg/authtoken"
)

// Client performs authenticated JSON requests against the signaling server.
type Client struct {
	baseURL string
	tokens  *authtoken.Holder

	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. tokens supplies and refreshes the bearer credential.
func New(baseURL string, tokens *authtoken.Holder, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Request performs method against path with the given JSON body (nil for
// none), decoding a JSON response into out (nil to discard the body). On a
// 401 it clears the token, refreshes once, and retries the request exactly
// once. All other errors and non-2xx responses are logged and reported as
// an error; no exception ever surfaces past this boundary.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, path, body, out, true)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, allowRetry bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		c.logger.Error("failed to build request", "path", path, "error", err)
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Get(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && allowRetry {
		c.logger.Warn("request unauthorized, refreshing token and retrying once", "path", path)
		c.tokens.Set("")
		if token := c.tokens.Refresh(ctx); token == "" {
			return fmt.Errorf("token refresh failed after 401")
		}
		return c.do(ctx, method, path, body, out, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Warn("request returned non-2xx status", "path", path, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("request to %s returned status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Warn("failed to decode response", "path", path, "error", err)
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
