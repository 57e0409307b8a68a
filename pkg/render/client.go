// Package render is a client for a remote browser-rendering service
// (browserless-compatible): POST /content with a URL returns the page's
// HTML after script execution. The service is optional; the crawler
// degrades to static fetching when no endpoint is configured.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/smilezzm/schools-of-professors/internal/resilience"
)

// Client renders a URL through the remote service.
type Client interface {
	Render(ctx context.Context, url string) (*Result, error)
}

// Result is the rendered page.
type Result struct {
	URL  string
	HTML string
}

// contentRequest is the browserless /content request body.
type contentRequest struct {
	URL         string       `json:"url"`
	WaitUntil   string       `json:"waitUntil,omitempty"`
	GotoOptions *gotoOptions `json:"gotoOptions,omitempty"`
}

type gotoOptions struct {
	TimeoutMS int `json:"timeout,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithTimeout overrides the default per-render timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a render-service client for the given endpoint.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		timeout: 40 * time.Second,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Render(ctx context.Context, targetURL string) (*Result, error) {
	body, err := json.Marshal(contentRequest{
		URL:       targetURL,
		WaitUntil: "networkidle2",
		GotoOptions: &gotoOptions{
			TimeoutMS: int(c.timeout / time.Millisecond),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "render: marshal request")
	}

	endpoint := c.baseURL + "/content"
	if c.token != "" {
		endpoint += "?token=" + c.token
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "render: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "render: render %s", targetURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return nil, eris.Wrap(err, "render: read response")
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("render: status %d for %s", resp.StatusCode, targetURL),
			resp.StatusCode,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("render: status %d for %s: %s", resp.StatusCode, targetURL, truncate(string(respBody), 200))
	}

	return &Result{URL: targetURL, HTML: string(respBody)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
