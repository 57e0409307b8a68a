// Package fetch retrieves listing pages over plain HTTP. University
// faculty pages are frequently served as GB2312/GBK, so every response
// body is decoded to UTF-8 before it reaches the parser.
package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/smilezzm/schools-of-professors/internal/resilience"
)

const maxBodyBytes = 4 * 1024 * 1024

// Page is one fetched, UTF-8-decoded page.
type Page struct {
	URL        string
	HTML       string
	StatusCode int
}

// Options configures the fetcher.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	RatePerHost rate.Limit // default 2 req/s per host
}

// Client fetches pages with per-host rate limiting.
type Client struct {
	http    *http.Client
	opts    Options
	mu      sync.Mutex
	perHost map[string]*rate.Limiter
}

// New creates a fetch client.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 25 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; ProfPipeBot/1.0)"
	}
	if opts.RatePerHost == 0 {
		opts.RatePerHost = 2
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:    opts,
		perHost: map[string]*rate.Limiter{},
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.perHost[host]
	if !ok {
		lim = rate.NewLimiter(c.opts.RatePerHost, 1)
		c.perHost[host] = lim
	}
	return lim
}

// Get fetches one URL and returns its decoded content. 5xx and 429
// responses come back as transient errors so callers can retry them;
// other non-2xx statuses are permanent.
func (c *Client) Get(ctx context.Context, targetURL string) (*Page, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %s", targetURL)
	}
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: create request %s", targetURL)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: get %s", targetURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read body %s", targetURL)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("fetch: status %d for %s", resp.StatusCode, targetURL),
			resp.StatusCode,
		)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("fetch: status %d for %s", resp.StatusCode, targetURL)
	}

	html, err := decodeToUTF8(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: decode %s", targetURL)
	}

	return &Page{URL: targetURL, HTML: html, StatusCode: resp.StatusCode}, nil
}

// decodeToUTF8 sniffs the encoding from the Content-Type header, a meta
// tag, or the byte pattern, and decodes. Already-valid UTF-8 passes
// through on decoder failure.
func decodeToUTF8(body []byte, contentType string) (string, error) {
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		if utf8.Valid(body) {
			return string(body), nil
		}
		return "", err
	}
	return string(decoded), nil
}
