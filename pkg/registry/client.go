// Package registry provides HTTP clients for the package registries the
// converters resolve against (npm, PyPI, jsr, MetaCPAN, crates.io, module
// proxies). All clients share a caching, retrying base Client.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/offgrid-build/srcgen/pkg/cache"
	"github.com/offgrid-build/srcgen/pkg/httputil"
)

const httpTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when a package or resource doesn't exist in the registry.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")
)

// Client provides shared HTTP functionality for all registry API clients.
// It handles caching, retry logic, and common request headers.
type Client struct {
	http    *http.Client
	cache   cache.Cache
	ttl     time.Duration
	headers map[string]string

	// Refresh bypasses the cache for reads. Writes still happen so a
	// refreshed run leaves the cache warm.
	Refresh bool
}

// NewClient creates a Client storing responses in store with the given TTL.
// Headers are applied to all requests made through this client; pass nil if
// no default headers are needed.
func NewClient(store cache.Cache, ttl time.Duration, headers map[string]string) *Client {
	return &Client{
		http:    NewHTTPClient(),
		cache:   store,
		ttl:     ttl,
		headers: headers,
	}
}

// NewHTTPClient creates an HTTP client with a standard timeout for registry
// requests.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// GetBytes performs a cached HTTP GET and returns the raw response body.
// Responses are cached under "http:" + url.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	key := "http:" + url

	if !c.Refresh {
		if data, ok, _ := c.cache.Get(ctx, key); ok {
			return data, nil
		}
	}

	var data []byte
	fetch := func() error {
		body, err := c.doRequest(ctx, url, nil)
		if err != nil {
			return err
		}
		defer body.Close()
		data, err = io.ReadAll(body)
		return err
	}
	if err := httputil.RetryWithBackoff(ctx, fetch); err != nil {
		return nil, err
	}

	_ = c.cache.Set(ctx, key, data, c.ttl)
	return data, nil
}

// GetJSON performs a cached HTTP GET and JSON-decodes the response into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	data, err := c.GetBytes(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// GetText performs a cached HTTP GET and returns the body as a string.
// Useful for non-JSON endpoints like checksum files or HTML pages.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	data, err := c.GetBytes(ctx, url)
	return string(data), err
}

func (c *Client) doRequest(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}

	if err := checkStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	return resp.Body, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return &httputil.RetryableError{Err: fmt.Errorf("%w: status %d", ErrNetwork, code)}
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}
