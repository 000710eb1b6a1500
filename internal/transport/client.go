// Package transport issues authenticated JSON requests against either
// backend. It never retries; callers decide what a failure means.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"octopus/internal/core"
	applog "octopus/internal/log"
	"octopus/internal/metrics"
)

const (
	// AuthPathPrefix marks endpoints that must be called without a token.
	AuthPathPrefix = "/api/auth/"

	headerRequestID = "X-Request-ID"
	maxBodyBytes    = 10 << 20
)

// TokenSource provides the current session token. Invalidate is called with
// the token a backend rejected; a source holding a newer token keeps it.
type TokenSource interface {
	Token() string
	Invalidate(token string, cause error)
}

type Client struct {
	httpClient *http.Client
	baseURLs   map[core.Domain]string
	tokens     TokenSource
	logger     *applog.Logger
	metrics    *metrics.Metrics
	newID      func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled default HTTP client. The client is
// copied, so later options never change the caller's value.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.httpClient = &cp
		}
	}
}

// WithTimeout sets the overall per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l *applog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records every request in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client for the two backends. Base URLs must be absolute;
// a trailing slash is optional.
func New(budgetBaseURL, healthBaseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("transport: token source is required")
	}
	bases := map[core.Domain]string{}
	for domain, raw := range map[core.Domain]string{core.DomainBudget: budgetBaseURL, core.DomainHealth: healthBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("transport: invalid %s base URL %q", domain, raw)
		}
		bases[domain] = strings.TrimRight(u.String(), "/")
	}

	c := &Client{
		httpClient: newHTTPClientWithPooling(),
		baseURLs:   bases,
		tokens:     tokens,
		logger:     applog.Nop(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsAuthPath reports whether path is a login/register endpoint.
func IsAuthPath(path string) bool {
	return strings.HasPrefix(path, AuthPathPrefix)
}

// Do sends a JSON request to domain and decodes a 2xx body into out (when
// out is non-nil). Non-auth calls without a token fail with
// core.ErrUnauthenticated before touching the network. A 401/403 on a
// non-auth call invalidates the session.
func (c *Client) Do(ctx context.Context, method string, domain core.Domain, path string, body, out any) error {
	base, ok := c.baseURLs[domain]
	if !ok {
		return &core.InvariantViolation{Op: "transport.Do", Reason: fmt.Sprintf("unknown domain %q", domain)}
	}

	auth := IsAuthPath(path)
	var token string
	if !auth {
		token = c.tokens.Token()
		if token == "" {
			return fmt.Errorf("%s %s %s: %w", domain, method, path, core.ErrUnauthenticated)
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s %s: encode request: %w", domain, method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return &core.NetworkError{Domain: domain, Method: method, Path: path, Err: err}
	}
	requestID := c.newID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(string(domain), method, 0, time.Since(start))
		c.logger.DebugContext(ctx, "Backend request failed",
			applog.FieldRequestID, requestID,
			applog.FieldDomain, domain,
			applog.FieldMethod, method,
			applog.FieldPath, path,
			applog.FieldError, err)
		return &core.NetworkError{Domain: domain, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start)
	c.metrics.ObserveRequest(string(domain), method, resp.StatusCode, elapsed)
	c.logger.DebugContext(ctx, "Backend request",
		applog.FieldRequestID, requestID,
		applog.FieldDomain, domain,
		applog.FieldMethod, method,
		applog.FieldPath, path,
		applog.FieldStatusCode, resp.StatusCode,
		applog.FieldDuration, elapsed.Milliseconds())
	if err != nil {
		return &core.NetworkError{Domain: domain, Method: method, Path: path, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &core.HTTPError{
			Domain:     domain,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			RawBody:    string(raw),
		}
		if !auth && httpErr.IsAuthFailure() {
			c.tokens.Invalidate(token, httpErr)
		}
		return httpErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &core.NetworkError{Domain: domain, Method: method, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Get is Do with GET and no body.
func (c *Client) Get(ctx context.Context, domain core.Domain, path string, out any) error {
	return c.Do(ctx, http.MethodGet, domain, path, nil, out)
}

// Post is Do with POST.
func (c *Client) Post(ctx context.Context, domain core.Domain, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, domain, path, body, out)
}

// Put is Do with PUT.
func (c *Client) Put(ctx context.Context, domain core.Domain, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, domain, path, body, out)
}

// Delete is Do with DELETE and no body.
func (c *Client) Delete(ctx context.Context, domain core.Domain, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, domain, path, nil, out)
}
