// Package githubapi is a small authenticated client for the GitHub REST API
// with a response cache scoped to the active token.
package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v82/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL   = "https://api.github.com"
	DefaultUserAgent = "KobGitUpdater/dev"
	DefaultCacheTTL  = time.Hour
	DefaultTimeout   = 15 * time.Second

	acceptHeader     = "application/vnd.github+json"
	apiVersion       = "2022-11-28"
	defaultCacheSize = 512
	maxResponseBytes = 10 << 20
)

// Client issues authenticated GET requests against the GitHub API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	cacheTTL   time.Duration
	logger     *log.Logger
	now        func() time.Time

	mu    sync.RWMutex
	token string
	rate  github.Rate
	cache *expirable.LRU[string, []byte]
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root (tests, GHES).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken sets the initial personal access token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithCacheTTL sets how long successful responses are reused. A TTL of zero
// or less disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		cacheTTL:   DefaultCacheTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithPrefix("githubapi")
	}
	if c.cacheTTL > 0 {
		c.cache = expirable.NewLRU[string, []byte](defaultCacheSize, nil, c.cacheTTL)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UserAgent returns the User-Agent sent with every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// URL joins path elements onto the API root, escaping each element.
func (c *Client) URL(elems ...string) string {
	escaped := make([]string, len(elems))
	for i, e := range elems {
		escaped[i] = url.PathEscape(e)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// Token returns the active token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// HasToken reports whether requests are authenticated.
func (c *Client) HasToken() bool {
	return c.Token() != ""
}

// SetToken replaces the active token. When the token changes the whole
// response cache is dropped: the set of visible repositories may differ
// entirely between identities.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == c.token {
		return
	}
	c.token = token
	c.rate = github.Rate{}
	if c.cache != nil {
		c.cache.Purge()
	}
	c.logger.Info("token changed, response cache cleared", "token_set", token != "")
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

// Rate returns the last rate limit reported by GitHub.
func (c *Client) Rate() github.Rate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// Get fetches url and returns the raw JSON body. Successful responses are
// served from cache while fresh.
func (c *Client) Get(ctx context.Context, rawURL string) (json.RawMessage, error) {
	token := c.Token()
	key := cacheKey(rawURL, token)

	if c.cache != nil {
		if body, ok := c.cache.Get(key); ok {
			c.logger.Debug("cache hit", "url", rawURL)
			return body, nil
		}
	}

	if err := c.checkRateLimit(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	SetRequestHeaders(req, c.userAgent, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	c.recordRate(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := c.newAPIError(resp.StatusCode, body, rawURL)
		c.logger.Debug("request failed", "url", rawURL, "status", resp.StatusCode, "token_set", token != "")
		return nil, apiErr
	}

	if !json.Valid(body) {
		return nil, &APIError{Status: resp.StatusCode, Message: "malformed JSON response", URL: rawURL}
	}

	c.store(key, token, body)
	return body, nil
}

// GetInto fetches url and decodes the JSON body into v.
func (c *Client) GetInto(ctx context.Context, rawURL string, v any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &APIError{Status: http.StatusOK, Message: fmt.Sprintf("unexpected response shape: %v", err), URL: rawURL}
	}
	return nil
}

// Repository fetches GET /repos/{owner}/{repo}.
func (c *Client) Repository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	var r github.Repository
	if err := c.GetInto(ctx, c.URL("repos", owner, repo), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRelease fetches GET /repos/{owner}/{repo}/releases/latest.
func (c *Client) LatestRelease(ctx context.Context, owner, repo string) (*github.RepositoryRelease, error) {
	var rel github.RepositoryRelease
	if err := c.GetInto(ctx, c.URL("repos", owner, repo, "releases", "latest"), &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// ValidateToken checks the active token against GET /user.
func (c *Client) ValidateToken(ctx context.Context) (*github.User, error) {
	if !c.HasToken() {
		return nil, &APIError{Status: http.StatusUnauthorized, Message: "no token configured", URL: c.URL("user")}
	}
	var u github.User
	if err := c.GetInto(ctx, c.URL("user"), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// store caches body unless the token changed while the request was in flight.
func (c *Client) store(key, token string, body []byte) {
	if c.cache == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != token {
		return
	}
	c.cache.Add(key, body)
}

func (c *Client) checkRateLimit(rawURL string) error {
	c.mu.RLock()
	rate := c.rate
	c.mu.RUnlock()

	if rate.Limit > 0 && rate.Remaining == 0 && c.now().Before(rate.Reset.Time) {
		return &APIError{
			Status:      http.StatusForbidden,
			Message:     fmt.Sprintf("rate limit of %d requests exhausted; resets at %s", rate.Limit, rate.Reset.Time.UTC().Format(time.RFC3339)),
			URL:         rawURL,
			RateLimited: true,
		}
	}
	return nil
}

func (c *Client) recordRate(h http.Header) {
	limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err != nil {
		return
	}
	remaining, _ := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	reset, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)

	c.mu.Lock()
	c.rate = github.Rate{
		Limit:     limit,
		Remaining: remaining,
		Reset:     github.Timestamp{Time: time.Unix(reset, 0)},
		Resource:  h.Get("X-RateLimit-Resource"),
	}
	c.mu.Unlock()

	if remaining == 0 {
		c.logger.Warn("rate limit exhausted", "limit", limit, "reset", time.Unix(reset, 0).UTC())
	}
}

func (c *Client) newAPIError(status int, body []byte, rawURL string) *APIError {
	apiErr := &APIError{Status: status, Message: errorMessage(status, body), URL: rawURL}
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		rate := c.Rate()
		if rate.Limit > 0 && rate.Remaining == 0 {
			apiErr.RateLimited = true
			apiErr.Message = fmt.Sprintf("rate limit exceeded (resets at %s): %s", rate.Reset.Time.UTC().Format(time.RFC3339), apiErr.Message)
		}
	}
	return apiErr
}

// SetRequestHeaders applies the headers every GitHub request carries. The
// token, when present, is sent as "Authorization: token <T>".
func SetRequestHeaders(req *http.Request, userAgent, token string) {
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if token != "" {
		tok := &oauth2.Token{AccessToken: token, TokenType: "token"}
		tok.SetAuthHeader(req)
	}
}
