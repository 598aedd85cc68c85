package itunes

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/killallgit/episode-harvester/internal/services/fetcher"
)

var (
	// ErrRateLimited indicates the API rate limit was exceeded
	ErrRateLimited = errors.New("itunes api rate limit exceeded")

	// ErrEmptyTerm is returned for blank search terms
	ErrEmptyTerm = errors.New("search term cannot be empty")
)

// defaultUserAgents provides a pool of user agents to rotate through
var defaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// Config holds configuration for the iTunes client
type Config struct {
	// Rate limiting
	RequestsPerMinute int // Default: 20
	BurstSize         int // Default: 3

	// HTTP configuration
	Timeout      time.Duration // Default: 30s
	MaxRetries   int           // Default: 1 (no client-level retry)
	RetryBackoff time.Duration // Default: 1s

	Entity string // Default: podcastEpisode
	Limit  int    // Default: 20

	UserAgents []string

	// Base URL (for testing)
	BaseURL string // Default: https://itunes.apple.com
}

// Client handles communication with the iTunes search API
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	userAgents  []string
	config      Config
	baseURL     string

	metrics *clientMetrics

	userAgentIdx int32
}

// clientMetrics tracks client usage statistics
type clientMetrics struct {
	requests      atomic.Int64
	rateLimitHits atomic.Int64
	errors        atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
}

// NewClient creates a new iTunes API client
func NewClient(cfg Config) *Client {
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 20
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.Entity == "" {
		cfg.Entity = "podcastEpisode"
	}
	if cfg.Limit == 0 {
		cfg.Limit = 20
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://itunes.apple.com"
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}

	limiter := rate.NewLimiter(
		rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)),
		cfg.BurstSize,
	)

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: limiter,
		userAgents:  cfg.UserAgents,
		config:      cfg,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		metrics:     &clientMetrics{},
	}
}

// SearchEpisodes queries the index for episodes matching term
func (c *Client) SearchEpisodes(ctx context.Context, term string, opts *SearchOptions) ([]Episode, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, ErrEmptyTerm
	}

	resp, err := c.doRequestWithRetry(ctx, c.searchURL(term, opts))
	if err != nil {
		return nil, fmt.Errorf("search episodes %q: %w", term, err)
	}

	return transformToEpisodes(resp), nil
}

func (c *Client) searchURL(term string, opts *SearchOptions) string {
	entity, limit := c.config.Entity, c.config.Limit
	params := url.Values{}
	params.Set("term", term)
	params.Set("media", "podcast")

	if opts != nil {
		if opts.Entity != "" {
			entity = opts.Entity
		}
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Country != "" {
			params.Set("country", opts.Country)
		}
	}
	if limit > 200 {
		limit = 200
	}
	params.Set("entity", entity)
	params.Set("limit", strconv.Itoa(limit))

	return fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())
}

// doRequestWithRetry performs an HTTP request with retry logic
func (c *Client) doRequestWithRetry(ctx context.Context, url string) (*iTunesResponse, error) {
	var lastErr error
	backoff := c.config.RetryBackoff

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		resp, err := c.doRequest(ctx, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !errors.Is(err, ErrRateLimited) && !fetcher.IsTransient(err) {
			return nil, err
		}
	}

	if c.config.MaxRetries == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request. Failures come back as
// *fetcher.Error so callers can classify them with fetcher.IsTransient.
func (c *Client) doRequest(ctx context.Context, url string) (*iTunesResponse, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	c.metrics.requests.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.getUserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.errors.Add(1)
		return nil, &fetcher.Error{URL: url, Err: err, Transient: fetcher.IsTransient(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.metrics.rateLimitHits.Add(1)
		return nil, &fetcher.Error{URL: url, StatusCode: resp.StatusCode, Transient: true, Err: ErrRateLimited}
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.errors.Add(1)
		return nil, &fetcher.Error{
			URL:        url,
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= 500,
			Err:        fmt.Errorf("unexpected status: %d", resp.StatusCode),
		}
	}

	// Accept-Encoding was set explicitly, so decompression is on us
	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.metrics.errors.Add(1)
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	var result iTunesResponse
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		c.metrics.errors.Add(1)
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}

// getUserAgent returns a user agent string, rotating through the pool
func (c *Client) getUserAgent() string {
	idx := atomic.AddInt32(&c.userAgentIdx, 1)
	return c.userAgents[int(idx)%len(c.userAgents)]
}

// GetMetrics returns current client metrics
func (c *Client) GetMetrics() map[string]int64 {
	return map[string]int64{
		"requests":        c.metrics.requests.Load(),
		"rate_limit_hits": c.metrics.rateLimitHits.Load(),
		"errors":          c.metrics.errors.Load(),
		"cache_hits":      c.metrics.cacheHits.Load(),
		"cache_misses":    c.metrics.cacheMisses.Load(),
	}
}
