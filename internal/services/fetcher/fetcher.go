// Package fetcher performs page GETs with a browser-like identity.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxBodyBytes caps how much of a page is read.
const DefaultMaxBodyBytes = 10 * 1024 * 1024

// Config holds the identity and limits for page fetches
type Config struct {
	UserAgent         string
	AcceptLanguage    string
	Origin            string        // Sent as Origin/Referer; some hosts require it
	Timeout           time.Duration // Default: 30s
	RequestsPerSecond float64       // 0 disables limiting
	MaxBodyBytes      int64         // Default: 10MB
}

// Error is a typed fetch failure
type Error struct {
	URL        string
	StatusCode int // 0 when no response was received
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher retrieves page text
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	config  Config
}

// New creates a Fetcher with its own HTTP client
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return NewWithClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewWithClient creates a Fetcher around an existing client
func NewWithClient(cfg Config, client *http.Client) *Fetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Fetcher{
		client:  client,
		limiter: limiter,
		config:  cfg,
	}
}

// Fetch GETs rawURL and returns the body as text. Non-2xx responses are
// returned as *Error carrying the status code.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", &Error{URL: rawURL, Err: err, Transient: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &Error{URL: rawURL, Err: fmt.Errorf("creating request: %w", err)}
	}
	f.setBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &Error{URL: rawURL, Err: err, Transient: isTransportError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &Error{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Transient:  transientStatus(resp.StatusCode),
			Err:        fmt.Errorf("unexpected status: %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return "", &Error{URL: rawURL, Err: fmt.Errorf("reading body: %w", err), Transient: isTransportError(err)}
	}

	return string(body), nil
}

func (f *Fetcher) setBrowserHeaders(req *http.Request) {
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if f.config.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", f.config.AcceptLanguage)
	}
	if f.config.Origin != "" {
		req.Header.Set("Origin", f.config.Origin)
		req.Header.Set("Referer", f.config.Origin+"/")
	}
}

// IsTransient reports whether err looks like a timeout, dropped connection,
// rate limit or server-side failure worth backing off for.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return isTransportError(err)
}

func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// url.Error satisfies net.Error itself, so look through it
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
