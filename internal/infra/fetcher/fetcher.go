// Package fetcher retrieves HTML pages for link previews.
package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"link-embed/internal/domain/entity"
	"link-embed/internal/resilience/circuitbreaker"
	"link-embed/internal/resilience/retry"
	"link-embed/pkg/security/urlguard"
)

var (
	// ErrTooManyRedirects is returned when the redirect chain exceeds Config.MaxRedirects.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrBodyTooLarge is returned when the response body exceeds Config.MaxBodySize.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrTimeout is returned when a request exceeds Config.Timeout.
	ErrTimeout = errors.New("request timeout")
)

// Page is a fetched HTML document.
type Page struct {
	// HTML is the response body decoded to UTF-8.
	HTML string

	// FinalURL is the URL of the last request in the redirect chain.
	FinalURL string

	StatusCode  int
	ContentType string
}

// HTTPFetcher fetches pages over HTTP with SSRF protection.
//
// Features:
//   - Redirect targets are validated with urlguard before they are followed
//   - Connected addresses are checked at dial time when DenyPrivateIPs is on
//   - Per-host circuit breakers stop hammering sites that keep failing
//   - A shared token bucket caps the outbound request rate
//   - Transient failures are retried with backoff
//
// Thread safety: HTTPFetcher is safe for concurrent use.
type HTTPFetcher struct {
	client   *http.Client
	breakers *circuitbreaker.Group
	limiter  *rate.Limiter
	retry    retry.Config
	config   Config
	logger   *slog.Logger
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// WithTransport replaces the HTTP transport. The redirect policy is kept.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *HTTPFetcher) {
		f.client.Transport = rt
	}
}

// WithBreakerConfig overrides the per-host circuit breaker configuration.
func WithBreakerConfig(configFor func(host string) circuitbreaker.Config) Option {
	return func(f *HTTPFetcher) {
		f.breakers = circuitbreaker.NewGroup(func(host string) circuitbreaker.Config {
			cfg := configFor(host)
			cfg.IsSuccessful = isBreakerSuccess
			return cfg
		})
	}
}

// WithRetryConfig overrides the backoff schedule. MaxAttempts still comes from Config.
func WithRetryConfig(cfg retry.Config) Option {
	return func(f *HTTPFetcher) {
		f.retry = cfg
	}
}

// New creates an HTTPFetcher with the given configuration.
//
// Example:
//
//	f := fetcher.New(fetcher.DefaultConfig(), fetcher.WithLogger(logger))
//	page, err := f.Get(ctx, "https://example.com/article")
func New(config Config, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		config: config,
		logger: slog.Default(),
		retry:  retry.PageFetchConfig(config.RetryAttempts),
		breakers: circuitbreaker.NewGroup(func(host string) circuitbreaker.Config {
			cfg := circuitbreaker.PageFetchConfig(host)
			cfg.IsSuccessful = isBreakerSuccess
			return cfg
		}),
	}

	if config.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}

	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: 30 * time.Second,
	}
	if config.DenyPrivateIPs {
		// 名前解決後の接続先も検査する
		dialer.Control = urlguard.DialControl
	}

	f.client = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12, // Enforce TLS 1.2+
			},
		},
		CheckRedirect: f.checkRedirect,
	}

	for _, opt := range opts {
		opt(f)
	}
	f.retry.MaxAttempts = max(config.RetryAttempts, 1)
	if f.retry.Logger == nil {
		f.retry.Logger = f.logger
	}
	return f
}

// checkRedirect validates every hop of a redirect chain.
func (f *HTTPFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > f.config.MaxRedirects {
		return fmt.Errorf("%w: stopped after %d redirects", ErrTooManyRedirects, f.config.MaxRedirects)
	}
	if err := f.validate(req.URL.String()); err != nil {
		return fmt.Errorf("redirect target rejected: %w", err)
	}
	return nil
}

func (f *HTTPFetcher) validate(rawURL string) error {
	if f.config.DenyPrivateIPs {
		return urlguard.Validate(rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return entity.NewPreviewError(entity.KindInvalidURL, "URL could not be parsed")
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return entity.NewPreviewError(entity.KindInvalidScheme, fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}
	return nil
}

// Get fetches rawURL and returns the decoded page.
//
// The fetch process:
//  1. Validates the URL (urlguard when DenyPrivateIPs is on)
//  2. Waits for the outbound rate limiter
//  3. Executes the request through the host's circuit breaker, with retry
//  4. Enforces the size limit while reading the response
//  5. Decodes the body to UTF-8 using the declared or sniffed charset
//
// Every failure after validation is returned as a fetch_error
// (*entity.PreviewError) whose UpstreamStatus is set when a response arrived.
//
// Example:
//
//	page, err := f.Get(ctx, "https://example.com/article")
//	if errors.Is(err, entity.ErrFetch) {
//	    // remote page could not be retrieved
//	}
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.validate(rawURL); err != nil {
		return nil, err
	}
	u, _ := url.Parse(rawURL)
	host := strings.ToLower(u.Hostname())

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, entity.NewFetchError(0, "outbound rate limiter", err)
		}
	}

	breaker := f.breakers.Get(host)
	start := time.Now()

	var page *Page
	err := retry.WithBackoff(ctx, f.retry, func() error {
		result, err := breaker.Execute(func() (interface{}, error) {
			return f.doFetch(ctx, rawURL)
		})
		if err != nil {
			return err
		}
		page = result.(*Page)
		return nil
	})
	if err != nil {
		f.logger.Debug("page fetch failed",
			slog.String("url", rawURL),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return nil, toFetchError(err)
	}

	f.logger.Debug("page fetched",
		slog.String("url", rawURL),
		slog.String("final_url", page.FinalURL),
		slog.Int("bytes", len(page.HTML)),
		slog.Duration("duration", time.Since(start)))
	return page, nil
}

// doFetch performs a single HTTP request. It is called through the circuit breaker.
func (f *HTTPFetcher) doFetch(ctx context.Context, rawURL string) (*Page, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: request exceeded %v", ErrTimeout, f.config.Timeout)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Err != nil {
			return nil, urlErr.Err
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	limited := io.LimitReader(resp.Body, f.config.MaxBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBodySize {
		return nil, fmt.Errorf("%w: response exceeds limit of %d bytes", ErrBodyTooLarge, f.config.MaxBodySize)
	}

	contentType := resp.Header.Get("Content-Type")
	html, err := decodeBody(body, contentType)
	if err != nil {
		return nil, err
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		HTML:        html,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
	}, nil
}

// decodeBody converts body to UTF-8 based on the Content-Type header and meta tags.
func decodeBody(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		// 未知の文字コードはそのまま扱う
		return string(body), nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}
	return string(decoded), nil
}

// isBreakerSuccess keeps upstream 4xx answers from opening a host's circuit.
// The host responded; the page simply is not there.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
			httpErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// toFetchError wraps err as a fetch_error unless it already is a PreviewError of that kind.
func toFetchError(err error) error {
	var pe *entity.PreviewError
	if errors.As(err, &pe) && pe.Kind == entity.KindFetchError {
		return pe
	}

	status := 0
	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.StatusCode
	}

	msg := "failed to fetch page"
	switch {
	case status != 0:
		msg = fmt.Sprintf("remote server returned HTTP %d", status)
	case errors.Is(err, circuitbreaker.ErrOpenState), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		msg = "remote host is temporarily unavailable"
	case errors.Is(err, ErrTimeout):
		msg = "request timed out"
	case errors.Is(err, ErrTooManyRedirects):
		msg = "too many redirects"
	case errors.Is(err, ErrBodyTooLarge):
		msg = "response body too large"
	case pe != nil:
		msg = "redirect target rejected"
	}
	return entity.NewFetchError(status, msg, err)
}
