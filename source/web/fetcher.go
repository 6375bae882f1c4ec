package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Defaults applied when FetcherConfig leaves a field zero.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultUserAgent      = "legion-researcher/1.0"
	DefaultMaxContentSize = 5 << 20
	maxRedirects          = 5
)

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout        time.Duration
	UserAgent      string
	MaxContentSize int64

	// AllowPrivate permits plain HTTP and private or loopback targets.
	// Only meant for intranet deployments and tests.
	AllowPrivate bool

	Retry RetryConfig
}

// FetchResult is a fetched page body with its response metadata.
type FetchResult struct {
	URL          string
	Body         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
	StatusCode   int
	Attempts     int
}

// Fetcher retrieves web pages with SSRF protection, a size cap and retries
// on transient failures.
type Fetcher struct {
	client         *http.Client
	userAgent      string
	maxContentSize int64
	allowPrivate   bool
	retry          RetryConfig
	logger         *slog.Logger
}

// NewFetcher creates a fetcher. A nil logger uses slog.Default().
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = DefaultMaxContentSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	dial := dialer.DialContext
	if !cfg.AllowPrivate {
		dial = safeDialContext(dialer)
	}

	transport := &http.Transport{
		DialContext:           dial,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	allowPrivate := cfg.AllowPrivate
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				if err := validateURL(req.URL.String(), allowPrivate); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		userAgent:      cfg.UserAgent,
		maxContentSize: cfg.MaxContentSize,
		allowPrivate:   allowPrivate,
		retry:          cfg.Retry,
		logger:         logger,
	}
}

// safeDialContext resolves the host itself and refuses private addresses,
// which also covers DNS rebinding.
func safeDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}
		for _, ipAddr := range ips {
			if IsPrivateIP(ipAddr.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ipAddr.IP)
			}
		}

		for _, ipAddr := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
			if err == nil {
				return conn, nil
			}
		}
		return nil, fmt.Errorf("failed to connect to any resolved IP")
	}
}

// Fetch retrieves rawURL, retrying transient failures with backoff.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if err := validateURL(rawURL, f.allowPrivate); err != nil {
		return nil, NewFatalError(err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.retry.MaxAttempts; attempt++ {
		result, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}
		lastErr = err

		if IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < f.retry.MaxAttempts {
			wait := f.retry.backoff(attempt)
			f.logger.Debug("Fetch failed, retrying",
				"url", rawURL,
				"attempt", attempt,
				"max_attempts", f.retry.MaxAttempts,
				"backoff", wait,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		return nil, NewTransientError(fmt.Errorf("fetch: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxContentSize+1))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > f.maxContentSize {
		return nil, NewFatalError(fmt.Errorf("content too large (exceeds %d bytes)", f.maxContentSize))
	}

	result := &FetchResult{
		URL:         resp.Request.URL.String(),
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		StatusCode:  resp.StatusCode,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = t
		}
	}
	return result, nil
}
