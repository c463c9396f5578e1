// Package fetch downloads product pages over a shared, pooled HTTP client.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 8 << 20
	defaultUserAgent    = "restock/1.0 (+stock checker)"
)

// Config controls the fetcher.
//
// RatePerHost <= 0 disables per-host throttling.
type Config struct {
	Timeout             time.Duration
	UserAgent           string
	MaxIdleConnsPerHost int
	MaxBodyBytes        int64
	RatePerHost         float64
	BurstPerHost        int
}

// Page is a fetched product page.
//
// Domain is the host the page was requested from.
type Page struct {
	URL        string
	Domain     string
	StatusCode int
	Body       []byte
}

// Fetcher performs single-attempt GETs. It is safe for concurrent use; one
// Fetcher (and its connection pool) is shared by every task in a run.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64

	rateLimit rate.Limit
	burst     int
	lmu       sync.Mutex
	limiters  map[string]*rate.Limiter
}

func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 8
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return NewWithClient(&http.Client{Transport: tr, Timeout: cfg.Timeout}, cfg)
}

// NewWithClient wraps an existing client (tests use httptest clients).
func NewWithClient(client *http.Client, cfg Config) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	f := &Fetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		limiters:  map[string]*rate.Limiter{},
	}
	if cfg.RatePerHost > 0 {
		f.rateLimit = rate.Limit(cfg.RatePerHost)
		f.burst = max(1, cfg.BurstPerHost)
	}
	return f
}

// Fetch GETs rawURL once. Transport errors and non-2xx statuses match
// ErrFetchFailed; an empty 2xx body is a success.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	host := strings.ToLower(u.Host)

	if lim := f.limiter(host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return Page{}, fmt.Errorf("%w: rate wait: %w", ErrFetchFailed, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Page{}, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return Page{}, fmt.Errorf("%w: read body: %w", ErrFetchFailed, err)
	}
	return Page{URL: rawURL, Domain: host, StatusCode: resp.StatusCode, Body: body}, nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	if f.rateLimit <= 0 {
		return nil
	}
	f.lmu.Lock()
	defer f.lmu.Unlock()
	lim := f.limiters[host]
	if lim == nil {
		lim = rate.NewLimiter(f.rateLimit, f.burst)
		f.limiters[host] = lim
	}
	return lim
}

// CloseIdle releases pooled connections at the end of a run.
func (f *Fetcher) CloseIdle() { f.client.CloseIdleConnections() }
