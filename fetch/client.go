package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// ErrNotJSON is returned by DecodeJSON when the body is not a JSON document.
var ErrNotJSON = errors.New("response body is not JSON")

// Observer receives transport measurements. scraper.Metrics satisfies it.
type Observer interface {
	IncRequest(phase string)
	ObserveDuration(d time.Duration)
	IncRetries()
	IncError(errorType string)
}

// Request describes one fetch.
type Request struct {
	URL    string
	Mode   Mode
	Header http.Header
}

// Response is the outcome of a fetch. HTTP error statuses are reported here,
// not as errors.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Failed reports whether the response carries an HTTP error status.
func (r *Response) Failed() bool {
	return r == nil || r.StatusCode >= http.StatusBadRequest
}

// Text returns the raw body.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// DecodeJSON decodes the body into v, keeping numbers as json.Number.
func (r *Response) DecodeJSON(v any) error {
	body := bytes.TrimSpace(r.Body)
	if len(body) == 0 || (body[0] != '{' && body[0] != '[') {
		return ErrNotJSON
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return nil
}

// Fetcher is the fetch capability consumed by the extraction strategies.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Stats is a snapshot of client counters.
type Stats struct {
	Requests     int
	Retries      int
	ErrorsByType map[string]int
}

// Client is a synchronous colly-backed fetcher with bounded retries. Every
// attempt uses the next header profile, and the next proxy when proxies are set.
type Client struct {
	collector  *colly.Collector
	profiles   []HeaderProfile
	proxyURLs  []string
	maxRetries int
	backoff    time.Duration
	backoffMax time.Duration
	observer   Observer

	session  atomic.Uint64
	requests atomic.Int64
	retries  atomic.Int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewClient builds a client for cfg whose pacing follows tier.
func NewClient(cfg *config.Config, tier config.TierConfig, observer Observer) (*Client, error) {
	collector := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: tier.Concurrency,
		Delay:       tier.Delay,
		RandomDelay: tier.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	profiles := DefaultProfiles()
	if cfg.UserAgent != "" {
		profiles[0].UserAgent = cfg.UserAgent
	}
	if observer == nil {
		observer = nopObserver{}
	}

	c := &Client{
		collector:    collector,
		profiles:     profiles,
		proxyURLs:    cfg.ProxyURLs,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.RetryBackoff,
		backoffMax:   cfg.RetryBackoffMax,
		observer:     observer,
		errorsByType: make(map[string]int),
	}
	if err := c.applyProxies(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithTransport swaps the HTTP transport, keeping proxy rotation when configured.
func (c *Client) WithTransport(rt http.RoundTripper) error {
	c.collector.WithTransport(rt)
	return c.applyProxies()
}

func (c *Client) applyProxies() error {
	if len(c.proxyURLs) == 0 {
		return nil
	}
	switcher, err := proxy.RoundRobinProxySwitcher(c.proxyURLs...)
	if err != nil {
		return fmt.Errorf("configure proxies: %w", err)
	}
	c.collector.SetProxyFunc(switcher)
	return nil
}

// Fetch issues req, retrying transient failures with exponential backoff and a
// fresh session each time. A final HTTP error status is returned as a Response;
// only transport failures and cancellation are returned as errors.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	var (
		last    *Response
		lastErr error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.retries.Add(1)
			c.observer.IncRetries()
			if err := sleep(ctx, c.delay(attempt)); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.do(req, c.nextProfile())
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		classified := Classify(err, status)
		if classified == nil {
			return resp, nil
		}

		category := ErrorLabel(classified)
		c.recordError(category)
		slog.Debug("fetch attempt failed",
			slog.String("url", req.URL),
			slog.Int("attempt", attempt+1),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", err),
		)

		last, lastErr = resp, classified
		if !Retryable(classified) {
			break
		}
	}

	if last != nil {
		return last, nil
	}
	return nil, lastErr
}

func (c *Client) do(req Request, profile HeaderProfile) (*Response, error) {
	collector := c.collector.Clone()

	var out *Response
	collector.OnResponse(func(r *colly.Response) {
		out = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
		if r.Headers != nil {
			out.Header = r.Headers.Clone()
		}
	})

	c.requests.Add(1)
	c.observer.IncRequest("started")
	start := time.Now()
	err := collector.Request(http.MethodGet, req.URL, nil, nil, profile.Header(req.Mode, req.Header))
	c.observer.ObserveDuration(time.Since(start))

	if err != nil {
		c.observer.IncRequest("failed")
		return out, err
	}
	if out == nil {
		return nil, fmt.Errorf("no response for %s", req.URL)
	}
	c.observer.IncRequest("completed")
	return out, nil
}

func (c *Client) nextProfile() HeaderProfile {
	n := c.session.Add(1) - 1
	return c.profiles[n%uint64(len(c.profiles))]
}

func (c *Client) delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := c.backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(1<<(attempt-1))
	if c.backoffMax > 0 && d > c.backoffMax {
		d = c.backoffMax
	}
	return d
}

func (c *Client) recordError(category string) {
	c.observer.IncError(category)
	c.mu.Lock()
	c.errorsByType[category]++
	c.mu.Unlock()
}

// Stats returns a snapshot of request, retry and error counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	errs := make(map[string]int, len(c.errorsByType))
	for k, v := range c.errorsByType {
		errs[k] = v
	}
	c.mu.Unlock()
	return Stats{
		Requests:     int(c.requests.Load()),
		Retries:      int(c.retries.Load()),
		ErrorsByType: errs,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) IncRequest(string)             {}
func (nopObserver) ObserveDuration(time.Duration) {}
func (nopObserver) IncRetries()                   {}
func (nopObserver) IncError(string)               {}
