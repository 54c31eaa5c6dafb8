// Package render drives a real browser for pages whose listings only exist
// after client-side scripts run.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// Page is a loaded browser page.
type Page interface {
	// Content returns the serialized DOM.
	Content() (string, error)
	// Evaluate runs expression in the page and returns its JSON-compatible value.
	Evaluate(expression string) (any, error)
	Close() error
}

// Renderer loads URLs and waits for the network to settle.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
	Close() error
}

// Options configures a browser backend.
type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ProxyServer    string
	Locale         string
	AcceptLanguage string
	ViewportWidth  int
	ViewportHeight int
}

// DefaultOptions returns a desktop Chrome profile for the Pakistani storefront.
func DefaultOptions() Options {
	return Options{
		Headless:       true,
		Timeout:        45 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Locale:         "en-PK",
		AcceptLanguage: "en-PK,en;q=0.9,ur;q=0.8",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

// OptionsFromConfig derives browser options from the crawl configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.Headless = cfg.Headless
	if cfg.NavigationTimeout > 0 {
		opts.Timeout = cfg.NavigationTimeout
	}
	if cfg.UserAgent != "" {
		opts.UserAgent = cfg.UserAgent
	}
	if len(cfg.ProxyURLs) > 0 {
		opts.ProxyServer = cfg.ProxyURLs[0]
	}
	return opts
}

// New starts the named backend: "playwright" or "chromedp".
func New(backend string, opts Options) (Renderer, error) {
	switch backend {
	case "playwright", "":
		return NewPlaywright(opts)
	case "chromedp":
		return NewChromedp(opts)
	default:
		return nil, fmt.Errorf("unknown render backend %q", backend)
	}
}
