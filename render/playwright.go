package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/playwright-community/playwright-go"
)

// Playwright renders pages in a Chromium instance driven by playwright-go.
type Playwright struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    Options
	logger  *slog.Logger
}

// NewPlaywright launches Chromium with opts.
func NewPlaywright(opts Options) (*Playwright, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(opts.UserAgent),
		Locale:            playwright.String(opts.Locale),
		JavaScriptEnabled: playwright.Bool(true),
		AcceptDownloads:   playwright.Bool(false),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": opts.AcceptLanguage,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Playwright{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  slog.Default().With("component", "renderer", "backend", "playwright"),
	}, nil
}

// Render opens url in a new tab and waits for network idle.
func (p *Playwright) Render(ctx context.Context, url string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := p.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(p.opts.Timeout.Milliseconds()))

	stop := context.AfterFunc(ctx, func() { page.Close() })
	defer stop()

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(p.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if resp != nil && resp.Status() >= 400 {
		p.logger.Debug("rendered page returned error status", "url", url, "status", resp.Status())
	}
	return &playwrightPage{page: page}, nil
}

// Close shuts down the browser and the driver.
func (p *Playwright) Close() error {
	var errs []error
	if p.context != nil {
		if err := p.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Evaluate(expression string) (any, error) {
	return p.page.Evaluate(expression)
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
