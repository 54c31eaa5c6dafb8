package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

// quietPeriod approximates network idle after the document reports complete.
const quietPeriod = 500 * time.Millisecond

// Chromedp renders pages over the DevTools protocol.
type Chromedp struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	opts          Options
	logger        *slog.Logger
}

// NewChromedp starts a Chrome process with opts.
func NewChromedp(opts Options) (*Chromedp, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	logger := slog.Default().With("component", "renderer", "backend", "chromedp")
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))

	// first Run starts the browser
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Chromedp{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		opts:          opts,
		logger:        logger,
	}, nil
}

// Render opens url in a new tab and waits for the document to settle.
func (c *Chromedp) Render(ctx context.Context, url string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)
	stop := context.AfterFunc(ctx, tabCancel)

	navCtx, navCancel := context.WithTimeout(tabCtx, c.opts.Timeout)
	defer navCancel()

	var ready bool
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Poll(`document.readyState === "complete"`, &ready, chromedp.WithPollingInterval(100*time.Millisecond)),
		chromedp.Sleep(quietPeriod),
	)
	if err != nil {
		stop()
		tabCancel()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	return &chromedpPage{ctx: tabCtx, cancel: tabCancel, stop: stop}, nil
}

// Close terminates the browser process.
func (c *Chromedp) Close() error {
	c.browserCancel()
	c.allocCancel()
	return nil
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool
}

func (p *chromedpPage) Content() (string, error) {
	var html string
	if err := chromedp.Run(p.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromedpPage) Evaluate(expression string) (any, error) {
	var out any
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(expression, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *chromedpPage) Close() error {
	p.stop()
	p.cancel()
	return nil
}
