package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/extract"
	"github.com/aluiziolira/go-scrape-catalog/fetch"
	"github.com/aluiziolira/go-scrape-catalog/render"
)

// stateExpressions are evaluated in rendered pages; their values feed the
// embedded-data strategy.
var stateExpressions = []string{
	"window.pageData",
	"window.__INITIAL_STATE__",
}

// Engine loads a listing page into a PageContext. A page that cannot be loaded
// yields an empty context rather than an error; errors are reserved for
// cancellation.
type Engine interface {
	Tier() Tier
	Load(ctx context.Context, task Task) (*extract.PageContext, error)
	Close() error
}

// gate bounds concurrency and request rate for one tier.
type gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	jitter  func() time.Duration
}

func newGate(tier config.TierConfig, jitter bool) *gate {
	limit := rate.Inf
	if tier.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(tier.RequestsPerMinute))
	}
	g := &gate{
		sem:     semaphore.NewWeighted(int64(max(tier.Concurrency, 1))),
		limiter: rate.NewLimiter(limit, 1),
	}
	if jitter {
		g.jitter = func() time.Duration {
			d := tier.Delay
			if tier.RandomDelay > 0 {
				d += time.Duration(rand.Int63n(int64(tier.RandomDelay)))
			}
			return d
		}
	}
	return g
}

// enter blocks until a slot and a rate token are available, then sleeps the
// jitter. The returned func releases the slot.
func (g *gate) enter(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	release := func() { g.sem.Release(1) }
	if err := g.limiter.Wait(ctx); err != nil {
		release()
		return nil, err
	}
	if g.jitter != nil {
		if d := g.jitter(); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				release()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	return release, nil
}

// LightEngine fetches raw HTML over HTTP. Delay and jitter come from the
// client's collector limits.
type LightEngine struct {
	client *fetch.Client
	gate   *gate
}

// NewLightEngine wraps client with the light tier limits.
func NewLightEngine(client *fetch.Client, tier config.TierConfig) *LightEngine {
	return &LightEngine{client: client, gate: newGate(tier, false)}
}

func (e *LightEngine) Tier() Tier { return TierLight }

func (e *LightEngine) Load(ctx context.Context, task Task) (*extract.PageContext, error) {
	release, err := e.gate.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	page := &extract.PageContext{URL: task.URL, PageNo: task.PageNo, Fetcher: e.client}
	resp, err := e.client.Fetch(ctx, fetch.Request{URL: task.URL, Mode: fetch.ModeDocument})
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		slog.Warn("page fetch failed", slog.String("url", task.URL), slog.Any("error", err))
	case resp.Failed():
		slog.Warn("page fetch rejected", slog.String("url", task.URL), slog.Int("status", resp.StatusCode))
	default:
		page.HTML = resp.Text()
	}
	return page, nil
}

func (e *LightEngine) Close() error { return nil }

// RendererFactory starts a browser backend.
type RendererFactory func() (render.Renderer, error)

// HeavyEngine renders pages in a browser, started on first use. The API
// strategy still runs through the heavy tier's fetch client.
type HeavyEngine struct {
	client  *fetch.Client
	gate    *gate
	factory RendererFactory

	once     sync.Once
	renderer render.Renderer
	startErr error
}

// NewHeavyEngine uses factory to start the browser lazily.
func NewHeavyEngine(client *fetch.Client, tier config.TierConfig, factory RendererFactory) *HeavyEngine {
	return &HeavyEngine{client: client, gate: newGate(tier, true), factory: factory}
}

func (e *HeavyEngine) Tier() Tier { return TierHeavy }

func (e *HeavyEngine) start() (render.Renderer, error) {
	e.once.Do(func() {
		if e.factory == nil {
			e.startErr = fmt.Errorf("no renderer configured")
			return
		}
		e.renderer, e.startErr = e.factory()
		if e.startErr == nil {
			slog.Info("browser engine started")
		}
	})
	return e.renderer, e.startErr
}

func (e *HeavyEngine) Load(ctx context.Context, task Task) (*extract.PageContext, error) {
	page := &extract.PageContext{URL: task.URL, PageNo: task.PageNo}
	if e.client != nil {
		page.Fetcher = e.client
	}

	renderer, err := e.start()
	if err != nil {
		slog.Error("browser unavailable", slog.Any("error", err))
		return page, nil
	}

	release, err := e.gate.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rendered, err := renderer.Render(ctx, task.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("page render failed", slog.String("url", task.URL), slog.Any("error", err))
		return page, nil
	}
	defer rendered.Close()

	html, err := rendered.Content()
	if err != nil {
		slog.Warn("read rendered content failed", slog.String("url", task.URL), slog.Any("error", err))
	}
	page.HTML = html

	for _, expr := range stateExpressions {
		v, err := rendered.Evaluate(expr)
		if err != nil || v == nil {
			continue
		}
		if page.State == nil {
			page.State = make(map[string]any)
		}
		page.State[expr] = v
	}
	return page, nil
}

func (e *HeavyEngine) Close() error {
	if e.renderer == nil {
		return nil
	}
	return e.renderer.Close()
}
