// Package scraper runs a catalog crawl: a bounded worker pool over a shared
// frontier, two interchangeable engines and the escalation between them.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/extract"
	"github.com/aluiziolira/go-scrape-catalog/fetch"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/render"
)

// Sink receives admitted products, one call per page. pipeline.Pipeline satisfies it.
type Sink interface {
	Process(products ...*models.Product) error
}

// Option customises a Scraper.
type Option func(*Scraper) error

// WithTransport routes both fetch clients through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) error {
		if err := s.lightClient.WithTransport(rt); err != nil {
			return err
		}
		return s.heavyClient.WithTransport(rt)
	}
}

// WithRenderer replaces the browser backend used by the heavy engine.
func WithRenderer(factory RendererFactory) Option {
	return func(s *Scraper) error {
		s.heavy = NewHeavyEngine(s.heavyClient, s.cfg.Heavy, factory)
		return nil
	}
}

// WithClock sets the time source stamped on records.
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) error {
		s.now = now
		return nil
	}
}

// Scraper crawls the configured seeds and streams products to a Sink.
type Scraper struct {
	cfg        *config.Config
	Metrics    *Metrics
	normalizer *parser.Normalizer
	chain      extract.Chain
	resolver   Resolver
	now        func() time.Time

	lightClient *fetch.Client
	heavyClient *fetch.Client
	light       Engine
	heavy       Engine
}

// NewScraper builds a scraper for cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	origin := cfg.Origin()
	normalizer, err := parser.NewNormalizer(origin, parser.DefaultFieldTable())
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	metrics := NewMetrics()
	lightClient, err := fetch.NewClient(cfg, cfg.Light, metrics)
	if err != nil {
		return nil, fmt.Errorf("light client: %w", err)
	}
	heavyClient, err := fetch.NewClient(cfg, cfg.Heavy, metrics)
	if err != nil {
		return nil, fmt.Errorf("heavy client: %w", err)
	}

	s := &Scraper{
		cfg:         cfg,
		Metrics:     metrics,
		normalizer:  normalizer,
		chain:       extract.DefaultChain(origin),
		resolver:    NewResolver(cfg.MaxPages),
		now:         time.Now,
		lightClient: lightClient,
		heavyClient: heavyClient,
	}
	s.light = NewLightEngine(lightClient, cfg.Light)
	s.heavy = NewHeavyEngine(heavyClient, cfg.Heavy, func() (render.Renderer, error) {
		return render.New(cfg.HeavyBackend, render.OptionsFromConfig(cfg))
	})

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Run crawls until the frontier drains, the quota is met or ctx is cancelled.
// The returned result is non-nil whenever a crawl was started, even alongside
// an error.
func (s *Scraper) Run(ctx context.Context, sink Sink) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	seeds, err := s.cfg.SeedURLs()
	if err != nil {
		return nil, err
	}

	state, err := NewCrawlState(s.cfg.MaxProducts, s.cfg.DedupeMaxSize)
	if err != nil {
		return nil, err
	}
	start := TierLight
	if s.cfg.UsePlaywright {
		start = TierHeavy
	}
	esc := NewEscalator(start, s.cfg.EscalationThreshold)

	result := &models.CrawlResult{
		StartTime:    time.Now(),
		StrategyHits: make(map[models.Source]int),
		ErrorsByType: make(map[string]int),
	}
	slog.Info("crawl starting",
		slog.Int("seeds", len(seeds)),
		slog.String("engine", start.String()),
		slog.Int("max_products", s.cfg.MaxProducts),
		slog.Bool("unbounded", s.cfg.Unbounded()),
		slog.Int("max_pages", s.cfg.MaxPages),
	)

	var runErr error
	for {
		pass := &crawlPass{Scraper: s, state: state, esc: esc, sink: sink, result: result, frontier: newFrontier()}
		runErr = pass.run(ctx, seeds)
		if runErr != nil || ctx.Err() != nil {
			break
		}
		if esc.CompleteRun(state.Saved()) != PromoteAndRestart {
			break
		}
		slog.Warn("light crawl saved nothing; restarting seeds with the browser engine")
		s.Metrics.incEscalation("restart")
		state.ResetIdentities()
	}

	if err := s.heavy.Close(); err != nil {
		slog.Warn("close browser engine", slog.Any("error", err))
	}

	result.EndTime = time.Now()
	result.SavedCount = state.Saved()
	result.Escalated = esc.Escalated()
	result.Restarted = esc.Restarted()
	result.FinalEngine = esc.Tier().String()
	for _, c := range []*fetch.Client{s.lightClient, s.heavyClient} {
		stats := c.Stats()
		result.RequestCount += stats.Requests
		result.RetryCount += stats.Retries
		for k, v := range stats.ErrorsByType {
			result.ErrorsByType[k] += v
		}
	}

	if runErr != nil {
		return result, runErr
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		slog.Warn("crawl interrupted", slog.Int("saved", result.SavedCount))
	}
	return result, nil
}

// crawlPass is one run of the worker pool over the frontier.
type crawlPass struct {
	*Scraper
	state    *CrawlState
	esc      *Escalator
	sink     Sink
	frontier *frontier

	mu          sync.Mutex // guards result counters and failedLight
	result      *models.CrawlResult
	failedLight []Task
}

func (p *crawlPass) run(ctx context.Context, seeds []string) error {
	tasks := make([]Task, 0, len(seeds))
	for _, u := range seeds {
		tasks = append(tasks, Task{URL: u, PageNo: 1})
	}
	p.frontier.push(tasks...)

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, p.frontier.close)
	defer stop()

	workers := max(p.cfg.Light.Concurrency, p.cfg.Heavy.Concurrency, 1)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				task, ok := p.frontier.next()
				if !ok {
					return nil
				}
				err := p.handle(gctx, task)
				p.frontier.done()
				if err != nil {
					p.frontier.close()
					return err
				}
			}
		})
	}
	return g.Wait()
}

func (p *crawlPass) handle(ctx context.Context, task Task) error {
	if !task.Retry && !p.state.ClaimPage(PageKey(task.URL, task.PageNo)) {
		slog.Debug("page already processed", slog.String("url", task.URL), slog.Int("page", task.PageNo))
		return nil
	}
	if p.state.QuotaReached() {
		return nil
	}

	tier := p.esc.Tier()
	engine := p.light
	if tier == TierHeavy {
		engine = p.heavy
	}

	page, err := engine.Load(ctx, task)
	if err != nil {
		// only cancellation reaches here
		return nil
	}
	p.addPage()

	res, _ := p.chain.Run(ctx, page)
	if ctx.Err() != nil {
		return nil
	}
	if !res.Succeeded() {
		p.emptyPage(task, tier)
		return nil
	}
	p.esc.RecordExtraction(tier, false)
	p.Metrics.incPage("ok", tier)
	p.Metrics.incStrategy(res.Source)

	products := p.normalize(res)
	adm, err := p.state.Admit(products, p.sink.Process)
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	p.Metrics.addAdmission(adm)
	p.mu.Lock()
	p.result.StrategyHits[res.Source]++
	p.mu.Unlock()

	slog.Info("page processed",
		slog.String("url", task.URL),
		slog.Int("page", task.PageNo),
		slog.String("engine", engine.Tier().String()),
		slog.String("source", string(res.Source)),
		slog.Int("items", len(res.Items)),
		slog.Int("saved", len(adm.Admitted)),
		slog.Int("duplicates", adm.Duplicates),
		slog.Int("total_saved", p.state.Saved()),
		slog.Int("queued", p.frontier.pending()),
	)

	if p.state.QuotaReached() {
		slog.Info("product ceiling reached", slog.Int("saved", p.state.Saved()))
		p.frontier.close()
		return nil
	}
	if adm.Exhausted {
		slog.Debug("page held only known products; branch ends", slog.String("url", task.URL))
		return nil
	}
	if next, ok := p.resolver.Next(task, page, res); ok {
		p.frontier.push(next)
	}
	return nil
}

func (p *crawlPass) normalize(res extract.Result) []*models.Product {
	scrapedAt := p.now().UTC()
	out := make([]*models.Product, 0, len(res.Items))
	for _, item := range res.Items {
		product := p.normalizer.Normalize(item, res.Source, scrapedAt)
		if product == nil {
			continue
		}
		if !p.cfg.IncludeOutOfStock && !product.InStock {
			continue
		}
		out = append(out, product)
	}
	return out
}

// emptyPage handles a page where every strategy came up empty. Light failures
// feed the escalator; once the heavy tier is active they are re-queued for it.
// Heavy failures are abandoned.
func (p *crawlPass) emptyPage(task Task, tier Tier) {
	p.Metrics.incPage("empty", tier)

	p.mu.Lock()
	p.result.FailedPages++
	if tier == TierHeavy {
		p.result.AbandonedPages++
		p.mu.Unlock()
		slog.Warn("no products extracted by the browser engine; page abandoned",
			slog.String("url", task.URL),
			slog.Int("page", task.PageNo),
		)
		return
	}
	p.mu.Unlock()

	transition := p.esc.RecordExtraction(TierLight, true)
	slog.Warn("no products extracted",
		slog.String("url", task.URL),
		slog.Int("page", task.PageNo),
		slog.String("engine", tier.String()),
		slog.Int("consecutive_empty", p.esc.ConsecutiveFailures()),
	)

	retry := Task{URL: task.URL, PageNo: task.PageNo, Retry: true}
	switch transition {
	case Promote:
		slog.Warn("consecutive empty pages; switching to the browser engine",
			slog.Int("threshold", p.cfg.EscalationThreshold))
		p.Metrics.incEscalation("promote")
		p.mu.Lock()
		requeue := append(p.failedLight, retry)
		p.failedLight = nil
		p.mu.Unlock()
		p.frontier.push(requeue...)
	default:
		if p.esc.Tier() == TierHeavy {
			p.frontier.push(retry)
			return
		}
		p.mu.Lock()
		p.failedLight = append(p.failedLight, retry)
		p.mu.Unlock()
	}
}

func (p *crawlPass) addPage() {
	p.mu.Lock()
	p.result.PageCount++
	p.mu.Unlock()
}
