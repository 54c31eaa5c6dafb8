package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/render"
)

const emptyPage = `<html><body><p>Something went wrong</p></body></html>`

// fakeSite answers every request through handler and records the URLs asked for.
type fakeSite struct {
	mu       sync.Mutex
	requests []string
	handler  func(r *http.Request) (int, string)
}

func (s *fakeSite) transport() *httpmock.MockTransport {
	tr := httpmock.NewMockTransport()
	tr.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		s.mu.Lock()
		s.requests = append(s.requests, req.URL.String())
		s.mu.Unlock()
		status, body := s.handler(req)
		return httpmock.NewStringResponse(status, body), nil
	})
	return tr
}

func (s *fakeSite) requested(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.requests {
		if strings.Contains(u, substr) {
			n++
		}
	}
	return n
}

func isAPI(r *http.Request) bool {
	return r.URL.Query().Get("ajax") == "true"
}

func apiBody(total int, ids ...string) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, fmt.Sprintf(
			`{"itemId":"%s","name":"Lawn Suit %s","price":"1250","originalPrice":"2500","productUrl":"//site.test/products/lawn-suit-i%s.html","inStock":true}`,
			id, id, id))
	}
	return fmt.Sprintf(`{"mods":{"listItems":[%s]},"mainInfo":{"pageTotal":%d}}`, strings.Join(items, ","), total)
}

func cardsPage(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<div data-qa-locator="product-item" data-item-id="%s">`, id)
		fmt.Fprintf(&b, `<a href="/products/kurta-i%s.html" title="Kurta %s">Kurta %s</a>`, id, id, id)
		b.WriteString(`<span class="price">Rs. 1,999</span></div>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type fakeRenderer struct {
	mu     sync.Mutex
	urls   []string
	html   func(url string) string
	closed bool
}

func (r *fakeRenderer) Render(_ context.Context, url string) (render.Page, error) {
	r.mu.Lock()
	r.urls = append(r.urls, url)
	r.mu.Unlock()
	return &fakePage{html: r.html(url)}, nil
}

func (r *fakeRenderer) Close() error {
	r.closed = true
	return nil
}

func (r *fakeRenderer) rendered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

type fakePage struct{ html string }

func (p *fakePage) Content() (string, error)     { return p.html, nil }
func (p *fakePage) Evaluate(string) (any, error) { return nil, nil }
func (p *fakePage) Close() error                 { return nil }

type recordingSink struct {
	mu      sync.Mutex
	batches [][]*models.Product
	err     error
}

func (s *recordingSink) Process(products ...*models.Product) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]*models.Product(nil), products...))
	return nil
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		for _, p := range b {
			out = append(out, p.ID())
		}
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://site.test"
	cfg.Light = config.TierConfig{Concurrency: 1}
	cfg.Heavy = config.TierConfig{Concurrency: 1}
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = time.Millisecond
	cfg.Timeout = 5 * time.Second
	cfg.DedupeMaxSize = 1000
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config, site *fakeSite, renderer *fakeRenderer) *Scraper {
	t.Helper()
	opts := []Option{
		WithTransport(site.transport()),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }),
	}
	if renderer != nil {
		opts = append(opts, WithRenderer(func() (render.Renderer, error) { return renderer, nil }))
	} else {
		opts = append(opts, WithRenderer(func() (render.Renderer, error) { return nil, errors.New("no browser in tests") }))
	}
	s, err := NewScraper(cfg, opts...)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	return s
}

func TestQuotaStopsPagination(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryURL = "https://site.test/cat/"
	cfg.MaxProducts = 2
	cfg.MaxPages = 5

	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if isAPI(r) {
			return http.StatusOK, apiBody(4, "1", "2", "3", "4", "5")
		}
		return http.StatusOK, emptyPage
	}}
	s := newTestScraper(t, cfg, site, nil)
	sink := &recordingSink{}

	result, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	ids := sink.ids()
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Fatalf("pushed = %v, want [1 2]", ids)
	}
	if result.SavedCount != 2 || result.PageCount != 1 {
		t.Fatalf("saved=%d pages=%d, want 2 and 1", result.SavedCount, result.PageCount)
	}
	if n := site.requested("page=2"); n != 0 {
		t.Fatalf("page 2 requested %d times after the quota was met", n)
	}
	if result.StrategyHits[models.SourceAPI] != 1 {
		t.Fatalf("strategy hits = %v", result.StrategyHits)
	}
}

func TestOverlappingPagesShareProductID(t *testing.T) {
	cfg := testConfig()
	cfg.StartURLs = []string{"https://site.test/a/\nhttps://site.test/b/"}
	cfg.MaxProducts = 0

	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if !isAPI(r) {
			return http.StatusOK, emptyPage
		}
		if strings.HasPrefix(r.URL.Path, "/a/") {
			return http.StatusOK, apiBody(1, "123", "a1")
		}
		return http.StatusOK, apiBody(1, "123", "b1")
	}}
	s := newTestScraper(t, cfg, site, nil)
	sink := &recordingSink{}

	result, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	ids := sink.ids()
	if result.SavedCount != 3 || len(ids) != 3 {
		t.Fatalf("saved=%d ids=%v, want 3", result.SavedCount, ids)
	}
	seen := map[string]int{}
	for _, id := range ids {
		seen[id]++
	}
	if seen["123"] != 1 {
		t.Fatalf("product 123 pushed %d times", seen["123"])
	}
}

func TestOutOfStockFilteredUnlessIncluded(t *testing.T) {
	body := `{"mods":{"listItems":[{"itemId":"1","name":"A","inStock":true},{"itemId":"2","name":"B","inStock":false}]},"mainInfo":{"pageTotal":1}}`
	for _, include := range []bool{false, true} {
		t.Run(fmt.Sprintf("include=%v", include), func(t *testing.T) {
			cfg := testConfig()
			cfg.CategoryURL = "https://site.test/cat/"
			cfg.IncludeOutOfStock = include

			site := &fakeSite{handler: func(r *http.Request) (int, string) {
				if isAPI(r) {
					return http.StatusOK, body
				}
				return http.StatusOK, emptyPage
			}}
			s := newTestScraper(t, cfg, site, nil)
			sink := &recordingSink{}
			if _, err := s.Run(context.Background(), sink); err != nil {
				t.Fatalf("run: %v", err)
			}
			want := 1
			if include {
				want = 2
			}
			if got := len(sink.ids()); got != want {
				t.Fatalf("pushed %d, want %d", got, want)
			}
		})
	}
}

func TestAPIPaginationFollowsTotal(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryURL = "https://site.test/cat/"
	cfg.MaxProducts = 0
	cfg.MaxPages = 0

	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if !isAPI(r) {
			return http.StatusOK, emptyPage
		}
		page := r.URL.Query().Get("page")
		return http.StatusOK, apiBody(3, "p"+page+"-1", "p"+page+"-2")
	}}
	s := newTestScraper(t, cfg, site, nil)
	sink := &recordingSink{}

	result, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PageCount != 3 || result.SavedCount != 6 {
		t.Fatalf("pages=%d saved=%d, want 3 and 6", result.PageCount, result.SavedCount)
	}
	if n := site.requested("page=4"); n != 0 {
		t.Fatalf("page beyond the reported total was requested")
	}
}

func TestEscalatesAfterThirdEmptyPage(t *testing.T) {
	cfg := testConfig()
	cfg.StartURLs = []string{"https://site.test/a/\nhttps://site.test/b/\nhttps://site.test/c/"}
	cfg.MaxProducts = 0
	cfg.MaxPages = 1

	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if isAPI(r) {
			return http.StatusNotFound, "not found"
		}
		return http.StatusOK, emptyPage
	}}
	renderer := &fakeRenderer{html: func(url string) string {
		id := strings.Trim(strings.TrimPrefix(url, "https://site.test/"), "/")
		return cardsPage(id + "1")
	}}
	s := newTestScraper(t, cfg, site, renderer)
	sink := &recordingSink{}

	result, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !result.Escalated || result.Restarted || result.FinalEngine != "heavy" {
		t.Fatalf("escalated=%v restarted=%v engine=%s", result.Escalated, result.Restarted, result.FinalEngine)
	}
	if got := renderer.rendered(); len(got) != 3 {
		t.Fatalf("rendered %v, want the 3 failed pages", got)
	}
	if result.SavedCount != 3 || result.FailedPages != 3 || result.AbandonedPages != 0 {
		t.Fatalf("saved=%d failed=%d abandoned=%d", result.SavedCount, result.FailedPages, result.AbandonedPages)
	}
	if result.StrategyHits[models.SourceHTML] != 3 {
		t.Fatalf("strategy hits = %v", result.StrategyHits)
	}
	if !renderer.closed {
		t.Fatal("renderer should be closed after the crawl")
	}
}

func TestTwoEmptyPagesDoNotEscalate(t *testing.T) {
	cfg := testConfig()
	cfg.StartURLs = []string{"https://site.test/a/\nhttps://site.test/b/\nhttps://site.test/c/"}
	cfg.MaxPages = 1

	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if r.URL.Path == "/c/" && isAPI(r) {
			return http.StatusOK, apiBody(1, "c1")
		}
		if isAPI(r) {
			return http.StatusServiceUnavailable, ""
		}
		return http.StatusOK, emptyPage
	}}
	renderer := &fakeRenderer{html: func(string) string { return cardsPage("x") }}
	s := newTestScraper(t, cfg, site, renderer)

	result, err := s.Run(context.Background(), &recordingSink{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Escalated || len(renderer.rendered()) != 0 {
		t.Fatalf("escalated=%v rendered=%v", result.Escalated, renderer.rendered())
	}
	if result.SavedCount != 1 || result.FailedPages != 2 {
		t.Fatalf("saved=%d failed=%d", result.SavedCount, result.FailedPages)
	}
}

func TestRestartsWithBrowserWhenLightSavesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryURL = "https://site.test/cat/"
	cfg.MaxPages = 1

	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if isAPI(r) {
			return http.StatusForbidden, "blocked"
		}
		return http.StatusOK, emptyPage
	}}
	renderer := &fakeRenderer{html: func(string) string { return cardsPage("501", "502") }}
	s := newTestScraper(t, cfg, site, renderer)
	sink := &recordingSink{}

	result, err := s.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Restarted || !result.Escalated {
		t.Fatalf("restarted=%v escalated=%v", result.Restarted, result.Escalated)
	}
	if got := sink.ids(); len(got) != 2 || got[0] != "501" {
		t.Fatalf("pushed = %v", got)
	}
	if got := renderer.rendered(); len(got) != 1 || got[0] != "https://site.test/cat/" {
		t.Fatalf("rendered = %v", got)
	}
}

func TestHeavyEmptyPagesAreAbandoned(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryURL = "https://site.test/cat/"
	cfg.UsePlaywright = true

	site := &fakeSite{handler: func(r *http.Request) (int, string) { return http.StatusNotFound, "" }}
	renderer := &fakeRenderer{html: func(string) string { return emptyPage }}
	s := newTestScraper(t, cfg, site, renderer)

	result, err := s.Run(context.Background(), &recordingSink{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.SavedCount != 0 || result.AbandonedPages != 1 || result.Restarted {
		t.Fatalf("saved=%d abandoned=%d restarted=%v", result.SavedCount, result.AbandonedPages, result.Restarted)
	}
	if n := site.requested("ajax=true"); n != 1 {
		t.Fatalf("api requests = %d, want 1", n)
	}
	if len(site.requests) != 1 {
		t.Fatalf("heavy start should not fetch documents over HTTP: %v", site.requests)
	}
}

func TestSinkFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryURL = "https://site.test/cat/"

	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if isAPI(r) {
			return http.StatusOK, apiBody(5, "1")
		}
		return http.StatusOK, emptyPage
	}}
	s := newTestScraper(t, cfg, site, nil)
	boom := errors.New("sink unavailable")

	result, err := s.Run(context.Background(), &recordingSink{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("run error = %v, want %v", err, boom)
	}
	if result == nil || result.SavedCount != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestNoUsableSeeds(t *testing.T) {
	cfg := testConfig()
	cfg.StartURLs = []string{"not a url"}

	s := newTestScraper(t, cfg, &fakeSite{handler: func(*http.Request) (int, string) { return 200, "" }}, nil)
	if _, err := s.Run(context.Background(), &recordingSink{}); !errors.Is(err, config.ErrNoSeeds) {
		t.Fatalf("run error = %v, want ErrNoSeeds", err)
	}
}

func TestCancelledCrawlReturnsPartialResult(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryURL = "https://site.test/cat/"
	cfg.MaxProducts = 0
	cfg.MaxPages = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if !isAPI(r) {
			return http.StatusOK, emptyPage
		}
		page := r.URL.Query().Get("page")
		if page == "3" {
			cancel()
		}
		return http.StatusOK, apiBody(0, "p"+page)
	}}
	s := newTestScraper(t, cfg, site, nil)
	sink := &recordingSink{}

	result, err := s.Run(ctx, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.SavedCount < 2 || result.SavedCount != len(sink.ids()) {
		t.Fatalf("saved=%d pushed=%d", result.SavedCount, len(sink.ids()))
	}
	if result.Restarted {
		t.Fatal("a cancelled crawl must not restart")
	}
}

func TestScraperWithPipeline(t *testing.T) {
	cfg := testConfig()
	cfg.CategoryURL = "https://site.test/cat/"
	cfg.MaxProducts = 0
	cfg.MaxPages = 2
	cfg.BatchSize = 1

	site := &fakeSite{handler: func(r *http.Request) (int, string) {
		if !isAPI(r) {
			return http.StatusOK, emptyPage
		}
		page := r.URL.Query().Get("page")
		return http.StatusOK, apiBody(10, page+"a", page+"b")
	}}
	s := newTestScraper(t, cfg, site, nil)

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start()

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	products := writer.All()
	if len(products) != 4 || result.SavedCount != 4 {
		t.Fatalf("written=%d saved=%d, want 4", len(products), result.SavedCount)
	}
	first := products[0]
	if first.ID() != "1a" || *first.Price != 1250 || *first.DiscountPct != 50 {
		t.Fatalf("unexpected first product: id=%s price=%v discount=%v", first.ID(), *first.Price, *first.DiscountPct)
	}
	if *first.ProductURL != "https://site.test/products/lawn-suit-i1a.html" {
		t.Fatalf("product url = %s", *first.ProductURL)
	}
	if !first.ScrapedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("scrapedAt = %v", first.ScrapedAt)
	}
}

type collectingWriter struct {
	mu       sync.Mutex
	products []*models.Product
}

func (cw *collectingWriter) Write(_ context.Context, products []*models.Product) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.products = append(cw.products, products...)
	return nil
}

func (cw *collectingWriter) Close() error    { return nil }
func (cw *collectingWriter) Validate() error { return nil }

func (cw *collectingWriter) All() []*models.Product {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return append([]*models.Product(nil), cw.products...)
}
