// Package extract holds the extraction strategies that turn one catalog page
// into raw items. Strategies never return errors: a failed attempt is reported
// as an unmatched Result and the chain moves on.
package extract

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/fetch"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// PageContext is everything a strategy may inspect for one listing page.
type PageContext struct {
	URL    string
	PageNo int
	HTML   string
	// State holds client-side objects evaluated in a rendered page, keyed by expression.
	State   map[string]any
	Fetcher fetch.Fetcher

	once   sync.Once
	doc    *goquery.Document
	docErr error
}

// Document parses HTML once and returns the shared goquery document.
func (p *PageContext) Document() (*goquery.Document, error) {
	p.once.Do(func() {
		p.doc, p.docErr = goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	})
	return p.doc, p.docErr
}

// Result is the outcome of one strategy attempt. Matched means the strategy
// recognised its expected shape; it may still carry no items.
type Result struct {
	Source     models.Source
	Items      []models.RawItem
	TotalPages int // 0 when unknown
	Matched    bool
}

// Succeeded reports whether the attempt ends the chain.
func (r Result) Succeeded() bool {
	return r.Matched && len(r.Items) > 0
}

// Strategy is one way of extracting raw items from a page.
type Strategy interface {
	Source() models.Source
	Attempt(ctx context.Context, page *PageContext) Result
}

// Chain runs strategies in priority order.
type Chain []Strategy

// DefaultChain returns API, embedded data and markup strategies in that order.
func DefaultChain(origin string) Chain {
	return Chain{
		NewAPIStrategy(origin),
		NewEmbeddedStrategy(),
		NewMarkupStrategy(),
	}
}

// Run attempts each strategy until one succeeds. It returns the winning result,
// or an empty unmatched Result when every strategy came up empty, along with
// every attempt made.
func (c Chain) Run(ctx context.Context, page *PageContext) (Result, []Result) {
	attempts := make([]Result, 0, len(c))
	for _, s := range c {
		if ctx.Err() != nil {
			break
		}
		res := attempt(ctx, s, page)
		res.Source = s.Source()
		attempts = append(attempts, res)
		slog.Debug("extraction attempt",
			slog.String("url", page.URL),
			slog.Int("page", page.PageNo),
			slog.String("source", string(res.Source)),
			slog.Bool("matched", res.Matched),
			slog.Int("items", len(res.Items)),
		)
		if res.Succeeded() {
			return res, attempts
		}
	}
	return Result{}, attempts
}

// attempt runs one strategy, turning a panic into an unmatched result.
func attempt(ctx context.Context, s Strategy, page *PageContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extraction strategy panicked",
				slog.String("url", page.URL),
				slog.String("source", string(s.Source())),
				slog.Any("panic", r),
			)
			res = Result{}
		}
	}()
	return s.Attempt(ctx, page)
}
