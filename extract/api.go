package extract

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aluiziolira/go-scrape-catalog/fetch"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// APIStrategy queries the listing's JSON endpoint for the current page.
type APIStrategy struct {
	origin string
}

// NewAPIStrategy returns an APIStrategy sending origin as the Origin header.
func NewAPIStrategy(origin string) *APIStrategy {
	return &APIStrategy{origin: origin}
}

func (s *APIStrategy) Source() models.Source { return models.SourceAPI }

// Attempt fetches the page's JSON listing. Any fetch error, HTTP error status or
// non-JSON body is an unmatched attempt.
func (s *APIStrategy) Attempt(ctx context.Context, page *PageContext) Result {
	if page.Fetcher == nil {
		return Result{}
	}
	apiURL, err := APIURL(page.URL, page.PageNo)
	if err != nil {
		return Result{}
	}

	header := http.Header{}
	header.Set("Referer", page.URL)
	if s.origin != "" {
		header.Set("Origin", s.origin)
	}
	resp, err := page.Fetcher.Fetch(ctx, fetch.Request{URL: apiURL, Mode: fetch.ModeJSON, Header: header})
	if err != nil {
		slog.Debug("api fetch failed", slog.String("url", apiURL), slog.Any("error", err))
		return Result{}
	}
	if resp.Failed() {
		slog.Debug("api fetch rejected", slog.String("url", apiURL), slog.Int("status", resp.StatusCode))
		return Result{}
	}

	var doc any
	if err := resp.DecodeJSON(&doc); err != nil {
		slog.Debug("api body not json", slog.String("url", apiURL), slog.Any("error", err))
		return Result{}
	}

	items, matched := FindItems(doc)
	return Result{
		Items:      items,
		TotalPages: FindTotalPages(doc),
		Matched:    matched,
	}
}

// APIURL returns pageURL with the page number and ajax flag set.
func APIURL(pageURL string, pageNo int) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	if pageNo < 1 {
		pageNo = 1
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(pageNo))
	q.Set("ajax", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
