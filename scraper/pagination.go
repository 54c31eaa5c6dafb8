package scraper

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/extract"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// nextSelectors locate a markup "next page" control, most specific first.
var nextSelectors = []string{
	`link[rel="next"]`,
	`a[rel="next"]`,
	`a[aria-label*="Next"]`,
	`.ant-pagination-next a`,
	`li.next a`,
}

var nextLabels = map[string]bool{"next": true, "next page": true, "›": true, "»": true}

// Resolver decides the page that follows a processed one.
type Resolver struct {
	maxPages int // 0 means unbounded
}

// NewResolver stops at maxPages; zero means no page ceiling.
func NewResolver(maxPages int) Resolver {
	return Resolver{maxPages: maxPages}
}

// Next returns the follow-up task for task, whose extraction produced res.
// An API result continues by page number while the reported total allows it,
// continuing optimistically when the total is unknown. Anything else follows
// the markup next control.
func (r Resolver) Next(task Task, page *extract.PageContext, res extract.Result) (Task, bool) {
	if r.maxPages > 0 && task.PageNo >= r.maxPages {
		return Task{}, false
	}
	nextNo := task.PageNo + 1

	if res.Succeeded() && res.Source == models.SourceAPI {
		if res.TotalPages > 0 && nextNo > res.TotalPages {
			return Task{}, false
		}
		u, err := url.Parse(task.URL)
		if err != nil {
			return Task{}, false
		}
		q := u.Query()
		q.Set("page", strconv.Itoa(nextNo))
		u.RawQuery = q.Encode()
		return Task{URL: u.String(), PageNo: nextNo}, true
	}

	if page == nil || page.HTML == "" {
		return Task{}, false
	}
	doc, err := page.Document()
	if err != nil {
		return Task{}, false
	}
	href := nextHref(doc)
	if href == "" {
		return Task{}, false
	}
	base, err := url.Parse(task.URL)
	if err != nil {
		return Task{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return Task{}, false
	}
	next := base.ResolveReference(ref)
	next.Fragment = ""
	if next.String() == base.String() {
		return Task{}, false
	}
	return Task{URL: next.String(), PageNo: nextNo}, true
}

func nextHref(doc *goquery.Document) string {
	for _, sel := range nextSelectors {
		if href := usableHref(doc.Find(sel).First()); href != "" {
			return href
		}
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.ToLower(strings.TrimSpace(a.Text()))
		if nextLabels[label] {
			found = usableHref(a)
		}
		return found == ""
	})
	return found
}

func usableHref(sel *goquery.Selection) string {
	href, ok := sel.Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	return href
}
