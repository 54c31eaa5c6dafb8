package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// CardSelectors locate product cards, most specific first. The first selector
// with at least one match wins.
var CardSelectors = []string{
	`[data-qa-locator="product-item"]`,
	`[data-tracking="product-card"]`,
	`div[data-item-id]`,
	`.gridItem`,
	`.product-card`,
}

var (
	linkSelectors          = []string{`a[href*="/products/"]`, `a[href]`}
	titleSelectors         = []string{`[class*="title"]`, `[class*="name"]`}
	priceSelectors         = []string{`[class*="currentPrice"]`, `[class*="price"]:not([class*="orig"]):not([class*="original"])`}
	originalPriceSelectors = []string{`[class*="origPrice"]`, `[class*="original"]`, `del`}
	discountSelectors      = []string{`[class*="discount"]`}
	ratingSelectors        = []string{`[class*="ratingScore"]`, `[class*="rating"]`}
	reviewSelectors        = []string{`[class*="review"]`}
	soldOutSelectors       = []string{`[class*="soldOut"]`, `[class*="sold-out"]`, `[class*="outOfStock"]`}

	idAttributes   = []string{"data-item-id", "data-sku-simple", "data-id"}
	imageAttrs     = []string{"src", "data-src", "data-ks-lazyload"}
	productIDInURL = regexp.MustCompile(`-i(\d+)(?:-s\d+)?\.html`)
)

// MarkupStrategy scans product cards in the page markup.
type MarkupStrategy struct{}

func NewMarkupStrategy() *MarkupStrategy { return &MarkupStrategy{} }

func (s *MarkupStrategy) Source() models.Source { return models.SourceHTML }

// Attempt extracts one raw item per card. Cards without a detail link are skipped.
func (s *MarkupStrategy) Attempt(_ context.Context, page *PageContext) Result {
	doc, err := page.Document()
	if err != nil {
		return Result{}
	}

	var cards *goquery.Selection
	for _, sel := range CardSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		return Result{}
	}

	res := Result{Matched: true}
	cards.Each(func(_ int, card *goquery.Selection) {
		if item := cardItem(card); item != nil {
			res.Items = append(res.Items, item)
		}
	})
	return res
}

func cardItem(card *goquery.Selection) models.RawItem {
	link := firstMatch(card, linkSelectors)
	href, _ := link.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return nil
	}

	item := models.RawItem{"productUrl": href}
	img := card.Find("img").First()

	if id := cardID(card, href); id != "" {
		item["itemId"] = id
	}

	title := attr(link, "title")
	if title == "" {
		title = attr(img, "alt")
	}
	if title == "" {
		title = text(firstMatch(card, titleSelectors))
	}
	if title == "" {
		title = text(link)
	}
	setText(item, "title", title)

	setText(item, "price", text(firstMatch(card, priceSelectors)))
	setText(item, "originalPrice", text(firstMatch(card, originalPriceSelectors)))
	setText(item, "discount", text(firstMatch(card, discountSelectors)))
	setText(item, "rating", text(firstMatch(card, ratingSelectors)))
	setText(item, "reviewCount", text(firstMatch(card, reviewSelectors)))

	for _, name := range imageAttrs {
		if src := attr(img, name); src != "" && !strings.HasPrefix(src, "data:") {
			item["imageUrl"] = src
			break
		}
	}

	if firstMatch(card, soldOutSelectors).Length() > 0 {
		item["availability"] = "out of stock"
	}
	return item
}

func cardID(card *goquery.Selection, href string) string {
	for _, name := range idAttributes {
		if v := attr(card, name); v != "" {
			return v
		}
		if v := attr(card.Find("["+name+"]").First(), name); v != "" {
			return v
		}
	}
	if m := productIDInURL.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

func firstMatch(root *goquery.Selection, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		if found := root.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	return root.Slice(0, 0)
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return strings.TrimSpace(v)
}

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Text())
}

func setText(item models.RawItem, key, value string) {
	if value != "" {
		item[key] = value
	}
}
