package parser

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

var outOfStockMarkers = []string{"outofstock", "out of stock", "sold out", "soldout", "unavailable"}

// Normalizer projects raw items of any strategy onto models.Product.
// It holds no mutable state; the same inputs always produce the same record.
type Normalizer struct {
	origin *url.URL
	fields FieldTable
}

// NewNormalizer builds a Normalizer resolving relative URLs against origin.
func NewNormalizer(origin string, fields FieldTable) (*Normalizer, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	return &Normalizer{origin: &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, fields: fields}, nil
}

// Normalize converts item into a canonical record captured at scrapedAt.
// It returns nil only for an absent or empty item.
func (n *Normalizer) Normalize(item models.RawItem, source models.Source, scrapedAt time.Time) *models.Product {
	if len(item) == 0 {
		return nil
	}
	f := n.fields
	p := &models.Product{
		ProductID:    n.text(f.ProductID, item),
		Title:        n.text(f.Title, item),
		Brand:        n.text(f.Brand, item),
		SellerName:   n.text(f.SellerName, item),
		Location:     n.text(f.Location, item),
		CategoryName: n.text(f.CategoryName, item),
		ImageURL:     n.url(f.ImageURL, item),
		ProductURL:   n.url(f.ProductURL, item),
		InStock:      n.inStock(item),
		ScrapedAt:    scrapedAt,
		Source:       source,
	}

	if raw, ok := f.Price.Resolve(item); ok {
		p.PriceText = optional(Text(raw))
		p.Price = ParseNumber(raw)
	}
	if raw, ok := f.OriginalPrice.Resolve(item); ok {
		p.OriginalPriceText = optional(Text(raw))
		p.OriginalPrice = ParseNumber(raw)
	}
	if raw, ok := f.Rating.Resolve(item); ok {
		p.Rating = ParseNumber(raw)
	}
	if raw, ok := f.ReviewCount.Resolve(item); ok {
		if v := ParseNumber(raw); v != nil {
			p.ReviewCount = int(math.Abs(*v))
		}
	}

	var explicit *float64
	if raw, ok := f.Discount.Resolve(item); ok {
		p.DiscountText = optional(Text(raw))
		explicit = ParseNumber(raw)
	}
	p.DiscountPct = DiscountPct(p.Price, p.OriginalPrice, explicit)

	return p
}

// DiscountPct derives the discount from both prices when the original price is
// positive, otherwise falls back to an explicit discount value.
func DiscountPct(price, original, explicit *float64) *int {
	if price != nil && original != nil && *original > 0 && *price >= 0 {
		pct := int(math.Round((*original - *price) / *original * 100))
		return &pct
	}
	if explicit != nil {
		pct := int(math.Round(math.Abs(*explicit)))
		return &pct
	}
	return nil
}

func (n *Normalizer) text(fields Fields, item models.RawItem) *string {
	raw, ok := fields.Resolve(item)
	if !ok {
		return nil
	}
	return optional(Text(raw))
}

func (n *Normalizer) url(fields Fields, item models.RawItem) *string {
	raw, ok := fields.Resolve(item)
	if !ok {
		return nil
	}
	return optional(NormalizeURL(Text(raw), n.origin))
}

func (n *Normalizer) inStock(item models.RawItem) bool {
	if raw, ok := n.fields.InStock.Resolve(item); ok {
		switch t := raw.(type) {
		case bool:
			if !t {
				return false
			}
		case string:
			if strings.EqualFold(strings.TrimSpace(t), "false") {
				return false
			}
		}
	}
	if raw, ok := n.fields.Availability.Resolve(item); ok {
		text := strings.ToLower(Text(raw))
		for _, marker := range outOfStockMarkers {
			if strings.Contains(text, marker) {
				return false
			}
		}
	}
	return true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
