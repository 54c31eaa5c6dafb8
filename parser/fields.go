package parser

import (
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Accessor pulls one candidate value out of a raw item. ok is false when the
// candidate is not present.
type Accessor func(item models.RawItem) (value any, ok bool)

// Path returns an Accessor for a dotted key path such as "aggregateRating.ratingValue".
// When an intermediate value or the leaf is a list its first element is used.
func Path(path string) Accessor {
	keys := strings.Split(path, ".")
	return func(item models.RawItem) (any, bool) {
		var cur any = map[string]any(item)
		for _, key := range keys {
			cur = first(cur)
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[key]
			if !ok {
				return nil, false
			}
		}
		cur = first(cur)
		if isBlank(cur) {
			return nil, false
		}
		return cur, true
	}
}

// Fields is the ordered list of accessors tried for one canonical field.
type Fields []Accessor

// Paths builds Fields from dotted key paths.
func Paths(paths ...string) Fields {
	out := make(Fields, 0, len(paths))
	for _, p := range paths {
		out = append(out, Path(p))
	}
	return out
}

// Resolve returns the first defined candidate.
func (f Fields) Resolve(item models.RawItem) (any, bool) {
	for _, get := range f {
		if v, ok := get(item); ok {
			return v, true
		}
	}
	return nil, false
}

// FieldTable maps each canonical product field to its candidate accessors.
type FieldTable struct {
	ProductID     Fields
	Title         Fields
	Brand         Fields
	Price         Fields
	OriginalPrice Fields
	Discount      Fields
	Rating        Fields
	ReviewCount   Fields
	ImageURL      Fields
	ProductURL    Fields
	InStock       Fields
	Availability  Fields
	SellerName    Fields
	Location      Fields
	CategoryName  Fields
}

// DefaultFieldTable covers the listing API, the embedded page state, ld+json
// ItemList entries and the keys produced by the markup strategy.
func DefaultFieldTable() FieldTable {
	return FieldTable{
		ProductID:     Paths("itemId", "productId", "nid", "sku", "productID", "id"),
		Title:         Paths("name", "title"),
		Brand:         Paths("brandName", "brand.name", "brand"),
		Price:         Paths("price", "priceShow", "salePrice", "offers.price", "offers.lowPrice"),
		OriginalPrice: Paths("originalPrice", "originalPriceShow", "listPrice", "offers.highPrice"),
		Discount:      Paths("discount", "discountText"),
		Rating:        Paths("ratingScore", "rating", "aggregateRating.ratingValue"),
		ReviewCount:   Paths("review", "reviewCount", "aggregateRating.reviewCount", "aggregateRating.ratingCount"),
		ImageURL:      Paths("image", "imageUrl", "img", "thumbnail"),
		ProductURL:    Paths("productUrl", "itemUrl", "url"),
		InStock:       Paths("inStock"),
		Availability:  Paths("availability", "offers.availability", "stock"),
		SellerName:    Paths("sellerName", "seller.name"),
		Location:      Paths("location"),
		CategoryName:  Paths("categoryName", "category"),
	}
}

func first(v any) any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}
