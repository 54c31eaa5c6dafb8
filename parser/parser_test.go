package parser

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

func strPtr(s string) *string      { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestValidateProduct(t *testing.T) {
	tests := []struct {
		name    string
		product *models.Product
		wantErr bool
	}{
		{
			name: "valid product",
			product: &models.Product{
				ProductID:  strPtr("123"),
				Title:      strPtr("Wireless Earbuds"),
				Price:      floatPtr(1250),
				ProductURL: strPtr("https://www.daraz.pk/products/earbuds-i123.html"),
				InStock:    true,
				ScrapedAt:  time.Now(),
			},
			wantErr: false,
		},
		{
			name:    "nil product",
			product: nil,
			wantErr: true,
		},
		{
			name: "missing title",
			product: &models.Product{
				ProductID:  strPtr("123"),
				Price:      floatPtr(1250),
				ProductURL: strPtr("https://www.daraz.pk/products/x-i123.html"),
			},
			wantErr: true,
		},
		{
			name: "missing price",
			product: &models.Product{
				Title:      strPtr("Wireless Earbuds"),
				ProductURL: strPtr("https://www.daraz.pk/products/x-i123.html"),
			},
			wantErr: true,
		},
		{
			name: "missing url",
			product: &models.Product{
				Title: strPtr("Wireless Earbuds"),
				Price: floatPtr(1250),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProduct(tt.product)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProduct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected *float64
	}{
		{name: "currency with thousands", input: "Rs. 1,250", expected: floatPtr(1250)},
		{name: "decimal", input: "4.5 out of 5", expected: floatPtr(4.5)},
		{name: "float value", input: 899.0, expected: floatPtr(899)},
		{name: "json number", input: json.Number("2500"), expected: floatPtr(2500)},
		{name: "negative discount", input: "-50%", expected: floatPtr(-50)},
		{name: "no digits", input: "Free", expected: nil},
		{name: "nil", input: nil, expected: nil},
		{name: "overflow is not finite", input: strings.Repeat("9", 400), expected: nil},
		{name: "unsupported type", input: []any{1}, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNumber(tt.input)
			switch {
			case tt.expected == nil && got != nil:
				t.Errorf("ParseNumber(%v) = %v, want nil", tt.input, *got)
			case tt.expected != nil && (got == nil || *got != *tt.expected):
				t.Errorf("ParseNumber(%v) = %v, want %v", tt.input, got, *tt.expected)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	origin, _ := url.Parse("https://www.daraz.pk/")
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "protocol relative", input: "//img.drz.lazcdn.com/a.jpg", expected: "https://img.drz.lazcdn.com/a.jpg"},
		{name: "root relative", input: "/products/x-i1.html", expected: "https://www.daraz.pk/products/x-i1.html"},
		{name: "relative", input: "products/x-i1.html", expected: "https://www.daraz.pk/products/x-i1.html"},
		{name: "absolute", input: "https://www.daraz.pk/products/x-i1.html?spm=a", expected: "https://www.daraz.pk/products/x-i1.html?spm=a"},
		{name: "doubled scheme", input: "https:https://www.daraz.pk/products/x-i1.html", expected: "https://www.daraz.pk/products/x-i1.html"},
		{name: "absolute cdn", input: "https://img.test/a.jpg", expected: "https://img.test/a.jpg"},
		{name: "blank", input: "  ", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.input, origin); got != tt.expected {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	origin, _ := url.Parse("https://www.daraz.pk/")
	inputs := []string{
		"//img.test/a.jpg",
		"/catalog/?q=shoes",
		"https:https://www.daraz.pk/p-i9.html",
		"http://legacy.test/x",
	}
	for _, in := range inputs {
		once := NormalizeURL(in, origin)
		if twice := NormalizeURL(once, origin); twice != once {
			t.Errorf("NormalizeURL not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestDiscountPct(t *testing.T) {
	tests := []struct {
		name     string
		price    *float64
		original *float64
		explicit *float64
		expected *int
	}{
		{name: "derived from prices", price: floatPtr(1250), original: floatPtr(2500), expected: intPtr(50)},
		{name: "rounded", price: floatPtr(999), original: floatPtr(1499), expected: intPtr(33)},
		{name: "derived wins over explicit", price: floatPtr(75), original: floatPtr(100), explicit: floatPtr(-40), expected: intPtr(25)},
		{name: "explicit fallback", price: floatPtr(75), explicit: floatPtr(-40), expected: intPtr(40)},
		{name: "zero original", price: floatPtr(75), original: floatPtr(0), expected: nil},
		{name: "single price", price: floatPtr(75), expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiscountPct(tt.price, tt.original, tt.explicit)
			switch {
			case tt.expected == nil && got != nil:
				t.Errorf("DiscountPct() = %d, want nil", *got)
			case tt.expected != nil && (got == nil || *got != *tt.expected):
				t.Errorf("DiscountPct() = %v, want %d", got, *tt.expected)
			}
		})
	}
}

func intPtr(i int) *int { return &i }
