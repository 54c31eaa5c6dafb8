package parser

import (
	"fmt"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ValidateProduct reports records missing the fields a catalog consumer relies on.
// Callers treat the result as a warning; the record is still emitted.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if p.Title == nil {
		return fmt.Errorf("product %s missing title", p.ID())
	}
	if p.Price == nil {
		return fmt.Errorf("product %s missing price", describe(p))
	}
	if p.ProductURL == nil {
		return fmt.Errorf("product %s missing product URL", describe(p))
	}
	return nil
}

func describe(p *models.Product) string {
	if id := p.ID(); id != "" {
		return id
	}
	return fmt.Sprintf("%q", *p.Title)
}
