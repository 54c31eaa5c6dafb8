// Package models defines data structures for the scraper.
package models

import "time"

// Source identifies which extraction strategy produced a raw item.
type Source string

const (
	SourceAPI      Source = "api"
	SourceEmbedded Source = "embedded"
	SourceHTML     Source = "html"
)

// RawItem is an unnormalized, strategy-specific product representation.
type RawItem map[string]any

// Product is the canonical record emitted for every admitted catalog item.
type Product struct {
	ProductID         *string   `json:"productId"`
	Title             *string   `json:"title"`
	Brand             *string   `json:"brand"`
	Price             *float64  `json:"price"`
	PriceText         *string   `json:"priceText"`
	OriginalPrice     *float64  `json:"originalPrice"`
	OriginalPriceText *string   `json:"originalPriceText"`
	DiscountPct       *int      `json:"discountPct"`
	DiscountText      *string   `json:"discountText"`
	Rating            *float64  `json:"rating"`
	ReviewCount       int       `json:"reviewCount"`
	ImageURL          *string   `json:"imageUrl"`
	ProductURL        *string   `json:"productUrl"`
	InStock           bool      `json:"inStock"`
	SellerName        *string   `json:"sellerName"`
	Location          *string   `json:"location"`
	CategoryName      *string   `json:"categoryName"`
	ScrapedAt         time.Time `json:"scrapedAt"`
	Source            Source    `json:"source"`
}

// ID returns the product identity, or "" when none could be recovered.
func (p *Product) ID() string {
	if p == nil || p.ProductID == nil {
		return ""
	}
	return *p.ProductID
}

// CrawlResult holds the overall result of a crawl invocation.
type CrawlResult struct {
	RunID          string
	StartTime      time.Time
	EndTime        time.Time
	SavedCount     int
	PageCount      int
	FailedPages    int
	AbandonedPages int
	Escalated      bool
	Restarted      bool
	FinalEngine    string
	StrategyHits   map[Source]int
	ErrorsByType   map[string]int
	RetryCount     int
	RequestCount   int
}
