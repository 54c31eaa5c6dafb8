package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultMaxProducts replaces a negative or non-numeric products ceiling.
	DefaultMaxProducts = 100
	// DefaultMaxPages replaces a negative or non-numeric pages ceiling.
	DefaultMaxPages = 50
)

// TierConfig holds the scheduling knobs of one engine tier.
type TierConfig struct {
	Concurrency       int
	RequestsPerMinute int
	Delay             time.Duration
	RandomDelay       time.Duration
}

// Config holds scraper configuration.
type Config struct {
	// Catalog input.
	BaseURL           string
	StartURLs         []string
	CategoryURL       string
	SearchQuery       string
	MinPrice          string
	MaxPrice          string
	SortBy            string
	MaxProducts       int // 0 means unbounded
	MaxPages          int // 0 means unbounded
	IncludeOutOfStock bool
	ProxyURLs         []string
	UsePlaywright     bool

	// Engines.
	Light               TierConfig
	Heavy               TierConfig
	HeavyBackend        string // playwright or chromedp
	Headless            bool
	NavigationTimeout   time.Duration
	EscalationThreshold int

	// Transport.
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	UserAgent        string
	RespectRobotsTxt bool

	// Output.
	OutputFile         string
	OutputFormat       string // csv, json, dual, postgres or redis
	PostgresURL        string
	RedisAddr          string
	RedisKey           string
	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int

	Verbose     bool
	MetricsAddr string
}

// DefaultConfig returns conservative defaults for the Daraz catalog.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://www.daraz.pk",
		SortBy:      "popularity",
		MaxProducts: DefaultMaxProducts,
		MaxPages:    DefaultMaxPages,
		Light: TierConfig{
			Concurrency:       5,
			RequestsPerMinute: 120,
			Delay:             500 * time.Millisecond,
			RandomDelay:       1500 * time.Millisecond,
		},
		Heavy: TierConfig{
			Concurrency:       2,
			RequestsPerMinute: 20,
			Delay:             1 * time.Second,
			RandomDelay:       3 * time.Second,
		},
		HeavyBackend:        "playwright",
		Headless:            true,
		NavigationTimeout:   45 * time.Second,
		EscalationThreshold: 3,
		Timeout:             30 * time.Second,
		MaxRetries:          3,
		RetryBackoff:        500 * time.Millisecond,
		RetryBackoffMax:     5 * time.Second,
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		OutputFile:          "output/products.jsonl",
		OutputFormat:        "json",
		RedisKey:            "catalog:products",
		PipelineBufferSize:  64,
		BatchSize:           100,
		DedupeMaxSize:       100000,
	}
}

// Unbounded reports whether the products ceiling is disabled.
func (c *Config) Unbounded() bool {
	return c.MaxProducts == 0
}

// Origin returns scheme://host of the catalog site.
func (c *Config) Origin() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return u.Scheme + "://" + u.Host
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxProducts < 0 {
		return fmt.Errorf("max products cannot be negative")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if err := c.Light.validate("light"); err != nil {
		return err
	}
	if err := c.Heavy.validate("heavy"); err != nil {
		return err
	}
	if c.Heavy.Concurrency > c.Light.Concurrency {
		return fmt.Errorf("heavy concurrency (%d) cannot exceed light concurrency (%d)", c.Heavy.Concurrency, c.Light.Concurrency)
	}
	if c.HeavyBackend != "playwright" && c.HeavyBackend != "chromedp" {
		return fmt.Errorf("heavy backend must be playwright or chromedp")
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	if c.EscalationThreshold <= 0 {
		return fmt.Errorf("escalation threshold must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	switch c.OutputFormat {
	case "csv", "json", "dual":
		if c.OutputFile == "" {
			return fmt.Errorf("output file cannot be empty")
		}
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres output requires a postgres URL")
		}
	case "redis":
		if c.RedisAddr == "" || c.RedisKey == "" {
			return fmt.Errorf("redis output requires an address and a key")
		}
	default:
		return fmt.Errorf("output format must be csv, json, dual, postgres, or redis")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func (t TierConfig) validate(name string) error {
	if t.Concurrency <= 0 {
		return fmt.Errorf("%s concurrency must be positive", name)
	}
	if t.RequestsPerMinute < 0 {
		return fmt.Errorf("%s requests per minute cannot be negative", name)
	}
	if t.Delay < 0 {
		return fmt.Errorf("%s delay cannot be negative", name)
	}
	if t.RandomDelay < 0 {
		return fmt.Errorf("%s random delay cannot be negative", name)
	}
	return nil
}
