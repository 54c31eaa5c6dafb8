package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

// options mirrors the command-line flags.
type options struct {
	inputFile         string
	baseURL           string
	startURLs         string
	categoryURL       string
	searchQuery       string
	minPrice          string
	maxPrice          string
	sortBy            string
	maxProducts       int
	maxPages          int
	includeOutOfStock bool
	proxies           string
	usePlaywright     bool
	backend           string
	headless          bool
	concurrency       int
	heavyConcurrency  int
	rpm               int
	heavyRPM          int
	delayMs           int
	randomDelayMs     int
	maxRetries        int
	retryBackoffMs    int
	retryBackoffMaxMs int
	respectRobots     bool
	outputFile        string
	outputFormat      string
	postgresURL       string
	redisAddr         string
	redisKey          string
	batchSize         int
	verbose           bool
	metricsAddr       string
}

func main() {
	defaults := config.DefaultConfig()
	envInt := func(key string, fallback int) int {
		value, ok, err := config.EnvInt(key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
			os.Exit(1)
		}
		if ok {
			return value
		}
		return fallback
	}
	envBool := func(key string, fallback bool) bool {
		value, ok, err := config.EnvBool(key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
			os.Exit(1)
		}
		if ok {
			return value
		}
		return fallback
	}
	envString := func(key, fallback string) string {
		if value, ok := config.EnvString(key); ok {
			return value
		}
		return fallback
	}

	var opts options
	flag.StringVar(&opts.inputFile, "input", envString("SCRAPER_INPUT", ""), "Input document (YAML or JSON) with startUrls, categoryUrl, searchQuery, ...")
	flag.StringVar(&opts.baseURL, "base-url", envString("SCRAPER_BASE_URL", defaults.BaseURL), "Catalog site origin")
	flag.StringVar(&opts.startURLs, "start-urls", envString("SCRAPER_START_URLS", ""), "Listing URLs, comma or newline separated")
	flag.StringVar(&opts.categoryURL, "category", envString("SCRAPER_CATEGORY_URL", ""), "Category listing URL")
	flag.StringVar(&opts.searchQuery, "search", envString("SCRAPER_SEARCH", ""), "Search query")
	flag.StringVar(&opts.minPrice, "min-price", "", "Minimum price for search")
	flag.StringVar(&opts.maxPrice, "max-price", "", "Maximum price for search")
	flag.StringVar(&opts.sortBy, "sort", defaults.SortBy, "Search sort order")
	flag.IntVar(&opts.maxProducts, "max-products", envInt("SCRAPER_MAX_PRODUCTS", defaults.MaxProducts), "Maximum products to save (0 = unlimited)")
	flag.IntVar(&opts.maxPages, "max-pages", envInt("SCRAPER_MAX_PAGES", defaults.MaxPages), "Maximum pages per listing (0 = unlimited)")
	flag.BoolVar(&opts.includeOutOfStock, "include-out-of-stock", envBool("SCRAPER_INCLUDE_OUT_OF_STOCK", false), "Keep products that are out of stock")
	flag.StringVar(&opts.proxies, "proxies", envString("SCRAPER_PROXY_URLS", ""), "Proxy URLs, comma separated")
	flag.BoolVar(&opts.usePlaywright, "playwright", envBool("SCRAPER_PLAYWRIGHT", false), "Start with the browser engine")
	flag.StringVar(&opts.backend, "backend", envString("SCRAPER_BROWSER_BACKEND", defaults.HeavyBackend), "Browser backend: playwright or chromedp")
	flag.BoolVar(&opts.headless, "headless", defaults.Headless, "Run the browser headless")
	flag.IntVar(&opts.concurrency, "concurrency", envInt("SCRAPER_CONCURRENCY", defaults.Light.Concurrency), "Concurrent pages on the HTTP engine")
	flag.IntVar(&opts.heavyConcurrency, "browser-concurrency", defaults.Heavy.Concurrency, "Concurrent pages on the browser engine")
	flag.IntVar(&opts.rpm, "rpm", defaults.Light.RequestsPerMinute, "Page loads per minute on the HTTP engine (0 = unlimited)")
	flag.IntVar(&opts.heavyRPM, "browser-rpm", defaults.Heavy.RequestsPerMinute, "Page loads per minute on the browser engine (0 = unlimited)")
	flag.IntVar(&opts.delayMs, "delay", int(defaults.Light.Delay/time.Millisecond), "Delay between requests (milliseconds)")
	flag.IntVar(&opts.randomDelayMs, "random-delay", int(defaults.Light.RandomDelay/time.Millisecond), "Random jitter added to delay (milliseconds)")
	flag.IntVar(&opts.maxRetries, "max-retries", defaults.MaxRetries, "Maximum retry attempts per request")
	flag.IntVar(&opts.retryBackoffMs, "retry-backoff", int(defaults.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	flag.IntVar(&opts.retryBackoffMaxMs, "retry-backoff-max", int(defaults.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	flag.BoolVar(&opts.respectRobots, "respect-robots", false, "Respect robots.txt directives")
	flag.StringVar(&opts.outputFile, "output", envString("SCRAPER_OUTPUT", defaults.OutputFile), "Output file path")
	flag.StringVar(&opts.outputFormat, "format", envString("SCRAPER_FORMAT", defaults.OutputFormat), "Output format: csv, json, dual, postgres, or redis")
	flag.StringVar(&opts.postgresURL, "postgres-url", envString("SCRAPER_POSTGRES_URL", ""), "Postgres connection string; also mirrors file output when set")
	flag.StringVar(&opts.redisAddr, "redis-addr", envString("SCRAPER_REDIS_ADDR", ""), "Redis address; also mirrors file output when set")
	flag.StringVar(&opts.redisKey, "redis-key", defaults.RedisKey, "Redis list key prefix")
	flag.IntVar(&opts.batchSize, "batch-size", defaults.BatchSize, "Maximum products per sink write")
	flag.BoolVar(&opts.verbose, "v", false, "Enable verbose logging")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", envString("SCRAPER_METRICS_ADDR", defaults.MetricsAddr), "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	runID := uuid.NewString()
	logger, level := newLogger(opts.verbose)
	slog.SetDefault(logger.With(slog.String("run_id", runID)))
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := buildConfig(opts)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting crawl",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_products", cfg.MaxProducts),
		slog.Int("max_pages", cfg.MaxPages),
		slog.String("format", cfg.OutputFormat),
		slog.Bool("browser_first", cfg.UsePlaywright),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(ctx, cfg, runID)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newMetricsRouter(s.Metrics.Registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, runErr := s.Run(ctx, p)
	if result != nil {
		result.RunID = runID
	}

	closeErr := p.Close()
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	metrics := p.GetMetrics()
	if result != nil {
		settleSaved(result, metrics)
		printSummary(result, time.Since(startTime), describeOutput(cfg), metrics)
	}

	switch {
	case runErr != nil:
		slog.Error("crawl failed", slog.Any("error", runErr))
		os.Exit(1)
	case closeErr != nil:
		slog.Error("pipeline shutdown failed", slog.Any("error", closeErr))
		os.Exit(1)
	}
	if err := writer.Validate(); err != nil {
		slog.Warn("output validation failed", slog.Any("error", err))
	}
}

func buildConfig(opts options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.BaseURL = opts.baseURL
	cfg.StartURLs = splitList(opts.startURLs, "\n,")
	cfg.CategoryURL = strings.TrimSpace(opts.categoryURL)
	cfg.SearchQuery = strings.TrimSpace(opts.searchQuery)
	cfg.MinPrice = strings.TrimSpace(opts.minPrice)
	cfg.MaxPrice = strings.TrimSpace(opts.maxPrice)
	cfg.SortBy = opts.sortBy
	cfg.MaxProducts = ceilingOrDefault(opts.maxProducts, config.DefaultMaxProducts)
	cfg.MaxPages = ceilingOrDefault(opts.maxPages, config.DefaultMaxPages)
	cfg.IncludeOutOfStock = opts.includeOutOfStock
	cfg.ProxyURLs = splitList(opts.proxies, ",")
	cfg.UsePlaywright = opts.usePlaywright
	cfg.HeavyBackend = strings.ToLower(opts.backend)
	cfg.Headless = opts.headless
	cfg.Light.Concurrency = opts.concurrency
	cfg.Light.RequestsPerMinute = opts.rpm
	cfg.Light.Delay = time.Duration(opts.delayMs) * time.Millisecond
	cfg.Light.RandomDelay = time.Duration(opts.randomDelayMs) * time.Millisecond
	cfg.Heavy.Concurrency = opts.heavyConcurrency
	cfg.Heavy.RequestsPerMinute = opts.heavyRPM
	cfg.MaxRetries = opts.maxRetries
	cfg.RetryBackoff = time.Duration(opts.retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(opts.retryBackoffMaxMs) * time.Millisecond
	cfg.RespectRobotsTxt = opts.respectRobots
	cfg.OutputFile = opts.outputFile
	cfg.OutputFormat = strings.ToLower(opts.outputFormat)
	cfg.PostgresURL = opts.postgresURL
	cfg.RedisAddr = opts.redisAddr
	cfg.RedisKey = opts.redisKey
	cfg.BatchSize = opts.batchSize
	cfg.Verbose = opts.verbose
	cfg.MetricsAddr = opts.metricsAddr

	if opts.inputFile != "" {
		in, err := config.LoadInput(opts.inputFile)
		if err != nil {
			return nil, err
		}
		in.Apply(cfg)
	}
	if cfg.Heavy.Concurrency > cfg.Light.Concurrency {
		cfg.Heavy.Concurrency = cfg.Light.Concurrency
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ceilingOrDefault(v, fallback int) int {
	if v < 0 {
		return fallback
	}
	return v
}

func splitList(raw, seps string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return strings.ContainsRune(seps, r) }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// createWriter opens the primary output and mirrors it into Postgres or Redis
// when those are configured alongside a file format.
func createWriter(ctx context.Context, cfg *config.Config, runID string) (pipeline.OutputWriter, error) {
	redisKey := cfg.RedisKey + ":" + runID

	var primary pipeline.OutputWriter
	var err error
	switch cfg.OutputFormat {
	case "json":
		primary, err = pipeline.NewJSONWriter(cfg.OutputFile)
	case "csv":
		primary, err = pipeline.NewCSVWriter(cfg.OutputFile)
	case "dual":
		base := strings.TrimSuffix(cfg.OutputFile, filepath.Ext(cfg.OutputFile))
		primary, err = pipeline.NewDualWriter(base+".csv", base+".jsonl")
	case "postgres":
		return pipeline.NewPostgresWriter(ctx, cfg.PostgresURL, runID)
	case "redis":
		return pipeline.NewRedisWriter(ctx, cfg.RedisAddr, redisKey)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
	if err != nil {
		return nil, err
	}

	writers := []pipeline.OutputWriter{primary}
	if cfg.PostgresURL != "" {
		pg, err := pipeline.NewPostgresWriter(ctx, cfg.PostgresURL, runID)
		if err != nil {
			primary.Close()
			return nil, err
		}
		writers = append(writers, pg)
	}
	if cfg.RedisAddr != "" {
		rw, err := pipeline.NewRedisWriter(ctx, cfg.RedisAddr, redisKey)
		if err != nil {
			for _, w := range writers {
				w.Close()
			}
			return nil, err
		}
		writers = append(writers, rw)
	}
	if len(writers) == 1 {
		return primary, nil
	}
	return pipeline.NewMultiWriter(writers...), nil
}

// settleSaved caps the saved count at what the writer actually persisted.
// Admission counts products once they are queued, so a failed or timed-out
// write leaves the admission count ahead of the output.
func settleSaved(result *models.CrawlResult, metrics map[string]interface{}) {
	written, ok := metrics["written_products"].(int64)
	if !ok {
		return
	}
	if int(written) < result.SavedCount {
		slog.Warn("some admitted products were not written",
			slog.Int("admitted", result.SavedCount),
			slog.Int64("written", written),
		)
		result.SavedCount = int(written)
	}
}

func describeOutput(cfg *config.Config) string {
	switch cfg.OutputFormat {
	case "postgres":
		return "postgres catalog_products"
	case "redis":
		return "redis list " + cfg.RedisKey
	}
	return cfg.OutputFile
}

func printSummary(result *models.CrawlResult, duration time.Duration, output string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Saved:         %d\n", result.SavedCount)
	fmt.Printf("  Pages:         %d (empty %d, abandoned %d)\n", result.PageCount, result.FailedPages, result.AbandonedPages)
	fmt.Printf("  Engine:        %s (escalated %t, restarted %t)\n", result.FinalEngine, result.Escalated, result.Restarted)
	if len(result.StrategyHits) > 0 {
		sources := make([]string, 0, len(result.StrategyHits))
		for source, hits := range result.StrategyHits {
			sources = append(sources, fmt.Sprintf("%s=%d", source, hits))
		}
		sort.Strings(sources)
		fmt.Printf("  Strategies:    %s\n", strings.Join(sources, " "))
	}
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if warnings, ok := metrics["validation_warnings"].(map[string]int); ok && len(warnings) > 0 {
		fmt.Printf("  Incomplete:    %v\n", warnings)
	}
	perSec := 0.0
	if duration.Seconds() > 0 {
		perSec = float64(result.SavedCount) / duration.Seconds()
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Products/sec:  %.2f\n", perSec)
	fmt.Printf("  Output:        %s\n", output)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
