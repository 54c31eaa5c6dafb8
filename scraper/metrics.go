package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Metrics bundles Prometheus collectors for a crawl. It also serves as the
// fetch.Observer for both engine tiers.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ProductsSaved   prometheus.Counter
	DuplicatesTotal prometheus.Counter
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	PagesTotal      *prometheus.CounterVec
	StrategyHits    *prometheus.CounterVec
	Escalations     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "HTTP requests issued by the fetch clients.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	saved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_products_saved_total",
			Help: "Products admitted and sent to the sink.",
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_products_duplicate_total",
			Help: "Products dropped because their ID was already saved.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_retries_total",
			Help: "Fetch retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_errors_total",
			Help: "Fetch errors by type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_pages_total",
			Help: "Listing pages by outcome and engine tier.",
		},
		[]string{"outcome", "tier"},
	)
	hits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_strategy_hits_total",
			Help: "Pages whose items came from each extraction strategy.",
		},
		[]string{"source"},
	)
	escalations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_escalations_total",
			Help: "Engine escalations by kind.",
		},
		[]string{"kind"},
	)

	registry.MustRegister(requests, requestDuration, saved, duplicates, retries, errorsTotal, pages, hits, escalations)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ProductsSaved:   saved,
		DuplicatesTotal: duplicates,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		PagesTotal:      pages,
		StrategyHits:    hits,
		Escalations:     escalations,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) addAdmission(adm Admission) {
	if m == nil {
		return
	}
	m.ProductsSaved.Add(float64(len(adm.Admitted)))
	m.DuplicatesTotal.Add(float64(adm.Duplicates))
}

func (m *Metrics) incPage(outcome string, tier Tier) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome, tier.String()).Inc()
}

func (m *Metrics) incStrategy(source models.Source) {
	if m == nil {
		return
	}
	m.StrategyHits.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) incEscalation(kind string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(kind).Inc()
}
