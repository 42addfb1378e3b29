package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a crawl.
type Metrics struct {
	Registry            *prometheus.Registry
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RetriesTotal        prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	RecordsEmittedTotal *prometheus.CounterVec
	FrontierTransitions *prometheus.CounterVec
	ListingPagesTotal   prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_proxy_requests_total",
			Help: "Total proxy requests issued, by crawl stage.",
		},
		[]string{"stage"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_proxy_request_duration_seconds",
			Help:    "Proxy request latency, by crawl stage.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"stage"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Total number of crawl errors by type.",
		},
		[]string{"error_type"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_records_emitted_total",
			Help: "Records handed to the output sink, by record kind.",
		},
		[]string{"kind"},
	)
	frontier := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_frontier_transitions_total",
			Help: "Frontier entries entering each status.",
		},
		[]string{"status"},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_listing_pages_total",
			Help: "Listing pages fetched and extracted.",
		},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, records, frontier, pages)

	return &Metrics{
		Registry:            registry,
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		RetriesTotal:        retries,
		ErrorsTotal:         errorsTotal,
		RecordsEmittedTotal: records,
		FrontierTransitions: frontier,
		ListingPagesTotal:   pages,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(stage string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(stage).Inc()
}

// ObserveDuration records a proxy request duration.
func (m *Metrics) ObserveDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(stage).Observe(d.Seconds())
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

// IncRecords counts a record handed to the sink.
func (m *Metrics) IncRecords(kind string) {
	if m == nil {
		return
	}
	m.RecordsEmittedTotal.WithLabelValues(kind).Inc()
}

// IncFrontier counts a frontier entry entering status.
func (m *Metrics) IncFrontier(status string) {
	if m == nil {
		return
	}
	m.FrontierTransitions.WithLabelValues(status).Inc()
}

// IncPages counts an extracted listing page.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.ListingPagesTotal.Inc()
}
