package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-scrape-stations/fetcher"
	"github.com/aluiziolira/go-scrape-stations/models"
)

// Metrics bundles Prometheus collectors for a collection run.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	PagesTotal       prometheus.Counter
	RegionsTotal     *prometheus.CounterVec
	StationsTotal    prometheus.Counter
	FilteredTotal    prometheus.Counter
	RetriesTotal     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	SessionRefreshes prometheus.Counter
	ActiveWorkers    prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_requests_total",
			Help: "Provider requests by page kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_request_duration_seconds",
			Help:    "Provider request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_pages_total",
			Help: "Pages successfully fetched.",
		},
	)
	regions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_regions_total",
			Help: "Regions finished by terminal status.",
		},
		[]string{"status"},
	)
	stations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_stations_total",
			Help: "Stations handed to the writer.",
		},
	)
	filtered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_stations_filtered_total",
			Help: "Stations dropped as out of jurisdiction.",
		},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_retries_total",
			Help: "Page retries by reason.",
		},
		[]string{"reason"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_errors_total",
			Help: "Request errors by type.",
		},
		[]string{"error_type"},
	)
	refreshes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_session_refreshes_total",
			Help: "Times the shared session was replaced.",
		},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_active_workers",
			Help: "Workers currently collecting a region.",
		},
	)

	registry.MustRegister(requests, requestDuration, pages, regions, stations, filtered, retries, errorsTotal, refreshes, active)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		PagesTotal:       pages,
		RegionsTotal:     regions,
		StationsTotal:    stations,
		FilteredTotal:    filtered,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		SessionRefreshes: refreshes,
		ActiveWorkers:    active,
	}
}

// ObserveRequest records one provider request.
func (m *Metrics) ObserveRequest(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = fetcher.ErrorTypeLabel(err)
		m.ErrorsTotal.WithLabelValues(outcome).Inc()
	}
	m.RequestsTotal.WithLabelValues(kind, outcome).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncPages increments the pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncRetries increments the retries counter for a reason label.
func (m *Metrics) IncRetries(reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(reason).Inc()
}

// IncSessionRefresh counts a session replacement.
func (m *Metrics) IncSessionRefresh() {
	if m == nil {
		return
	}
	m.SessionRefreshes.Inc()
}

// ObserveResult records a finished region.
func (m *Metrics) ObserveResult(res *models.CollectionResult) {
	if m == nil || res == nil {
		return
	}
	m.RegionsTotal.WithLabelValues(string(res.Status)).Inc()
	m.StationsTotal.Add(float64(len(res.Stations)))
	m.FilteredTotal.Add(float64(res.Filtered))
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *Metrics) workerDone() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}
