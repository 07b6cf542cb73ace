package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "playlistfromweb"

// Metrics implements core.Metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SearchesTotal     *prometheus.CounterVec
	ResolutionsTotal  *prometheus.CounterVec
	CatalogRetries    *prometheus.CounterVec
	PlaylistWrites    *prometheus.CounterVec
	TracksAddedTotal  prometheus.Counter
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	LLMCallsTotal     *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
	RateLimitedTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "searches_total",
				Help:      "Catalog searches by query variant and outcome",
			},
			[]string{"variant", "status"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "resolutions_total",
				Help:      "Track resolutions by outcome",
			},
			[]string{"outcome"},
		),
		CatalogRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "catalog_retries_total",
				Help:      "Retried catalog requests by reason",
			},
			[]string{"reason"},
		),
		PlaylistWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "playlist_writes_total",
				Help:      "Playlist write operations by operation and status",
			},
			[]string{"op", "status"},
		),
		TracksAddedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tracks_added_total",
				Help:      "Tracks added to playlists",
			},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by mode and status",
			},
			[]string{"mode", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Time spent per pipeline run",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),
		LLMCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "llm_calls_total",
				Help:      "Language model calls by provider and status",
			},
			[]string{"provider", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Errors by component and type",
			},
			[]string{"component", "type"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_rate_limited_total",
				Help:      "API requests rejected by the floodgate",
			},
			[]string{"route"},
		),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SearchesTotal,
		m.ResolutionsTotal,
		m.CatalogRetries,
		m.PlaylistWrites,
		m.TracksAddedTotal,
		m.RunsTotal,
		m.RunDuration,
		m.LLMCallsTotal,
		m.ErrorsTotal,
		m.HTTPRequestsTotal,
		m.RateLimitedTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordSearch(variant, status string) {
	m.SearchesTotal.WithLabelValues(variant, status).Inc()
}

func (m *Metrics) RecordResolution(outcome string) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCatalogRetry(reason string) {
	m.CatalogRetries.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPlaylistWrite(op, status string) {
	m.PlaylistWrites.WithLabelValues(op, status).Inc()
}

func (m *Metrics) RecordTracksAdded(n int) {
	if n > 0 {
		m.TracksAddedTotal.Add(float64(n))
	}
}

func (m *Metrics) RecordRun(mode, status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordLLMCall(provider, status string) {
	m.LLMCallsTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
