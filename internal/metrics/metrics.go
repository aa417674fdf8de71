// Package metrics exports pipeline counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

const namespace = "docextract"

type Metrics struct {
	documents *prometheus.CounterVec
	pages     *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	duration  prometheus.Histogram
	requests  *prometheus.CounterVec
	gatherer  prometheus.Gatherer
}

// New registers the collectors on reg. Tests pass a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Processed documents by outcome and tier",
		}, []string{"status", "tier"}),
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pages_total",
			Help:      "Extracted pages by outcome",
		}, []string{"outcome"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Model tokens reported by the provider",
		}, []string{"direction"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "document_duration_seconds",
			Help:      "Wall time per document",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "requests_total",
			Help:      "Review API requests by route and status code",
		}, []string{"route", "code"}),
		gatherer: reg,
	}
}

// ObserveDocument implements pipeline.Observer.
func (m *Metrics) ObserveDocument(r entity.DocumentResult) {
	tier := string(r.Tier)
	if tier == "" {
		tier = "none"
	}
	m.documents.WithLabelValues(string(r.Status), tier).Inc()
	m.pages.WithLabelValues("ok").Add(float64(r.Pages - r.ErroredPages))
	m.pages.WithLabelValues("errored").Add(float64(r.ErroredPages))
	m.pages.WithLabelValues("dropped").Add(float64(r.DroppedPages))
	m.tokens.WithLabelValues("input").Add(float64(r.Usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(r.Usage.OutputTokens))
	m.duration.Observe(r.Duration.Seconds())
}

// ObserveRequest counts one review API response.
func (m *Metrics) ObserveRequest(route, code string) {
	m.requests.WithLabelValues(route, code).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
