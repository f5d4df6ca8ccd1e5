// Package monitoring exposes the inference service's Prometheus metrics.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	Predictions    *prometheus.CounterVec
	InputErrors    *prometheus.CounterVec
	ModelErrors    prometheus.Counter
	CacheLookups   *prometheus.CounterVec
	ModelInfo      *prometheus.GaugeVec
	PredictLatency prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asd_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asd_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		Predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asd_predictions_total",
				Help: "Successful predictions by label",
			},
			[]string{"label"},
		),
		InputErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asd_input_errors_total",
				Help: "Rejected prediction inputs by field and kind",
			},
			[]string{"field", "kind"},
		),
		ModelErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "asd_model_errors_total",
			Help: "Predictions that failed inside the model",
		}),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asd_prediction_cache_lookups_total",
				Help: "Prediction cache lookups by result",
			},
			[]string{"result"},
		),
		ModelInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "asd_model_info",
				Help: "Constant 1, labelled with the loaded model",
			},
			[]string{"name", "kind", "feature_order_version"},
		),
		PredictLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asd_predict_duration_seconds",
			Help:    "Time spent preprocessing and scoring one record",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
	}
}

// Registry is exposed for tests that gather metrics directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, statusText(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) SetModel(name, kind, featureOrderVersion string) {
	m.ModelInfo.Reset()
	m.ModelInfo.WithLabelValues(name, kind, featureOrderVersion).Set(1)
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
