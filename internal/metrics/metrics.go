// Package metrics defines the prometheus collectors of the prediction
// service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Predictions   *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	Duration      prometheus.Histogram
	ClipSeconds   prometheus.Histogram
	Confidence    prometheus.Histogram
	ModelFeatures prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emotion_predictions_total",
				Help: "Predictions served, by predicted emotion.",
			},
			[]string{"emotion"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emotion_prediction_errors_total",
				Help: "Failed prediction requests, by reason.",
			},
			[]string{"reason"},
		),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emotion_prediction_duration_seconds",
			Help:    "Time from upload to answer.",
			Buckets: prometheus.DefBuckets,
		}),
		ClipSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emotion_clip_duration_seconds",
			Help:    "Length of the uploaded audio.",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10, 30},
		}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "emotion_prediction_confidence",
			Help:    "Probability of the predicted emotion.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		ModelFeatures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotion_model_features",
			Help: "Feature vector length of the loaded model.",
		}),
	}
	m.registry.MustRegister(
		m.Predictions, m.Errors, m.Duration, m.ClipSeconds, m.Confidence, m.ModelFeatures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePrediction records a successful prediction.
func (m *Metrics) ObservePrediction(emotion string, confidence, clipSeconds float64, elapsed time.Duration) {
	m.Predictions.WithLabelValues(emotion).Inc()
	m.Confidence.Observe(confidence)
	m.ClipSeconds.Observe(clipSeconds)
	m.Duration.Observe(elapsed.Seconds())
}

// ObserveError records a failed request.
func (m *Metrics) ObserveError(reason string) {
	m.Errors.WithLabelValues(reason).Inc()
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
