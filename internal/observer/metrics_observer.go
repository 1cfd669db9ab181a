package observer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsObserver exports recognition counts and latencies to Prometheus.
type MetricsObserver struct {
	recognitionsTotal   *prometheus.CounterVec
	recognitionDuration *prometheus.HistogramVec
	fetchFailuresTotal  prometheus.Counter
	inFlight            prometheus.Gauge
}

// NewMetricsObserver registers its collectors on reg.
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	factory := promauto.With(reg)
	return &MetricsObserver{
		recognitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocr_recognitions_total",
				Help: "Total number of recognition calls by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		recognitionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocr_recognition_duration_seconds",
				Help:    "Recognition latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),
		fetchFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ocr_image_fetch_failures_total",
				Help: "Total number of failed image downloads",
			},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ocr_recognitions_in_flight",
				Help: "Recognition calls currently running",
			},
		),
	}
}

func (o *MetricsObserver) OnEvent(ctx context.Context, event RecognitionEvent) {
	switch event.EventType {
	case RecognitionStarted:
		o.inFlight.Inc()
	case RecognitionCompleted, RecognitionDegraded, RecognitionFailed:
		o.inFlight.Dec()
		outcome := event.Outcome
		if outcome == "" {
			outcome = string(event.EventType)
		}
		o.recognitionsTotal.WithLabelValues(event.Backend, outcome).Inc()
		o.recognitionDuration.WithLabelValues(event.Backend).Observe(event.ProcessingTime.Seconds())
	case ImageFetchFailed:
		o.fetchFailuresTotal.Inc()
	}
}

func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}
