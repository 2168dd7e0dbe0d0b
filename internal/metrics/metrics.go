// Package metrics exposes Prometheus collectors for generation, featurization and transport.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector of the simulator. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry           *prometheus.Registry
	readingsGenerated  prometheus.Counter
	anomaliesInjected  prometheus.Counter
	metersGenerated    prometheus.Counter
	generationDuration prometheus.Histogram
	featureRows        *prometheus.CounterVec
	featureDuration    *prometheus.HistogramVec
	readingsPublished  *prometheus.CounterVec
	publishErrors      *prometheus.CounterVec
	readingsConsumed   prometheus.Counter
	queueDropped       prometheus.Counter
}

// New builds the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readingsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_readings_generated_total",
			Help: "Total synthetic readings generated.",
		}),
		anomaliesInjected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_anomalies_injected_total",
			Help: "Total synthetic readings flagged as anomalies.",
		}),
		metersGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_meters_generated_total",
			Help: "Total meters whose telemetry has been synthesized.",
		}),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_generation_duration_seconds",
			Help:    "Histogram of full dataset generation durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		featureRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "features_rows_total",
			Help: "Total feature rows built by model.",
		}, []string{"model"}),
		featureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "features_build_duration_seconds",
			Help:    "Histogram of feature table build durations by model.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		readingsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_readings_published_total",
			Help: "Total readings handed to a transport by sink.",
		}, []string{"sink"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_publish_errors_total",
			Help: "Total publish failures by sink.",
		}, []string{"sink"}),
		readingsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_readings_consumed_total",
			Help: "Total replayed readings accepted by the processor.",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_readings_dropped_total",
			Help: "Total replayed readings dropped before aggregation.",
		}),
	}

	m.registry.MustRegister(
		m.readingsGenerated,
		m.anomaliesInjected,
		m.metersGenerated,
		m.generationDuration,
		m.featureRows,
		m.featureDuration,
		m.readingsPublished,
		m.publishErrors,
		m.readingsConsumed,
		m.queueDropped,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMeter records one meter's worth of generated readings.
func (m *Metrics) ObserveMeter(readings, anomalies int) {
	if m == nil {
		return
	}
	m.metersGenerated.Inc()
	m.readingsGenerated.Add(float64(readings))
	m.anomaliesInjected.Add(float64(anomalies))
}

// ObserveGeneration records how long a full dataset took.
func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.generationDuration.Observe(d.Seconds())
}

// ObserveFeatures records one built feature table.
func (m *Metrics) ObserveFeatures(model string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.featureRows.WithLabelValues(model).Add(float64(rows))
	m.featureDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObservePublish records readings handed to a sink and whether the hand-off failed.
func (m *Metrics) ObservePublish(sink string, readings int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishErrors.WithLabelValues(sink).Inc()
		return
	}
	m.readingsPublished.WithLabelValues(sink).Add(float64(readings))
}

// ObserveConsumed records readings accepted by the processor.
func (m *Metrics) ObserveConsumed(readings int) {
	if m == nil {
		return
	}
	m.readingsConsumed.Add(float64(readings))
}

// ObserveDropped records readings dropped on a full queue.
func (m *Metrics) ObserveDropped(readings int) {
	if m == nil {
		return
	}
	m.queueDropped.Add(float64(readings))
}
