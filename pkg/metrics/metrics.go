// Package metrics provides Prometheus instrumentation of the weighing pipeline.
// A nil *Metrics is valid and turns every method into a no-op.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scalebridge"

// Metrics holds Prometheus metrics for the poll loop and the sinks
type Metrics struct {
	polls         prometheus.Counter
	pollLatency   prometheus.Histogram
	deviceErrors  *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	currentWeight prometheus.Gauge
	lastEvent     prometheus.Gauge

	sinkDeliveries *prometheus.CounterVec
	sinkFailures   *prometheus.CounterVec
	sinkLatency    *prometheus.HistogramVec
}

// New creates and registers all metrics with the provided registerer
func New(reg prometheus.Registerer) (*Metrics, error) {

	// No registry, no metrics
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "polls_total",
			Help:      "Total weight queries sent to the scale",
		}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "poll_duration_seconds",
			Help:      "Duration of a single query round trip",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		deviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "errors_total",
			Help:      "Failed queries by error kind",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stabilizer",
			Name:      "samples_total",
			Help:      "Accepted samples by stabilization outcome",
		}, []string{"outcome"}),
		currentWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stabilizer",
			Name:      "current_weight_grams",
			Help:      "Most recent weight reading in grams",
		}),
		lastEvent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stabilizer",
			Name:      "last_stable_weight_grams",
			Help:      "Weight of the most recently emitted stable weight event",
		}),
		sinkDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "deliveries_total",
			Help:      "Successful event deliveries by sink",
		}, []string{"sink"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "failures_total",
			Help:      "Failed event deliveries by sink",
		}, []string{"sink"}),
		sinkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of a single event delivery",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
	}

	for _, c := range []prometheus.Collector{
		m.polls, m.pollLatency, m.deviceErrors, m.outcomes, m.currentWeight,
		m.lastEvent, m.sinkDeliveries, m.sinkFailures, m.sinkLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// ObservePoll records a completed query round trip (successful or not)
func (m *Metrics) ObservePoll(latency time.Duration) {
	if m == nil {
		return
	}
	m.polls.Inc()
	m.pollLatency.Observe(latency.Seconds())
}

// DeviceError records a failed query
func (m *Metrics) DeviceError(kind string) {
	if m == nil {
		return
	}
	m.deviceErrors.WithLabelValues(kind).Inc()
}

// Sample records an accepted sample and its stabilization outcome
func (m *Metrics) Sample(weight float64, outcome string) {
	if m == nil {
		return
	}
	m.currentWeight.Set(weight)
	m.outcomes.WithLabelValues(outcome).Inc()
}

// StableWeight records an emitted event
func (m *Metrics) StableWeight(weight float64) {
	if m == nil {
		return
	}
	m.lastEvent.Set(weight)
}

// SinkResult records the result of a single event delivery
func (m *Metrics) SinkResult(sink string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.sinkLatency.WithLabelValues(sink).Observe(latency.Seconds())
	if err != nil {
		m.sinkFailures.WithLabelValues(sink).Inc()
		return
	}
	m.sinkDeliveries.WithLabelValues(sink).Inc()
}
