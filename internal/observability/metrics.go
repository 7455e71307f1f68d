package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision label values for admission metrics.
const (
	DecisionLabelAccept   = "accept"
	DecisionLabelReject   = "reject"
	DecisionLabelDegraded = "degraded_accept"
	DecisionLabelDelayed  = "delayed_accept"
	DecisionLabelPartial  = "partial_accept"
)

// AdmissionCollector bundles Prometheus metrics for the admission surface.
type AdmissionCollector struct {
	gatherer prometheus.Gatherer

	Decisions        *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	Adjustments      *prometheus.CounterVec

	AdmittedBandwidth prometheus.Counter
}

// NewAdmissionCollector registers admission Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewAdmissionCollector(reg prometheus.Registerer) (*AdmissionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_decisions_total",
		Help: "Total number of admission decisions, labeled by controller variant and decision.",
	}, []string{"variant", "decision"})
	decisions, err := registerCounterVec(reg, decisions, "admission_decisions_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admission_decision_duration_seconds",
		Help:    "Admission decision latency in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"variant"})
	durations, err = registerHistogramVec(reg, durations, "admission_decision_duration_seconds")
	if err != nil {
		return nil, err
	}

	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_positioning_adjustments_total",
		Help: "Positioning-aware overrides of the base decision, labeled by adjustment kind.",
	}, []string{"adjustment"})
	adjustments, err = registerCounterVec(reg, adjustments, "admission_positioning_adjustments_total")
	if err != nil {
		return nil, err
	}

	admitted, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_admitted_bandwidth_mbps_total",
		Help: "Cumulative bandwidth granted by admitting decisions, in Mbps.",
	}), "admission_admitted_bandwidth_mbps_total")
	if err != nil {
		return nil, err
	}

	return &AdmissionCollector{
		gatherer:          gatherer,
		Decisions:         decisions,
		DecisionDuration:  durations,
		Adjustments:       adjustments,
		AdmittedBandwidth: admitted,
	}, nil
}

// ObserveDecision records one admission decision with its latency.
func (c *AdmissionCollector) ObserveDecision(variant, decision string, bandwidthMbps float64, d time.Duration) {
	if c == nil {
		return
	}
	if c.Decisions != nil {
		c.Decisions.WithLabelValues(variant, decision).Inc()
	}
	if c.DecisionDuration != nil {
		c.DecisionDuration.WithLabelValues(variant).Observe(d.Seconds())
	}
	if c.AdmittedBandwidth != nil && bandwidthMbps > 0 {
		c.AdmittedBandwidth.Add(bandwidthMbps)
	}
}

// IncAdjustment counts a positioning-aware override of the base decision.
func (c *AdmissionCollector) IncAdjustment(kind string) {
	if c == nil || c.Adjustments == nil {
		return
	}
	c.Adjustments.WithLabelValues(kind).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AdmissionCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *AdmissionCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
