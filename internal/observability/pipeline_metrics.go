package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineCollector exposes DSROQ pipeline Prometheus metrics: routing,
// scheduling, allocation, and flow lifecycle.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	RoutingDuration    prometheus.Histogram
	AllocationDuration prometheus.Histogram

	RouteFailures      prometheus.Counter
	AllocationFailures prometheus.Counter
	Reclamations       prometheus.Counter
	FlowExpiries       prometheus.Counter

	ActiveFlows     prometheus.Gauge
	PendingRequests prometheus.Gauge
	MeanUtilization prometheus.Gauge
	QueueBacklog    prometheus.Gauge
	VirtualBacklog  prometheus.Gauge
}

// NewPipelineCollector registers pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	routing := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dsroq_routing_duration_seconds",
		Help:    "Duration of MCTS route searches.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	routing, err := registerHistogram(reg, routing, "dsroq_routing_duration_seconds")
	if err != nil {
		return nil, err
	}

	allocation := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dsroq_allocation_duration_seconds",
		Help:    "Duration of bandwidth allocation attempts.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	allocation, err = registerHistogram(reg, allocation, "dsroq_allocation_duration_seconds")
	if err != nil {
		return nil, err
	}

	routeFailures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dsroq_route_failures_total",
		Help: "Route searches that found no feasible path.",
	}), "dsroq_route_failures_total")
	if err != nil {
		return nil, err
	}

	allocationFailures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dsroq_allocation_failures_total",
		Help: "Allocation attempts rejected after routing succeeded.",
	}), "dsroq_allocation_failures_total")
	if err != nil {
		return nil, err
	}

	reclamations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dsroq_reclamations_total",
		Help: "Cumulative number of preemptive bandwidth reclamation events.",
	}), "dsroq_reclamations_total")
	if err != nil {
		return nil, err
	}

	expiries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dsroq_flow_expiries_total",
		Help: "Flows released because their duration elapsed.",
	}), "dsroq_flow_expiries_total")
	if err != nil {
		return nil, err
	}

	activeFlows, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dsroq_active_flows",
		Help: "Number of currently committed flows.",
	}), "dsroq_active_flows")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dsroq_pending_requests",
		Help: "Requests waiting in the pending priority queue.",
	}), "dsroq_pending_requests")
	if err != nil {
		return nil, err
	}

	meanUtil, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "network_mean_link_utilization",
		Help: "Mean utilization across all directed links in the current snapshot.",
	}), "network_mean_link_utilization")
	if err != nil {
		return nil, err
	}

	backlog, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "network_queue_backlog",
		Help: "Sum of per-satellite queue backlogs in the current snapshot.",
	}), "network_queue_backlog")
	if err != nil {
		return nil, err
	}

	virtualBacklog, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dsroq_virtual_queue_backlog_mbps",
		Help: "Sum of the scheduler's per-class unmet-demand virtual queues.",
	}), "dsroq_virtual_queue_backlog_mbps")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:           gatherer,
		RoutingDuration:    routing,
		AllocationDuration: allocation,
		RouteFailures:      routeFailures,
		AllocationFailures: allocationFailures,
		Reclamations:       reclamations,
		FlowExpiries:       expiries,
		ActiveFlows:        activeFlows,
		PendingRequests:    pending,
		MeanUtilization:    meanUtil,
		QueueBacklog:       backlog,
		VirtualBacklog:     virtualBacklog,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PipelineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveRouting records one route search duration.
func (c *PipelineCollector) ObserveRouting(d time.Duration) {
	if c == nil || c.RoutingDuration == nil {
		return
	}
	c.RoutingDuration.Observe(d.Seconds())
}

// ObserveAllocation records one allocation attempt duration.
func (c *PipelineCollector) ObserveAllocation(d time.Duration) {
	if c == nil || c.AllocationDuration == nil {
		return
	}
	c.AllocationDuration.Observe(d.Seconds())
}

// IncRouteFailure counts a failed route search.
func (c *PipelineCollector) IncRouteFailure() {
	if c == nil || c.RouteFailures == nil {
		return
	}
	c.RouteFailures.Inc()
}

// IncAllocationFailure counts a post-routing allocation rejection.
func (c *PipelineCollector) IncAllocationFailure() {
	if c == nil || c.AllocationFailures == nil {
		return
	}
	c.AllocationFailures.Inc()
}

// AddReclamations counts preemptive reclamation events.
func (c *PipelineCollector) AddReclamations(n int) {
	if c == nil || c.Reclamations == nil || n <= 0 {
		return
	}
	c.Reclamations.Add(float64(n))
}

// AddFlowExpiries counts flows released on expiry.
func (c *PipelineCollector) AddFlowExpiries(n int) {
	if c == nil || c.FlowExpiries == nil || n <= 0 {
		return
	}
	c.FlowExpiries.Add(float64(n))
}

// SetActiveFlows updates the committed-flow gauge.
func (c *PipelineCollector) SetActiveFlows(count int) {
	if c == nil || c.ActiveFlows == nil {
		return
	}
	c.ActiveFlows.Set(float64(count))
}

// SetPendingRequests updates the pending-queue depth gauge.
func (c *PipelineCollector) SetPendingRequests(count int) {
	if c == nil || c.PendingRequests == nil {
		return
	}
	c.PendingRequests.Set(float64(count))
}

// SetMeanUtilization updates the snapshot-wide mean link utilization gauge.
func (c *PipelineCollector) SetMeanUtilization(u float64) {
	if c == nil || c.MeanUtilization == nil {
		return
	}
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	c.MeanUtilization.Set(u)
}

// SetQueueBacklog updates the total queue backlog gauge.
func (c *PipelineCollector) SetQueueBacklog(total float64) {
	if c == nil || c.QueueBacklog == nil {
		return
	}
	if total < 0 {
		total = 0
	}
	c.QueueBacklog.Set(total)
}

// SetVirtualBacklog updates the total unmet-demand gauge.
func (c *PipelineCollector) SetVirtualBacklog(total float64) {
	if c == nil || c.VirtualBacklog == nil {
		return
	}
	if total < 0 {
		total = 0
	}
	c.VirtualBacklog.Set(total)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
