package dsroq

import (
	"context"
	"math"
	"sync"

	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/model"
)

// Scheduling modes and queue-management policies attached to a decision.
const (
	ModeConservative = "conservative"
	ModeBalanced     = "balanced"
	ModeAggressive   = "aggressive"

	QueueDropTail = "drop_tail"
	QueueActive   = "active_queue"
	QueueFair     = "fair_queue"
)

// LyapunovConfig holds the drift-plus-penalty tunables.
type LyapunovConfig struct {
	// V trades queue stability against QoE penalty; larger values weigh the
	// penalty term more.
	V float64 `yaml:"v" json:"v"`

	// ServiceRateMbps is the per-node drain rate assumed by the drift term.
	ServiceRateMbps float64 `yaml:"service_rate_mbps" json:"service_rate_mbps"`

	// QueueBacklogLimit is the backlog beyond which any node forces the
	// conservative tier regardless of drift.
	QueueBacklogLimit float64 `yaml:"queue_backlog_limit" json:"queue_backlog_limit"`

	// LambdaPos weighs the positioning-degradation penalty of long routes.
	LambdaPos float64 `yaml:"lambda_pos" json:"lambda_pos"`
}

// DefaultLyapunovConfig returns the standard scheduler parameters.
func DefaultLyapunovConfig() LyapunovConfig {
	return LyapunovConfig{
		V:                 1.0,
		ServiceRateMbps:   50.0,
		QueueBacklogLimit: 100.0,
		LambdaPos:         0.2,
	}
}

// SchedulingDecision is the per-flow output of the Lyapunov scheduler:
// a priority tier, a rate limit, and the queueing behavior downstream
// elements should apply.
type SchedulingDecision struct {
	Priority        int
	RateLimitMbps   float64
	SchedulingMode  string
	QueueManagement string
}

// LyapunovScheduler picks a scheduling tier per flow by minimizing Lyapunov
// drift plus a flow-type-specific QoE penalty. It keeps its own view of
// per-node queue backlogs, nudged on every scheduling call and refreshable
// from real telemetry, and a per-class virtual queue fed by the demand the
// chosen rate limit could not serve and drained by a fixed per-call budget.
type LyapunovScheduler struct {
	cfg LyapunovConfig
	log logging.Logger

	mu            sync.Mutex
	queueStates   map[int]float64
	virtualQueues map[model.QoSClass]float64
}

// NewLyapunovScheduler constructs a scheduler. A nil logger is replaced with
// a no-op one.
func NewLyapunovScheduler(cfg LyapunovConfig, log logging.Logger) *LyapunovScheduler {
	if log == nil {
		log = logging.Noop()
	}
	return &LyapunovScheduler{
		cfg:           cfg,
		log:           log.With(logging.String("component", "lyapunov_scheduler")),
		queueStates:   make(map[int]float64),
		virtualQueues: make(map[model.QoSClass]float64),
	}
}

// Schedule decides the tier for one flow on the given route. Each call adds
// arrival·0.1 backlog to every route node before evaluating drift, modelling
// the load the flow itself adds.
func (s *LyapunovScheduler) Schedule(flow *model.FlowRequest, route []int) SchedulingDecision {
	arrival := 0.0
	if flow != nil {
		arrival = flow.BandwidthMbps
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range route {
		s.queueStates[node] += arrival * 0.1
	}

	dpp := s.driftPlusPenalty(flow, route, arrival)
	decision := s.decide(dpp)

	if flow != nil {
		shortfall := math.Max(0, arrival-decision.RateLimitMbps)
		q := s.virtualQueues[flow.QoSClass] + shortfall - virtualQueueDrainMbps
		if q > 0 {
			s.virtualQueues[flow.QoSClass] = q
		} else {
			delete(s.virtualQueues, flow.QoSClass)
		}
	}

	s.log.Debug(context.Background(), "scheduling decision",
		logging.Float64("drift_plus_penalty", dpp),
		logging.String("mode", decision.SchedulingMode),
		logging.Float64("rate_limit_mbps", decision.RateLimitMbps))
	return decision
}

// UpdateQueueStates replaces the scheduler's backlog view with telemetry
// values. The map is copied.
func (s *LyapunovScheduler) UpdateQueueStates(queues map[int]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueStates = make(map[int]float64, len(queues))
	for node, q := range queues {
		s.queueStates[node] = q
	}
}

// QueueStates returns a copy of the scheduler's backlog view.
func (s *LyapunovScheduler) QueueStates() map[int]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]float64, len(s.queueStates))
	for node, q := range s.queueStates {
		out[node] = q
	}
	return out
}

// VirtualQueues returns a copy of the per-class unmet-demand backlog in
// Mbps. A class stays stable when its backlog hovers near zero; a growing
// value means its flows persistently receive less than they ask for.
// Telemetry updates do not touch these; only Reset clears them.
func (s *LyapunovScheduler) VirtualQueues() map[model.QoSClass]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.QoSClass]float64, len(s.virtualQueues))
	for class, q := range s.virtualQueues {
		out[class] = q
	}
	return out
}

// Reset clears all tracked backlogs and virtual queues.
func (s *LyapunovScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueStates = make(map[int]float64)
	s.virtualQueues = make(map[model.QoSClass]float64)
}

// driftPlusPenalty computes drift = Σ queue·(arrival − service) over the
// route plus V times the QoE penalty. Caller holds s.mu.
func (s *LyapunovScheduler) driftPlusPenalty(flow *model.FlowRequest, route []int, arrival float64) float64 {
	drift := 0.0
	for _, node := range route {
		drift += s.queueStates[node] * (arrival - s.cfg.ServiceRateMbps)
	}
	return drift + s.cfg.V*s.qoePenalty(flow, route)
}

// qoePenalty is flow-type-specific: EF pays for path delay beyond its latency
// bound, AF for the loss proxy of a long path, BE for throughput below its
// requirement. Long routes add a positioning-degradation penalty on top.
func (s *LyapunovScheduler) qoePenalty(flow *model.FlowRequest, route []int) float64 {
	if flow == nil {
		return 0
	}
	n := float64(len(route))

	penalty := 0.0
	switch flow.FlowType {
	case model.FlowEF:
		penalty = math.Max(0, n*hopDelayMs-flow.MaxLatencyMs)
	case model.FlowAF:
		penalty = 10.0 * (1.0 - math.Pow(perHopDeliveryRate, n))
	default:
		penalty = math.Max(0, flow.BandwidthMbps-pathThroughputMbps)
	}
	return penalty + s.cfg.LambdaPos*positioningPenalty(len(route))
}

// Simplified path models shared by the QoE penalty terms, and the tolerated
// per-call violation budget drained from each virtual queue.
const (
	hopDelayMs            = 10.0
	perHopDeliveryRate    = 0.999
	pathThroughputMbps    = 50.0
	virtualQueueDrainMbps = 1.0
)

// positioningPenalty grows with route length: every node beyond two costs
// 0.5, amplified past six nodes where cooperative positioning degrades.
func positioningPenalty(nodes int) float64 {
	if nodes <= 2 {
		return 0
	}
	p := float64(nodes-2) * 0.5
	if nodes > 6 {
		p *= 1.5
	}
	return p
}

// decide maps drift-plus-penalty and the congestion flag onto a tier.
// Caller holds s.mu.
func (s *LyapunovScheduler) decide(dpp float64) SchedulingDecision {
	maxQueue := 0.0
	for _, q := range s.queueStates {
		if q > maxQueue {
			maxQueue = q
		}
	}
	congested := maxQueue > s.cfg.QueueBacklogLimit

	switch {
	case dpp > 1000 || congested:
		return SchedulingDecision{
			Priority:        1,
			RateLimitMbps:   20.0,
			SchedulingMode:  ModeConservative,
			QueueManagement: QueueDropTail,
		}
	case dpp > 500:
		return SchedulingDecision{
			Priority:        5,
			RateLimitMbps:   40.0,
			SchedulingMode:  ModeBalanced,
			QueueManagement: QueueActive,
		}
	default:
		return SchedulingDecision{
			Priority:        10,
			RateLimitMbps:   100.0,
			SchedulingMode:  ModeAggressive,
			QueueManagement: QueueFair,
		}
	}
}
