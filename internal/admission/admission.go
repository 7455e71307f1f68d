// Package admission implements the admission-control variants that decide
// whether a user request enters the network: a threshold controller working
// from satellite load and link quality, and a positioning-aware wrapper that
// adjusts the base decision from positioning quality. Learned policies plug
// in from outside by implementing Controller.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/observability"
	"github.com/signalsfoundry/leo-admission/model"
)

var (
	ErrInvalidRequest = errors.New("invalid admission request")
	ErrNilState       = errors.New("nil network state")
)

// Controller decides admission for one user request against the current
// network snapshot. Implementations must be safe for concurrent use.
type Controller interface {
	Decide(ctx context.Context, req *model.UserRequest, state *core.NetworkState, pos *model.PositioningMetrics) (*model.AdmissionResult, error)
	Statistics() Statistics
	ResetStatistics()
	// Name returns the variant tag used in logs and metric labels.
	Name() string
}

// Statistics summarises decisions taken since the last reset.
type Statistics struct {
	TotalRequests    int64
	Accepted         int64
	Rejected         int64
	DegradedAccepted int64
	DelayedAccepted  int64
	PartialAccepted  int64

	// AdmissionRate counts every admitting decision (accept, degraded,
	// delayed, partial) against the total.
	AdmissionRate float64

	// QoSViolationRate counts the decisions that admitted a flow below its
	// requested bandwidth (degraded, partial) against the total.
	QoSViolationRate float64

	AvgDecisionTimeMs float64
}

// stats tracks decision counters shared by every controller variant.
type stats struct {
	mu sync.Mutex

	total      int64
	byDecision map[model.AdmissionDecision]int64

	decisionTime  time.Duration
	decisionCount int64
}

func newStats() *stats {
	return &stats{byDecision: make(map[model.AdmissionDecision]int64)}
}

func (s *stats) record(d model.AdmissionDecision, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byDecision[d]++
	s.decisionTime += took
	s.decisionCount++
}

func (s *stats) snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Statistics{
		TotalRequests:    s.total,
		Accepted:         s.byDecision[model.DecisionAccept],
		Rejected:         s.byDecision[model.DecisionReject],
		DegradedAccepted: s.byDecision[model.DecisionDegradedAccept],
		DelayedAccepted:  s.byDecision[model.DecisionDelayedAccept],
		PartialAccepted:  s.byDecision[model.DecisionPartialAccept],
	}
	if s.total > 0 {
		admitted := out.Accepted + out.DegradedAccepted + out.DelayedAccepted + out.PartialAccepted
		out.AdmissionRate = float64(admitted) / float64(s.total)
		out.QoSViolationRate = float64(out.DegradedAccepted+out.PartialAccepted) / float64(s.total)
	}
	if s.decisionCount > 0 {
		out.AvgDecisionTimeMs = s.decisionTime.Seconds() * 1000 / float64(s.decisionCount)
	}
	return out
}

func (s *stats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = 0
	s.byDecision = make(map[model.AdmissionDecision]int64)
	s.decisionTime = 0
	s.decisionCount = 0
}

// Option configures a controller at construction.
type Option func(*options)

type options struct {
	collector *observability.AdmissionCollector
}

// WithCollector wires admission metrics. A nil collector is a no-op.
func WithCollector(c *observability.AdmissionCollector) Option {
	return func(o *options) { o.collector = c }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// decisionLabel maps a decision onto its metric label value.
func decisionLabel(d model.AdmissionDecision) string {
	switch d {
	case model.DecisionAccept:
		return observability.DecisionLabelAccept
	case model.DecisionDegradedAccept:
		return observability.DecisionLabelDegraded
	case model.DecisionDelayedAccept:
		return observability.DecisionLabelDelayed
	case model.DecisionPartialAccept:
		return observability.DecisionLabelPartial
	default:
		return observability.DecisionLabelReject
	}
}

// reject builds a rejecting result. Rejections carry full confidence, no
// bandwidth, and no satellite.
func reject(reason string) *model.AdmissionResult {
	return &model.AdmissionResult{
		Decision:           model.DecisionReject,
		Confidence:         1.0,
		AllocatedBandwidth: 0,
		AllocatedSatellite: model.NoSatellite,
		Reason:             reason,
	}
}
