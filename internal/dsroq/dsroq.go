// Package dsroq implements the resource pipeline that runs behind admission:
// MCTS route search, Lyapunov drift-plus-penalty scheduling, and QoS-floor
// bandwidth allocation with preemptive reclamation. A Controller orchestrates
// the three stages per request and owns the only path that mutates a
// NetworkState snapshot, so route searches can run in parallel against
// clones while commits stay serialized.
package dsroq

import (
	"errors"

	"github.com/signalsfoundry/leo-admission/internal/observability"
)

const tracerName = "leo-admission/dsroq"

// Sentinel errors for the pipeline stages. Callers map them onto REJECT
// semantics with errors.Is; nothing in this package panics.
var (
	// ErrRouteNotFound means the search exhausted its budget without a
	// root-to-destination path, or no feasible neighbor exists at all.
	ErrRouteNotFound = errors.New("route not found")

	// ErrInfeasibleAllocation means the allocator could not reach the flow's
	// QoS floor even after reclaiming from lower classes.
	ErrInfeasibleAllocation = errors.New("infeasible allocation")

	// ErrUnknownFlow marks the release of a flow the allocator never
	// committed; the controller treats it as an idempotent no-op.
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrInvalidFlow marks a nil or malformed flow request.
	ErrInvalidFlow = errors.New("invalid flow request")

	// ErrNilState marks a missing network state snapshot.
	ErrNilState = errors.New("nil network state")
)

// Option configures pipeline components at construction time.
type Option func(*options)

type options struct {
	collector *observability.PipelineCollector
}

// WithCollector wires a Prometheus pipeline collector. All collector methods
// tolerate nil, so components skip instrumentation when none is configured.
func WithCollector(c *observability.PipelineCollector) Option {
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
