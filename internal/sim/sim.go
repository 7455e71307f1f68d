// Package sim drives the admission core end to end. A traffic generator
// produces user requests per step, the engine feeds them through admission
// and the DSROQ pipeline against per-step constellation snapshots, and a
// performance monitor aggregates what happened into per-step samples that
// can be exported as CSV.
package sim

import (
	"errors"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/observability"
	"github.com/signalsfoundry/leo-admission/model"
)

var (
	// ErrUnknownPattern names a traffic pattern no built-in matches.
	ErrUnknownPattern = errors.New("unknown traffic pattern")

	// ErrMissingComponent marks an engine constructed without one of its
	// required collaborators.
	ErrMissingComponent = errors.New("missing engine component")
)

// PositioningFunc supplies externally computed positioning metrics for a
// user location against the current snapshot. The engine passes the result
// through to admission untouched; returning nil is allowed and leaves the
// base admission decision in force.
type PositioningFunc func(lat, lon float64, state *core.NetworkState) *model.PositioningMetrics

// Option configures the engine at construction.
type Option func(*options)

type options struct {
	collector   *observability.PipelineCollector
	positioning PositioningFunc
}

// WithCollector wires the pipeline collector the engine uses for its
// per-step gauges. All collector methods tolerate nil.
func WithCollector(c *observability.PipelineCollector) Option {
	return func(o *options) { o.collector = c }
}

// WithPositioning installs a positioning source consulted once per request.
func WithPositioning(fn PositioningFunc) Option {
	return func(o *options) { o.positioning = fn }
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
