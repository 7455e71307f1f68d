package admission

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/model"
)

// Candidate score weights: lighter load counts more than link quality.
const (
	loadScoreWeight    = 0.6
	qualityScoreWeight = 0.4
)

// ThresholdConfig holds the tunables of the threshold controller.
type ThresholdConfig struct {
	// MaxBandwidthMbps and MinLatencyMs bound what the system can serve at
	// all; requests outside them are rejected before any satellite search.
	MaxBandwidthMbps float64 `yaml:"max_bandwidth_mbps" json:"max_bandwidth_mbps"`
	MinLatencyMs     float64 `yaml:"min_latency_ms" json:"min_latency_ms"`

	// MaxSatelliteLoad filters candidates by queue-derived load;
	// MinLinkQuality by 1 minus mean incident-link utilization.
	MaxSatelliteLoad float64 `yaml:"max_satellite_load" json:"max_satellite_load"`
	MinLinkQuality   float64 `yaml:"min_link_quality" json:"min_link_quality"`

	// QueueCapacity is the backlog treated as load 1.0.
	QueueCapacity float64 `yaml:"queue_capacity" json:"queue_capacity"`

	// TotalCapacityMbps and QueueDrainFactor define the simplified
	// per-satellite availability model: available = total − queue·drain.
	TotalCapacityMbps float64 `yaml:"total_capacity_mbps" json:"total_capacity_mbps"`
	QueueDrainFactor  float64 `yaml:"queue_drain_factor" json:"queue_drain_factor"`

	// MinBandwidthThresholdMbps is the least bandwidth worth admitting in
	// degraded form.
	MinBandwidthThresholdMbps float64 `yaml:"min_bandwidth_threshold_mbps" json:"min_bandwidth_threshold_mbps"`

	// MinSignalStrengthDBm drops visible satellites with a weaker reported
	// signal when positioning data is present.
	MinSignalStrengthDBm float64 `yaml:"min_signal_strength_dbm" json:"min_signal_strength_dbm"`
}

// DefaultThresholdConfig returns the standard thresholds.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		MaxBandwidthMbps:          100,
		MinLatencyMs:              10,
		MaxSatelliteLoad:          0.8,
		MinLinkQuality:            0.3,
		QueueCapacity:             100,
		TotalCapacityMbps:         100,
		QueueDrainFactor:          0.1,
		MinBandwidthThresholdMbps: 1.0,
		MinSignalStrengthDBm:      -120,
	}
}

// Threshold admits requests by filtering satellites on load and link
// quality, scoring the survivors, and granting bandwidth from a simplified
// per-satellite capacity model.
type Threshold struct {
	cfg  ThresholdConfig
	log  logging.Logger
	opts options

	stats *stats
}

// NewThreshold constructs the threshold controller. A nil logger is
// replaced with a no-op one.
func NewThreshold(cfg ThresholdConfig, log logging.Logger, opts ...Option) *Threshold {
	if log == nil {
		log = logging.Noop()
	}
	return &Threshold{
		cfg:   cfg,
		log:   log.With(logging.String("controller", "threshold")),
		opts:  applyOptions(opts),
		stats: newStats(),
	}
}

// Name implements Controller.
func (t *Threshold) Name() string { return "threshold" }

// Statistics implements Controller.
func (t *Threshold) Statistics() Statistics { return t.stats.snapshot() }

// ResetStatistics implements Controller.
func (t *Threshold) ResetStatistics() { t.stats.reset() }

// Decide implements Controller.
func (t *Threshold) Decide(ctx context.Context, req *model.UserRequest, state *core.NetworkState, pos *model.PositioningMetrics) (*model.AdmissionResult, error) {
	start := time.Now()
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if state == nil {
		return nil, ErrNilState
	}

	ctx, log := logging.WithRequestLogger(ctx, t.log)
	ctx, span := otel.Tracer("leo-admission/admission").Start(ctx, "admission.decide")
	span.SetAttributes(attribute.String("variant", t.Name()), attribute.String("service_type", string(req.ServiceType)))
	defer span.End()

	res := t.decide(ctx, req, state, pos, log)

	took := time.Since(start)
	t.stats.record(res.Decision, took)
	t.opts.collector.ObserveDecision(t.Name(), decisionLabel(res.Decision), res.AllocatedBandwidth, took)
	span.SetAttributes(attribute.String("decision", res.Decision.String()))
	return res, nil
}

func (t *Threshold) decide(ctx context.Context, req *model.UserRequest, state *core.NetworkState, pos *model.PositioningMetrics, log logging.Logger) *model.AdmissionResult {
	if !validQoS(req) {
		log.Debug(ctx, "malformed request", logging.String("user", req.UserID))
		return reject("invalid QoS parameters")
	}
	if req.BandwidthMbps > t.cfg.MaxBandwidthMbps || req.MaxLatencyMs < t.cfg.MinLatencyMs {
		log.Debug(ctx, "request outside system capability",
			logging.Float64("bandwidth_mbps", req.BandwidthMbps),
			logging.Float64("max_latency_ms", req.MaxLatencyMs))
		return reject("QoS requirement out of system capability")
	}

	candidates := t.candidates(state, pos)
	if len(candidates) == 0 {
		log.Debug(ctx, "no candidate satellite", logging.String("user", req.UserID))
		return reject("no available satellite")
	}

	best := selectBest(candidates)

	available := t.cfg.TotalCapacityMbps - state.QueueLength(best)*t.cfg.QueueDrainFactor
	if available < 0 {
		available = 0
	}

	var res *model.AdmissionResult
	switch {
	case available >= req.BandwidthMbps:
		res = &model.AdmissionResult{
			Decision:           model.DecisionAccept,
			Confidence:         0.9,
			AllocatedBandwidth: req.BandwidthMbps,
			AllocatedSatellite: best,
			Reason:             "all thresholds satisfied",
		}
	case available >= t.cfg.MinBandwidthThresholdMbps:
		res = &model.AdmissionResult{
			Decision:           model.DecisionDegradedAccept,
			Confidence:         0.7,
			AllocatedBandwidth: available,
			AllocatedSatellite: best,
			Reason:             fmt.Sprintf("bandwidth degraded to %.1f Mbps", available),
		}
	default:
		res = reject("insufficient available bandwidth")
	}

	log.Debug(ctx, "admission decision",
		logging.String("decision", res.Decision.String()),
		logging.Int("satellite", res.AllocatedSatellite),
		logging.Float64("bandwidth_mbps", res.AllocatedBandwidth))
	return res
}

// validQoS screens malformed parameters before any satellite search.
func validQoS(req *model.UserRequest) bool {
	if req.BandwidthMbps <= 0 || math.IsNaN(req.BandwidthMbps) {
		return false
	}
	if math.IsNaN(req.MaxLatencyMs) {
		return false
	}
	if req.Priority < 1 || req.Priority > 10 {
		return false
	}
	return true
}

type candidate struct {
	id      int
	load    float64
	quality float64
}

// candidates builds the filtered satellite set. With positioning data the
// search is restricted to visible satellites above the signal cutoff;
// otherwise every active satellite is considered.
func (t *Threshold) candidates(state *core.NetworkState, pos *model.PositioningMetrics) []candidate {
	var visible map[int]bool
	if pos != nil && len(pos.VisibleSatellites) > 0 {
		visible = make(map[int]bool, len(pos.VisibleSatellites))
		for _, id := range pos.VisibleSatellites {
			visible[id] = true
		}
	}

	out := make([]candidate, 0, len(state.Satellites))
	for _, sat := range state.Satellites {
		if !sat.Active {
			continue
		}
		if visible != nil {
			if !visible[sat.ID] {
				continue
			}
			if sig, ok := pos.SignalStrengths[sat.ID]; ok && sig < t.cfg.MinSignalStrengthDBm {
				continue
			}
		}

		load := satelliteLoad(state, sat.ID, t.cfg.QueueCapacity)
		if load > t.cfg.MaxSatelliteLoad {
			continue
		}
		quality := linkQuality(state, sat.ID)
		if quality < t.cfg.MinLinkQuality {
			continue
		}

		out = append(out, candidate{id: sat.ID, load: load, quality: quality})
	}
	return out
}

// selectBest picks the highest-scoring candidate; ties keep the lowest
// satellite ID so repeated runs stay deterministic.
func selectBest(candidates []candidate) int {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	best := candidates[0].id
	bestScore := -1.0
	for _, c := range candidates {
		score := loadScoreWeight*(1-c.load) + qualityScoreWeight*c.quality
		if score > bestScore {
			bestScore = score
			best = c.id
		}
	}
	return best
}

// satelliteLoad maps queue backlog onto [0,1].
func satelliteLoad(state *core.NetworkState, id int, queueCapacity float64) float64 {
	if queueCapacity <= 0 {
		return 0
	}
	load := state.QueueLength(id) / queueCapacity
	if load > 1 {
		load = 1
	}
	return load
}

// linkQuality is 1 minus the mean utilization of incident links. Satellites
// with no links report perfect quality.
func linkQuality(state *core.NetworkState, id int) float64 {
	return 1 - state.MeanIncidentUtilization(id)
}
