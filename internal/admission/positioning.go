package admission

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/model"
)

// SubScores keys published on every positioning-adjusted result.
const (
	SubScoreVisibility = "satellite_visibility"
	SubScoreGDOP       = "gdop_quality"
	SubScoreAccuracy   = "positioning_accuracy"
	SubScoreSignal     = "signal_strength"
	SubScoreGeometry   = "geometry_distribution"
	SubScoreOverall    = "overall_quality"
)

// Sub-score weights for the aggregate quality score.
const (
	visibilityWeight = 0.30
	gdopWeight       = 0.25
	accuracyWeight   = 0.25
	signalWeight     = 0.15
	geometryWeight   = 0.05
)

// Quality and service-importance thresholds for the adjustment rules.
const (
	poorQuality      = 0.3
	unusableQuality  = 0.1
	goodQuality      = 0.7
	excellentQuality = 0.8

	criticalService = 0.7
	tolerantService = 0.3
)

// Normalisation ranges for the sub-scores.
const (
	// signalFloorDBm..signalFloorDBm+signalRangeDB maps onto [0,1].
	signalFloorDBm      = -140.0
	signalRangeDB       = 60.0
	fullVisibilityCount = 10.0
	// fullSpreadDeg of elevation standard deviation scores 1.0; a meaningful
	// spread needs at least geometryMinSats satellites.
	fullSpreadDeg   = 45.0
	geometryMinSats = 4
)

// defaultQueueCapacity is the backlog treated as load 1.0 by the satellite
// reselection scan, which runs without access to the base controller's
// thresholds.
const defaultQueueCapacity = 100.0

// PositioningConfig holds the tunables of the positioning-aware wrapper.
type PositioningConfig struct {
	// PositioningWeight scales how strongly quality moves confidence on
	// accepted requests.
	PositioningWeight float64 `yaml:"positioning_weight" json:"positioning_weight"`

	// MinVisibleSatellites below which the visibility sub-score is zero.
	MinVisibleSatellites int `yaml:"min_visible_satellites" json:"min_visible_satellites"`

	// MaxGDOPThreshold is the GDOP span mapped onto the quality range;
	// GDOP 1.0 scores 1.0 and GDOP 1+MaxGDOPThreshold scores 0.
	MaxGDOPThreshold float64 `yaml:"max_gdop_threshold" json:"max_gdop_threshold"`
}

// DefaultPositioningConfig returns the standard wrapper tunables.
func DefaultPositioningConfig() PositioningConfig {
	return PositioningConfig{
		PositioningWeight:    0.3,
		MinVisibleSatellites: 4,
		MaxGDOPThreshold:     10.0,
	}
}

// PositioningAware wraps a base controller and adjusts its decision from an
// externally computed positioning-quality score. Without positioning data the
// base decision passes through untouched.
type PositioningAware struct {
	base Controller
	cfg  PositioningConfig
	log  logging.Logger
	opts options

	stats *stats
}

// NewPositioningAware constructs the wrapper. A nil base falls back to a
// default threshold controller, a nil logger to a no-op one.
func NewPositioningAware(base Controller, cfg PositioningConfig, log logging.Logger, opts ...Option) *PositioningAware {
	if log == nil {
		log = logging.Noop()
	}
	if base == nil {
		base = NewThreshold(DefaultThresholdConfig(), log)
	}
	return &PositioningAware{
		base:  base,
		cfg:   cfg,
		log:   log.With(logging.String("controller", "positioning_aware")),
		opts:  applyOptions(opts),
		stats: newStats(),
	}
}

// Name implements Controller.
func (p *PositioningAware) Name() string { return "positioning_aware" }

// Statistics implements Controller.
func (p *PositioningAware) Statistics() Statistics { return p.stats.snapshot() }

// BaseStatistics reports the inner controller's counters, which include
// decisions later adjusted by this wrapper.
func (p *PositioningAware) BaseStatistics() Statistics { return p.base.Statistics() }

// ResetStatistics implements Controller. The inner controller resets too.
func (p *PositioningAware) ResetStatistics() {
	p.stats.reset()
	p.base.ResetStatistics()
}

// Decide implements Controller.
func (p *PositioningAware) Decide(ctx context.Context, req *model.UserRequest, state *core.NetworkState, pos *model.PositioningMetrics) (*model.AdmissionResult, error) {
	start := time.Now()
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if state == nil {
		return nil, ErrNilState
	}

	ctx, log := logging.WithRequestLogger(ctx, p.log)
	ctx, span := otel.Tracer("leo-admission/admission").Start(ctx, "admission.decide")
	span.SetAttributes(attribute.String("variant", p.Name()), attribute.String("service_type", string(req.ServiceType)))
	defer span.End()

	base, err := p.base.Decide(ctx, req, state, pos)
	if err != nil {
		return nil, err
	}

	res := base
	if pos == nil {
		log.Debug(ctx, "no positioning data, base decision stands")
	} else {
		scores := p.evaluateQuality(pos)
		res = p.adjust(base, req, state, pos, scores)
		log.Debug(ctx, "positioning-adjusted decision",
			logging.String("base_decision", base.Decision.String()),
			logging.String("decision", res.Decision.String()),
			logging.Float64("quality", scores[SubScoreOverall]),
			logging.Float64("confidence", res.Confidence))
	}

	took := time.Since(start)
	p.stats.record(res.Decision, took)
	p.opts.collector.ObserveDecision(p.Name(), decisionLabel(res.Decision), res.AllocatedBandwidth, took)
	span.SetAttributes(attribute.String("decision", res.Decision.String()))
	return res, nil
}

// evaluateQuality computes the five component scores and their weighted
// aggregate. Missing inputs score zero rather than failing the decision.
func (p *PositioningAware) evaluateQuality(pos *model.PositioningMetrics) map[string]float64 {
	scores := make(map[string]float64, 6)

	visible := len(pos.VisibleSatellites)
	var visibility float64
	if visible >= p.cfg.MinVisibleSatellites {
		visibility = math.Min(1, float64(visible)/fullVisibilityCount)
	}
	scores[SubScoreVisibility] = visibility

	var gdopScore float64
	if pos.GDOP > 0 && !math.IsInf(pos.GDOP, 1) {
		gdopScore = clamp01(1 - (pos.GDOP-1)/p.cfg.MaxGDOPThreshold)
	}
	scores[SubScoreGDOP] = gdopScore

	scores[SubScoreAccuracy] = clamp01(pos.PositioningAccuracy)

	var signalScore float64
	if visible > 0 {
		dbm := make([]float64, 0, visible)
		for _, id := range pos.VisibleSatellites {
			s, ok := pos.SignalStrengths[id]
			if !ok {
				s = signalFloorDBm
			}
			dbm = append(dbm, s)
		}
		signalScore = clamp01((stat.Mean(dbm, nil) - signalFloorDBm) / signalRangeDB)
	}
	scores[SubScoreSignal] = signalScore

	var geometryScore float64
	if visible >= geometryMinSats {
		elev := make([]float64, 0, visible)
		for _, id := range pos.VisibleSatellites {
			elev = append(elev, pos.Elevations[id])
		}
		geometryScore = math.Min(1, stat.PopStdDev(elev, nil)/fullSpreadDeg)
	}
	scores[SubScoreGeometry] = geometryScore

	scores[SubScoreOverall] = clamp01(visibilityWeight*visibility +
		gdopWeight*gdopScore +
		accuracyWeight*scores[SubScoreAccuracy] +
		signalWeight*signalScore +
		geometryWeight*geometryScore)
	return scores
}

// adjust applies the quality-keyed adjustment rules to the base decision.
func (p *PositioningAware) adjust(base *model.AdmissionResult, req *model.UserRequest, state *core.NetworkState, pos *model.PositioningMetrics, scores map[string]float64) *model.AdmissionResult {
	importance := req.ServiceType.PositioningWeight()
	influence := p.cfg.PositioningWeight * importance
	quality := scores[SubScoreOverall]

	var res *model.AdmissionResult
	switch base.Decision {
	case model.DecisionAccept:
		if quality < poorQuality && importance > criticalService {
			if quality < unusableQuality {
				res = reject("positioning quality insufficient for service")
				p.opts.collector.IncAdjustment("reject")
			} else {
				res = &model.AdmissionResult{
					Decision:           model.DecisionDegradedAccept,
					Confidence:         base.Confidence * 0.8,
					AllocatedBandwidth: base.AllocatedBandwidth * 0.8,
					AllocatedSatellite: base.AllocatedSatellite,
					Reason:             "marginal positioning quality, service degraded",
				}
				p.opts.collector.IncAdjustment("downgrade")
			}
		} else {
			res = &model.AdmissionResult{
				Decision:           base.Decision,
				Confidence:         math.Min(1, base.Confidence+quality*influence),
				AllocatedBandwidth: base.AllocatedBandwidth,
				AllocatedSatellite: base.AllocatedSatellite,
				Reason:             fmt.Sprintf("positioning quality good (quality=%.2f)", quality),
			}
		}

	case model.DecisionReject:
		upgraded := false
		if quality > excellentQuality && importance < tolerantService {
			// Positioning-tolerant service under excellent positioning: offer
			// half the requested bandwidth on a freshly selected satellite.
			if sat, ok := bestSatellite(state, pos); ok {
				res = &model.AdmissionResult{
					Decision:           model.DecisionDegradedAccept,
					Confidence:         0.6,
					AllocatedBandwidth: req.BandwidthMbps * 0.5,
					AllocatedSatellite: sat,
					Reason:             "excellent positioning quality, degraded service offered",
				}
				p.opts.collector.IncAdjustment("upgrade")
				upgraded = true
			}
		}
		if !upgraded {
			res = reject(fmt.Sprintf("%s (positioning quality=%.2f)", base.Reason, quality))
		}

	case model.DecisionDegradedAccept:
		factor, boost := 0.8, 0.0
		switch {
		case quality > goodQuality:
			factor, boost = 0.9, 0.1
		case quality < poorQuality:
			factor, boost = 0.6, -0.1
		}
		res = &model.AdmissionResult{
			Decision:           base.Decision,
			Confidence:         math.Max(0.1, math.Min(1, base.Confidence+boost)),
			AllocatedBandwidth: base.AllocatedBandwidth * factor,
			AllocatedSatellite: base.AllocatedSatellite,
			Reason:             fmt.Sprintf("degradation adjusted for positioning quality (quality=%.2f)", quality),
		}
		p.opts.collector.IncAdjustment("rescale")

	default:
		res = &model.AdmissionResult{
			Decision:           base.Decision,
			Confidence:         base.Confidence,
			AllocatedBandwidth: base.AllocatedBandwidth,
			AllocatedSatellite: base.AllocatedSatellite,
			DelaySeconds:       base.DelaySeconds,
			Reason:             fmt.Sprintf("%s (positioning quality=%.2f)", base.Reason, quality),
		}
	}

	res.PositioningScore = quality
	res.SubScores = scores
	return res
}

// bestSatellite is the unfiltered score scan used when an adjustment needs a
// satellite the base controller did not pick. Visible satellites only when
// positioning lists them, active satellites always.
func bestSatellite(state *core.NetworkState, pos *model.PositioningMetrics) (int, bool) {
	var visible map[int]bool
	if pos != nil && len(pos.VisibleSatellites) > 0 {
		visible = make(map[int]bool, len(pos.VisibleSatellites))
		for _, id := range pos.VisibleSatellites {
			visible[id] = true
		}
	}

	best := model.NoSatellite
	bestScore := -1.0
	for _, sat := range state.Satellites {
		if !sat.Active {
			continue
		}
		if visible != nil && !visible[sat.ID] {
			continue
		}
		load := satelliteLoad(state, sat.ID, defaultQueueCapacity)
		score := loadScoreWeight*(1-load) + qualityScoreWeight*linkQuality(state, sat.ID)
		if score > bestScore {
			bestScore = score
			best = sat.ID
		}
	}
	return best, best != model.NoSatellite
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
