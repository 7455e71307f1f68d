package sim

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/admission"
	"github.com/signalsfoundry/leo-admission/internal/dsroq"
	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/model"
	"github.com/signalsfoundry/leo-admission/timectrl"
)

// EngineConfig sets the step loop's timing and progress logging.
type EngineConfig struct {
	DurationSec float64 `yaml:"duration_seconds" json:"duration_seconds"`
	StepSec     float64 `yaml:"time_step_seconds" json:"time_step_seconds"`

	// LogEverySteps spaces progress logs; zero disables them.
	LogEverySteps int `yaml:"log_every_steps" json:"log_every_steps"`
}

// DefaultEngineConfig runs five simulated minutes at one-second steps.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{DurationSec: 300, StepSec: 1, LogEverySteps: 60}
}

// maxDeferrals bounds how often one request can come back as DELAYED_ACCEPT
// before it is dropped as rejected.
const maxDeferrals = 3

// defaultPositioningScore stands in when no admission result carried a
// positioning evaluation, so a threshold-only run does not alarm the monitor.
const defaultPositioningScore = 0.8

// session tracks one admitted flow for QoE accounting. The pipeline owns the
// flow's lifetime; a session ends when its allocation result disappears.
type session struct {
	req      *model.UserRequest
	admitted *model.AdmissionResult
	granted  *model.AllocationResult
}

type deferredRequest struct {
	req    *model.UserRequest
	dueSec float64
}

// EngineStatistics counts what the step loop did. Admission, pipeline,
// traffic, and monitor statistics live on their components.
type EngineStatistics struct {
	Steps      int64
	SimSeconds float64

	Generated        int64
	Admitted         int64
	Rejected         int64
	PipelineRejected int64
	Deferred         int64

	ActiveSessions int
}

type engineStats struct {
	steps            int64
	simSeconds       float64
	generated        int64
	admitted         int64
	rejected         int64
	pipelineRejected int64
	deferred         int64
}

// Engine drives the simulation. Each step it snapshots the constellation,
// expires finished flows, generates new requests, and runs every queued
// request through admission and the resource pipeline, highest priority
// first.
type Engine struct {
	cfg      EngineConfig
	provider core.StateProvider
	admit    admission.Controller
	pipeline *dsroq.Controller
	traffic  *TrafficGenerator
	monitor  *Monitor
	clock    *timectrl.TimeController
	log      logging.Logger
	opts     options

	queue *dsroq.PendingQueue

	mu             sync.Mutex
	sessions       map[string]*session
	deferred       []deferredRequest
	deferralCounts map[string]int
	stats          engineStats
}

// NewEngine wires the step loop. Every collaborator is required; the clock's
// tick should equal StepSec because Run advances it once per step.
func NewEngine(cfg EngineConfig, provider core.StateProvider, admit admission.Controller, pipeline *dsroq.Controller, traffic *TrafficGenerator, monitor *Monitor, clock *timectrl.TimeController, log logging.Logger, opts ...Option) (*Engine, error) {
	switch {
	case provider == nil:
		return nil, fmt.Errorf("%w: state provider", ErrMissingComponent)
	case admit == nil:
		return nil, fmt.Errorf("%w: admission controller", ErrMissingComponent)
	case pipeline == nil:
		return nil, fmt.Errorf("%w: resource pipeline", ErrMissingComponent)
	case traffic == nil:
		return nil, fmt.Errorf("%w: traffic generator", ErrMissingComponent)
	case monitor == nil:
		return nil, fmt.Errorf("%w: performance monitor", ErrMissingComponent)
	case clock == nil:
		return nil, fmt.Errorf("%w: time controller", ErrMissingComponent)
	}
	if cfg.StepSec <= 0 {
		cfg.StepSec = DefaultEngineConfig().StepSec
	}
	if cfg.DurationSec <= 0 {
		cfg.DurationSec = DefaultEngineConfig().DurationSec
	}
	if log == nil {
		log = logging.Noop()
	}

	return &Engine{
		cfg:      cfg,
		provider: provider,
		admit:    admit,
		pipeline: pipeline,
		traffic:  traffic,
		monitor:  monitor,
		clock:    clock,
		log:      log.With(logging.String("component", "simulation_engine")),
		opts:     applyOptions(opts),

		queue:          dsroq.NewPendingQueue(),
		sessions:       make(map[string]*session),
		deferralCounts: make(map[string]int),
	}, nil
}

// Run executes the configured number of steps, advancing the clock after
// each, and stops early when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	steps := int(math.Ceil(e.cfg.DurationSec / e.cfg.StepSec))
	e.log.Info(ctx, "simulation starting",
		logging.Float64("duration_sec", e.cfg.DurationSec),
		logging.Float64("step_sec", e.cfg.StepSec),
		logging.Int("steps", steps))

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			e.log.Info(ctx, "simulation cancelled", logging.Int("completed_steps", i))
			return err
		}
		if err := e.Step(ctx); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		e.clock.Step()
	}

	stats := e.Statistics()
	e.log.Info(ctx, "simulation finished",
		logging.Int("steps", int(stats.Steps)),
		logging.Int("generated", int(stats.Generated)),
		logging.Int("admitted", int(stats.Admitted)),
		logging.Int("rejected", int(stats.Rejected)),
		logging.Int("active_sessions", stats.ActiveSessions))
	return nil
}

// Step runs one simulation step at the clock's current time: snapshot,
// expiry sweep, traffic generation, admission and allocation for every
// queued request, then monitoring.
func (e *Engine) Step(ctx context.Context) error {
	now := e.clock.Now()
	state, err := e.provider.NetworkState(now)
	if err != nil {
		return fmt.Errorf("building snapshot: %w", err)
	}
	simNow := state.TimeStep

	e.pipeline.ExpireFlows(ctx, now, state)
	e.prune()

	e.enqueueDue(simNow)
	reqs := e.traffic.Generate(ctx, simNow, e.cfg.StepSec)
	for _, req := range reqs {
		e.queue.Push(req)
	}
	if len(reqs) > 0 {
		e.mu.Lock()
		e.stats.generated += int64(len(reqs))
		e.mu.Unlock()
	}
	e.opts.collector.SetPendingRequests(e.queue.Len())

	for {
		req, ok := e.queue.Pop()
		if !ok {
			break
		}
		e.admitOne(ctx, req, state, simNow)
	}
	e.opts.collector.SetPendingRequests(0)

	e.pipeline.UpdateQueueStates(state.QueueLengths)

	sample := e.observe(state)
	e.monitor.Record(ctx, sample)
	e.opts.collector.SetMeanUtilization(sample.MeanUtilization)
	e.opts.collector.SetQueueBacklog(sample.QueueBacklog)
	e.opts.collector.SetVirtualBacklog(e.pipeline.VirtualQueueBacklogMbps())

	e.mu.Lock()
	e.stats.steps++
	e.stats.simSeconds = simNow
	steps := e.stats.steps
	active := len(e.sessions)
	e.mu.Unlock()

	if e.cfg.LogEverySteps > 0 && steps%int64(e.cfg.LogEverySteps) == 0 {
		e.log.Info(ctx, "simulation progress",
			logging.Float64("sim_time_sec", simNow),
			logging.Int("active_sessions", active),
			logging.Float64("throughput_mbps", sample.ThroughputMbps),
			logging.Float64("mean_utilization", sample.MeanUtilization),
			logging.Float64("admission_rate", sample.AdmissionRate))
	}
	return nil
}

// Statistics snapshots the engine's own counters.
func (e *Engine) Statistics() EngineStatistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatistics{
		Steps:            e.stats.steps,
		SimSeconds:       e.stats.simSeconds,
		Generated:        e.stats.generated,
		Admitted:         e.stats.admitted,
		Rejected:         e.stats.rejected,
		PipelineRejected: e.stats.pipelineRejected,
		Deferred:         e.stats.deferred,
		ActiveSessions:   len(e.sessions),
	}
}

// admitOne runs one request through admission and, on an admitting decision,
// through the resource pipeline. Pipeline failure after an admitting
// decision counts as a rejection: the second chance failed.
func (e *Engine) admitOne(ctx context.Context, req *model.UserRequest, state *core.NetworkState, simNow float64) {
	var pos *model.PositioningMetrics
	if e.opts.positioning != nil {
		pos = e.opts.positioning(req.UserLat, req.UserLon, state)
	}

	res, err := e.admit.Decide(ctx, req, state, pos)
	if err != nil {
		e.bump(&e.stats.rejected)
		e.log.Warn(ctx, "admission error",
			logging.String("user", req.UserID), logging.Any("error", err))
		return
	}

	if res.Decision == model.DecisionDelayedAccept {
		e.deferOne(ctx, req, res.DelaySeconds, simNow)
		return
	}

	e.mu.Lock()
	delete(e.deferralCounts, req.UserID)
	e.mu.Unlock()

	if !res.Decision.Admitting() {
		e.bump(&e.stats.rejected)
		return
	}

	// Degraded and partial admissions carry the reduced grant; the pipeline
	// allocates what admission left standing.
	granted := req
	if res.AllocatedBandwidth > 0 && res.AllocatedBandwidth < req.BandwidthMbps {
		relaxed := *req
		relaxed.BandwidthMbps = res.AllocatedBandwidth
		granted = &relaxed
	}

	alloc, err := e.pipeline.Process(ctx, granted, state)
	if err != nil {
		e.bump(&e.stats.pipelineRejected)
		e.log.Debug(ctx, "pipeline rejected admitted request",
			logging.String("user", req.UserID),
			logging.String("decision", res.Decision.String()),
			logging.Any("error", err))
		return
	}

	e.mu.Lock()
	e.sessions[alloc.FlowID] = &session{req: req, admitted: res, granted: alloc}
	e.stats.admitted++
	e.mu.Unlock()
}

// deferOne schedules a DELAYED_ACCEPT for re-admission once its delay
// elapses. Requests deferred more than maxDeferrals times are dropped.
func (e *Engine) deferOne(ctx context.Context, req *model.UserRequest, delaySec, simNow float64) {
	if delaySec < e.cfg.StepSec {
		delaySec = e.cfg.StepSec
	}

	e.mu.Lock()
	n := e.deferralCounts[req.UserID] + 1
	if n > maxDeferrals {
		delete(e.deferralCounts, req.UserID)
		e.stats.rejected++
		e.mu.Unlock()
		e.log.Debug(ctx, "request dropped after repeated deferrals",
			logging.String("user", req.UserID))
		return
	}
	e.deferralCounts[req.UserID] = n
	e.deferred = append(e.deferred, deferredRequest{req: req, dueSec: simNow + delaySec})
	e.stats.deferred++
	e.mu.Unlock()
}

// enqueueDue moves deferred requests whose delay elapsed back into the queue.
func (e *Engine) enqueueDue(simNow float64) {
	e.mu.Lock()
	var due []*model.UserRequest
	kept := e.deferred[:0]
	for _, d := range e.deferred {
		if d.dueSec <= simNow {
			due = append(due, d.req)
		} else {
			kept = append(kept, d)
		}
	}
	e.deferred = kept
	e.mu.Unlock()

	for _, req := range due {
		e.queue.Push(req)
	}
}

// prune drops sessions whose flow no longer has a pipeline result, which is
// how duration expiry and explicit deallocation show up here.
func (e *Engine) prune() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.sessions {
		if _, ok := e.pipeline.Result(id); !ok {
			delete(e.sessions, id)
		}
	}
}

// observe reduces the live sessions and the snapshot to one sample. The
// fairness index is computed over per-class mean QoE.
func (e *Engine) observe(state *core.NetworkState) PerformanceSample {
	e.mu.Lock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	var throughput, latencySum, qoeSum, posSum float64
	posCount := 0
	classQoE := make(map[model.QoSClass][]float64)
	for _, s := range sessions {
		throughput += s.granted.AllocatedBandwidth
		latencySum += s.granted.ExpectedLatencyMs
		q := flowQoE(s.req, s.granted)
		qoeSum += q
		classQoE[s.req.ServiceType.QoSClass()] = append(classQoE[s.req.ServiceType.QoSClass()], q)
		if s.admitted.PositioningScore > 0 {
			posSum += s.admitted.PositioningScore
			posCount++
		}
	}

	qoe := 1.0
	avgLatency := 0.0
	if n := len(sessions); n > 0 {
		qoe = qoeSum / float64(n)
		avgLatency = latencySum / float64(n)
	}
	positioning := defaultPositioningScore
	if posCount > 0 {
		positioning = posSum / float64(posCount)
	}

	perClass := make([]float64, 0, len(classQoE))
	for _, qs := range classQoE {
		perClass = append(perClass, stat.Mean(qs, nil))
	}

	return PerformanceSample{
		TimeSec:          state.TimeStep,
		ThroughputMbps:   throughput,
		AvgLatencyMs:     avgLatency,
		QoEScore:         qoe,
		PositioningScore: positioning,
		AdmissionRate:    e.admit.Statistics().AdmissionRate,
		MeanUtilization:  meanUtilization(state),
		QueueBacklog:     totalBacklog(state),
		ActiveFlows:      len(sessions),
		FairnessIndex:    JainFairness(perClass),
	}
}

// bump increments one engine counter, which must be a field of e.stats.
func (e *Engine) bump(counter *int64) {
	e.mu.Lock()
	*counter++
	e.mu.Unlock()
}

// flowQoE scores one session: 0.6 weight on how much of the requested
// bandwidth was granted, 0.4 on latency headroom.
func flowQoE(req *model.UserRequest, granted *model.AllocationResult) float64 {
	bw := 1.0
	if req.BandwidthMbps > 0 {
		bw = math.Min(1, granted.AllocatedBandwidth/req.BandwidthMbps)
	}
	lat := 1.0
	if req.MaxLatencyMs > 0 {
		lat = math.Max(0, 1-granted.ExpectedLatencyMs/req.MaxLatencyMs)
	}
	return 0.6*bw + 0.4*lat
}

func meanUtilization(state *core.NetworkState) float64 {
	if len(state.LinkUtilization) == 0 {
		return 0
	}
	var sum float64
	for _, u := range state.LinkUtilization {
		sum += u
	}
	return sum / float64(len(state.LinkUtilization))
}

func totalBacklog(state *core.NetworkState) float64 {
	var sum float64
	for _, q := range state.QueueLengths {
		sum += q
	}
	return sum
}
