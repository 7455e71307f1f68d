package dsroq

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/model"
	"github.com/signalsfoundry/leo-admission/timectrl"
)

// ControllerStatistics summarises the pipeline since the last reset.
// QoSViolations counts the reclamation cuts inflicted on lower-class flows
// within the window; QoSViolationRate divides them by the flows processed.
type ControllerStatistics struct {
	Processed          int
	Admitted           int
	RouteFailures      int
	AllocationFailures int
	Expired            int
	ActiveFlows        int
	TotalAllocatedMbps float64
	QoSViolations      int
	QoSViolationRate   float64
	AvgProcessingMs    float64
}

type controllerStats struct {
	processed          int
	admitted           int
	routeFailures      int
	allocationFailures int
	expired            int
	totalProcessing    time.Duration

	// reclaimBase is the allocator's reclamation count at the last reset.
	reclaimBase int
}

type expiryEntry struct {
	at     time.Time
	flowID string
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].flowID < h[j].flowID
}

func (h expiryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) { *h = append(*h, x.(expiryEntry)) }

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// Controller runs the admission pipeline for one request: resolve endpoints
// to satellites, route with MCTS, schedule the rate limit, allocate
// bandwidth and commit the footprint to the snapshot.
//
// Routing searches on a private clone of the snapshot, so Process may be
// called concurrently; commits are serialized internally.
type Controller struct {
	router    *MCTSRouter
	scheduler *LyapunovScheduler
	allocator *BandwidthAllocator
	clock     timectrl.SimClock
	log       logging.Logger
	opts      options

	// commitMu serializes allocation plus snapshot commit and reversal.
	commitMu sync.Mutex

	mu       sync.Mutex
	results  map[string]*model.AllocationResult
	expiries expiryHeap
	stats    controllerStats
}

// NewController wires the pipeline together. Router, scheduler and allocator
// are required; a nil clock falls back to the wall clock and a nil logger to
// a no-op one.
func NewController(router *MCTSRouter, scheduler *LyapunovScheduler, allocator *BandwidthAllocator, clock timectrl.SimClock, log logging.Logger, opts ...Option) *Controller {
	if clock == nil {
		clock = timectrl.WallClock{}
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Controller{
		router:    router,
		scheduler: scheduler,
		allocator: allocator,
		clock:     clock,
		log:       log.With(logging.String("component", "dsroq_controller")),
		opts:      applyOptions(opts),
		results:   make(map[string]*model.AllocationResult),
	}
}

// Process admits one user request end to end. On success the returned result
// carries the committed route, bandwidth and expected QoS; on failure it
// returns a wrapped ErrRouteNotFound or ErrInfeasibleAllocation and the
// snapshot is left unchanged.
func (c *Controller) Process(ctx context.Context, req *model.UserRequest, state *core.NetworkState) (*model.AllocationResult, error) {
	start := time.Now()
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidFlow)
	}
	if state == nil {
		return nil, ErrNilState
	}

	ctx, log := logging.WithRequestLogger(ctx, c.log)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dsroq.process")
	span.SetAttributes(attribute.String("service_type", string(req.ServiceType)))
	defer span.End()

	flow, err := c.synthesizeFlow(req, state)
	if err != nil {
		c.recordFailure(&c.stats.routeFailures, start)
		log.Debug(ctx, "endpoint resolution failed",
			logging.String("user", req.UserID), logging.Any("error", err))
		return nil, err
	}
	span.SetAttributes(attribute.String("flow_id", flow.FlowID))

	// Search on a private clone so concurrent searches never observe a
	// half-committed snapshot. Cloning itself must not overlap a commit.
	c.commitMu.Lock()
	search := state.Clone()
	c.commitMu.Unlock()

	routeStart := time.Now()
	route, err := c.router.FindRoute(ctx, flow, search)
	c.opts.collector.ObserveRouting(time.Since(routeStart))
	if err != nil {
		c.recordFailure(&c.stats.routeFailures, start)
		return nil, err
	}

	decision := c.scheduler.Schedule(flow, route)
	target := math.Min(decision.RateLimitMbps, flow.BandwidthMbps)

	allocStart := time.Now()
	_, allocSpan := otel.Tracer(tracerName).Start(ctx, "dsroq.allocate")
	c.commitMu.Lock()
	granted, err := c.allocator.Allocate(flow, route, target, state)
	if err == nil {
		c.applyCommit(state, flow, route, granted)
	}
	c.commitMu.Unlock()
	allocSpan.End()
	c.opts.collector.ObserveAllocation(time.Since(allocStart))
	if err != nil {
		c.recordFailure(&c.stats.allocationFailures, start)
		c.opts.collector.IncAllocationFailure()
		log.Debug(ctx, "allocation failed",
			logging.String("flow_id", flow.FlowID), logging.Any("error", err))
		return nil, err
	}

	res := &model.AllocationResult{
		FlowID:              flow.FlowID,
		Route:               append([]int(nil), route...),
		AllocatedBandwidth:  granted,
		ExpectedLatencyMs:   c.estimateLatency(route, state),
		ExpectedReliability: reliabilityEstimate(len(route) - 1),
		Success:             true,
		ResourceCost:        0.1 * float64(len(route)-1),
	}

	c.mu.Lock()
	c.results[flow.FlowID] = res
	if flow.DurationSeconds > 0 {
		at := c.clock.Now().Add(time.Duration(flow.DurationSeconds * float64(time.Second)))
		heap.Push(&c.expiries, expiryEntry{at: at, flowID: flow.FlowID})
	}
	c.stats.processed++
	c.stats.admitted++
	c.stats.totalProcessing += time.Since(start)
	active := len(c.results)
	c.mu.Unlock()
	c.opts.collector.SetActiveFlows(active)

	span.SetAttributes(attribute.Int("hops", len(route)-1), attribute.Float64("bandwidth_mbps", granted))
	log.Info(ctx, "flow admitted",
		logging.String("flow_id", flow.FlowID),
		logging.Int("hops", len(route)-1),
		logging.Float64("bandwidth_mbps", granted),
		logging.String("mode", decision.SchedulingMode))

	cp := *res
	cp.Route = append([]int(nil), res.Route...)
	return &cp, nil
}

// Deallocate releases a flow and reverses its committed footprint on the
// snapshot. Releasing an unknown flow is a no-op.
func (c *Controller) Deallocate(ctx context.Context, flowID string, state *core.NetworkState) error {
	if flowID == "" {
		return fmt.Errorf("%w: empty flow id", ErrInvalidFlow)
	}
	if state == nil {
		return ErrNilState
	}
	if c.release(ctx, flowID, state) {
		c.opts.collector.SetActiveFlows(c.activeCount())
	}
	return nil
}

// ExpireFlows releases every flow whose session ended at or before now and
// returns how many were released.
func (c *Controller) ExpireFlows(ctx context.Context, now time.Time, state *core.NetworkState) int {
	if state == nil {
		return 0
	}
	expired := 0
	for {
		c.mu.Lock()
		if len(c.expiries) == 0 || c.expiries[0].at.After(now) {
			c.mu.Unlock()
			break
		}
		entry := heap.Pop(&c.expiries).(expiryEntry)
		c.mu.Unlock()

		if c.release(ctx, entry.flowID, state) {
			expired++
		}
	}
	if expired > 0 {
		c.mu.Lock()
		c.stats.expired += expired
		c.mu.Unlock()
		c.opts.collector.AddFlowExpiries(expired)
		c.opts.collector.SetActiveFlows(c.activeCount())
		c.log.Debug(ctx, "expired flows released", logging.Int("count", expired))
	}
	return expired
}

// UpdateQueueStates refreshes the scheduler's per-node queue view from a new
// snapshot. The engine calls this once per step after building the snapshot.
func (c *Controller) UpdateQueueStates(queues map[int]float64) {
	c.scheduler.UpdateQueueStates(queues)
}

// VirtualQueueBacklogMbps sums the scheduler's per-class unmet demand.
func (c *Controller) VirtualQueueBacklogMbps() float64 {
	total := 0.0
	for _, q := range c.scheduler.VirtualQueues() {
		total += q
	}
	return total
}

// Result returns a copy of a live flow's allocation result.
func (c *Controller) Result(flowID string) (*model.AllocationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.results[flowID]
	if !ok {
		return nil, false
	}
	cp := *res
	cp.Route = append([]int(nil), res.Route...)
	return &cp, true
}

// Statistics summarises the pipeline.
func (c *Controller) Statistics() ControllerStatistics {
	alloc := c.allocator.Statistics()

	c.mu.Lock()
	defer c.mu.Unlock()
	out := ControllerStatistics{
		Processed:          c.stats.processed,
		Admitted:           c.stats.admitted,
		RouteFailures:      c.stats.routeFailures,
		AllocationFailures: c.stats.allocationFailures,
		Expired:            c.stats.expired,
		ActiveFlows:        len(c.results),
		TotalAllocatedMbps: alloc.TotalAllocatedMbps,
		QoSViolations:      alloc.Reclamations - c.stats.reclaimBase,
	}
	if c.stats.processed > 0 {
		out.QoSViolationRate = float64(out.QoSViolations) / float64(c.stats.processed)
		out.AvgProcessingMs = c.stats.totalProcessing.Seconds() * 1000 / float64(c.stats.processed)
	}
	return out
}

// ResetStatistics zeroes the pipeline counters and rebases the reclamation
// window. Live allocations and the allocator's lifetime counters are
// unaffected.
func (c *Controller) ResetStatistics() {
	alloc := c.allocator.Statistics()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = controllerStats{reclaimBase: alloc.Reclamations}
}

// synthesizeFlow resolves the request's endpoints to their nearest active
// satellites and derives the flow's QoS class and type.
func (c *Controller) synthesizeFlow(req *model.UserRequest, state *core.NetworkState) (*model.FlowRequest, error) {
	src, ok := state.NearestSatellite(req.UserLat, req.UserLon)
	if !ok {
		return nil, fmt.Errorf("%w: no active satellite near user (%.1f, %.1f)",
			ErrRouteNotFound, req.UserLat, req.UserLon)
	}
	dst, ok := state.NearestSatellite(req.DestLat, req.DestLon)
	if !ok {
		return nil, fmt.Errorf("%w: no active satellite near destination (%.1f, %.1f)",
			ErrRouteNotFound, req.DestLat, req.DestLon)
	}
	return &model.FlowRequest{
		FlowID:          uuid.NewString(),
		SourceSatID:     src,
		DestSatID:       dst,
		QoSClass:        req.ServiceType.QoSClass(),
		FlowType:        req.ServiceType.FlowType(),
		BandwidthMbps:   req.BandwidthMbps,
		MaxLatencyMs:    req.MaxLatencyMs,
		MinReliability:  req.MinReliability,
		Priority:        req.Priority,
		SrcLat:          req.UserLat,
		SrcLon:          req.UserLon,
		DstLat:          req.DestLat,
		DstLon:          req.DestLon,
		DurationSeconds: req.DurationSeconds,
		ArrivalTime:     req.Timestamp,
	}, nil
}

// applyCommit adds the granted flow's footprint to the snapshot. Caller
// holds commitMu.
func (c *Controller) applyCommit(state *core.NetworkState, flow *model.FlowRequest, route []int, granted float64) {
	for i := 0; i+1 < len(route); i++ {
		a, b := route[i], route[i+1]
		if capacity := state.Capacity(a, b); capacity > 0 {
			state.AddUtilization(a, b, granted/capacity)
		}
	}
	for _, n := range route {
		state.AddQueueLength(n, granted*0.1)
	}
	committed := *flow
	committed.BandwidthMbps = granted
	state.ActiveFlows = append(state.ActiveFlows, committed)
}

// release frees a flow from the allocator and reverses its snapshot
// footprint with the bandwidth actually still held, which reclamation may
// have trimmed below the original grant.
func (c *Controller) release(ctx context.Context, flowID string, state *core.NetworkState) bool {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	released, err := c.allocator.Deallocate(flowID)
	if err != nil {
		return false
	}

	c.mu.Lock()
	res := c.results[flowID]
	delete(c.results, flowID)
	c.mu.Unlock()

	if res != nil {
		route := res.Route
		for i := 0; i+1 < len(route); i++ {
			a, b := route[i], route[i+1]
			if capacity := state.Capacity(a, b); capacity > 0 {
				state.AddUtilization(a, b, -released/capacity)
			}
		}
		for _, n := range route {
			state.AddQueueLength(n, -released*0.1)
		}
		kept := state.ActiveFlows[:0]
		for _, f := range state.ActiveFlows {
			if f.FlowID != flowID {
				kept = append(kept, f)
			}
		}
		state.ActiveFlows = kept
	}

	c.router.Forget(flowID)
	c.log.Debug(ctx, "flow released",
		logging.String("flow_id", flowID),
		logging.Float64("released_mbps", released))
	return true
}

// recordFailure bumps the given failure counter, which must be a field of
// c.stats.
func (c *Controller) recordFailure(counter *int, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.processed++
	c.stats.totalProcessing += time.Since(start)
	*counter++
}

func (c *Controller) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// estimateLatency sums per-hop propagation delay from satellite ECEF
// positions plus a fixed per-hop processing cost.
func (c *Controller) estimateLatency(route []int, state *core.NetworkState) float64 {
	const processingMsPerHop = 1.0
	total := 0.0
	for i := 0; i+1 < len(route); i++ {
		a, oka := state.SatelliteByID(route[i])
		b, okb := state.SatelliteByID(route[i+1])
		if oka && okb {
			dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
			total += core.PropagationDelayMs(math.Sqrt(dx*dx + dy*dy + dz*dz))
		}
		total += processingMsPerHop
	}
	return total
}

// reliabilityEstimate models a fixed per-hop loss probability.
func reliabilityEstimate(hops int) float64 {
	rel := 1 - 0.01*float64(hops)
	if rel < 0 {
		return 0
	}
	if rel > 1 {
		return 1
	}
	return rel
}
