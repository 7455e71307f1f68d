package dsroq

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/model"
	"github.com/signalsfoundry/leo-admission/timectrl"
)

// AllocatorConfig holds the bandwidth allocator tunables.
type AllocatorConfig struct {
	// MaxBandwidthMbps caps a single flow's fair share before the QoS weight
	// multiplier.
	MaxBandwidthMbps float64 `yaml:"max_bandwidth_mbps" json:"max_bandwidth_mbps"`

	// GranularityMbps is the allocation grid; feasible bandwidth is rounded
	// to the nearest multiple.
	GranularityMbps float64 `yaml:"granularity_mbps" json:"granularity_mbps"`
}

// DefaultAllocatorConfig returns the standard allocation parameters.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		MaxBandwidthMbps: 100.0,
		GranularityMbps:  0.1,
	}
}

// allocationRecord is one committed flow in the allocator's ledger. The
// bandwidth drops when the flow donates to a higher-class reclamation.
type allocationRecord struct {
	flowID    string
	bandwidth float64
	route     []int
	class     model.QoSClass
	floor     float64
	timestamp time.Time
	seq       uint64
}

// AllocatorStatistics summarises the ledger.
type AllocatorStatistics struct {
	ActiveFlows        int
	TotalAllocatedMbps float64
	AvgPerFlowMbps     float64
	AllocatedByClass   map[string]float64
	Reclamations       int
	ReclaimedMbps      float64
}

// BandwidthAllocator grants each flow a bandwidth between its QoS floor and
// the requested target, bounded by per-link headroom tracked in its own
// ledger. When headroom cannot cover the floor it reclaims the excess of
// strictly lower-class flows sharing a link with the route; the reclamation
// plan is staged and committed only when the allocation as a whole succeeds.
//
// The ledger is the authority for allocation feasibility; the snapshot's
// utilization map serves routing heuristics and is only adjusted here for
// committed donor cuts. Allocate mutates the given NetworkState for those
// cuts, so callers running concurrent searches must serialize Allocate with
// other NetworkState writers.
type BandwidthAllocator struct {
	cfg   AllocatorConfig
	clock timectrl.SimClock
	log   logging.Logger
	opts  options

	mu      sync.Mutex
	seq     uint64
	perLink map[core.LinkKey]float64
	flows   map[string]*allocationRecord

	reclamations  int
	reclaimedMbps float64
}

// NewBandwidthAllocator constructs an allocator. A nil clock falls back to
// the wall clock and a nil logger to a no-op one.
func NewBandwidthAllocator(cfg AllocatorConfig, clock timectrl.SimClock, log logging.Logger, opts ...Option) *BandwidthAllocator {
	if clock == nil {
		clock = timectrl.WallClock{}
	}
	if log == nil {
		log = logging.Noop()
	}
	return &BandwidthAllocator{
		cfg:     cfg,
		clock:   clock,
		log:     log.With(logging.String("component", "bandwidth_allocator")),
		opts:    applyOptions(opts),
		perLink: make(map[core.LinkKey]float64),
		flows:   make(map[string]*allocationRecord),
	}
}

// Allocate grants bandwidth to the flow on the route, at most target Mbps and
// never below the flow's QoS floor. It returns ErrInfeasibleAllocation when
// the floor cannot be met even after reclamation, leaving ledger and state
// untouched.
func (a *BandwidthAllocator) Allocate(flow *model.FlowRequest, route []int, target float64, state *core.NetworkState) (float64, error) {
	if flow == nil || flow.FlowID == "" {
		return 0, fmt.Errorf("%w: missing flow id", ErrInvalidFlow)
	}
	if flow.BandwidthMbps <= 0 || math.IsNaN(flow.BandwidthMbps) {
		return 0, fmt.Errorf("%w: flow %s requests %.1f Mbps", ErrInvalidFlow, flow.FlowID, flow.BandwidthMbps)
	}
	if state == nil {
		return 0, ErrNilState
	}
	if target <= 0 || math.IsNaN(target) {
		return 0, fmt.Errorf("%w: non-positive target", ErrInfeasibleAllocation)
	}
	if len(route) < 2 {
		return 0, fmt.Errorf("%w: route shorter than one hop", ErrInfeasibleAllocation)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.flows[flow.FlowID]; ok {
		return 0, fmt.Errorf("%w: flow %s already allocated", ErrInvalidFlow, flow.FlowID)
	}

	links := routeLinks(route)
	for _, k := range links {
		if _, ok := state.LinkCapacity[k]; !ok {
			return 0, fmt.Errorf("%w: no link %d->%d", ErrInfeasibleAllocation, k.Src, k.Dst)
		}
	}

	cuts := make(map[string]float64)
	feasible := a.quantize(math.Min(target, a.bottleneck(links, state, cuts)))
	floor := a.quantize(flow.BandwidthMbps * flow.QoSClass.FloorRatio())

	if feasible < floor {
		linkSet := make(map[core.LinkKey]bool, len(links))
		for _, k := range links {
			linkSet[k] = true
		}
		for _, donor := range a.donorsFor(flow.QoSClass) {
			if feasible >= floor {
				break
			}
			excess := donor.bandwidth - donor.floor
			if excess <= 0 || !sharesLink(donor.route, linkSet) {
				continue
			}
			cuts[donor.flowID] = excess
			feasible = a.quantize(math.Min(target, a.bottleneck(links, state, cuts)))
		}
	}
	if feasible < floor {
		return 0, fmt.Errorf("%w: feasible %.1f Mbps below %s floor %.1f Mbps",
			ErrInfeasibleAllocation, feasible, flow.QoSClass, floor)
	}

	fairCap := a.cfg.MaxBandwidthMbps / float64(len(a.flows)+1) * flow.QoSClass.Weight()
	final := math.Min(feasible, fairCap)
	if final < floor {
		return 0, fmt.Errorf("%w: fair share %.1f Mbps below %s floor %.1f Mbps",
			ErrInfeasibleAllocation, fairCap, flow.QoSClass, floor)
	}

	a.applyCuts(cuts, state)
	for _, k := range links {
		a.perLink[k] += final
	}
	a.seq++
	a.flows[flow.FlowID] = &allocationRecord{
		flowID:    flow.FlowID,
		bandwidth: final,
		route:     append([]int(nil), route...),
		class:     flow.QoSClass,
		floor:     floor,
		timestamp: a.clock.Now(),
		seq:       a.seq,
	}

	a.log.Debug(context.Background(), "bandwidth allocated",
		logging.String("flow_id", flow.FlowID),
		logging.Float64("bandwidth_mbps", final),
		logging.String("qos_class", flow.QoSClass.String()),
		logging.Int("reclaimed_donors", len(cuts)))
	return final, nil
}

// Deallocate releases a committed flow and returns the bandwidth freed,
// which may be lower than originally granted if reclamation trimmed it.
func (a *BandwidthAllocator) Deallocate(flowID string) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.flows[flowID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFlow, flowID)
	}
	for _, k := range routeLinks(rec.route) {
		a.perLink[k] -= rec.bandwidth
		if a.perLink[k] < 0 {
			a.perLink[k] = 0
		}
	}
	delete(a.flows, flowID)

	a.log.Debug(context.Background(), "bandwidth released",
		logging.String("flow_id", flowID),
		logging.Float64("bandwidth_mbps", rec.bandwidth))
	return rec.bandwidth, nil
}

// Allocation returns the current bandwidth held by a flow.
func (a *BandwidthAllocator) Allocation(flowID string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.flows[flowID]
	if !ok {
		return 0, false
	}
	return rec.bandwidth, true
}

// LinkAllocated returns the cumulative bandwidth committed on a directed link.
func (a *BandwidthAllocator) LinkAllocated(k core.LinkKey) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perLink[k]
}

// Statistics summarises the ledger.
func (a *BandwidthAllocator) Statistics() AllocatorStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := AllocatorStatistics{
		ActiveFlows:      len(a.flows),
		AllocatedByClass: make(map[string]float64),
		Reclamations:     a.reclamations,
		ReclaimedMbps:    a.reclaimedMbps,
	}
	for _, rec := range a.flows {
		out.TotalAllocatedMbps += rec.bandwidth
		out.AllocatedByClass[rec.class.String()] += rec.bandwidth
	}
	if len(a.flows) > 0 {
		out.AvgPerFlowMbps = out.TotalAllocatedMbps / float64(len(a.flows))
	}
	return out
}

// Reset drops every allocation and counter.
func (a *BandwidthAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perLink = make(map[core.LinkKey]float64)
	a.flows = make(map[string]*allocationRecord)
	a.reclamations = 0
	a.reclaimedMbps = 0
}

// bottleneck returns the smallest headroom over the route's links, counting
// the staged donor cuts as already freed. Caller holds a.mu.
func (a *BandwidthAllocator) bottleneck(links []core.LinkKey, state *core.NetworkState, cuts map[string]float64) float64 {
	freed := make(map[core.LinkKey]float64, len(links))
	for id, cut := range cuts {
		for _, k := range routeLinks(a.flows[id].route) {
			freed[k] += cut
		}
	}
	min := math.Inf(1)
	for _, k := range links {
		available := state.LinkCapacity[k] - a.perLink[k] + freed[k]
		if available < min {
			min = available
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// donorsFor lists flows with strictly lower QoS weight than class, ascending
// by weight then by commit order so the cheapest and oldest donate first.
// Caller holds a.mu.
func (a *BandwidthAllocator) donorsFor(class model.QoSClass) []*allocationRecord {
	w := class.Weight()
	var donors []*allocationRecord
	for _, rec := range a.flows {
		if rec.class.Weight() < w {
			donors = append(donors, rec)
		}
	}
	sort.Slice(donors, func(i, j int) bool {
		wi, wj := donors[i].class.Weight(), donors[j].class.Weight()
		if wi != wj {
			return wi < wj
		}
		return donors[i].seq < donors[j].seq
	})
	return donors
}

// applyCuts commits a staged reclamation plan: each donor's ledger bandwidth
// and per-link totals drop, and the snapshot's utilization and queues are
// adjusted to match. Caller holds a.mu.
func (a *BandwidthAllocator) applyCuts(cuts map[string]float64, state *core.NetworkState) {
	if len(cuts) == 0 {
		return
	}
	ids := make([]string, 0, len(cuts))
	for id := range cuts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cut := cuts[id]
		rec := a.flows[id]
		rec.bandwidth -= cut
		for _, k := range routeLinks(rec.route) {
			a.perLink[k] -= cut
			if a.perLink[k] < 0 {
				a.perLink[k] = 0
			}
			if capacity := state.LinkCapacity[k]; capacity > 0 {
				state.AddUtilization(k.Src, k.Dst, -cut/capacity)
			}
		}
		for _, node := range rec.route {
			state.AddQueueLength(node, -cut*0.1)
		}
		a.reclamations++
		a.reclaimedMbps += cut
		a.opts.collector.AddReclamations(1)

		a.log.Debug(context.Background(), "reclaimed bandwidth from lower-class flow",
			logging.String("flow_id", id),
			logging.Float64("reclaimed_mbps", cut),
			logging.Float64("remaining_mbps", rec.bandwidth))
	}
}

func (a *BandwidthAllocator) quantize(bw float64) float64 {
	g := a.cfg.GranularityMbps
	if g <= 0 {
		return bw
	}
	return math.Round(bw/g) * g
}

// routeLinks expands a node path into its directed link keys.
func routeLinks(route []int) []core.LinkKey {
	if len(route) < 2 {
		return nil
	}
	links := make([]core.LinkKey, 0, len(route)-1)
	for i := 0; i+1 < len(route); i++ {
		links = append(links, core.LinkKey{Src: route[i], Dst: route[i+1]})
	}
	return links
}

// sharesLink reports whether any of the route's directed links appears in
// the given set.
func sharesLink(route []int, linkSet map[core.LinkKey]bool) bool {
	for _, k := range routeLinks(route) {
		if linkSet[k] {
			return true
		}
	}
	return false
}
