package core

import (
	"math"
	"sort"

	"github.com/signalsfoundry/leo-admission/model"
)

// LinkKey identifies one direction of an inter-satellite link.
type LinkKey struct {
	Src int
	Dst int
}

// Link describes one directed inter-satellite link as built into a snapshot.
// Capacity, distance, and delay are fixed per snapshot; Utilization holds the
// value at snapshot-build time. The operative utilization during a step lives
// in NetworkState.LinkUtilization, which the commit path mutates.
type Link struct {
	Source             int
	Dest               int
	CapacityMbps       float64
	Utilization        float64
	DistanceKm         float64
	PropagationDelayMs float64
}

// NetworkState is the per-step snapshot of the constellation's network: the
// satellites, the ISL topology, capacity and utilization per directed link,
// per-node queue backlogs, and the currently active flows.
//
// A fresh snapshot is produced once per simulation step. Only the DSROQ
// commit path mutates it (utilization, queues, active flows); everything
// else reads.
type NetworkState struct {
	// TimeStep is the snapshot time in simulation seconds since epoch.
	TimeStep float64

	Satellites []model.Satellite
	Links      []Link

	// Topology is the adjacency relation over satellite IDs. Symmetric links
	// appear in both directions.
	Topology map[int]map[int]bool

	LinkCapacity    map[LinkKey]float64
	LinkUtilization map[LinkKey]float64

	QueueLengths map[int]float64

	ActiveFlows []model.FlowRequest
}

// NewNetworkState returns an empty snapshot for the given time step.
func NewNetworkState(timeStep float64) *NetworkState {
	return &NetworkState{
		TimeStep:        timeStep,
		Topology:        make(map[int]map[int]bool),
		LinkCapacity:    make(map[LinkKey]float64),
		LinkUtilization: make(map[LinkKey]float64),
		QueueLengths:    make(map[int]float64),
	}
}

// AddSatellite appends a satellite to the snapshot.
func (s *NetworkState) AddSatellite(sat model.Satellite) {
	s.Satellites = append(s.Satellites, sat)
}

// AddLink registers a symmetric link between a and b: both directed keys get
// the same capacity, and both appear in the topology and the link list.
func (s *NetworkState) AddLink(a, b int, capacityMbps, distanceKm float64) {
	delay := PropagationDelayMs(distanceKm)
	for _, k := range []LinkKey{{Src: a, Dst: b}, {Src: b, Dst: a}} {
		if s.Topology[k.Src] == nil {
			s.Topology[k.Src] = make(map[int]bool)
		}
		s.Topology[k.Src][k.Dst] = true
		s.LinkCapacity[k] = capacityMbps
		if _, ok := s.LinkUtilization[k]; !ok {
			s.LinkUtilization[k] = 0
		}
		s.Links = append(s.Links, Link{
			Source:             k.Src,
			Dest:               k.Dst,
			CapacityMbps:       capacityMbps,
			Utilization:        s.LinkUtilization[k],
			DistanceKm:         distanceKm,
			PropagationDelayMs: delay,
		})
	}
}

// HasLink reports whether a directed link a->b exists.
func (s *NetworkState) HasLink(a, b int) bool {
	return s.Topology[a][b]
}

// Neighbors returns the IDs adjacent to id, sorted ascending so callers
// iterate deterministically.
func (s *NetworkState) Neighbors(id int) []int {
	adj := s.Topology[id]
	if len(adj) == 0 {
		return nil
	}
	out := make([]int, 0, len(adj))
	for n, ok := range adj {
		if ok {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// SatelliteByID returns the satellite with the given ID.
func (s *NetworkState) SatelliteByID(id int) (model.Satellite, bool) {
	for _, sat := range s.Satellites {
		if sat.ID == id {
			return sat, true
		}
	}
	return model.Satellite{}, false
}

// Capacity returns the capacity of the directed link a->b in Mbps, or 0 when
// the link does not exist.
func (s *NetworkState) Capacity(a, b int) float64 {
	return s.LinkCapacity[LinkKey{Src: a, Dst: b}]
}

// Utilization returns the current utilization of the directed link a->b.
func (s *NetworkState) Utilization(a, b int) float64 {
	return s.LinkUtilization[LinkKey{Src: a, Dst: b}]
}

// SetUtilization overwrites the utilization of a->b, clamped to [0,1].
func (s *NetworkState) SetUtilization(a, b int, u float64) {
	if u < 0 {
		u = 0
	} else if u > 1 {
		u = 1
	}
	s.LinkUtilization[LinkKey{Src: a, Dst: b}] = u
}

// AddUtilization adjusts the utilization of a->b by delta, clamped to [0,1],
// keeping the Links slice in sync with the map. Unknown links are ignored so
// commit and release stay symmetric for routes whose topology changed between
// snapshots.
func (s *NetworkState) AddUtilization(a, b int, delta float64) {
	k := LinkKey{Src: a, Dst: b}
	if _, ok := s.LinkCapacity[k]; !ok {
		return
	}
	u := s.LinkUtilization[k] + delta
	if u < 0 {
		u = 0
	} else if u > 1 {
		u = 1
	}
	s.LinkUtilization[k] = u
	for i := range s.Links {
		if s.Links[i].Source == a && s.Links[i].Dest == b {
			s.Links[i].Utilization = u
		}
	}
}

// AvailableBandwidth returns capacity·(1−utilization) for a->b in Mbps.
func (s *NetworkState) AvailableBandwidth(a, b int) float64 {
	k := LinkKey{Src: a, Dst: b}
	cap, ok := s.LinkCapacity[k]
	if !ok {
		return 0
	}
	avail := cap * (1 - s.LinkUtilization[k])
	if avail < 0 {
		return 0
	}
	return avail
}

// MeanIncidentUtilization averages the utilization of every directed link
// leaving or entering id. Satellites with no links report 0.
func (s *NetworkState) MeanIncidentUtilization(id int) float64 {
	sum := 0.0
	n := 0
	for k, u := range s.LinkUtilization {
		if k.Src == id || k.Dst == id {
			sum += u
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// QueueLength returns the queue backlog at a node, 0 when untracked.
func (s *NetworkState) QueueLength(id int) float64 {
	return s.QueueLengths[id]
}

// AddQueueLength adjusts a node's backlog by delta, clamped at zero.
func (s *NetworkState) AddQueueLength(id int, delta float64) {
	q := s.QueueLengths[id] + delta
	if q < 0 {
		q = 0
	}
	s.QueueLengths[id] = q
}

// NearestSatellite returns the active satellite closest to (lat, lon) by
// plain Euclidean distance in degree space. The second return is false when
// the snapshot has no active satellite.
func (s *NetworkState) NearestSatellite(lat, lon float64) (int, bool) {
	best := -1
	bestDist := math.MaxFloat64
	for _, sat := range s.Satellites {
		if !sat.Active {
			continue
		}
		dLat := sat.Lat - lat
		dLon := sat.Lon - lon
		d := dLat*dLat + dLon*dLon
		if d < bestDist || (d == bestDist && (best == -1 || sat.ID < best)) {
			bestDist = d
			best = sat.ID
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// Clone returns a deep copy. Route search runs against clones or read-only
// views; tests use clones to verify commit/rollback symmetry.
func (s *NetworkState) Clone() *NetworkState {
	out := &NetworkState{
		TimeStep:        s.TimeStep,
		Satellites:      append([]model.Satellite(nil), s.Satellites...),
		Links:           append([]Link(nil), s.Links...),
		Topology:        make(map[int]map[int]bool, len(s.Topology)),
		LinkCapacity:    make(map[LinkKey]float64, len(s.LinkCapacity)),
		LinkUtilization: make(map[LinkKey]float64, len(s.LinkUtilization)),
		QueueLengths:    make(map[int]float64, len(s.QueueLengths)),
		ActiveFlows:     append([]model.FlowRequest(nil), s.ActiveFlows...),
	}
	for id, adj := range s.Topology {
		m := make(map[int]bool, len(adj))
		for n, ok := range adj {
			m[n] = ok
		}
		out.Topology[id] = m
	}
	for k, v := range s.LinkCapacity {
		out.LinkCapacity[k] = v
	}
	for k, v := range s.LinkUtilization {
		out.LinkUtilization[k] = v
	}
	for id, q := range s.QueueLengths {
		out.QueueLengths[id] = q
	}
	return out
}
