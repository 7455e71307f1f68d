package dsroq

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/model"
	"github.com/signalsfoundry/leo-admission/timectrl"
)

// MCTSConfig holds the Monte Carlo tree search tunables.
type MCTSConfig struct {
	// Iterations bounds the number of search iterations per route request.
	Iterations int `yaml:"iterations" json:"iterations"`

	// ExplorationC is the UCB1 exploration constant.
	ExplorationC float64 `yaml:"exploration_c" json:"exploration_c"`

	// MaxDepth bounds the node count of any path grown inside the tree.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`

	// MaxHops bounds the node count of the extracted route.
	MaxHops int `yaml:"max_hops" json:"max_hops"`

	// SimulationDepth bounds the greedy rollout appended to a tree path.
	SimulationDepth int `yaml:"simulation_depth" json:"simulation_depth"`

	// MinLinkCapacityMbps is the headroom a link must offer to be explored.
	MinLinkCapacityMbps float64 `yaml:"min_link_capacity_mbps" json:"min_link_capacity_mbps"`

	// SeamPenalty scales the demerit for hops crossing an orbital seam.
	SeamPenalty float64 `yaml:"seam_penalty" json:"seam_penalty"`

	// PathChangePenalty scales the demerit for diverging from the flow's
	// previous route.
	PathChangePenalty float64 `yaml:"path_change_penalty" json:"path_change_penalty"`

	// LambdaPos scales the positioning geometry bonus.
	LambdaPos float64 `yaml:"lambda_pos" json:"lambda_pos"`

	// MinCoopSats is the minimum number of on-path satellites before the
	// geometry bonus applies.
	MinCoopSats int `yaml:"min_coop_sats" json:"min_coop_sats"`

	// RerouteCooldown is how long a flow's route is replayed from cache
	// before a fresh search is run.
	RerouteCooldown time.Duration `yaml:"reroute_cooldown" json:"reroute_cooldown"`

	// Deadline bounds the wall time of one search; zero disables it.
	Deadline time.Duration `yaml:"deadline" json:"deadline"`

	// Seed fixes the search RNG; zero seeds from the clock.
	Seed int64 `yaml:"seed" json:"seed"`
}

// DefaultMCTSConfig returns the standard search parameters.
func DefaultMCTSConfig() MCTSConfig {
	return MCTSConfig{
		Iterations:          1000,
		ExplorationC:        1.414,
		MaxDepth:            10,
		MaxHops:             8,
		SimulationDepth:     5,
		MinLinkCapacityMbps: 1.0,
		SeamPenalty:         0.5,
		PathChangePenalty:   0.3,
		LambdaPos:           0.2,
		MinCoopSats:         2,
		RerouteCooldown:     5 * time.Second,
		Deadline:            time.Second,
	}
}

// mctsNode is one entry of the search arena. Parent and children are arena
// indices; the root's parent is -1.
type mctsNode struct {
	sat      int
	parent   int
	children []int
	untried  []int
	visits   int
	total    float64
}

type cachedRoute struct {
	route []int
	at    time.Time
}

// MCTSRouter finds inter-satellite routes with a Monte Carlo tree search
// over the snapshot topology. The reward balances hop count, bottleneck
// bandwidth, load, seam crossings, route stability and positioning geometry.
// Routes are cached per flow and replayed within the reroute cooldown.
type MCTSRouter struct {
	cfg   MCTSConfig
	clock timectrl.SimClock
	log   logging.Logger
	opts  options

	rngMu sync.Mutex
	rng   *rand.Rand

	routeMu   sync.Mutex
	lastRoute map[string]cachedRoute
}

// NewMCTSRouter constructs a router. A nil clock falls back to the wall
// clock and a nil logger to a no-op one.
func NewMCTSRouter(cfg MCTSConfig, clock timectrl.SimClock, log logging.Logger, opts ...Option) *MCTSRouter {
	if clock == nil {
		clock = timectrl.WallClock{}
	}
	if log == nil {
		log = logging.Noop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}
	return &MCTSRouter{
		cfg:       cfg,
		clock:     clock,
		log:       log.With(logging.String("component", "mcts_router")),
		opts:      applyOptions(opts),
		rng:       rand.New(rand.NewSource(seed)),
		lastRoute: make(map[string]cachedRoute),
	}
}

// FindRoute returns a loop-free satellite path from the flow's source to its
// destination, or ErrRouteNotFound when the search cannot reach it. Within
// the reroute cooldown the flow's previous route is replayed unchanged.
func (r *MCTSRouter) FindRoute(ctx context.Context, flow *model.FlowRequest, state *core.NetworkState) ([]int, error) {
	if flow == nil {
		return nil, fmt.Errorf("%w: nil flow", ErrInvalidFlow)
	}
	if state == nil {
		return nil, ErrNilState
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "dsroq.route")
	span.SetAttributes(attribute.String("flow_id", flow.FlowID))
	defer span.End()

	src, dst := flow.SourceSatID, flow.DestSatID
	if _, ok := state.SatelliteByID(src); !ok {
		r.opts.collector.IncRouteFailure()
		return nil, fmt.Errorf("%w: unknown source satellite %d", ErrRouteNotFound, src)
	}
	if _, ok := state.SatelliteByID(dst); !ok {
		r.opts.collector.IncRouteFailure()
		return nil, fmt.Errorf("%w: unknown destination satellite %d", ErrRouteNotFound, dst)
	}
	if src == dst {
		return []int{src}, nil
	}

	now := r.clock.Now()
	prev := r.previousRoute(flow.FlowID)
	if route, ok := r.cachedWithin(flow.FlowID, now); ok {
		r.log.Debug(ctx, "route replayed within cooldown",
			logging.String("flow_id", flow.FlowID),
			logging.Int("hops", len(route)-1))
		span.SetAttributes(attribute.Bool("cached", true))
		return route, nil
	}

	route := r.search(ctx, src, dst, flow.BandwidthMbps, prev, state)
	if len(route) == 0 || route[len(route)-1] != dst {
		r.opts.collector.IncRouteFailure()
		r.log.Debug(ctx, "no route found",
			logging.String("flow_id", flow.FlowID),
			logging.Int("src", src),
			logging.Int("dst", dst))
		return nil, fmt.Errorf("%w: %d -> %d", ErrRouteNotFound, src, dst)
	}

	r.remember(flow.FlowID, route, now)
	span.SetAttributes(attribute.Int("hops", len(route)-1))
	r.log.Debug(ctx, "route found",
		logging.String("flow_id", flow.FlowID),
		logging.Int("hops", len(route)-1))
	return append([]int(nil), route...), nil
}

// Forget drops a flow's cached route, forcing the next FindRoute to search.
func (r *MCTSRouter) Forget(flowID string) {
	r.routeMu.Lock()
	defer r.routeMu.Unlock()
	delete(r.lastRoute, flowID)
}

func (r *MCTSRouter) previousRoute(flowID string) []int {
	r.routeMu.Lock()
	defer r.routeMu.Unlock()
	c, ok := r.lastRoute[flowID]
	if !ok {
		return nil
	}
	return append([]int(nil), c.route...)
}

func (r *MCTSRouter) cachedWithin(flowID string, now time.Time) ([]int, bool) {
	if r.cfg.RerouteCooldown <= 0 {
		return nil, false
	}
	r.routeMu.Lock()
	defer r.routeMu.Unlock()
	c, ok := r.lastRoute[flowID]
	if !ok || now.Sub(c.at) >= r.cfg.RerouteCooldown {
		return nil, false
	}
	return append([]int(nil), c.route...), true
}

func (r *MCTSRouter) remember(flowID string, route []int, now time.Time) {
	r.routeMu.Lock()
	defer r.routeMu.Unlock()
	r.lastRoute[flowID] = cachedRoute{route: append([]int(nil), route...), at: now}
}

// search grows the tree for up to cfg.Iterations iterations and extracts the
// most visited path.
func (r *MCTSRouter) search(ctx context.Context, src, dst int, reqMbps float64, prev []int, state *core.NetworkState) []int {
	arena := make([]mctsNode, 1, r.cfg.Iterations+1)
	arena[0] = mctsNode{
		sat:     src,
		parent:  -1,
		untried: r.feasibleNeighbors(state, src, map[int]bool{src: true}),
	}

	var deadline time.Time
	if r.cfg.Deadline > 0 {
		deadline = r.clock.Now().Add(r.cfg.Deadline)
	}

	for i := 0; i < r.cfg.Iterations; i++ {
		if ctx.Err() != nil {
			break
		}
		if !deadline.IsZero() && r.clock.Now().After(deadline) {
			break
		}

		idx := 0
		path := []int{src}
		for len(arena[idx].untried) == 0 && len(arena[idx].children) > 0 {
			idx = r.bestChild(arena, idx)
			path = append(path, arena[idx].sat)
		}

		if len(arena[idx].untried) > 0 && len(path) < r.cfg.MaxDepth {
			var child int
			arena, child = r.expand(arena, idx, dst, path, state)
			idx = child
			path = append(path, arena[idx].sat)
		}

		reward := r.evaluatePath(r.simulate(path, dst, state), dst, reqMbps, prev, state)

		for j := idx; j != -1; j = arena[j].parent {
			arena[j].visits++
			arena[j].total += reward
		}
	}

	return r.bestPath(arena, src, dst)
}

// bestChild returns the child index maximising UCB1; unvisited children win
// outright.
func (r *MCTSRouter) bestChild(arena []mctsNode, idx int) int {
	parent := arena[idx]
	best, bestScore := parent.children[0], math.Inf(-1)
	for _, ci := range parent.children {
		ch := arena[ci]
		score := math.Inf(1)
		if ch.visits > 0 {
			score = ch.total/float64(ch.visits) +
				r.cfg.ExplorationC*math.Sqrt(math.Log(float64(parent.visits))/float64(ch.visits))
		}
		if score > bestScore {
			best, bestScore = ci, score
		}
	}
	return best
}

// expand attaches a random untried neighbor as a new leaf and returns the
// grown arena with the leaf's index.
func (r *MCTSRouter) expand(arena []mctsNode, idx, dst int, path []int, state *core.NetworkState) ([]mctsNode, int) {
	r.rngMu.Lock()
	j := r.rng.Intn(len(arena[idx].untried))
	r.rngMu.Unlock()

	untried := arena[idx].untried
	sat := untried[j]
	untried[j] = untried[len(untried)-1]
	arena[idx].untried = untried[:len(untried)-1]

	var childUntried []int
	if sat != dst {
		visited := make(map[int]bool, len(path)+1)
		for _, n := range path {
			visited[n] = true
		}
		visited[sat] = true
		childUntried = r.feasibleNeighbors(state, sat, visited)
	}

	child := len(arena)
	arena = append(arena, mctsNode{sat: sat, parent: idx, untried: childUntried})
	arena[idx].children = append(arena[idx].children, child)
	return arena, child
}

// simulate extends the path with a greedy rollout: each step takes the
// feasible neighbor minimising distance to the destination weighted by link
// headroom.
func (r *MCTSRouter) simulate(path []int, dst int, state *core.NetworkState) []int {
	sim := append([]int(nil), path...)
	visited := make(map[int]bool, len(sim)+r.cfg.SimulationDepth)
	for _, n := range sim {
		visited[n] = true
	}

	cur := sim[len(sim)-1]
	for step := 0; step < r.cfg.SimulationDepth && cur != dst; step++ {
		next, bestCost := -1, math.Inf(1)
		for _, nb := range r.feasibleNeighbors(state, cur, visited) {
			denom := 1 - state.Utilization(cur, nb)
			if denom <= 0 {
				continue
			}
			cost := r.satDistance(state, nb, dst) / denom
			if cost < bestCost {
				next, bestCost = nb, cost
			}
		}
		if next == -1 {
			break
		}
		sim = append(sim, next)
		visited[next] = true
		cur = next
	}
	return sim
}

// evaluatePath scores a candidate path. Higher is better; only paths ending
// at the destination earn the arrival reward.
func (r *MCTSRouter) evaluatePath(path []int, dst int, reqMbps float64, prev []int, state *core.NetworkState) float64 {
	reward := -0.1 * float64(len(path))

	if len(path) > 1 {
		minAvail := math.Inf(1)
		var sumUtil float64
		seams := 0
		for i := 0; i+1 < len(path); i++ {
			if av := state.AvailableBandwidth(path[i], path[i+1]); av < minAvail {
				minAvail = av
			}
			sumUtil += state.Utilization(path[i], path[i+1])

			a, oka := state.SatelliteByID(path[i])
			b, okb := state.SatelliteByID(path[i+1])
			if oka && okb && core.LonDifferenceDeg(a.Lon, b.Lon) > 30 {
				seams++
			}
		}

		if reqMbps <= 0 {
			reward += 10
		} else {
			reward += math.Min(10, minAvail/reqMbps)
		}
		reward += 5 * (1 - sumUtil/float64(len(path)-1))
		reward -= float64(seams) * r.cfg.SeamPenalty * 10
	}

	if len(prev) > 0 && pathSimilarity(path, prev) < 0.8 {
		reward -= r.cfg.PathChangePenalty * 5
	}

	reward += r.geometryScore(path, state) * r.cfg.LambdaPos * 10

	if path[len(path)-1] == dst {
		reward += 20
	}
	return reward
}

// bestPath walks the arena from the root, at each level taking the child
// with the highest visits plus mean reward, until the destination or the
// hop bound.
func (r *MCTSRouter) bestPath(arena []mctsNode, src, dst int) []int {
	path := []int{src}
	idx := 0
	for arena[idx].sat != dst && len(path) < r.cfg.MaxHops {
		best, bestScore := -1, -1.0
		for _, ci := range arena[idx].children {
			ch := arena[ci]
			if ch.visits == 0 {
				continue
			}
			score := float64(ch.visits) + ch.total/float64(ch.visits)
			if score > bestScore {
				best, bestScore = ci, score
			}
		}
		if best == -1 {
			break
		}
		idx = best
		path = append(path, arena[idx].sat)
	}
	return path
}

// feasibleNeighbors lists the active neighbors of sat reachable over links
// with enough headroom, excluding already visited nodes.
func (r *MCTSRouter) feasibleNeighbors(state *core.NetworkState, sat int, visited map[int]bool) []int {
	var out []int
	for _, nb := range state.Neighbors(sat) {
		if visited[nb] {
			continue
		}
		if s, ok := state.SatelliteByID(nb); !ok || !s.Active {
			continue
		}
		if state.AvailableBandwidth(sat, nb) < r.cfg.MinLinkCapacityMbps {
			continue
		}
		out = append(out, nb)
	}
	return out
}

// geometryScore rewards paths whose satellites spread across the sky, which
// improves positioning fix quality for users under them.
func (r *MCTSRouter) geometryScore(path []int, state *core.NetworkState) float64 {
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	n := 0
	for _, id := range path {
		s, ok := state.SatelliteByID(id)
		if !ok {
			continue
		}
		n++
		minLat = math.Min(minLat, s.Lat)
		maxLat = math.Max(maxLat, s.Lat)
		minLon = math.Min(minLon, s.Lon)
		maxLon = math.Max(maxLon, s.Lon)
	}
	if n < r.cfg.MinCoopSats {
		return 0
	}
	return math.Min(1, ((maxLat-minLat)+(maxLon-minLon))/180)
}

func (r *MCTSRouter) satDistance(state *core.NetworkState, a, b int) float64 {
	sa, oka := state.SatelliteByID(a)
	sb, okb := state.SatelliteByID(b)
	if !oka || !okb {
		return math.Inf(1)
	}
	dLat := sa.Lat - sb.Lat
	dLon := core.LonDifferenceDeg(sa.Lon, sb.Lon)
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// pathSimilarity is the share of common nodes relative to the longer path.
func pathSimilarity(a, b []int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inA := make(map[int]bool, len(a))
	for _, n := range a {
		inA[n] = true
	}
	common := 0
	for _, n := range b {
		if inA[n] {
			common++
		}
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return float64(common) / float64(longer)
}
