package dsroq

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/model"
	"github.com/signalsfoundry/leo-admission/timectrl"
)

func routerClock() *timectrl.TimeController {
	return timectrl.NewTimeController(time.Unix(1000, 0), time.Second, timectrl.Accelerated)
}

func routerConfig() MCTSConfig {
	cfg := DefaultMCTSConfig()
	cfg.Iterations = 300
	cfg.Seed = 11
	return cfg
}

func routeFlow(src, dst int) *model.FlowRequest {
	return &model.FlowRequest{
		FlowID:        "flow-route",
		SourceSatID:   src,
		DestSatID:     dst,
		QoSClass:      model.QoSBestEffort,
		FlowType:      model.FlowBE,
		BandwidthMbps: 10,
		MaxLatencyMs:  100,
	}
}

// lineState builds n satellites chained 0-1-...-(n-1) with idle 100 Mbps
// links.
func lineState(n int) *core.NetworkState {
	state := core.NewNetworkState(0)
	for id := 0; id < n; id++ {
		state.AddSatellite(model.Satellite{ID: id, Lat: float64(id) * 5, Active: true})
	}
	for id := 0; id+1 < n; id++ {
		state.AddLink(id, id+1, 100, 1000)
	}
	return state
}

// diamondState builds two disjoint arms from 0 to 3, through 1 and through 2.
func diamondState() *core.NetworkState {
	state := core.NewNetworkState(0)
	state.AddSatellite(model.Satellite{ID: 0, Lat: 0, Lon: 0, Active: true})
	state.AddSatellite(model.Satellite{ID: 1, Lat: 10, Lon: 5, Active: true})
	state.AddSatellite(model.Satellite{ID: 2, Lat: -10, Lon: 5, Active: true})
	state.AddSatellite(model.Satellite{ID: 3, Lat: 0, Lon: 10, Active: true})
	state.AddLink(0, 1, 100, 1000)
	state.AddLink(1, 3, 100, 1000)
	state.AddLink(0, 2, 100, 1000)
	state.AddLink(2, 3, 100, 1000)
	return state
}

func TestMCTSRouter_FindsLinePath(t *testing.T) {
	r := NewMCTSRouter(routerConfig(), routerClock(), nil)

	route, err := r.FindRoute(context.Background(), routeFlow(0, 3), lineState(4))
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	if want := []int{0, 1, 2, 3}; !reflect.DeepEqual(route, want) {
		t.Errorf("expected %v, got %v", want, route)
	}
}

func TestMCTSRouter_ReplaysWithinCooldown(t *testing.T) {
	clock := routerClock()
	r := NewMCTSRouter(routerConfig(), clock, nil)
	state := diamondState()
	flow := routeFlow(0, 3)

	route1, err := r.FindRoute(context.Background(), flow, state)
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	if len(route1) != 3 {
		t.Fatalf("expected a 3-node diamond arm, got %v", route1)
	}

	// Saturate the chosen arm. Within the cooldown the stale route must
	// still be replayed; after it, the search must switch arms.
	mid := route1[1]
	state.SetUtilization(0, mid, 0.995)
	state.SetUtilization(mid, 3, 0.995)

	route2, err := r.FindRoute(context.Background(), flow, state)
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	if !reflect.DeepEqual(route1, route2) {
		t.Errorf("expected the cached route %v, got %v", route1, route2)
	}

	clock.SetTime(clock.Now().Add(6 * time.Second))
	route3, err := r.FindRoute(context.Background(), flow, state)
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	for _, node := range route3 {
		if node == mid {
			t.Fatalf("rerouted path %v still crosses saturated node %d", route3, mid)
		}
	}
}

func TestMCTSRouter_ForgetDropsCache(t *testing.T) {
	r := NewMCTSRouter(routerConfig(), routerClock(), nil)
	state := diamondState()
	flow := routeFlow(0, 3)

	route1, err := r.FindRoute(context.Background(), flow, state)
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	mid := route1[1]
	state.SetUtilization(0, mid, 0.995)
	state.SetUtilization(mid, 3, 0.995)

	r.Forget(flow.FlowID)
	route2, err := r.FindRoute(context.Background(), flow, state)
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	for _, node := range route2 {
		if node == mid {
			t.Fatalf("fresh search %v still crosses saturated node %d", route2, mid)
		}
	}
}

func TestMCTSRouter_AvoidsInactiveSatellites(t *testing.T) {
	r := NewMCTSRouter(routerConfig(), routerClock(), nil)
	state := diamondState()
	state.Satellites[1].Active = false

	route, err := r.FindRoute(context.Background(), routeFlow(0, 3), state)
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	if want := []int{0, 2, 3}; !reflect.DeepEqual(route, want) {
		t.Errorf("expected %v, got %v", want, route)
	}
}

func TestMCTSRouter_RespectsMinLinkHeadroom(t *testing.T) {
	r := NewMCTSRouter(routerConfig(), routerClock(), nil)
	state := lineState(3)
	// 0.5 Mbps of headroom is under the 1.0 Mbps exploration floor.
	state.SetUtilization(1, 2, 0.995)

	_, err := r.FindRoute(context.Background(), routeFlow(0, 2), state)
	if !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestMCTSRouter_LoopFreeOnGrid(t *testing.T) {
	state := core.NewNetworkState(0)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			id := r*3 + c
			state.AddSatellite(model.Satellite{ID: id, Lat: float64(r) * 10, Lon: float64(c) * 10, Active: true})
		}
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			id := r*3 + c
			if c < 2 {
				state.AddLink(id, id+1, 100, 1000)
			}
			if r < 2 {
				state.AddLink(id, id+3, 100, 1000)
			}
		}
	}

	cfg := routerConfig()
	cfg.Iterations = 800
	router := NewMCTSRouter(cfg, routerClock(), nil)
	route, err := router.FindRoute(context.Background(), routeFlow(0, 8), state)
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	if route[0] != 0 || route[len(route)-1] != 8 {
		t.Fatalf("route %v does not join 0 and 8", route)
	}
	if len(route) > DefaultMCTSConfig().MaxHops {
		t.Errorf("route %v exceeds the hop bound", route)
	}
	seen := make(map[int]bool)
	for _, node := range route {
		if seen[node] {
			t.Fatalf("route %v revisits node %d", route, node)
		}
		seen[node] = true
	}
}

func TestMCTSRouter_IterationBudgetBounds(t *testing.T) {
	starved := routerConfig()
	starved.Iterations = 2
	r := NewMCTSRouter(starved, routerClock(), nil)

	// Two iterations can only grow two tree levels, short of the
	// destination three hops out.
	if _, err := r.FindRoute(context.Background(), routeFlow(0, 3), lineState(4)); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected ErrRouteNotFound on a starved budget, got %v", err)
	}

	r = NewMCTSRouter(routerConfig(), routerClock(), nil)
	if _, err := r.FindRoute(context.Background(), routeFlow(0, 3), lineState(4)); err != nil {
		t.Errorf("full budget failed: %v", err)
	}
}

func TestMCTSRouter_TrivialAndInvalidInputs(t *testing.T) {
	r := NewMCTSRouter(routerConfig(), routerClock(), nil)
	state := lineState(6)

	route, err := r.FindRoute(context.Background(), routeFlow(5, 5), state)
	if err != nil {
		t.Fatalf("FindRoute failed: %v", err)
	}
	if want := []int{5}; !reflect.DeepEqual(route, want) {
		t.Errorf("expected %v for a co-located pair, got %v", want, route)
	}

	if _, err := r.FindRoute(context.Background(), routeFlow(99, 5), state); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("unknown source: expected ErrRouteNotFound, got %v", err)
	}
	if _, err := r.FindRoute(context.Background(), routeFlow(0, 99), state); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("unknown destination: expected ErrRouteNotFound, got %v", err)
	}
	if _, err := r.FindRoute(context.Background(), nil, state); !errors.Is(err, ErrInvalidFlow) {
		t.Errorf("nil flow: expected ErrInvalidFlow, got %v", err)
	}
	if _, err := r.FindRoute(context.Background(), routeFlow(0, 5), nil); !errors.Is(err, ErrNilState) {
		t.Errorf("nil state: expected ErrNilState, got %v", err)
	}
}

func TestMCTSRouter_EvaluatePathPreferences(t *testing.T) {
	r := NewMCTSRouter(routerConfig(), routerClock(), nil)

	t.Run("seam crossings cost", func(t *testing.T) {
		state := core.NewNetworkState(0)
		state.AddSatellite(model.Satellite{ID: 0, Lon: 0, Active: true})
		state.AddSatellite(model.Satellite{ID: 1, Lon: 100, Active: true})
		state.AddSatellite(model.Satellite{ID: 2, Lon: 5, Active: true})
		state.AddSatellite(model.Satellite{ID: 3, Lon: 10, Active: true})
		state.AddLink(0, 1, 100, 1000)
		state.AddLink(1, 3, 100, 1000)
		state.AddLink(0, 2, 100, 1000)
		state.AddLink(2, 3, 100, 1000)

		seam := r.evaluatePath([]int{0, 1, 3}, 3, 10, nil, state)
		clean := r.evaluatePath([]int{0, 2, 3}, 3, 10, nil, state)
		if seam >= clean {
			t.Errorf("seam-crossing path scored %v, clean path %v", seam, clean)
		}
	})

	t.Run("arrival beats truncation", func(t *testing.T) {
		state := lineState(4)
		full := r.evaluatePath([]int{0, 1, 2, 3}, 3, 10, nil, state)
		short := r.evaluatePath([]int{0, 1, 2}, 3, 10, nil, state)
		if full <= short {
			t.Errorf("arriving path scored %v, truncated path %v", full, short)
		}
	})

	t.Run("loaded links cost", func(t *testing.T) {
		idle := lineState(3)
		loaded := lineState(3)
		loaded.SetUtilization(0, 1, 0.8)
		loaded.SetUtilization(1, 2, 0.8)

		a := r.evaluatePath([]int{0, 1, 2}, 2, 10, nil, idle)
		b := r.evaluatePath([]int{0, 1, 2}, 2, 10, nil, loaded)
		if b >= a {
			t.Errorf("loaded path scored %v, idle path %v", b, a)
		}
	})

	t.Run("divergence from previous route costs", func(t *testing.T) {
		state := diamondState()
		prev := []int{0, 2, 3}
		same := r.evaluatePath([]int{0, 2, 3}, 3, 10, prev, state)
		diverged := r.evaluatePath([]int{0, 1, 3}, 3, 10, prev, state)
		// Symmetric arms differ only by the stability penalty.
		if math.Abs((same-diverged)-1.5) > 1e-9 {
			t.Errorf("expected a 1.5 stability gap, got %v vs %v", same, diverged)
		}
	})
}

func TestPathSimilarity(t *testing.T) {
	cases := []struct {
		a, b []int
		want float64
	}{
		{[]int{0, 1, 2}, []int{0, 1, 2}, 1.0},
		{[]int{0, 1, 3}, []int{0, 2, 3}, 2.0 / 3.0},
		{[]int{0, 1}, []int{2, 3}, 0},
		{nil, []int{0}, 0},
		{[]int{0, 1}, []int{0, 1, 2, 3}, 0.5},
	}
	for _, tc := range cases {
		if got := pathSimilarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("pathSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
