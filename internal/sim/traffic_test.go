package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/leo-admission/model"
)

func TestPatternsWellFormed(t *testing.T) {
	patterns := Patterns()
	if len(patterns) != 5 {
		t.Fatalf("len(Patterns()) = %d, want 5", len(patterns))
	}

	for _, p := range patterns {
		t.Run(p.Name, func(t *testing.T) {
			if p.ArrivalRate <= 0 {
				t.Errorf("ArrivalRate = %v, want > 0", p.ArrivalRate)
			}
			if len(p.Services) == 0 || len(p.Services) != len(p.Weights) {
				t.Fatalf("services/weights length mismatch: %d vs %d", len(p.Services), len(p.Weights))
			}
			sum := 0.0
			for _, w := range p.Weights {
				if w <= 0 {
					t.Errorf("weight %v, want > 0", w)
				}
				sum += w
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("weights sum = %v, want 1", sum)
			}
			if p.BandwidthMinMbps <= 0 || p.BandwidthMinMbps >= p.BandwidthMaxMbps {
				t.Errorf("bandwidth range [%v, %v] invalid", p.BandwidthMinMbps, p.BandwidthMaxMbps)
			}
			if p.DurationMinSec <= 0 || p.DurationMinSec >= p.DurationMaxSec {
				t.Errorf("duration range [%v, %v] invalid", p.DurationMinSec, p.DurationMaxSec)
			}
			if p.PriorityMin < 1 || p.PriorityMax > 10 || p.PriorityMin > p.PriorityMax {
				t.Errorf("priority range [%d, %d] invalid", p.PriorityMin, p.PriorityMax)
			}

			got, ok := PatternByName(p.Name)
			if !ok || got.Name != p.Name {
				t.Errorf("PatternByName(%q) = %q, %v", p.Name, got.Name, ok)
			}
		})
	}

	if _, ok := PatternByName("bursty_nonsense"); ok {
		t.Error("PatternByName accepted an unknown pattern")
	}
}

func TestNewTrafficGeneratorUnknownPattern(t *testing.T) {
	cfg := DefaultTrafficConfig()
	cfg.Pattern = "flood"
	if _, err := NewTrafficGenerator(cfg, nil); !errors.Is(err, ErrUnknownPattern) {
		t.Fatalf("NewTrafficGenerator error = %v, want ErrUnknownPattern", err)
	}
}

func TestGenerateVolumeFollowsArrivalRate(t *testing.T) {
	cfg := DefaultTrafficConfig()
	cfg.Seed = 42
	g, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}

	ctx := context.Background()
	total := 0
	for i := 0; i < 200; i++ {
		total += len(g.Generate(ctx, float64(i), 1))
	}

	// The mixed pattern arrives at 10/s, so 200 one-second steps should land
	// near 2000 arrivals.
	if total < 1500 || total > 2500 {
		t.Fatalf("total arrivals = %d over 200 steps, want within [1500, 2500]", total)
	}
	if got := g.Statistics().TotalRequests; got != int64(total) {
		t.Errorf("Statistics().TotalRequests = %d, want %d", got, total)
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	cfg := DefaultTrafficConfig()
	cfg.Seed = 7

	g1, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}
	g2, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}

	ctx := context.Background()
	a := g1.Generate(ctx, 0, 5)
	b := g2.Generate(ctx, 0, 5)
	if len(a) == 0 {
		t.Fatal("generated no requests in a 5 second window")
	}
	if len(a) != len(b) {
		t.Fatalf("batch sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].UserID != b[i].UserID {
			t.Errorf("request %d: UserID %q vs %q", i, a[i].UserID, b[i].UserID)
		}
		if a[i].ServiceType != b[i].ServiceType {
			t.Errorf("request %d: ServiceType %q vs %q", i, a[i].ServiceType, b[i].ServiceType)
		}
		if math.Abs(a[i].BandwidthMbps-b[i].BandwidthMbps) > 1e-9 {
			t.Errorf("request %d: BandwidthMbps %v vs %v", i, a[i].BandwidthMbps, b[i].BandwidthMbps)
		}
		if math.Abs(a[i].UserLat-b[i].UserLat) > 1e-9 || math.Abs(a[i].UserLon-b[i].UserLon) > 1e-9 {
			t.Errorf("request %d: position (%v, %v) vs (%v, %v)", i, a[i].UserLat, a[i].UserLon, b[i].UserLat, b[i].UserLon)
		}
	}
}

func TestGeneratedRequestShape(t *testing.T) {
	cfg := DefaultTrafficConfig()
	cfg.Seed = 1
	g, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}
	p, _ := PatternByName(cfg.Pattern)

	ctx := context.Background()
	seen := make(map[string]bool)
	const slack = 0.01
	for i := 0; i < 50; i++ {
		now := float64(i)
		for _, req := range g.Generate(ctx, now, 1) {
			if seen[req.UserID] {
				t.Fatalf("duplicate UserID %q", req.UserID)
			}
			seen[req.UserID] = true

			if req.BandwidthMbps < p.BandwidthMinMbps-slack || req.BandwidthMbps > p.BandwidthMaxMbps+slack {
				t.Errorf("BandwidthMbps = %v outside [%v, %v]", req.BandwidthMbps, p.BandwidthMinMbps, p.BandwidthMaxMbps)
			}
			if req.DurationSeconds < p.DurationMinSec-0.1 || req.DurationSeconds > p.DurationMaxSec+0.1 {
				t.Errorf("DurationSeconds = %v outside [%v, %v]", req.DurationSeconds, p.DurationMinSec, p.DurationMaxSec)
			}
			if req.Priority < p.PriorityMin || req.Priority > p.PriorityMax {
				t.Errorf("Priority = %d outside [%d, %d]", req.Priority, p.PriorityMin, p.PriorityMax)
			}
			if req.MaxLatencyMs <= 0 {
				t.Errorf("MaxLatencyMs = %v, want > 0", req.MaxLatencyMs)
			}
			if req.MinReliability <= 0 || req.MinReliability > 0.999 {
				t.Errorf("MinReliability = %v outside (0, 0.999]", req.MinReliability)
			}
			for _, lat := range []float64{req.UserLat, req.DestLat} {
				if lat < cfg.LatMin || lat > cfg.LatMax {
					t.Errorf("latitude %v outside [%v, %v]", lat, cfg.LatMin, cfg.LatMax)
				}
			}
			for _, lon := range []float64{req.UserLon, req.DestLon} {
				if lon < cfg.LonMin || lon > cfg.LonMax {
					t.Errorf("longitude %v outside [%v, %v]", lon, cfg.LonMin, cfg.LonMax)
				}
			}
			if math.Abs(req.Timestamp-now) > 1e-9 {
				t.Errorf("Timestamp = %v, want %v", req.Timestamp, now)
			}
		}
	}
	if len(seen) == 0 {
		t.Fatal("generated no requests in 50 steps")
	}
}

func TestHotspotGeographyClustersNearCities(t *testing.T) {
	cfg := DefaultTrafficConfig()
	cfg.Pattern = "emergency"
	cfg.Seed = 3
	g, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}

	ctx := context.Background()
	total := 0
	for i := 0; i < 150; i++ {
		for _, req := range g.Generate(ctx, float64(i), 1) {
			total++
			if !nearAnyCity(req.UserLat, req.UserLon, 1.0, 1.5) {
				t.Errorf("hotspot request at (%v, %v) is not near any city", req.UserLat, req.UserLon)
			}
		}
	}
	if total == 0 {
		t.Fatal("generated no emergency requests in 150 steps")
	}
}

func TestClusteredGeographyFavorsCities(t *testing.T) {
	cfg := DefaultTrafficConfig()
	cfg.Pattern = "video_streaming"
	cfg.Seed = 11
	g, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}

	ctx := context.Background()
	total, near := 0, 0
	for i := 0; i < 100; i++ {
		for _, req := range g.Generate(ctx, float64(i), 1) {
			total++
			if nearAnyCity(req.UserLat, req.UserLon, 3, 4) {
				near++
			}
		}
	}
	if total == 0 {
		t.Fatal("generated no video requests in 100 steps")
	}
	// 70% of clustered placements sit near a hotspot; uniform leakage from
	// the remaining 30% can only add to the count.
	if frac := float64(near) / float64(total); frac < 0.6 {
		t.Fatalf("near-city fraction = %v (%d/%d), want >= 0.6", frac, near, total)
	}
}

// nearAnyCity reports whether the point lies within the given lat/lon margins
// of one of the fixed hotspots.
func nearAnyCity(lat, lon, latMargin, lonMargin float64) bool {
	for _, h := range cityHotspots {
		if math.Abs(lat-h.Lat) <= latMargin && math.Abs(lon-h.Lon) <= lonMargin {
			return true
		}
	}
	return false
}

func TestSetPattern(t *testing.T) {
	cfg := DefaultTrafficConfig()
	cfg.Seed = 9
	g, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}

	if err := g.SetPattern("navigation"); err != nil {
		t.Fatalf("SetPattern(navigation): %v", err)
	}
	if got := g.Statistics().Pattern; got != "navigation" {
		t.Errorf("Statistics().Pattern = %q, want %q", got, "navigation")
	}
	if err := g.SetPattern("tsunami"); !errors.Is(err, ErrUnknownPattern) {
		t.Errorf("SetPattern(tsunami) error = %v, want ErrUnknownPattern", err)
	}

	reqs := g.Generate(context.Background(), 0, 10)
	allowed := map[model.ServiceType]bool{
		model.ServiceNavigation:    true,
		model.ServiceLocationBased: true,
		model.ServiceData:          true,
	}
	for _, req := range reqs {
		if !allowed[req.ServiceType] {
			t.Errorf("navigation pattern produced service %q", req.ServiceType)
		}
	}
}

func TestStatisticsAggregates(t *testing.T) {
	cfg := DefaultTrafficConfig()
	cfg.Pattern = "data_heavy"
	cfg.Seed = 5
	g, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}

	ctx := context.Background()
	total := 0
	for i := 0; i < 100; i++ {
		total += len(g.Generate(ctx, float64(i), 1))
	}
	if total == 0 {
		t.Fatal("generated no requests")
	}

	stats := g.Statistics()
	if stats.TotalRequests != int64(total) {
		t.Errorf("TotalRequests = %d, want %d", stats.TotalRequests, total)
	}
	var byService int64
	for svc, n := range stats.ByService {
		if n <= 0 {
			t.Errorf("ByService[%q] = %d, want > 0", svc, n)
		}
		byService += n
	}
	if byService != stats.TotalRequests {
		t.Errorf("sum(ByService) = %d, want %d", byService, stats.TotalRequests)
	}
	if stats.AvgBandwidthMbps < 1 || stats.AvgBandwidthMbps > 50 {
		t.Errorf("AvgBandwidthMbps = %v outside the pattern range [1, 50]", stats.AvgBandwidthMbps)
	}
	if stats.AvgDurationSec < 30 || stats.AvgDurationSec > 300 {
		t.Errorf("AvgDurationSec = %v outside the pattern range [30, 300]", stats.AvgDurationSec)
	}
	if stats.GeographicSpread <= 0 {
		t.Errorf("GeographicSpread = %v, want > 0 for uniform placement", stats.GeographicSpread)
	}

	g.Reset()
	stats = g.Statistics()
	if stats.TotalRequests != 0 || len(stats.ByService) != 0 {
		t.Errorf("after Reset: TotalRequests = %d, ByService = %v, want empty", stats.TotalRequests, stats.ByService)
	}
	if stats.Pattern != "data_heavy" {
		t.Errorf("after Reset: Pattern = %q, want data_heavy", stats.Pattern)
	}
}

func TestQoSJitterStaysInWindow(t *testing.T) {
	windows := map[model.ServiceType]struct{ lo, hi float64 }{
		model.ServiceEmergency: {lo: 30 * 0.8, hi: 30 * 1.2},
		model.ServiceVoice:     {lo: 50 * 0.8, hi: 50 * 1.2},
	}

	cfg := DefaultTrafficConfig()
	cfg.Pattern = "emergency"
	cfg.Seed = 13
	g, err := NewTrafficGenerator(cfg, nil)
	if err != nil {
		t.Fatalf("NewTrafficGenerator: %v", err)
	}

	ctx := context.Background()
	checked := 0
	for i := 0; i < 200; i++ {
		for _, req := range g.Generate(ctx, float64(i), 1) {
			w, ok := windows[req.ServiceType]
			if !ok {
				t.Fatalf("unexpected service %q from the emergency pattern", req.ServiceType)
			}
			checked++
			if req.MaxLatencyMs < w.lo-1e-9 || req.MaxLatencyMs > w.hi+1e-9 {
				t.Errorf("%s MaxLatencyMs = %v outside [%v, %v]", req.ServiceType, req.MaxLatencyMs, w.lo, w.hi)
			}
			if req.ServiceType == model.ServiceEmergency {
				if req.MinReliability < 0.999*0.95-1e-9 || req.MinReliability > 0.999+1e-9 {
					t.Errorf("emergency MinReliability = %v outside [%v, 0.999]", req.MinReliability, 0.999*0.95)
				}
			}
		}
	}
	if checked == 0 {
		t.Fatal("generated no requests to check")
	}
}
