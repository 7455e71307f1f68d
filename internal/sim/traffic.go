package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/model"
)

// Geography selects how user terminals are placed for generated requests.
type Geography string

const (
	GeoUniform   Geography = "uniform"
	GeoClustered Geography = "clustered"
	GeoHotspot   Geography = "hotspot"
)

// TrafficPattern is a named workload: a weighted service mix with bandwidth,
// duration, and priority ranges, plus a geographic placement mode.
type TrafficPattern struct {
	Name string
	// ArrivalRate is the mean number of new requests per simulated second.
	ArrivalRate float64

	Services []model.ServiceType
	// Weights are the selection probabilities for Services, same length,
	// normalized at draw time.
	Weights []float64

	BandwidthMinMbps float64
	BandwidthMaxMbps float64
	DurationMinSec   float64
	DurationMaxSec   float64
	PriorityMin      int
	PriorityMax      int

	Geography Geography
}

// Patterns returns the built-in traffic patterns.
func Patterns() []TrafficPattern {
	return []TrafficPattern{
		{
			Name:        "data_heavy",
			ArrivalRate: 8,
			Services:    []model.ServiceType{model.ServiceData, model.ServiceVideo, model.ServiceVoice},
			Weights:     []float64{0.6, 0.3, 0.1},

			BandwidthMinMbps: 1, BandwidthMaxMbps: 50,
			DurationMinSec: 30, DurationMaxSec: 300,
			PriorityMin: 1, PriorityMax: 7,
			Geography: GeoUniform,
		},
		{
			Name:        "video_streaming",
			ArrivalRate: 5,
			Services:    []model.ServiceType{model.ServiceVideo, model.ServiceData},
			Weights:     []float64{0.8, 0.2},

			BandwidthMinMbps: 5, BandwidthMaxMbps: 25,
			DurationMinSec: 120, DurationMaxSec: 1800,
			PriorityMin: 3, PriorityMax: 8,
			Geography: GeoClustered,
		},
		{
			Name:        "emergency",
			ArrivalRate: 2,
			Services:    []model.ServiceType{model.ServiceEmergency, model.ServiceVoice},
			Weights:     []float64{0.7, 0.3},

			BandwidthMinMbps: 0.5, BandwidthMaxMbps: 10,
			DurationMinSec: 10, DurationMaxSec: 120,
			PriorityMin: 8, PriorityMax: 10,
			Geography: GeoHotspot,
		},
		{
			Name:        "navigation",
			ArrivalRate: 12,
			Services:    []model.ServiceType{model.ServiceNavigation, model.ServiceLocationBased, model.ServiceData},
			Weights:     []float64{0.5, 0.3, 0.2},

			BandwidthMinMbps: 0.1, BandwidthMaxMbps: 5,
			DurationMinSec: 60, DurationMaxSec: 600,
			PriorityMin: 4, PriorityMax: 7,
			Geography: GeoUniform,
		},
		{
			Name:        "mixed",
			ArrivalRate: 10,
			Services: []model.ServiceType{
				model.ServiceData, model.ServiceVideo, model.ServiceVoice,
				model.ServiceNavigation, model.ServiceLocationBased,
			},
			Weights: []float64{0.4, 0.25, 0.15, 0.15, 0.05},

			BandwidthMinMbps: 0.5, BandwidthMaxMbps: 30,
			DurationMinSec: 30, DurationMaxSec: 600,
			PriorityMin: 1, PriorityMax: 8,
			Geography: GeoUniform,
		},
	}
}

// PatternByName looks up a built-in pattern.
func PatternByName(name string) (TrafficPattern, bool) {
	for _, p := range Patterns() {
		if p.Name == name {
			return p, true
		}
	}
	return TrafficPattern{}, false
}

// qosProfile is the baseline QoS requirement per service; generated requests
// jitter around these (latency x[0.8,1.2], reliability x[0.95,1.0]).
type qosProfile struct {
	MaxLatencyMs   float64
	MinReliability float64
}

var qosProfiles = map[model.ServiceType]qosProfile{
	model.ServiceVoice:         {MaxLatencyMs: 50, MinReliability: 0.99},
	model.ServiceVideo:         {MaxLatencyMs: 100, MinReliability: 0.95},
	model.ServiceData:          {MaxLatencyMs: 200, MinReliability: 0.90},
	model.ServiceEmergency:     {MaxLatencyMs: 30, MinReliability: 0.999},
	model.ServiceNavigation:    {MaxLatencyMs: 80, MinReliability: 0.98},
	model.ServiceLocationBased: {MaxLatencyMs: 150, MinReliability: 0.92},
}

// hotspot is a population center that attracts clustered and hotspot
// traffic.
type hotspot struct {
	Lat, Lon  float64
	RadiusKm  float64
	Intensity float64
}

// cityHotspots are the fixed population centers used by the clustered and
// hotspot geographies.
var cityHotspots = []hotspot{
	{Lat: 40.7128, Lon: -74.0060, RadiusKm: 50, Intensity: 3.0},   // New York
	{Lat: 35.6762, Lon: 139.6503, RadiusKm: 40, Intensity: 2.5},   // Tokyo
	{Lat: 51.5074, Lon: -0.1278, RadiusKm: 35, Intensity: 2.0},    // London
	{Lat: 37.7749, Lon: -122.4194, RadiusKm: 30, Intensity: 2.2},  // San Francisco
	{Lat: 55.7558, Lon: 37.6176, RadiusKm: 45, Intensity: 1.8},    // Moscow
	{Lat: -33.8688, Lon: 151.2093, RadiusKm: 25, Intensity: 1.5},  // Sydney
}

const (
	// clusterProbability is the share of clustered traffic placed near a
	// hotspot rather than uniformly.
	clusterProbability = 0.7

	kmPerDegree = 111.0
)

// TrafficConfig configures the generator.
type TrafficConfig struct {
	// Pattern names the built-in workload to generate.
	Pattern string `yaml:"pattern" json:"pattern"`
	// Seed seeds the random source; zero draws a seed from the wall clock.
	Seed int64 `yaml:"seed" json:"seed"`

	// Terminal placement bounds in degrees.
	LatMin float64 `yaml:"lat_min" json:"lat_min"`
	LatMax float64 `yaml:"lat_max" json:"lat_max"`
	LonMin float64 `yaml:"lon_min" json:"lon_min"`
	LonMax float64 `yaml:"lon_max" json:"lon_max"`
}

// DefaultTrafficConfig returns the mixed workload over the inhabited
// latitudes.
func DefaultTrafficConfig() TrafficConfig {
	return TrafficConfig{
		Pattern: "mixed",
		LatMin:  -60, LatMax: 60,
		LonMin: -180, LonMax: 180,
	}
}

// TrafficStatistics summarises everything generated since the last reset.
type TrafficStatistics struct {
	Pattern       string
	TotalRequests int64
	ByService     map[model.ServiceType]int64

	AvgBandwidthMbps float64
	AvgDurationSec   float64

	// GeographicSpread is sqrt(var(lat)+var(lon)) over all generated source
	// positions, in degrees.
	GeographicSpread float64
}

// TrafficGenerator produces user requests following a named pattern.
// Arrivals per step are Poisson; request attributes are drawn from the
// pattern's ranges. Safe for concurrent use.
type TrafficGenerator struct {
	cfg TrafficConfig
	log logging.Logger

	mu      sync.Mutex
	src     rand.Source
	rng     *rand.Rand
	pattern TrafficPattern
	counter int64

	generated    int64
	byService    map[model.ServiceType]int64
	bandwidthSum float64
	durationSum  float64
	latSum       float64
	latSqSum     float64
	lonSum       float64
	lonSqSum     float64
}

// NewTrafficGenerator builds a generator for the configured pattern.
func NewTrafficGenerator(cfg TrafficConfig, log logging.Logger) (*TrafficGenerator, error) {
	if log == nil {
		log = logging.Noop()
	}
	p, ok := PatternByName(cfg.Pattern)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, cfg.Pattern)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	src := rand.NewSource(uint64(seed))

	return &TrafficGenerator{
		cfg:       cfg,
		log:       log.With(logging.String("component", "traffic_generator")),
		src:       src,
		rng:       rand.New(src),
		pattern:   p,
		byService: make(map[model.ServiceType]int64),
	}, nil
}

// SetPattern switches the generator to another built-in pattern.
func (g *TrafficGenerator) SetPattern(name string) error {
	p, ok := PatternByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPattern, name)
	}
	g.mu.Lock()
	g.pattern = p
	g.mu.Unlock()
	return nil
}

// Generate draws the Poisson arrival count for one step of the given length
// and materializes each request. now is the simulation time in seconds.
func (g *TrafficGenerator) Generate(ctx context.Context, now, step float64) []*model.UserRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	mean := g.pattern.ArrivalRate * step
	if mean <= 0 {
		return nil
	}
	n := int(distuv.Poisson{Lambda: mean, Src: g.src}.Rand())
	if n <= 0 {
		return nil
	}

	out := make([]*model.UserRequest, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.request(now))
	}

	g.log.Debug(ctx, "generated requests",
		logging.Int("count", n),
		logging.Float64("sim_time_sec", now),
		logging.String("pattern", g.pattern.Name))
	return out
}

// Statistics snapshots the generation counters.
func (g *TrafficGenerator) Statistics() TrafficStatistics {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := TrafficStatistics{
		Pattern:       g.pattern.Name,
		TotalRequests: g.generated,
		ByService:     make(map[model.ServiceType]int64, len(g.byService)),
	}
	for svc, n := range g.byService {
		out.ByService[svc] = n
	}
	if g.generated > 0 {
		n := float64(g.generated)
		out.AvgBandwidthMbps = g.bandwidthSum / n
		out.AvgDurationSec = g.durationSum / n
		varLat := g.latSqSum/n - (g.latSum/n)*(g.latSum/n)
		varLon := g.lonSqSum/n - (g.lonSum/n)*(g.lonSum/n)
		out.GeographicSpread = math.Sqrt(math.Max(0, varLat) + math.Max(0, varLon))
	}
	return out
}

// Reset zeroes the counters. The pattern and random stream are kept.
func (g *TrafficGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter = 0
	g.generated = 0
	g.byService = make(map[model.ServiceType]int64)
	g.bandwidthSum = 0
	g.durationSum = 0
	g.latSum, g.latSqSum = 0, 0
	g.lonSum, g.lonSqSum = 0, 0
}

// request materializes one request. Caller holds g.mu.
func (g *TrafficGenerator) request(now float64) *model.UserRequest {
	g.counter++
	p := g.pattern

	svc := g.service()
	bandwidth := snap(g.uniform(p.BandwidthMinMbps, p.BandwidthMaxMbps), 0.01)
	duration := snap(g.uniform(p.DurationMinSec, p.DurationMaxSec), 0.1)
	priority := p.PriorityMin + g.rng.Intn(p.PriorityMax-p.PriorityMin+1)
	maxLatency, minReliability := g.qos(svc)
	srcLat, srcLon := g.location()
	dstLat, dstLon := g.location()

	g.generated++
	g.byService[svc]++
	g.bandwidthSum += bandwidth
	g.durationSum += duration
	g.latSum += srcLat
	g.latSqSum += srcLat * srcLat
	g.lonSum += srcLon
	g.lonSqSum += srcLon * srcLon

	return &model.UserRequest{
		UserID:      fmt.Sprintf("user-%d-%d", g.counter, int64(now)),
		ServiceType: svc,

		BandwidthMbps:  bandwidth,
		MaxLatencyMs:   maxLatency,
		MinReliability: minReliability,
		Priority:       priority,

		UserLat: srcLat,
		UserLon: srcLon,
		DestLat: dstLat,
		DestLon: dstLon,

		DurationSeconds: duration,
		Timestamp:       now,
	}
}

// service draws from the pattern's weighted mix.
func (g *TrafficGenerator) service() model.ServiceType {
	p := g.pattern
	total := 0.0
	for _, w := range p.Weights {
		total += w
	}
	x := g.rng.Float64() * total
	for i, w := range p.Weights {
		x -= w
		if x < 0 {
			return p.Services[i]
		}
	}
	return p.Services[len(p.Services)-1]
}

// qos derives the jittered QoS requirement for a service. Reliability never
// exceeds 0.999, matching the strictest profile.
func (g *TrafficGenerator) qos(svc model.ServiceType) (maxLatencyMs, minReliability float64) {
	profile, ok := qosProfiles[svc]
	if !ok {
		profile = qosProfile{MaxLatencyMs: 200, MinReliability: 0.90}
	}
	maxLatencyMs = profile.MaxLatencyMs * g.uniform(0.8, 1.2)
	minReliability = math.Min(0.999, profile.MinReliability*g.uniform(0.95, 1.0))
	return maxLatencyMs, minReliability
}

// location draws one terminal position under the pattern's geography,
// clamped to the configured bounds and snapped to 1e-4 degrees.
func (g *TrafficGenerator) location() (lat, lon float64) {
	switch g.pattern.Geography {
	case GeoClustered:
		if g.rng.Float64() < clusterProbability {
			h := cityHotspots[g.rng.Intn(len(cityHotspots))]
			lat, lon = g.nearHotspot(h, distuv.Exponential{Rate: 3 / h.RadiusKm, Src: g.src}.Rand())
		} else {
			lat, lon = g.uniformLocation()
		}
	case GeoHotspot:
		h := g.weightedHotspot()
		lat, lon = g.nearHotspot(h, g.uniform(0, h.RadiusKm))
	default:
		lat, lon = g.uniformLocation()
	}

	lat = math.Min(math.Max(lat, g.cfg.LatMin), g.cfg.LatMax)
	lon = math.Min(math.Max(lon, g.cfg.LonMin), g.cfg.LonMax)
	return snap(lat, 1e-4), snap(lon, 1e-4)
}

func (g *TrafficGenerator) uniformLocation() (lat, lon float64) {
	return g.uniform(g.cfg.LatMin, g.cfg.LatMax), g.uniform(g.cfg.LonMin, g.cfg.LonMax)
}

// nearHotspot places a point distanceKm from the hotspot center in a random
// direction. One degree of latitude is ~111 km; longitude shrinks with the
// cosine of the latitude.
func (g *TrafficGenerator) nearHotspot(h hotspot, distanceKm float64) (lat, lon float64) {
	angle := g.uniform(0, 2*math.Pi)
	lat = h.Lat + distanceKm/kmPerDegree*math.Cos(angle)
	lon = h.Lon + distanceKm/(kmPerDegree*math.Cos(h.Lat*math.Pi/180))*math.Sin(angle)
	return lat, lon
}

// weightedHotspot draws a hotspot proportionally to its intensity.
func (g *TrafficGenerator) weightedHotspot() hotspot {
	total := 0.0
	for _, h := range cityHotspots {
		total += h.Intensity
	}
	x := g.rng.Float64() * total
	for _, h := range cityHotspots {
		x -= h.Intensity
		if x < 0 {
			return h
		}
	}
	return cityHotspots[len(cityHotspots)-1]
}

func (g *TrafficGenerator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func snap(v, unit float64) float64 {
	return math.Round(v/unit) * unit
}
