package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/leo-admission/internal/logging"
	"github.com/signalsfoundry/leo-admission/kb"
	"github.com/signalsfoundry/leo-admission/model"
)

var (
	ErrInvalidShell      = errors.New("invalid constellation shell")
	ErrSatelliteNotFound = errors.New("satellite not found")
)

// StateProvider hands out the network snapshot for a given simulation time.
// The admission pipeline consumes snapshots through this interface so tests
// can substitute hand-built topologies.
type StateProvider interface {
	NetworkState(at time.Time) (*NetworkState, error)
}

// WalkerConfig describes one Walker-delta shell plus link parameters.
type WalkerConfig struct {
	Planes         int     `yaml:"planes" json:"planes"`
	SatsPerPlane   int     `yaml:"sats_per_plane" json:"sats_per_plane"`
	AltitudeKm     float64 `yaml:"altitude_km" json:"altitude_km"`
	InclinationDeg float64 `yaml:"inclination_deg" json:"inclination_deg"`
	// PhasingFactor is the Walker F parameter: the inter-plane phase offset
	// in units of 360/(Planes*SatsPerPlane) degrees.
	PhasingFactor float64 `yaml:"phasing_factor" json:"phasing_factor"`

	ISLCapacityMbps float64 `yaml:"isl_capacity_mbps" json:"isl_capacity_mbps"`
	// MaxISLRangeKm drops grid links longer than this; 0 disables the check.
	MaxISLRangeKm float64 `yaml:"max_isl_range_km" json:"max_isl_range_km"`
}

// DefaultWalkerConfig returns a Starlink-like shell: 72 planes of 22
// satellites at 550 km and 53 degrees inclination.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		Planes:          72,
		SatsPerPlane:    22,
		AltitudeKm:      550,
		InclinationDeg:  53,
		PhasingFactor:   1,
		ISLCapacityMbps: 1000,
		MaxISLRangeKm:   5000,
	}
}

// TLE is one two-line element set, optionally named.
type TLE struct {
	Name  string
	Line1 string
	Line2 string
}

// TLEConfig parameterises a constellation seeded from element sets. An
// element-set shell carries no grid structure, so the topology links every
// pair within range and MaxISLRangeKm is required.
type TLEConfig struct {
	ISLCapacityMbps float64 `yaml:"isl_capacity_mbps" json:"isl_capacity_mbps"`
	MaxISLRangeKm   float64 `yaml:"max_isl_range_km" json:"max_isl_range_km"`
}

// DefaultTLEConfig matches the Walker shell's link parameters.
func DefaultTLEConfig() TLEConfig {
	return TLEConfig{ISLCapacityMbps: 1000, MaxISLRangeKm: 5000}
}

// Constellation owns the satellites of one shell and builds per-step
// NetworkState snapshots. Walker shells get a +Grid ISL topology: each
// satellite links to its in-plane neighbours and to the same slot in the
// adjacent planes. Element-set shells link every pair within ISL range.
//
// Utilization, queue backlogs, and active flows are carried forward from the
// previous snapshot, so commits made by the admission pipeline persist
// across steps even as link distances change.
type Constellation struct {
	cfg     WalkerConfig
	epoch   time.Time
	log     logging.Logger
	catalog *kb.Catalog

	mu     sync.Mutex
	sats   []model.Satellite
	models []MotionModel
	// impaired holds administratively failed links under normalized keys
	// (low ID first). Impaired links are left out of every snapshot until
	// cleared.
	impaired map[LinkKey]bool
	last     *NetworkState
}

// NewWalkerConstellation seeds a shell at the epoch. Satellite IDs are
// plane*SatsPerPlane+slot. A nil catalog or logger gets a private default.
func NewWalkerConstellation(cfg WalkerConfig, epoch time.Time, catalog *kb.Catalog, log logging.Logger) (*Constellation, error) {
	if cfg.Planes < 1 || cfg.SatsPerPlane < 1 {
		return nil, fmt.Errorf("%w: %dx%d planes", ErrInvalidShell, cfg.Planes, cfg.SatsPerPlane)
	}
	if cfg.AltitudeKm <= 0 {
		return nil, fmt.Errorf("%w: altitude %.1f km", ErrInvalidShell, cfg.AltitudeKm)
	}
	if cfg.ISLCapacityMbps <= 0 {
		return nil, fmt.Errorf("%w: ISL capacity %.1f Mbps", ErrInvalidShell, cfg.ISLCapacityMbps)
	}
	if log == nil {
		log = logging.Noop()
	}
	if catalog == nil {
		catalog = kb.NewCatalog()
	}

	total := cfg.Planes * cfg.SatsPerPlane
	c := &Constellation{
		cfg:      cfg,
		epoch:    epoch,
		log:      log,
		catalog:  catalog,
		sats:     make([]model.Satellite, total),
		models:   make([]MotionModel, total),
		impaired: make(map[LinkKey]bool),
	}

	planeStep := 360.0 / float64(cfg.Planes)
	slotStep := 360.0 / float64(cfg.SatsPerPlane)
	phaseStep := cfg.PhasingFactor * 360.0 / float64(total)

	for p := 0; p < cfg.Planes; p++ {
		for s := 0; s < cfg.SatsPerPlane; s++ {
			id := p*cfg.SatsPerPlane + s
			m := NewWalkerMotionModel(
				epoch,
				float64(p)*planeStep,
				float64(s)*slotStep+float64(p)*phaseStep,
				cfg.InclinationDeg,
				cfg.AltitudeKm,
			)
			sat := model.Satellite{ID: id, Active: true}
			m.UpdatePosition(epoch, &sat)
			c.sats[id] = sat
			c.models[id] = m
			if err := catalog.Add(sat); err != nil {
				return nil, fmt.Errorf("seeding catalog: %w", err)
			}
		}
	}

	log.Info(context.Background(), "constellation seeded",
		logging.Int("planes", cfg.Planes),
		logging.Int("sats_per_plane", cfg.SatsPerPlane),
		logging.Int("satellites", total),
		logging.Float64("altitude_km", cfg.AltitudeKm))

	return c, nil
}

// NewTLEConstellation seeds satellites from two-line element sets, propagated
// with SGP4. Satellite IDs follow the slice order.
func NewTLEConstellation(cfg TLEConfig, tles []TLE, epoch time.Time, catalog *kb.Catalog, log logging.Logger) (*Constellation, error) {
	if len(tles) == 0 {
		return nil, fmt.Errorf("%w: no element sets", ErrInvalidShell)
	}
	if cfg.ISLCapacityMbps <= 0 {
		return nil, fmt.Errorf("%w: ISL capacity %.1f Mbps", ErrInvalidShell, cfg.ISLCapacityMbps)
	}
	if cfg.MaxISLRangeKm <= 0 {
		return nil, fmt.Errorf("%w: ISL range %.1f km", ErrInvalidShell, cfg.MaxISLRangeKm)
	}
	if log == nil {
		log = logging.Noop()
	}
	if catalog == nil {
		catalog = kb.NewCatalog()
	}

	c := &Constellation{
		cfg: WalkerConfig{
			ISLCapacityMbps: cfg.ISLCapacityMbps,
			MaxISLRangeKm:   cfg.MaxISLRangeKm,
		},
		epoch:    epoch,
		log:      log,
		catalog:  catalog,
		sats:     make([]model.Satellite, len(tles)),
		models:   make([]MotionModel, len(tles)),
		impaired: make(map[LinkKey]bool),
	}

	for i, tle := range tles {
		m := NewSGP4ModelFromTLE(tle.Line1, tle.Line2)
		sat := model.Satellite{ID: i, Active: true}
		m.UpdatePosition(epoch, &sat)
		c.sats[i] = sat
		c.models[i] = m
		if err := catalog.Add(sat); err != nil {
			return nil, fmt.Errorf("seeding catalog: %w", err)
		}
	}

	log.Info(context.Background(), "constellation seeded from element sets",
		logging.Int("satellites", len(tles)))

	return c, nil
}

// Catalog returns the satellite registry backing this constellation.
func (c *Constellation) Catalog() *kb.Catalog { return c.catalog }

// Size returns the number of satellites in the shell.
func (c *Constellation) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sats)
}

// Advance propagates every satellite to the given time and pushes the new
// positions into the catalog.
func (c *Constellation) Advance(at time.Time) {
	c.mu.Lock()
	c.advanceLocked(at)
	updated := append([]model.Satellite(nil), c.sats...)
	c.mu.Unlock()

	for _, sat := range updated {
		// Catalog entries were seeded in the constructor, so Update cannot
		// miss.
		_ = c.catalog.Update(sat)
	}
}

func (c *Constellation) advanceLocked(at time.Time) {
	for i := range c.sats {
		c.models[i].UpdatePosition(at, &c.sats[i])
	}
}

// NetworkState advances the shell to the given time and builds a fresh
// snapshot. Utilization, queues, and active flows persist from the previous
// snapshot; utilization entries for links that ceased to exist are dropped.
func (c *Constellation) NetworkState(at time.Time) (*NetworkState, error) {
	if at.Before(c.epoch) {
		return nil, fmt.Errorf("snapshot time %s precedes epoch %s", at.Format(time.RFC3339), c.epoch.Format(time.RFC3339))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.advanceLocked(at)

	st := NewNetworkState(at.Sub(c.epoch).Seconds())
	for _, sat := range c.sats {
		st.AddSatellite(sat)
	}

	if prev := c.last; prev != nil {
		for k, u := range prev.LinkUtilization {
			st.LinkUtilization[k] = u
		}
		for id, q := range prev.QueueLengths {
			st.QueueLengths[id] = q
		}
		st.ActiveFlows = append(st.ActiveFlows, prev.ActiveFlows...)
	}

	if P, S := c.cfg.Planes, c.cfg.SatsPerPlane; P > 0 && S > 0 {
		for p := 0; p < P; p++ {
			for s := 0; s < S; s++ {
				c.addISLLocked(st, p*S+s, p*S+(s+1)%S)
			}
		}
		for p := 0; p < P; p++ {
			q := (p + 1) % P
			if q == p {
				continue
			}
			for s := 0; s < S; s++ {
				c.addISLLocked(st, p*S+s, q*S+s)
			}
		}
	} else {
		for a := 0; a < len(c.sats); a++ {
			for b := a + 1; b < len(c.sats); b++ {
				c.addISLLocked(st, a, b)
			}
		}
	}

	for k := range st.LinkUtilization {
		if _, ok := st.LinkCapacity[k]; !ok {
			delete(st.LinkUtilization, k)
		}
	}

	c.last = st
	return st, nil
}

// addISLLocked inserts the symmetric link a-b unless it already exists, an
// endpoint is inactive, the pair is impaired, the satellites are out of
// range, or the Earth blocks the line of sight.
func (c *Constellation) addISLLocked(st *NetworkState, a, b int) {
	if a == b || st.HasLink(a, b) {
		return
	}
	sa, sb := c.sats[a], c.sats[b]
	if !sa.Active || !sb.Active {
		return
	}
	if c.impaired[normalizeKey(a, b)] {
		return
	}
	pa := Vec3{X: sa.X, Y: sa.Y, Z: sa.Z}
	pb := Vec3{X: sb.X, Y: sb.Y, Z: sb.Z}
	dist := pa.DistanceTo(pb)
	if c.cfg.MaxISLRangeKm > 0 && dist > c.cfg.MaxISLRangeKm {
		return
	}
	if !HasLineOfSight(pa, pb) {
		return
	}
	st.AddLink(a, b, c.cfg.ISLCapacityMbps, dist)
}

// SetLinkImpaired administratively fails or restores the symmetric link a-b.
// The change applies from the next snapshot.
func (c *Constellation) SetLinkImpaired(a, b int, impaired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := normalizeKey(a, b)
	if impaired {
		c.impaired[k] = true
	} else {
		delete(c.impaired, k)
	}
}

// SetSatelliteActive flips a satellite's traffic-carrying status. Inactive
// satellites keep orbiting but lose all their links in later snapshots.
func (c *Constellation) SetSatelliteActive(id int, active bool) error {
	c.mu.Lock()
	if id < 0 || id >= len(c.sats) {
		c.mu.Unlock()
		return fmt.Errorf("%w: ID %d", ErrSatelliteNotFound, id)
	}
	c.sats[id].Active = active
	c.mu.Unlock()

	return c.catalog.SetActive(id, active)
}

func normalizeKey(a, b int) LinkKey {
	if a > b {
		a, b = b, a
	}
	return LinkKey{Src: a, Dst: b}
}
