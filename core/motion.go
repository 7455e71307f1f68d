package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/leo-admission/model"
)

const (
	// muEarth is the WGS-72 gravitational parameter in km^3/s^2.
	muEarth = 398600.8

	// earthRotationRadPerSec is the sidereal rotation rate of the Earth.
	earthRotationRadPerSec = 7.2921159e-5
)

// MotionModel updates a satellite's position for a given simulation time.
type MotionModel interface {
	UpdatePosition(simTime time.Time, sat *model.Satellite)
}

// StaticMotionModel leaves the satellite's position unchanged. Used for
// pinned test fixtures.
type StaticMotionModel struct{}

// UpdatePosition for static motion does nothing.
func (m *StaticMotionModel) UpdatePosition(simTime time.Time, sat *model.Satellite) {
	// no-op
}

// WalkerMotionModel moves a satellite along an ideal circular orbit defined
// by a Walker-delta shell slot: plane RAAN, in-plane phase, inclination, and
// altitude. Longitude accounts for Earth rotation since the epoch, so Lat
// and Lon trace the ground track.
type WalkerMotionModel struct {
	epoch    time.Time
	raanRad  float64
	phaseRad float64
	incRad   float64
	altKm    float64
	// meanMotion is the orbital angular rate in rad/s, derived from altitude.
	meanMotion float64
}

// NewWalkerMotionModel builds a circular-orbit model for one shell slot.
// Angles are degrees; altitude is kilometres above the mean Earth radius.
func NewWalkerMotionModel(epoch time.Time, raanDeg, phaseDeg, incDeg, altKm float64) *WalkerMotionModel {
	a := EarthRadiusKm + altKm
	return &WalkerMotionModel{
		epoch:      epoch,
		raanRad:    raanDeg * math.Pi / 180,
		phaseRad:   phaseDeg * math.Pi / 180,
		incRad:     incDeg * math.Pi / 180,
		altKm:      altKm,
		meanMotion: math.Sqrt(muEarth / (a * a * a)),
	}
}

// UpdatePosition advances the slot to simTime and rewrites the satellite's
// geodetic and ECEF coordinates.
func (m *WalkerMotionModel) UpdatePosition(simTime time.Time, sat *model.Satellite) {
	t := simTime.Sub(m.epoch).Seconds()

	// Argument of latitude along the circular orbit.
	u := m.phaseRad + m.meanMotion*t

	sinLat := math.Sin(m.incRad) * math.Sin(u)
	lat := math.Asin(clamp(sinLat, -1, 1))

	// Inertial longitude of the sub-satellite point, shifted into the
	// rotating frame.
	lonInertial := m.raanRad + math.Atan2(math.Cos(m.incRad)*math.Sin(u), math.Cos(u))
	lon := normalizeRad(lonInertial - earthRotationRadPerSec*t)

	sat.Lat = lat * 180 / math.Pi
	sat.Lon = lon * 180 / math.Pi
	sat.AltKm = m.altKm

	p := GeodeticToECEF(sat.Lat, sat.Lon, sat.AltKm)
	sat.X, sat.Y, sat.Z = p.X, p.Y, p.Z
}

// SGP4MotionModel propagates a satellite from TLE elements. It backs
// catalog-driven constellations where real element sets are available.
type SGP4MotionModel struct {
	sat satellite.Satellite
}

// NewSGP4ModelFromTLE constructs an SGP4 model from two TLE lines.
func NewSGP4ModelFromTLE(line1, line2 string) *SGP4MotionModel {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &SGP4MotionModel{sat: sat}
}

// UpdatePosition propagates to simTime and rewrites the satellite's
// coordinates. go-satellite works in kilometres in ECI; the position is
// rotated to ECEF and converted to geodetic.
func (m *SGP4MotionModel) UpdatePosition(simTime time.Time, sat *model.Satellite) {
	year, month, day := simTime.Date()
	hour, min, sec := simTime.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	sat.X, sat.Y, sat.Z = posECEF.X, posECEF.Y, posECEF.Z
	sat.Lat, sat.Lon, sat.AltKm = ECEFToGeodetic(Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeRad wraps an angle to (-pi, pi].
func normalizeRad(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
