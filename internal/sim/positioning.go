package sim

import (
	"math"

	"github.com/signalsfoundry/leo-admission/core"
	"github.com/signalsfoundry/leo-admission/model"
)

const (
	// approxSignalFloorDBm and approxSignalSpanDB map elevation onto a
	// received-power ramp from the floor at the horizon to floor+span at
	// zenith.
	approxSignalFloorDBm = -130.0
	approxSignalSpanDB   = 40.0

	// gdopBase/sqrt(n) approximates dilution of precision for n visible
	// satellites; gdopWorst is the value treated as unusable.
	gdopBase  = 10.0
	gdopWorst = 20.0
)

// ApproxPositioning returns a PositioningFunc that derives positioning
// metrics from snapshot geometry alone: satellites above the elevation mask
// count as visible, signal strength follows elevation, and GDOP falls with
// the square root of the visible count. It stands in when no external
// positioning subsystem is wired; runs that have real receiver measurements
// should install their own source instead.
func ApproxPositioning(elevationMaskDeg float64) PositioningFunc {
	return func(lat, lon float64, state *core.NetworkState) *model.PositioningMetrics {
		user := core.GeodeticToECEF(lat, lon, 0)
		m := &model.PositioningMetrics{
			SignalStrengths: make(map[int]float64),
			Elevations:      make(map[int]float64),
		}
		for _, sat := range state.Satellites {
			if !sat.Active {
				continue
			}
			elev := core.ElevationDegrees(user, core.Vec3{X: sat.X, Y: sat.Y, Z: sat.Z})
			if elev < elevationMaskDeg {
				continue
			}
			m.VisibleSatellites = append(m.VisibleSatellites, sat.ID)
			m.Elevations[sat.ID] = elev
			m.SignalStrengths[sat.ID] = approxSignalDBm(elev)
		}

		n := len(m.VisibleSatellites)
		if n == 0 {
			m.GDOP = gdopWorst
			return m
		}
		m.GDOP = gdopBase / math.Sqrt(float64(n))
		m.PositioningAccuracy = clampUnit(1 - m.GDOP/gdopWorst)
		return m
	}
}

func approxSignalDBm(elevDeg float64) float64 {
	frac := elevDeg / 90
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	return approxSignalFloorDBm + approxSignalSpanDB*frac
}
