package model

// PositioningMetrics is the externally computed positioning-quality input for
// one request. The positioning subsystem owns the computation; this core only
// consumes it, and absence must never fail admission.
type PositioningMetrics struct {
	// VisibleSatellites lists satellite IDs above the user's elevation mask.
	VisibleSatellites []int

	// GDOP is the geometric dilution of precision; lower is better, values
	// near 1 are excellent.
	GDOP float64

	// PositioningAccuracy is a normalized accuracy score in [0,1].
	PositioningAccuracy float64

	// SignalStrengths maps satellite ID to received signal strength in dBm.
	SignalStrengths map[int]float64

	// Elevations maps satellite ID to elevation angle in degrees.
	Elevations map[int]float64
}
