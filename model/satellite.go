package model

// Satellite is one orbiting node of the constellation. Positions are
// refreshed wholesale each time step by the constellation layer; the
// admission core treats them as read-only snapshot data.
type Satellite struct {
	// ID is a stable integer identifier, unique within the constellation.
	ID int

	// Geodetic position (degrees, degrees, kilometres).
	Lat   float64
	Lon   float64
	AltKm float64

	// ECEF position in kilometres, kept alongside the geodetic form so
	// distance and visibility checks avoid repeated conversions.
	X float64
	Y float64
	Z float64

	// Active marks whether the satellite can carry traffic.
	Active bool
}
