package model

// UserRequest is a service request as submitted by a user terminal. It is
// read-only to the admission core; degraded admissions relax a copy, never
// the original.
type UserRequest struct {
	// UserID identifies the requesting terminal. It is what statistics and
	// logs use to correlate decisions with sessions.
	UserID      string
	ServiceType ServiceType

	// BandwidthMbps is the requested bandwidth in Mbps.
	BandwidthMbps float64
	// MaxLatencyMs is the maximum acceptable one-way latency in milliseconds.
	MaxLatencyMs float64
	// MinReliability is the minimum acceptable delivery ratio in [0,1].
	MinReliability float64

	// Priority ranges 1 (lowest) to 10 (highest).
	Priority int

	UserLat float64
	UserLon float64

	// DestLat and DestLon locate the far end of the session (a gateway or
	// remote terminal). The routing pipeline resolves both endpoints to their
	// nearest active satellites.
	DestLat float64
	DestLon float64

	// DurationSeconds is the expected session length; the flow is expired and
	// its resources released once it elapses.
	DurationSeconds float64
	// Timestamp is the arrival time in simulation seconds.
	Timestamp float64
}

// FlowRequest is the network-facing form of an admitted request: endpoints
// resolved to satellites, QoS class and flow type derived from the service
// type.
type FlowRequest struct {
	FlowID string

	SourceSatID int
	DestSatID   int

	QoSClass QoSClass
	FlowType FlowType

	BandwidthMbps  float64
	MaxLatencyMs   float64
	MinReliability float64
	Priority       int

	SrcLat float64
	SrcLon float64
	DstLat float64
	DstLon float64

	DurationSeconds float64
	ArrivalTime     float64
}
