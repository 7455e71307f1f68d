package model

// AdmissionDecision is the outcome of an admission check.
type AdmissionDecision int

const (
	DecisionReject AdmissionDecision = iota
	DecisionAccept
	DecisionDegradedAccept
	DecisionDelayedAccept
	DecisionPartialAccept
)

func (d AdmissionDecision) String() string {
	switch d {
	case DecisionAccept:
		return "ACCEPT"
	case DecisionDegradedAccept:
		return "DEGRADED_ACCEPT"
	case DecisionDelayedAccept:
		return "DELAYED_ACCEPT"
	case DecisionPartialAccept:
		return "PARTIAL_ACCEPT"
	default:
		return "REJECT"
	}
}

// Admitting reports whether the decision implies a downstream allocation.
func (d AdmissionDecision) Admitting() bool {
	switch d {
	case DecisionAccept, DecisionDegradedAccept, DecisionPartialAccept:
		return true
	default:
		return false
	}
}

// NoSatellite is the AllocatedSatellite value when no satellite was chosen.
const NoSatellite = -1

// AdmissionResult is produced once per request and immutable afterwards.
//
// Consistency rules enforced by the controllers: REJECT carries zero bandwidth
// and NoSatellite; ACCEPT carries the full requested bandwidth; degraded and
// partial accepts carry strictly less than requested but more than zero.
type AdmissionResult struct {
	Decision   AdmissionDecision
	Confidence float64

	AllocatedBandwidth float64
	AllocatedSatellite int

	// DelaySeconds is nonzero only for DELAYED_ACCEPT.
	DelaySeconds float64

	Reason string

	// PositioningScore is the aggregate quality score when a positioning-aware
	// controller adjusted the decision; SubScores holds its components.
	PositioningScore float64
	SubScores        map[string]float64
}

// AllocationResult records a committed allocation. The caller keeps it to
// request deallocation at session end.
type AllocationResult struct {
	FlowID string
	// Route is the ordered satellite-ID path; no ID repeats.
	Route []int

	AllocatedBandwidth  float64
	ExpectedLatencyMs   float64
	ExpectedReliability float64

	Success bool

	// ResourceCost is a dimensionless hop-count proxy used by statistics.
	ResourceCost float64
}
