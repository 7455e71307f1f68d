package model

// QoSClass ranks a flow's service guarantees. Higher classes carry a larger
// scheduling weight and a larger guaranteed share of their requested bandwidth.
type QoSClass int

const (
	QoSBestEffort QoSClass = iota
	QoSAssured
	QoSPremium
	QoSCritical
)

func (c QoSClass) String() string {
	switch c {
	case QoSCritical:
		return "CRITICAL"
	case QoSPremium:
		return "PREMIUM"
	case QoSAssured:
		return "ASSURED"
	case QoSBestEffort:
		return "BEST_EFFORT"
	default:
		return "UNKNOWN"
	}
}

// Weight is the scheduling weight used for fairness caps and for ordering
// preemption donors (lower weight donates first).
func (c QoSClass) Weight() float64 {
	switch c {
	case QoSCritical:
		return 4.0
	case QoSPremium:
		return 3.0
	case QoSAssured:
		return 2.0
	default:
		return 1.0
	}
}

// FloorRatio is the fraction of the requested bandwidth the allocator must
// guarantee for this class.
func (c QoSClass) FloorRatio() float64 {
	switch c {
	case QoSCritical:
		return 1.0
	case QoSPremium:
		return 0.8
	case QoSAssured:
		return 0.6
	default:
		return 0.3
	}
}

// FlowType categorises what a flow is sensitive to. It selects the QoE
// penalty term used by the Lyapunov scheduler.
type FlowType int

const (
	// FlowEF is expedited forwarding: latency-sensitive traffic.
	FlowEF FlowType = iota
	// FlowAF is assured forwarding: loss-sensitive traffic.
	FlowAF
	// FlowBE is best effort: throughput-sensitive traffic.
	FlowBE
)

func (t FlowType) String() string {
	switch t {
	case FlowEF:
		return "EF"
	case FlowAF:
		return "AF"
	default:
		return "BE"
	}
}

// ServiceType is the application-level category of a user request.
type ServiceType string

const (
	ServiceVoice         ServiceType = "voice"
	ServiceVideo         ServiceType = "video"
	ServiceData          ServiceType = "data"
	ServiceEmergency     ServiceType = "emergency"
	ServiceNavigation    ServiceType = "navigation"
	ServiceLocationBased ServiceType = "location_based"
)

// PositioningWeight expresses how much a service depends on positioning
// quality; 1.0 means the service is unusable without good positioning.
func (s ServiceType) PositioningWeight() float64 {
	switch s {
	case ServiceNavigation:
		return 1.0
	case ServiceEmergency:
		return 0.9
	case ServiceLocationBased:
		return 0.8
	case ServiceVoice:
		return 0.3
	case ServiceVideo:
		return 0.2
	default:
		return 0.1
	}
}

// QoSClass maps the service type onto the class used for floors and weights.
func (s ServiceType) QoSClass() QoSClass {
	switch s {
	case ServiceEmergency, ServiceNavigation:
		return QoSCritical
	case ServiceVoice:
		return QoSPremium
	case ServiceVideo:
		return QoSAssured
	default:
		return QoSBestEffort
	}
}

// FlowType maps the service type onto the scheduler's sensitivity category.
func (s ServiceType) FlowType() FlowType {
	switch s {
	case ServiceVoice, ServiceEmergency:
		return FlowEF
	case ServiceVideo, ServiceNavigation, ServiceLocationBased:
		return FlowAF
	default:
		return FlowBE
	}
}
