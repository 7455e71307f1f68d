package sim

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/leo-admission/internal/logging"
)

// PerformanceSample is one step's aggregate view of the system. The csv tags
// drive the results export.
type PerformanceSample struct {
	TimeSec float64 `csv:"time_sec"`

	ThroughputMbps   float64 `csv:"throughput_mbps"`
	AvgLatencyMs     float64 `csv:"avg_latency_ms"`
	QoEScore         float64 `csv:"qoe_score"`
	PositioningScore float64 `csv:"positioning_score"`
	AdmissionRate    float64 `csv:"admission_rate"`
	MeanUtilization  float64 `csv:"mean_utilization"`

	QueueBacklog  float64 `csv:"queue_backlog"`
	ActiveFlows   int     `csv:"active_flows"`
	FairnessIndex float64 `csv:"fairness_index"`
}

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert flags a threshold violation observed at one step.
type Alert struct {
	Kind     string
	Severity AlertSeverity
	Message  string
	TimeSec  float64
}

// Trend classifies how a metric moved across a window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

const (
	// minTrendSamples is the smallest window the half-window comparison
	// accepts; anything shorter reads as stable.
	minTrendSamples = 10
	trendThreshold  = 0.1
	trendFloor      = 0.001

	// maxAlertHistory bounds the retained alerts; on overflow the oldest
	// half is dropped.
	maxAlertHistory = 1000

	logEverySamples = 60
)

// MonitorConfig bounds the sample history and sets the alert thresholds.
type MonitorConfig struct {
	HistoryLength int `yaml:"history_length" json:"history_length"`

	MinThroughputMbps float64 `yaml:"min_throughput_mbps" json:"min_throughput_mbps"`
	MaxLatencyMs      float64 `yaml:"max_latency_ms" json:"max_latency_ms"`
	MinQoE            float64 `yaml:"min_qoe" json:"min_qoe"`
	MinPositioning    float64 `yaml:"min_positioning" json:"min_positioning"`
	MinAdmissionRate  float64 `yaml:"min_admission_rate" json:"min_admission_rate"`
	MaxUtilization    float64 `yaml:"max_utilization" json:"max_utilization"`
}

// DefaultMonitorConfig keeps an hour of one-second samples.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HistoryLength:     3600,
		MinThroughputMbps: 10,
		MaxLatencyMs:      200,
		MinQoE:            0.6,
		MinPositioning:    0.5,
		MinAdmissionRate:  0.7,
		MaxUtilization:    0.9,
	}
}

// SampleAggregate holds one statistic (mean, stddev, min, or max) per metric.
type SampleAggregate struct {
	ThroughputMbps   float64
	AvgLatencyMs     float64
	QoEScore         float64
	PositioningScore float64
	AdmissionRate    float64
	MeanUtilization  float64
}

// MonitorStatistics aggregates a window of samples.
type MonitorStatistics struct {
	TotalSamples int64
	AlertCount   int64
	Window       int

	Mean   SampleAggregate
	StdDev SampleAggregate
	Min    SampleAggregate
	Max    SampleAggregate

	// Trends holds the per-metric half-window comparison for throughput,
	// latency, qoe, and positioning; Overall is their majority.
	Trends  map[string]Trend
	Overall Trend

	// Grade is A..F from the weighted mean metrics, or N/A without samples.
	Grade string

	RecentAlerts []Alert
}

// Monitor keeps a bounded ring of per-step samples, raises threshold alerts,
// and computes windowed statistics. Safe for concurrent use.
type Monitor struct {
	cfg MonitorConfig
	log logging.Logger

	mu      sync.Mutex
	samples []PerformanceSample
	next    int
	count   int
	total   int64

	alerts     []Alert
	alertCount int64
}

// NewMonitor builds a monitor. A non-positive history length falls back to
// the default.
func NewMonitor(cfg MonitorConfig, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = DefaultMonitorConfig().HistoryLength
	}
	return &Monitor{
		cfg:     cfg,
		log:     log.With(logging.String("component", "performance_monitor")),
		samples: make([]PerformanceSample, cfg.HistoryLength),
	}
}

// Record appends one sample, evaluates the alert thresholds against it, and
// logs a rolling summary every minute of samples.
func (m *Monitor) Record(ctx context.Context, s PerformanceSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}
	m.total++

	m.checkLocked(ctx, s)

	if m.total%logEverySamples == 0 {
		m.logSummaryLocked(ctx)
	}
}

// Current returns the most recent sample.
func (m *Monitor) Current() (PerformanceSample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return PerformanceSample{}, false
	}
	return m.samples[(m.next-1+len(m.samples))%len(m.samples)], true
}

// History returns the retained samples oldest first.
func (m *Monitor) History() []PerformanceSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked()
}

// Alerts returns a copy of the retained alerts oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// Reset drops all samples and alerts.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = 0
	m.count = 0
	m.total = 0
	m.alerts = nil
	m.alertCount = 0
}

// Statistics aggregates the last window samples; window <= 0 or beyond the
// retained history means everything retained.
func (m *Monitor) Statistics(window int) MonitorStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := MonitorStatistics{
		TotalSamples: m.total,
		AlertCount:   m.alertCount,
		Overall:      TrendStable,
		Grade:        "N/A",
	}
	if m.count == 0 {
		return out
	}
	if window <= 0 || window > m.count {
		window = m.count
	}
	out.Window = window

	hist := m.historyLocked()
	hist = hist[len(hist)-window:]

	series := map[string][]float64{
		"throughput":  make([]float64, window),
		"latency":     make([]float64, window),
		"qoe":         make([]float64, window),
		"positioning": make([]float64, window),
		"admission":   make([]float64, window),
		"utilization": make([]float64, window),
	}
	for i, s := range hist {
		series["throughput"][i] = s.ThroughputMbps
		series["latency"][i] = s.AvgLatencyMs
		series["qoe"][i] = s.QoEScore
		series["positioning"][i] = s.PositioningScore
		series["admission"][i] = s.AdmissionRate
		series["utilization"][i] = s.MeanUtilization
	}

	out.Mean = aggregate(series, func(xs []float64) float64 { return stat.Mean(xs, nil) })
	out.StdDev = aggregate(series, func(xs []float64) float64 { return stat.PopStdDev(xs, nil) })
	out.Min = aggregate(series, floats.Min)
	out.Max = aggregate(series, floats.Max)

	out.Trends = map[string]Trend{
		"throughput":  trendOf(series["throughput"], true),
		"latency":     trendOf(series["latency"], false),
		"qoe":         trendOf(series["qoe"], true),
		"positioning": trendOf(series["positioning"], true),
	}
	improving, degrading := 0, 0
	for _, t := range out.Trends {
		switch t {
		case TrendImproving:
			improving++
		case TrendDegrading:
			degrading++
		}
	}
	switch {
	case improving > degrading:
		out.Overall = TrendImproving
	case degrading > improving:
		out.Overall = TrendDegrading
	}

	out.Grade = grade(out.Mean)

	if n := len(m.alerts); n > 0 {
		recent := n
		if recent > 10 {
			recent = 10
		}
		out.RecentAlerts = append([]Alert(nil), m.alerts[n-recent:]...)
	}
	return out
}

// JainFairness is (sum x)^2 / (n * sum x^2) over the given values, in (0,1].
// An empty or all-zero set counts as perfectly fair.
func JainFairness(values []float64) float64 {
	if len(values) == 0 {
		return 1
	}
	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	if sumSq == 0 {
		return 1
	}
	return sum * sum / (float64(len(values)) * sumSq)
}

func (m *Monitor) historyLocked() []PerformanceSample {
	out := make([]PerformanceSample, 0, m.count)
	start := m.next - m.count
	for i := 0; i < m.count; i++ {
		out = append(out, m.samples[(start+i+len(m.samples))%len(m.samples)])
	}
	return out
}

// checkLocked raises alerts for every threshold the sample violates.
// Throughput below the floor on an idle system is informational, not a
// failure.
func (m *Monitor) checkLocked(ctx context.Context, s PerformanceSample) {
	var alerts []Alert

	if s.ThroughputMbps < m.cfg.MinThroughputMbps {
		sev := SeverityWarning
		if s.ActiveFlows == 0 {
			sev = SeverityInfo
		}
		alerts = append(alerts, Alert{
			Kind:     "low_throughput",
			Severity: sev,
			Message:  fmt.Sprintf("throughput %.1f Mbps below %.1f Mbps", s.ThroughputMbps, m.cfg.MinThroughputMbps),
		})
	}
	if s.AvgLatencyMs > m.cfg.MaxLatencyMs {
		alerts = append(alerts, Alert{
			Kind:     "high_latency",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("latency %.1f ms above %.1f ms", s.AvgLatencyMs, m.cfg.MaxLatencyMs),
		})
	}
	if s.QoEScore < m.cfg.MinQoE {
		alerts = append(alerts, Alert{
			Kind:     "low_qoe",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("QoE %.2f below %.2f", s.QoEScore, m.cfg.MinQoE),
		})
	}
	if s.PositioningScore < m.cfg.MinPositioning {
		alerts = append(alerts, Alert{
			Kind:     "low_positioning",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("positioning %.2f below %.2f", s.PositioningScore, m.cfg.MinPositioning),
		})
	}
	if s.AdmissionRate < m.cfg.MinAdmissionRate {
		alerts = append(alerts, Alert{
			Kind:     "low_admission_rate",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("admission rate %.2f below %.2f", s.AdmissionRate, m.cfg.MinAdmissionRate),
		})
	}
	if s.MeanUtilization > m.cfg.MaxUtilization {
		alerts = append(alerts, Alert{
			Kind:     "high_utilization",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("utilization %.2f above %.2f", s.MeanUtilization, m.cfg.MaxUtilization),
		})
	}

	for _, a := range alerts {
		a.TimeSec = s.TimeSec
		m.alerts = append(m.alerts, a)
		m.alertCount++

		fields := []logging.Field{
			logging.String("kind", a.Kind),
			logging.String("severity", string(a.Severity)),
			logging.Float64("sim_time_sec", a.TimeSec),
			logging.String("detail", a.Message),
		}
		if a.Severity == SeverityCritical {
			m.log.Warn(ctx, "performance alert", fields...)
		} else {
			m.log.Info(ctx, "performance notice", fields...)
		}
	}

	if len(m.alerts) > maxAlertHistory {
		kept := m.alerts[len(m.alerts)-maxAlertHistory/2:]
		m.alerts = append([]Alert(nil), kept...)
	}
}

func (m *Monitor) logSummaryLocked(ctx context.Context) {
	window := m.count
	if window > logEverySamples {
		window = logEverySamples
	}
	hist := m.historyLocked()
	hist = hist[len(hist)-window:]

	var throughput, latency, qoe, positioning float64
	for _, s := range hist {
		throughput += s.ThroughputMbps
		latency += s.AvgLatencyMs
		qoe += s.QoEScore
		positioning += s.PositioningScore
	}
	n := float64(window)
	m.log.Info(ctx, "performance summary",
		logging.Int("window", window),
		logging.Float64("avg_throughput_mbps", throughput/n),
		logging.Float64("avg_latency_ms", latency/n),
		logging.Float64("avg_qoe", qoe/n),
		logging.Float64("avg_positioning", positioning/n))
}

func aggregate(series map[string][]float64, f func([]float64) float64) SampleAggregate {
	return SampleAggregate{
		ThroughputMbps:   f(series["throughput"]),
		AvgLatencyMs:     f(series["latency"]),
		QoEScore:         f(series["qoe"]),
		PositioningScore: f(series["positioning"]),
		AdmissionRate:    f(series["admission"]),
		MeanUtilization:  f(series["utilization"]),
	}
}

// trendOf compares the mean of the first half-window against the second.
// higherIsBetter flips the reading for metrics where a rise is a regression.
func trendOf(xs []float64, higherIsBetter bool) Trend {
	if len(xs) < minTrendSamples {
		return TrendStable
	}
	half := len(xs) / 2
	first := stat.Mean(xs[:half], nil)
	second := stat.Mean(xs[half:], nil)

	change := (second - first) / math.Max(math.Abs(first), trendFloor)
	if !higherIsBetter {
		change = -change
	}
	switch {
	case change > trendThreshold:
		return TrendImproving
	case change < -trendThreshold:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// Grade weights: user experience first, then positioning and admission,
// then raw throughput and headroom.
const (
	gradeQoEWeight         = 0.30
	gradePositioningWeight = 0.20
	gradeAdmissionWeight   = 0.20
	gradeThroughputWeight  = 0.15
	gradeUtilizationWeight = 0.15

	// fullThroughputMbps scores 1.0 on the throughput axis.
	fullThroughputMbps = 50.0
)

func grade(mean SampleAggregate) string {
	score := gradeQoEWeight*clampUnit(mean.QoEScore) +
		gradePositioningWeight*clampUnit(mean.PositioningScore) +
		gradeAdmissionWeight*clampUnit(mean.AdmissionRate) +
		gradeThroughputWeight*clampUnit(mean.ThroughputMbps/fullThroughputMbps) +
		gradeUtilizationWeight*clampUnit(1-mean.MeanUtilization)

	switch {
	case score >= 0.9:
		return "A"
	case score >= 0.8:
		return "B"
	case score >= 0.7:
		return "C"
	case score >= 0.6:
		return "D"
	default:
		return "F"
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
