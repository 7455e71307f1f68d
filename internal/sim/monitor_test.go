package sim

import (
	"context"
	"math"
	"testing"
)

// healthySample sits comfortably inside every default threshold.
func healthySample(timeSec float64) PerformanceSample {
	return PerformanceSample{
		TimeSec:          timeSec,
		ThroughputMbps:   50,
		AvgLatencyMs:     60,
		QoEScore:         0.9,
		PositioningScore: 0.8,
		AdmissionRate:    0.95,
		MeanUtilization:  0.5,
		QueueBacklog:     10,
		ActiveFlows:      5,
		FairnessIndex:    1,
	}
}

func alertSeverities(alerts []Alert) map[string]AlertSeverity {
	out := make(map[string]AlertSeverity)
	for _, a := range alerts {
		out[a.Kind] = a.Severity
	}
	return out
}

func TestMonitorRecordAndCurrent(t *testing.T) {
	m := NewMonitor(DefaultMonitorConfig(), nil)

	if _, ok := m.Current(); ok {
		t.Fatal("Current() returned a sample before any Record")
	}

	m.Record(context.Background(), healthySample(1))
	got, ok := m.Current()
	if !ok {
		t.Fatal("Current() empty after Record")
	}
	if math.Abs(got.TimeSec-1) > 1e-9 {
		t.Errorf("Current().TimeSec = %v, want 1", got.TimeSec)
	}
	if len(m.Alerts()) != 0 {
		t.Errorf("healthy sample raised alerts: %v", m.Alerts())
	}
}

func TestMonitorHistoryRingBounded(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.HistoryLength = 5
	m := NewMonitor(cfg, nil)

	ctx := context.Background()
	for i := 0; i < 12; i++ {
		m.Record(ctx, healthySample(float64(i)))
	}

	hist := m.History()
	if len(hist) != 5 {
		t.Fatalf("len(History()) = %d, want 5", len(hist))
	}
	for i, s := range hist {
		want := float64(7 + i)
		if math.Abs(s.TimeSec-want) > 1e-9 {
			t.Errorf("History()[%d].TimeSec = %v, want %v", i, s.TimeSec, want)
		}
	}
	if got := m.Statistics(0).TotalSamples; got != 12 {
		t.Errorf("TotalSamples = %d, want 12", got)
	}
}

func TestMonitorAlerts(t *testing.T) {
	ctx := context.Background()

	t.Run("degraded sample", func(t *testing.T) {
		m := NewMonitor(DefaultMonitorConfig(), nil)
		s := healthySample(10)
		s.ThroughputMbps = 1
		s.QoEScore = 0.2
		s.AdmissionRate = 0.1
		m.Record(ctx, s)

		sev := alertSeverities(m.Alerts())
		if got := sev["low_throughput"]; got != SeverityWarning {
			t.Errorf("low_throughput severity = %q, want warning", got)
		}
		if got := sev["low_qoe"]; got != SeverityCritical {
			t.Errorf("low_qoe severity = %q, want critical", got)
		}
		if got := sev["low_admission_rate"]; got != SeverityCritical {
			t.Errorf("low_admission_rate severity = %q, want critical", got)
		}
		for _, kind := range []string{"high_latency", "low_positioning", "high_utilization"} {
			if _, ok := sev[kind]; ok {
				t.Errorf("unexpected alert %q", kind)
			}
		}
		for _, a := range m.Alerts() {
			if math.Abs(a.TimeSec-10) > 1e-9 {
				t.Errorf("alert %q TimeSec = %v, want 10", a.Kind, a.TimeSec)
			}
		}
	})

	t.Run("idle is informational", func(t *testing.T) {
		m := NewMonitor(DefaultMonitorConfig(), nil)
		s := healthySample(0)
		s.ThroughputMbps = 0
		s.ActiveFlows = 0
		s.QoEScore = 1
		s.AdmissionRate = 1
		m.Record(ctx, s)

		alerts := m.Alerts()
		if len(alerts) != 1 {
			t.Fatalf("got %d alerts, want exactly the idle throughput notice: %v", len(alerts), alerts)
		}
		if alerts[0].Kind != "low_throughput" || alerts[0].Severity != SeverityInfo {
			t.Errorf("alert = %q/%q, want low_throughput/info", alerts[0].Kind, alerts[0].Severity)
		}
	})

	t.Run("overload sample", func(t *testing.T) {
		m := NewMonitor(DefaultMonitorConfig(), nil)
		s := healthySample(0)
		s.AvgLatencyMs = 250
		s.MeanUtilization = 0.95
		s.PositioningScore = 0.4
		m.Record(ctx, s)

		sev := alertSeverities(m.Alerts())
		for _, kind := range []string{"high_latency", "high_utilization", "low_positioning"} {
			if got := sev[kind]; got != SeverityWarning {
				t.Errorf("%s severity = %q, want warning", kind, got)
			}
		}
	})
}

func TestMonitorAlertHistoryTrimmed(t *testing.T) {
	m := NewMonitor(DefaultMonitorConfig(), nil)
	ctx := context.Background()

	// Each sample violates exactly one threshold.
	for i := 0; i < 1100; i++ {
		s := healthySample(float64(i))
		s.QoEScore = 0.2
		m.Record(ctx, s)
	}

	stats := m.Statistics(0)
	if stats.AlertCount != 1100 {
		t.Errorf("AlertCount = %d, want 1100", stats.AlertCount)
	}
	if n := len(m.Alerts()); n > maxAlertHistory {
		t.Errorf("len(Alerts()) = %d, want <= %d", n, maxAlertHistory)
	}
	// The overflow at 1001 drops to 500 retained; the remaining 99 then append.
	if n := len(m.Alerts()); n != 599 {
		t.Errorf("len(Alerts()) = %d, want 599", n)
	}
	if got := len(stats.RecentAlerts); got != 10 {
		t.Errorf("len(RecentAlerts) = %d, want 10", got)
	}
}

func TestMonitorStatisticsWindow(t *testing.T) {
	m := NewMonitor(DefaultMonitorConfig(), nil)
	ctx := context.Background()

	// First half: low throughput, low latency, weaker positioning. Second
	// half: throughput and positioning rise while latency worsens.
	for i := 0; i < 10; i++ {
		s := healthySample(float64(i))
		s.ThroughputMbps = 10
		s.AvgLatencyMs = 50
		s.PositioningScore = 0.5
		m.Record(ctx, s)
	}
	for i := 10; i < 20; i++ {
		s := healthySample(float64(i))
		s.ThroughputMbps = 30
		s.AvgLatencyMs = 100
		s.PositioningScore = 0.7
		m.Record(ctx, s)
	}

	stats := m.Statistics(20)
	if stats.Window != 20 {
		t.Fatalf("Window = %d, want 20", stats.Window)
	}
	if math.Abs(stats.Mean.ThroughputMbps-20) > 1e-9 {
		t.Errorf("Mean.ThroughputMbps = %v, want 20", stats.Mean.ThroughputMbps)
	}
	if math.Abs(stats.StdDev.ThroughputMbps-10) > 1e-9 {
		t.Errorf("StdDev.ThroughputMbps = %v, want 10", stats.StdDev.ThroughputMbps)
	}
	if math.Abs(stats.Min.ThroughputMbps-10) > 1e-9 || math.Abs(stats.Max.ThroughputMbps-30) > 1e-9 {
		t.Errorf("Min/Max throughput = %v/%v, want 10/30", stats.Min.ThroughputMbps, stats.Max.ThroughputMbps)
	}

	if got := stats.Trends["throughput"]; got != TrendImproving {
		t.Errorf("throughput trend = %q, want improving", got)
	}
	if got := stats.Trends["latency"]; got != TrendDegrading {
		t.Errorf("latency trend = %q, want degrading (latency rose)", got)
	}
	if got := stats.Trends["positioning"]; got != TrendImproving {
		t.Errorf("positioning trend = %q, want improving", got)
	}
	if got := stats.Trends["qoe"]; got != TrendStable {
		t.Errorf("qoe trend = %q, want stable", got)
	}
	if stats.Overall != TrendImproving {
		t.Errorf("Overall = %q, want improving (two improving vs one degrading)", stats.Overall)
	}

	// A shorter window sees only the second phase.
	short := m.Statistics(5)
	if short.Window != 5 {
		t.Fatalf("Window = %d, want 5", short.Window)
	}
	if math.Abs(short.Mean.ThroughputMbps-30) > 1e-9 {
		t.Errorf("Mean.ThroughputMbps over last 5 = %v, want 30", short.Mean.ThroughputMbps)
	}
	if got := short.Trends["throughput"]; got != TrendStable {
		t.Errorf("short-window trend = %q, want stable", got)
	}
}

func TestMonitorStatisticsEmpty(t *testing.T) {
	m := NewMonitor(DefaultMonitorConfig(), nil)
	stats := m.Statistics(0)
	if stats.Grade != "N/A" {
		t.Errorf("Grade = %q, want N/A", stats.Grade)
	}
	if stats.Window != 0 || stats.TotalSamples != 0 {
		t.Errorf("Window/TotalSamples = %d/%d, want 0/0", stats.Window, stats.TotalSamples)
	}
	if stats.Overall != TrendStable {
		t.Errorf("Overall = %q, want stable", stats.Overall)
	}
}

func TestMonitorGrade(t *testing.T) {
	ctx := context.Background()

	t.Run("ideal run grades A", func(t *testing.T) {
		m := NewMonitor(DefaultMonitorConfig(), nil)
		for i := 0; i < 20; i++ {
			m.Record(ctx, PerformanceSample{
				TimeSec:          float64(i),
				ThroughputMbps:   80,
				AvgLatencyMs:     40,
				QoEScore:         1,
				PositioningScore: 1,
				AdmissionRate:    1,
				MeanUtilization:  0.05,
				ActiveFlows:      10,
			})
		}
		if got := m.Statistics(0).Grade; got != "A" {
			t.Errorf("Grade = %q, want A", got)
		}
	})

	t.Run("collapsed run grades F", func(t *testing.T) {
		m := NewMonitor(DefaultMonitorConfig(), nil)
		for i := 0; i < 20; i++ {
			m.Record(ctx, PerformanceSample{
				TimeSec:         float64(i),
				MeanUtilization: 1,
				ActiveFlows:     1,
			})
		}
		if got := m.Statistics(0).Grade; got != "F" {
			t.Errorf("Grade = %q, want F", got)
		}
	})
}

func TestMonitorReset(t *testing.T) {
	m := NewMonitor(DefaultMonitorConfig(), nil)
	ctx := context.Background()
	bad := healthySample(0)
	bad.QoEScore = 0
	m.Record(ctx, bad)

	m.Reset()
	if _, ok := m.Current(); ok {
		t.Error("Current() returned a sample after Reset")
	}
	if len(m.Alerts()) != 0 {
		t.Error("Alerts() non-empty after Reset")
	}
	stats := m.Statistics(0)
	if stats.TotalSamples != 0 || stats.AlertCount != 0 {
		t.Errorf("TotalSamples/AlertCount = %d/%d after Reset, want 0/0", stats.TotalSamples, stats.AlertCount)
	}
}

func TestJainFairness(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"equal shares", []float64{5, 5, 5, 5}, 1},
		{"empty", nil, 1},
		{"all zero", []float64{0, 0, 0}, 1},
		{"single user", []float64{7}, 1},
		{"one takes all", []float64{1, 0, 0, 0}, 0.25},
		{"moderate skew", []float64{1, 3}, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JainFairness(tt.values)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("JainFairness(%v) = %v, want %v", tt.values, got, tt.want)
			}
			if got <= 0 || got > 1 {
				t.Errorf("JainFairness(%v) = %v outside (0, 1]", tt.values, got)
			}
		})
	}
}
