package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-admission/model"
)

func TestStaticMotionModel_NoChange(t *testing.T) {
	m := &StaticMotionModel{}
	sat := &model.Satellite{ID: 1, Lat: 10, Lon: 20, AltKm: 550, X: 1, Y: 2, Z: 3}

	t1 := time.Now().UTC()
	m.UpdatePosition(t1, sat)
	if sat.Lat != 10 || sat.Lon != 20 || sat.X != 1 {
		t.Fatalf("static motion should not change position, got %+v", sat)
	}

	m.UpdatePosition(t1.Add(time.Hour), sat)
	if sat.Lat != 10 || sat.Lon != 20 || sat.X != 1 {
		t.Fatalf("static motion should not change position after second update, got %+v", sat)
	}
}

func TestWalkerMotionModel_ChangesOverTime(t *testing.T) {
	epoch := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := NewWalkerMotionModel(epoch, 30, 45, 53, 550)
	sat := &model.Satellite{ID: 0, Active: true}

	m.UpdatePosition(epoch, sat)
	first := *sat

	m.UpdatePosition(epoch.Add(5*time.Minute), sat)
	second := *sat

	if first.Lat == second.Lat && first.Lon == second.Lon {
		t.Fatalf("expected position to change over 5 minutes, got lat=%v lon=%v at both times", first.Lat, first.Lon)
	}
}

func TestWalkerMotionModel_StaysOnShell(t *testing.T) {
	epoch := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := NewWalkerMotionModel(epoch, 0, 0, 53, 550)
	sat := &model.Satellite{ID: 0, Active: true}

	wantRadius := EarthRadiusKm + 550
	for i := 0; i < 20; i++ {
		m.UpdatePosition(epoch.Add(time.Duration(i)*3*time.Minute), sat)

		r := Vec3{X: sat.X, Y: sat.Y, Z: sat.Z}.Norm()
		if math.Abs(r-wantRadius) > 1e-6 {
			t.Fatalf("step %d: radius %v km, want %v km", i, r, wantRadius)
		}
		// Latitude never exceeds the inclination on a circular orbit.
		if math.Abs(sat.Lat) > 53+1e-6 {
			t.Fatalf("step %d: latitude %v exceeds inclination", i, sat.Lat)
		}
	}
}

func TestWalkerMotionModel_PeriodRoughlyNinetySixMinutes(t *testing.T) {
	// A 550 km circular orbit has a period near 95.6 minutes. After one full
	// period the argument of latitude returns, so latitude should match the
	// initial value closely.
	epoch := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := NewWalkerMotionModel(epoch, 0, 30, 53, 550)
	sat := &model.Satellite{ID: 0, Active: true}

	m.UpdatePosition(epoch, sat)
	lat0 := sat.Lat

	a := EarthRadiusKm + 550
	period := 2 * math.Pi * math.Sqrt(a*a*a/muEarth)
	if period < 90*60 || period > 100*60 {
		t.Fatalf("orbital period %v s outside the expected LEO range", period)
	}

	m.UpdatePosition(epoch.Add(time.Duration(period*float64(time.Second))), sat)
	if math.Abs(sat.Lat-lat0) > 0.1 {
		t.Fatalf("latitude after one period drifted from %v to %v", lat0, sat.Lat)
	}
}

// We don't assert exact orbital values (those belong to go-satellite);
// we just ensure that positions differ at distinct times.
func TestSGP4MotionModel_ChangesOverTime(t *testing.T) {
	// ISS sample TLE.
	tle1 := "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	tle2 := "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"

	m := NewSGP4ModelFromTLE(tle1, tle2)
	sat := &model.Satellite{ID: 25544}

	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	m.UpdatePosition(t1, sat)
	first := *sat

	m.UpdatePosition(t1.Add(5*time.Minute), sat)
	second := *sat

	if first.X == second.X && first.Y == second.Y && first.Z == second.Z {
		t.Fatalf("expected orbital position to change over time, got %+v at both times", first)
	}
	if second.AltKm < 200 || second.AltKm > 1000 {
		t.Fatalf("ISS altitude out of plausible range: %v km", second.AltKm)
	}
}
