package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

func TestLoadTLESet_NamedAndBare(t *testing.T) {
	input := strings.Join([]string{
		"# station catalog",
		"",
		"ISS (ZARYA)",
		issLine1,
		issLine2,
		"",
		issLine1,
		issLine2,
	}, "\n")

	sets, err := LoadTLESet(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadTLESet: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("got %d element sets, want 2", len(sets))
	}
	if sets[0].Name != "ISS (ZARYA)" {
		t.Errorf("first set name = %q, want ISS (ZARYA)", sets[0].Name)
	}
	if sets[0].Line1 != issLine1 || sets[0].Line2 != issLine2 {
		t.Errorf("first set lines do not round-trip: %+v", sets[0])
	}
	if sets[1].Name != "" {
		t.Errorf("bare set picked up a name: %q", sets[1].Name)
	}
}

func TestLoadTLESet_Structural(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"line 2 first", issLine2},
		{"dangling line 1", "ISS\n" + issLine1},
		{"dangling name", issLine1 + "\n" + issLine2 + "\nORPHAN"},
		{"two names in a row", "A\nB\n" + issLine1 + "\n" + issLine2},
		{"short element line", "1 25544U\n" + issLine2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTLESet(strings.NewReader(tt.input)); !errors.Is(err, ErrMalformedTLE) {
				t.Errorf("error = %v, want ErrMalformedTLE", err)
			}
		})
	}
}

func TestLoadTLESet_Empty(t *testing.T) {
	sets, err := LoadTLESet(strings.NewReader("# nothing here\n\n"))
	if err != nil {
		t.Fatalf("LoadTLESet: %v", err)
	}
	if len(sets) != 0 {
		t.Fatalf("got %d element sets from comments only, want 0", len(sets))
	}
}

func TestLoadTLEFile_Missing(t *testing.T) {
	if _, err := LoadTLEFile("testdata/does-not-exist.tle"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestNewTLEConstellation(t *testing.T) {
	epoch := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	tles := []TLE{
		{Name: "ISS A", Line1: issLine1, Line2: issLine2},
		{Name: "ISS B", Line1: issLine1, Line2: issLine2},
	}

	c, err := NewTLEConstellation(DefaultTLEConfig(), tles, epoch, nil, nil)
	if err != nil {
		t.Fatalf("NewTLEConstellation: %v", err)
	}
	if c.Size() != 2 {
		t.Fatalf("Size = %d, want 2", c.Size())
	}

	st, err := c.NetworkState(epoch)
	if err != nil {
		t.Fatalf("NetworkState: %v", err)
	}
	if len(st.Satellites) != 2 {
		t.Fatalf("snapshot has %d satellites, want 2", len(st.Satellites))
	}
	for _, sat := range st.Satellites {
		if sat.AltKm < 200 || sat.AltKm > 1000 {
			t.Errorf("satellite %d altitude %v km outside LEO", sat.ID, sat.AltKm)
		}
	}
	// Duplicate elements coincide, so the pair is trivially within ISL range.
	if !st.HasLink(0, 1) {
		t.Error("coincident satellites did not link")
	}
}

func TestNewTLEConstellation_Validation(t *testing.T) {
	epoch := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	one := []TLE{{Line1: issLine1, Line2: issLine2}}

	if _, err := NewTLEConstellation(DefaultTLEConfig(), nil, epoch, nil, nil); !errors.Is(err, ErrInvalidShell) {
		t.Errorf("empty set error = %v, want ErrInvalidShell", err)
	}

	cfg := DefaultTLEConfig()
	cfg.ISLCapacityMbps = 0
	if _, err := NewTLEConstellation(cfg, one, epoch, nil, nil); !errors.Is(err, ErrInvalidShell) {
		t.Errorf("zero capacity error = %v, want ErrInvalidShell", err)
	}

	cfg = DefaultTLEConfig()
	cfg.MaxISLRangeKm = 0
	if _, err := NewTLEConstellation(cfg, one, epoch, nil, nil); !errors.Is(err, ErrInvalidShell) {
		t.Errorf("zero range error = %v, want ErrInvalidShell", err)
	}
}
